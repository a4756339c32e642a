package analysis

const (
	MsgDefectFound = "The analysis found one or more defects on this board. Review the highlighted regions in the detection image and the summary below before releasing the batch."

	MsgPass = "The analysis did not flag any defects on this board. The detection image is still available if you want to double-check visually."

	MsgUninformative = "The analysis returned a summary that could not be classified. Read it below and judge for yourself; the detection image remains available."
)

// Message returns the user-facing blurb for a verdict.
func Message(v Verdict) string {
	switch v {
	case VerdictDefectFound:
		return MsgDefectFound
	case VerdictPass:
		return MsgPass
	default:
		return MsgUninformative
	}
}
