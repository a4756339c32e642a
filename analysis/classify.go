package analysis

import "strings"

// Verdict is a display classification of the analysis text. It is a keyword
// heuristic, not a contract with the workflow service.
type Verdict string

const (
	VerdictDefectFound   Verdict = "defect_found"
	VerdictPass          Verdict = "pass"
	VerdictUninformative Verdict = "uninformative"
)

// Negated and pass phrasings go first: "未检测到缺陷" contains "缺陷" and must
// still read as a pass.
var passKeywords = []string{
	"无缺陷", "未检测到缺陷", "未发现缺陷", "没有缺陷",
	"正常", "合格",
	"no defect", "no defects", "pass", "looks ok",
}

var defectKeywords = []string{
	"缺陷", "异常", "不良", "短路", "断路", "裂纹",
	"defect", "anomal", "missing hole", "mouse bite", "open circuit", "short", "spur",
}

// Classify buckets free text into pass / defect found / uninformative.
func Classify(text string) Verdict {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return VerdictUninformative
	}

	for _, kw := range passKeywords {
		if strings.Contains(normalized, kw) {
			return VerdictPass
		}
	}
	for _, kw := range defectKeywords {
		if strings.Contains(normalized, kw) {
			return VerdictDefectFound
		}
	}
	return VerdictUninformative
}
