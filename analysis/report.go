package analysis

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

// StripHTML removes markup tags so the report reads as plain text.
func StripHTML(s string) string {
	return htmlTagRe.ReplaceAllString(s, "")
}

// BuildReport renders a downloadable plain-text report for one analysis run.
func BuildReport(text string, verdict Verdict, objectCount int, at time.Time) string {
	var b strings.Builder
	b.WriteString("PCB Defect Inspection Report\n")
	b.WriteString(fmt.Sprintf("Generated: %s\n", at.Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf("Detected objects: %d\n", objectCount))
	b.WriteString(fmt.Sprintf("Verdict: %s\n", verdict))
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(StripHTML(text)))
	b.WriteString("\n")
	return b.String()
}
