package narrative

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lightvibes/biomap/internal/errors"
)

// Assessment is the parsed three line risk narrative.
type Assessment struct {
	Score       string `json:"score"`
	Explanation string `json:"explanation"`
	Prevention  string `json:"prevention"`
}

var (
	// list markers and markdown emphasis the model sometimes adds
	listMarkerRe = regexp.MustCompile(`^(?:[-*•]\s+|\d+[.)]\s+)`)
	labelRe      = regexp.MustCompile(`(?i)^(?:risk\s*score|score|risk|explanation|reason|prevention(?:\s*advice)?|advice)\s*[:\-–]\s*`)
)

// ParseAssessment splits text into score, explanation and prevention. The
// text must have exactly three non-empty lines; leading labels such as
// "Risk Score:" are removed. Any other shape is a Malformed error.
func ParseAssessment(text string) (*Assessment, error) {
	var lines []string
	for line := range strings.Lines(text) {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	if len(lines) != 3 {
		return nil, errors.Newf("expected 3 non-empty lines in narrative reply, got %d", len(lines)).
			Category(errors.CategoryMalformed).
			Component(componentName).
			Context("line_count", len(lines)).
			Build()
	}

	fields := make([]string, 3)
	for i, line := range lines {
		fields[i] = stripLabel(line)
		if fields[i] == "" {
			return nil, errors.Newf("narrative line %d has a label but no text", i+1).
				Category(errors.CategoryMalformed).
				Component(componentName).
				Build()
		}
	}

	return &Assessment{Score: fields[0], Explanation: fields[1], Prevention: fields[2]}, nil
}

func stripLabel(line string) string {
	line = strings.ReplaceAll(line, "**", "")
	line = listMarkerRe.ReplaceAllString(strings.TrimSpace(line), "")
	line = labelRe.ReplaceAllString(line, "")
	return strings.TrimSpace(line)
}

// String renders the assessment as the three line text.
func (a *Assessment) String() string {
	return fmt.Sprintf("Risk Score: %s\nExplanation: %s\nPrevention: %s", a.Score, a.Explanation, a.Prevention)
}
