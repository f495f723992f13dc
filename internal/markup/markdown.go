package markup

import (
	"regexp"
	"strings"
)

var blankLines = regexp.MustCompile(`\n\s*\n`)

// Markdown joins the text refs of segments, skipping image refs and blank
// refs, with one empty line between paragraphs.
func Markdown(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s.IsImage() {
			continue
		}
		if text := strings.TrimSpace(s.Ref); text != "" {
			parts = append(parts, text)
		}
	}

	joined := strings.Join(parts, "\n\n")
	return strings.TrimSpace(blankLines.ReplaceAllString(joined, "\n\n"))
}

// ExtractMarkdown tokenizes raw and returns its markdown text.
func ExtractMarkdown(raw string) (string, error) {
	segments, err := Tokenize(raw)
	if err != nil {
		return "", err
	}
	return Markdown(segments), nil
}
