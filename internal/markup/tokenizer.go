package markup

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	refOpen  = "<|ref|>"
	refClose = "<|/ref|>"
	detOpen  = "<|det|>"
	detClose = "<|/det|>"
)

// CoordinateMax is the upper bound of the normalized detection space.
const CoordinateMax = 999

type state int

const (
	stateScanning state = iota
	stateInsideRef
	stateInsideDet
)

func (s state) String() string {
	switch s {
	case stateInsideRef:
		return "inside-ref"
	case stateInsideDet:
		return "inside-det"
	default:
		return "scanning"
	}
}

// SyntaxError reports malformed markup at a byte offset of the input.
type SyntaxError struct {
	Offset int
	State  string
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("markup: %s at offset %d (%s)", e.Msg, e.Offset, e.State)
}

// Box is a detection rectangle in the 0-999 normalized space.
type Box struct {
	X1, Y1, X2, Y2 int
}

// Segment is one ref, optionally followed by its detection boxes.
type Segment struct {
	Ref    string
	Boxes  []Box
	Offset int
}

// IsImage reports whether the ref names an embedded picture rather than text.
func (s Segment) IsImage() bool {
	return strings.HasPrefix(s.Ref, "image")
}

// Tokenize splits deepseek output into ref/det segments. Text outside tags is
// skipped. A det that directly follows a ref is attached to it; a det with no
// ref yields a segment with an empty Ref.
func Tokenize(raw string) ([]Segment, error) {
	var (
		segments []Segment
		st       = stateScanning
		pos      int
		current  = -1
	)

	for pos < len(raw) {
		switch st {
		case stateScanning:
			next := strings.Index(raw[pos:], "<|")
			if next < 0 {
				pos = len(raw)
				continue
			}
			pos += next

			switch {
			case strings.HasPrefix(raw[pos:], refOpen):
				segments = append(segments, Segment{Offset: pos})
				current = len(segments) - 1
				pos += len(refOpen)
				st = stateInsideRef
			case strings.HasPrefix(raw[pos:], detOpen):
				if current < 0 {
					segments = append(segments, Segment{Offset: pos})
					current = len(segments) - 1
				}
				pos += len(detOpen)
				st = stateInsideDet
			case strings.HasPrefix(raw[pos:], refClose), strings.HasPrefix(raw[pos:], detClose):
				return nil, &SyntaxError{Offset: pos, State: st.String(), Msg: "unexpected closing tag"}
			default:
				// Other special tokens such as <|endoftext|> end any pending ref/det pair.
				current = -1
				pos += 2
			}

		case stateInsideRef:
			end := strings.Index(raw[pos:], refClose)
			if end < 0 {
				return nil, &SyntaxError{Offset: segments[current].Offset, State: st.String(), Msg: "unterminated ref"}
			}
			body := raw[pos : pos+end]
			if i := strings.Index(body, "<|"); i >= 0 {
				return nil, &SyntaxError{Offset: pos + i, State: st.String(), Msg: "tag inside ref"}
			}
			segments[current].Ref = body
			pos += end + len(refClose)
			st = stateScanning
			if !strings.HasPrefix(raw[pos:], detOpen) {
				current = -1
			}

		case stateInsideDet:
			end := strings.Index(raw[pos:], detClose)
			if end < 0 {
				return nil, &SyntaxError{Offset: pos - len(detOpen), State: st.String(), Msg: "unterminated det"}
			}
			boxes, err := parseBoxes(raw[pos : pos+end])
			if err != nil {
				return nil, &SyntaxError{Offset: pos, State: st.String(), Msg: err.Error()}
			}
			segments[current].Boxes = boxes
			current = -1
			pos += end + len(detClose)
			st = stateScanning
		}
	}

	if st != stateScanning {
		return nil, &SyntaxError{Offset: len(raw), State: st.String(), Msg: "unexpected end of input"}
	}
	return segments, nil
}

func parseBoxes(body string) ([]Box, error) {
	var coords [][]int
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &coords); err != nil {
		return nil, fmt.Errorf("malformed det %q", body)
	}
	if len(coords) == 0 {
		return nil, fmt.Errorf("empty det")
	}

	boxes := make([]Box, 0, len(coords))
	for _, c := range coords {
		if len(c) != 4 {
			return nil, fmt.Errorf("det box needs 4 coordinates, got %d", len(c))
		}
		for _, v := range c {
			if v < 0 || v > CoordinateMax {
				return nil, fmt.Errorf("det coordinate %d outside 0-%d", v, CoordinateMax)
			}
		}
		boxes = append(boxes, Box{X1: c[0], Y1: c[1], X2: c[2], Y2: c[3]})
	}
	return boxes, nil
}
