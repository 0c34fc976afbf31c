// Package segment turns an incremental text stream into discrete sentence units.
//
// The upstream model emits response text in arbitrary deltas; synthesis wants
// whole sentences. The segmenter buffers deltas and cuts at the earliest
// sentence-ending delimiter, retaining the unterminated remainder until the
// next delta or the final flush at turn end.
package segment

import (
	"strings"
	"unicode/utf8"
)

// Delimiters that end a sentence, in the order they are documented for the
// device protocol: Japanese sentence enders plus the common ASCII terminators
// and newline. All cuts happen on rune boundaries, so multi-byte characters
// are never split.
const delimiters = "。！？!?\n"

// Segmenter accumulates streamed text and emits sentence units.
// The zero value is ready to use. Not safe for concurrent use; a turn owns
// exactly one segmenter.
type Segmenter struct {
	buf strings.Builder
}

// Push appends delta to the buffer and returns every complete sentence unit
// it now contains, in order. Each returned unit includes its trailing
// delimiter. Units that are empty or whitespace-only are discarded silently.
func (s *Segmenter) Push(delta string) []string {
	if delta == "" {
		return nil
	}
	s.buf.WriteString(delta)

	var units []string
	rest := s.buf.String()
	for {
		idx := strings.IndexAny(rest, delimiters)
		if idx < 0 {
			break
		}
		_, width := utf8.DecodeRuneInString(rest[idx:])
		unit := rest[:idx+width]
		rest = rest[idx+width:]
		if strings.TrimSpace(unit) != "" {
			units = append(units, unit)
		}
	}

	s.buf.Reset()
	s.buf.WriteString(rest)
	return units
}

// Flush returns the unterminated trailing text as one final unit and resets
// the segmenter. ok is false when the remainder is empty or whitespace-only;
// such remainders are discarded, never emitted.
func (s *Segmenter) Flush() (unit string, ok bool) {
	rest := s.buf.String()
	s.buf.Reset()
	if strings.TrimSpace(rest) == "" {
		return "", false
	}
	return rest, true
}

// Pending reports whether undelimited text is still buffered.
func (s *Segmenter) Pending() bool {
	return s.buf.Len() > 0
}
