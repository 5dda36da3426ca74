package tokenizer

import (
	"fmt"
	"unicode/utf8"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"

	"github.com/subwordlab/bpetok/internal/unicodedata"
)

// AddedToken is one entry of the added-token overlay: a literal string
// with a reserved id that bypasses normal segmentation.
type AddedToken struct {
	ID      int32
	Content string

	// SingleWord rejects matches glued to word characters on either side.
	SingleWord bool
	// LStrip and RStrip absorb adjacent whitespace into the matched span
	// without adding it to the emitted token content.
	LStrip bool
	RStrip bool
	// Normalized records whether the upstream format matched this token
	// against normalized text. Matching here always runs on raw text; the
	// flag is retained for fidelity.
	Normalized bool
	// Special tokens are skippable on decode and excluded from
	// normalization entirely.
	Special bool
}

// Match is one added-token occurrence in a text. Start and End bound the
// consumed byte span, including whitespace absorbed by LStrip/RStrip; the
// emitted token is always the entry's literal content.
type Match struct {
	Start, End int
	ID         int32
	Token      *AddedToken
}

// Registry is the ordered added-token overlay. It scans text ahead of
// normalization and pre-tokenization, so matched spans never reach the
// BPE stage. The automaton is built once at load time and shared by all
// Encode calls.
type Registry struct {
	entries []AddedToken
	byID    map[int32]*AddedToken

	ac      ahocorasick.AhoCorasick
	pattern []int // automaton pattern index -> entries index
}

func newRegistry(entries []AddedToken, model *Model) (*Registry, error) {
	reg := &Registry{
		entries: entries,
		byID:    make(map[int32]*AddedToken, len(entries)),
	}

	contents := make(map[string]struct{}, len(entries))
	patterns := make([]string, 0, len(entries))
	for i := range reg.entries {
		entry := &reg.entries[i]
		if entry.Content == "" {
			return nil, fmt.Errorf("%w: empty content (id %d)", ErrInvalidAddedToken, entry.ID)
		}
		if entry.ID < 0 {
			return nil, fmt.Errorf("%w: %q has negative id %d", ErrInvalidAddedToken, entry.Content, entry.ID)
		}
		if _, ok := contents[entry.Content]; ok {
			return nil, fmt.Errorf("%w: duplicate content %q", ErrInvalidAddedToken, entry.Content)
		}
		if id, ok := model.TokenToID(entry.Content); ok && id != entry.ID {
			return nil, fmt.Errorf("%w: %q has id %d but vocab maps it to %d",
				ErrInvalidAddedToken, entry.Content, entry.ID, id)
		}

		contents[entry.Content] = struct{}{}
		patterns = append(patterns, entry.Content)
		reg.pattern = append(reg.pattern, i)
		reg.byID[entry.ID] = entry
	}

	if len(patterns) > 0 {
		builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
			MatchKind: ahocorasick.LeftMostLongestMatch,
			DFA:       true,
		})
		reg.ac = builder.Build(patterns)
	}

	return reg, nil
}

func (reg *Registry) Entries() []AddedToken {
	return reg.entries
}

// Get returns the added token registered under id.
func (reg *Registry) Get(id int32) (*AddedToken, bool) {
	entry, ok := reg.byID[id]
	return entry, ok
}

// FindMatches scans text left to right and returns the non-overlapping
// added-token spans in order. Longer content wins at overlapping
// positions. The gaps between spans are what proceeds to normal
// segmentation.
func (reg *Registry) FindMatches(text string) []Match {
	if len(reg.entries) == 0 || text == "" {
		return nil
	}

	var out []Match
	var prevEnd int
	for _, m := range reg.ac.FindAll(text) {
		entry := &reg.entries[reg.pattern[m.Pattern()]]
		start, end := m.Start(), m.End()
		if start < prevEnd {
			// the previous match widened over this one's start
			continue
		}
		if entry.SingleWord && !isWordBoundary(text, start, end) {
			continue
		}

		span := Match{Start: start, End: end, ID: entry.ID, Token: entry}
		if entry.LStrip {
			for span.Start > prevEnd {
				r, size := utf8.DecodeLastRuneInString(text[prevEnd:span.Start])
				if !unicodedata.IsWhitespace(r) {
					break
				}
				span.Start -= size
			}
		}
		if entry.RStrip {
			for span.End < len(text) {
				r, size := utf8.DecodeRuneInString(text[span.End:])
				if !unicodedata.IsWhitespace(r) {
					break
				}
				span.End += size
			}
		}

		out = append(out, span)
		prevEnd = span.End
	}

	return out
}

// isWordBoundary reports whether the match at text[start:end] aligns with
// a word boundary on both sides: the string edge, or an adjacent rune
// outside the word class per the Unicode classification table.
func isWordBoundary(text string, start, end int) bool {
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(text[:start]); unicodedata.IsWordChar(r) {
			return false
		}
	}
	if end < len(text) {
		if r, _ := utf8.DecodeRuneInString(text[end:]); unicodedata.IsWordChar(r) {
			return false
		}
	}
	return true
}
