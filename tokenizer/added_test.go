package tokenizer

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testRegistry(t *testing.T, entries ...AddedToken) *Registry {
	t.Helper()
	model, err := newModel(&modelJSON{Vocab: map[string]int32{}, Merges: []byte(`[]`)})
	if err != nil {
		t.Fatal(err)
	}
	reg, err := newRegistry(entries, model)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func spans(matches []Match) [][2]int {
	out := make([][2]int, len(matches))
	for i, m := range matches {
		out[i] = [2]int{m.Start, m.End}
	}
	return out
}

func TestFindMatchesLongestFirst(t *testing.T) {
	reg := testRegistry(t,
		AddedToken{ID: 0, Content: "<|end|>"},
		AddedToken{ID: 1, Content: "<|endoftext|>"},
	)

	matches := reg.FindMatches("<|endoftext|>")
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].ID != 1 {
		t.Errorf("matched id %d, want the 13-character token", matches[0].ID)
	}
	if matches[0].Start != 0 || matches[0].End != len("<|endoftext|>") {
		t.Errorf("span [%d, %d) does not cover the whole text", matches[0].Start, matches[0].End)
	}
}

func TestFindMatchesOrderedNonOverlapping(t *testing.T) {
	reg := testRegistry(t,
		AddedToken{ID: 0, Content: "<s>"},
		AddedToken{ID: 1, Content: "</s>"},
	)

	matches := reg.FindMatches("<s>hello</s>world<s>")
	want := [][2]int{{0, 3}, {8, 12}, {17, 20}}
	if diff := cmp.Diff(want, spans(matches)); diff != "" {
		t.Errorf("unexpected spans (-want +got):\n%s", diff)
	}
}

func TestFindMatchesSingleWord(t *testing.T) {
	reg := testRegistry(t, AddedToken{ID: 0, Content: "ing", SingleWord: true})

	if got := reg.FindMatches("running"); len(got) != 0 {
		t.Errorf("single_word token matched inside a word: %v", got)
	}
	if got := reg.FindMatches("ing"); len(got) != 1 {
		t.Errorf("single_word token did not match standalone: %v", got)
	}
	if got := reg.FindMatches("a ing."); len(got) != 1 {
		t.Errorf("single_word token did not match at punctuation boundary: %v", got)
	}
}

func TestFindMatchesStrip(t *testing.T) {
	reg := testRegistry(t, AddedToken{ID: 0, Content: "<s>", LStrip: true, RStrip: true})

	matches := reg.FindMatches("a <s> b")
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	// the span absorbs the surrounding spaces, the content does not
	if matches[0].Start != 1 || matches[0].End != 6 {
		t.Errorf("span [%d, %d), want [1, 6)", matches[0].Start, matches[0].End)
	}
	if matches[0].Token.Content != "<s>" {
		t.Errorf("content %q changed by stripping", matches[0].Token.Content)
	}
}

func TestFindMatchesLStripOnly(t *testing.T) {
	reg := testRegistry(t, AddedToken{ID: 0, Content: "<s>", LStrip: true})

	matches := reg.FindMatches("a \t<s> b")
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Start != 1 || matches[0].End != 6 {
		t.Errorf("span [%d, %d), want [1, 6)", matches[0].Start, matches[0].End)
	}
}

func TestRegistryRejectsInvalidEntries(t *testing.T) {
	model, err := newModel(&modelJSON{Vocab: map[string]int32{"<s>": 0}, Merges: []byte(`[]`)})
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name    string
		entries []AddedToken
	}{
		{"empty content", []AddedToken{{ID: 1, Content: ""}}},
		{"negative id", []AddedToken{{ID: -1, Content: "<x>"}}},
		{"duplicate content", []AddedToken{{ID: 1, Content: "<x>"}, {ID: 2, Content: "<x>"}}},
		{"vocab id mismatch", []AddedToken{{ID: 5, Content: "<s>"}}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := newRegistry(tt.entries, model); !errors.Is(err, ErrInvalidAddedToken) {
				t.Errorf("expected ErrInvalidAddedToken, got %v", err)
			}
		})
	}
}

func TestRegistryEmptyText(t *testing.T) {
	reg := testRegistry(t, AddedToken{ID: 0, Content: "<s>"})
	if got := reg.FindMatches(""); got != nil {
		t.Errorf("expected no matches, got %v", got)
	}
}
