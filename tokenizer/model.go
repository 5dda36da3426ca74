package tokenizer

import (
	"fmt"
)

// Model is the immutable vocabulary model: the token<->id bijection, the
// ranked merge table and the model-level flags parsed from the "model"
// object of tokenizer.json. It is built once by Load and read-only
// afterwards, so any number of concurrent Encode and Decode calls may
// share it without synchronization.
type Model struct {
	values []string         // id -> token
	ids    map[string]int32 // token -> id
	merges map[string]int32 // "left right" -> rank

	unk           *string
	subwordPrefix *string
	wordSuffix    *string

	dropout      float64
	byteFallback bool
	ignoreMerges bool
	fuseUnk      bool

	// ids of the <0xNN> byte tokens, -1 where the vocab has none
	byteTokens [256]int32
}

func newModel(raw *modelJSON) (*Model, error) {
	if raw.Vocab == nil {
		return nil, ErrMissingVocab
	}

	m := &Model{
		values:        make([]string, len(raw.Vocab)),
		ids:           raw.Vocab,
		unk:           raw.UnkToken,
		subwordPrefix: raw.ContinuingSubwordPrefix,
		wordSuffix:    raw.EndOfWordSuffix,
		byteFallback:  raw.ByteFallback,
		ignoreMerges:  raw.IgnoreMerges,
		fuseUnk:       raw.FuseUnk,
	}

	seen := make([]bool, len(raw.Vocab))
	for token, id := range raw.Vocab {
		if id < 0 || int(id) >= len(m.values) {
			return nil, fmt.Errorf("%w: token %q has id %d", ErrSparseVocab, token, id)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: id %d", ErrDuplicateID, id)
		}
		seen[id] = true
		m.values[id] = token
	}

	if raw.Dropout != nil {
		if *raw.Dropout < 0 || *raw.Dropout > 1 {
			return nil, fmt.Errorf("%w: dropout %v outside [0, 1]", ErrInvalidModel, *raw.Dropout)
		}
		m.dropout = *raw.Dropout
	}

	merges, err := parseMerges(raw.Merges)
	if err != nil {
		return nil, err
	}

	m.merges = make(map[string]int32, len(merges))
	for i, merge := range merges {
		// first declaration wins; later duplicates never apply anyway
		if _, ok := m.merges[merge]; !ok {
			m.merges[merge] = int32(i)
		}
	}

	for i := range m.byteTokens {
		m.byteTokens[i] = -1
	}
	for b := range 256 {
		if id, ok := m.ids[fmt.Sprintf("<0x%02X>", b)]; ok {
			m.byteTokens[b] = id
		}
	}

	return m, nil
}

// Size returns the number of distinct subword units in the vocabulary,
// not counting added tokens with ids outside the model id space.
func (m *Model) Size() int {
	return len(m.values)
}

func (m *Model) TokenToID(token string) (int32, bool) {
	id, ok := m.ids[token]
	return id, ok
}

func (m *Model) IDToToken(id int32) (string, bool) {
	if id < 0 || int(id) >= len(m.values) {
		return "", false
	}
	return m.values[id], true
}

// MergeRank returns the rank of the (left, right) merge pair. Lower ranks
// merge first. A pair absent from the table never merges, regardless of
// whether the concatenation exists in the vocabulary.
func (m *Model) MergeRank(left, right string) (int32, bool) {
	rank, ok := m.merges[left+" "+right]
	return rank, ok
}

func (m *Model) UnknownToken() (string, bool) {
	if m.unk == nil {
		return "", false
	}
	return *m.unk, true
}

func (m *Model) byteToken(b byte) (int32, bool) {
	id := m.byteTokens[b]
	return id, id >= 0
}

// prefix and suffix distinguish "not configured" (nil) from an explicit
// empty affix; both behave as no-ops when empty.

func (m *Model) prefix() string {
	if m.subwordPrefix == nil {
		return ""
	}
	return *m.subwordPrefix
}

func (m *Model) suffix() string {
	if m.wordSuffix == nil {
		return ""
	}
	return *m.wordSuffix
}
