// Package tokenizer implements a byte-pair-encoding engine over the
// tokenizer.json family of formats: it loads a trained vocabulary, merge
// table and added-token overlay, and converts between raw text and token
// id sequences in both directions.
package tokenizer

import (
	"log/slog"
	"math/rand/v2"

	"github.com/subwordlab/bpetok/internal/logutil"
)

// Tokenizer composes the vocabulary model, the added-token registry and
// the configured segmenter into Encode and Decode. A Tokenizer returned
// by Load is immutable; Encode and Decode are pure functions of it and
// its inputs, safe to call from any number of goroutines. The exception
// is merge dropout: the dropout source is shared mutable state, so a
// dropout-enabled Tokenizer must encode from one goroutine at a time
// (see WithDropoutSource).
type Tokenizer struct {
	// Version is the format version string of the loaded description.
	Version string

	model     *Model
	registry  *Registry
	segmenter Segmenter
	byteLevel bool

	normalizer   *Spec
	preTokenizer *Spec

	// resolved role ids, -1 when the role is not declared
	bos, eos, unkID int32
	addBOS, addEOS  bool

	rng    *rand.Rand
	logger *slog.Logger
}

func (t *Tokenizer) Model() *Model { return t.model }

func (t *Tokenizer) Registry() *Registry { return t.registry }

// BOS returns the resolved beginning-of-sequence id, or -1.
func (t *Tokenizer) BOS() int32 { return t.bos }

// EOS returns the resolved end-of-sequence id, or -1.
func (t *Tokenizer) EOS() int32 { return t.eos }

// Unknown returns the resolved unknown-token id, or -1.
func (t *Tokenizer) Unknown() int32 { return t.unkID }

// NormalizerSpec returns the parsed normalizer configuration, nil when
// none is configured. Opaque variants retain their raw JSON.
func (t *Tokenizer) NormalizerSpec() *Spec { return t.normalizer }

// PreTokenizerSpec returns the parsed pre-tokenizer configuration.
func (t *Tokenizer) PreTokenizerSpec() *Spec { return t.preTokenizer }

// IsSpecial reports whether id belongs to an added token flagged special.
func (t *Tokenizer) IsSpecial(id int32) bool {
	entry, ok := t.registry.Get(id)
	return ok && entry.Special
}

// Encode converts text into token ids: added-token spans are matched
// first, the gaps are normalized and split into pieces by the segmenter,
// and each piece runs through the merge loop independently.
func (t *Tokenizer) Encode(text string, addSpecialTokens bool) ([]int32, error) {
	enc := encoder{model: t.model, byteLevel: t.byteLevel, unkID: t.unkID, rng: t.rng}

	ids := []int32{}
	segment := func(s string) error {
		for piece := range t.segmenter.Segment(s) {
			var err error
			if ids, err = enc.encode(piece, ids); err != nil {
				return err
			}
		}
		return nil
	}

	var pos int
	for _, m := range t.registry.FindMatches(text) {
		if m.Start > pos {
			if err := segment(text[pos:m.Start]); err != nil {
				return nil, err
			}
		}
		ids = append(ids, m.ID)
		pos = m.End
	}
	if pos < len(text) {
		if err := segment(text[pos:]); err != nil {
			return nil, err
		}
	}

	if addSpecialTokens {
		ids = t.addSpecials(ids)
	}

	logutil.Trace(t.logger, "encoded", "text", text, "ids", ids)
	return ids, nil
}

func (t *Tokenizer) addSpecials(ids []int32) []int32 {
	if t.addBOS && t.bos >= 0 {
		if len(ids) > 0 && ids[0] == t.bos {
			t.logger.Warn("adding bos token to input which already has it", "id", t.bos)
		}
		ids = append([]int32{t.bos}, ids...)
	}

	if t.addEOS && t.eos >= 0 {
		if len(ids) > 0 && ids[len(ids)-1] == t.eos {
			t.logger.Warn("adding eos token to input which already has it", "id", t.eos)
		}
		ids = append(ids, t.eos)
	}

	return ids
}

// Decode reconstructs text from ids. Added tokens decode to their literal
// content; skipSpecialTokens omits the ones flagged special.
func (t *Tokenizer) Decode(ids []int32, skipSpecialTokens bool) (string, error) {
	dec := decoder{model: t.model, registry: t.registry, byteLevel: t.byteLevel}
	s, err := dec.decode(ids, skipSpecialTokens)
	if err != nil {
		return "", err
	}

	logutil.Trace(t.logger, "decoded", "ids", ids, "text", s)
	return s, nil
}

// Tokens maps ids to their token strings without reassembly, a debug
// surface for inspecting encodings. Unmapped ids come back as "".
func (t *Tokenizer) Tokens(ids []int32) []string {
	tokens := make([]string, len(ids))
	for i, id := range ids {
		if entry, ok := t.registry.Get(id); ok {
			tokens[i] = entry.Content
			continue
		}
		tokens[i], _ = t.model.IDToToken(id)
	}
	return tokens
}
