package tokenizer

import (
	"cmp"
	"fmt"
	"math/rand/v2"
	"strings"

	heap "github.com/emirpasic/gods/v2/trees/binaryheap"
)

// byteLevelRunes is the GPT-2 byte alphabet: every byte maps to a
// printable rune so byte-level vocabularies can store arbitrary bytes as
// plain strings.
var byteLevelRunes [256]rune

func init() {
	for b := range 256 {
		r := rune(b)
		switch {
		case r == 0x00ad:
			r = 0x0143
		case r <= 0x0020:
			r = r + 0x0100
		case r >= 0x007f && r <= 0x00a0:
			r = r + 0x00a2
		}
		byteLevelRunes[b] = r
	}
}

func decodeByteLevelRune(r rune) (byte, bool) {
	switch {
	case r >= 0x00 && r <= 0xFF:
		return byte(r), true
	case r == 0x0100:
		return 0x00, true
	case r == 0x0143:
		return 0xad, true
	case r > 0x0100 && r <= 0x0120:
		return byte(r - 0x0100), true
	case r > 0x0120 && r <= 0x0142:
		return byte(r - 0x00a2), true
	default:
		return 0, false
	}
}

// symbol is one node of the merge worklist: a doubly linked list indexed
// by initial rune position, tombstoned by clearing text.
type symbol struct {
	prev, next int
	text       string
}

// mergePair is a merge candidate between the symbols currently anchored
// at positions left and right.
type mergePair struct {
	left, right int
	rank        int32
	value       string
}

// encoder runs the greedy merge loop over one piece at a time. It carries
// no state across pieces, so one value serves any number of sequential
// calls; concurrent Encode calls each build independent worklists.
type encoder struct {
	model     *Model
	byteLevel bool

	// unkID is the resolved unknown-token id, -1 when none is declared.
	unkID int32

	// rng drives merge dropout and must be set when model.dropout > 0.
	// Callers own it; there is no process-wide fallback.
	rng *rand.Rand
}

// encode appends the ids for a single piece to ids. The piece is
// post-normalization and post-added-token-removal text.
func (e *encoder) encode(piece string, ids []int32) ([]int32, error) {
	if piece == "" {
		return ids, nil
	}

	if e.byteLevel {
		var sb strings.Builder
		sb.Grow(len(piece))
		for _, b := range []byte(piece) {
			sb.WriteRune(byteLevelRunes[b])
		}
		piece = sb.String()
	}

	// whole-piece fast path
	if e.model.ignoreMerges {
		if id, ok := e.model.TokenToID(piece); ok {
			return append(ids, id), nil
		}
	}

	runes := []rune(piece)
	symbols := make([]symbol, len(runes))
	for i, r := range runes {
		symbols[i] = symbol{prev: i - 1, next: i + 1, text: string(r)}
	}

	pairwise := func(left, right int) *mergePair {
		if left < 0 || right >= len(symbols) {
			return nil
		}
		lt, rt := symbols[left].text, symbols[right].text
		if lt == "" || rt == "" {
			return nil
		}

		rank, ok := e.model.MergeRank(lt, rt)
		if !ok {
			return nil
		}

		value := lt + rt
		if e.model.prefix() == "" && e.model.suffix() == "" {
			// without affixes the merged symbol is looked up verbatim, so
			// a merge whose result is missing from the vocab is useless
			if _, ok := e.model.TokenToID(value); !ok {
				return nil
			}
		}

		return &mergePair{left: left, right: right, rank: rank, value: value}
	}

	pairs := heap.NewWith(func(i, j *mergePair) int {
		if c := cmp.Compare(i.rank, j.rank); c != 0 {
			return c
		}
		return cmp.Compare(i.left, j.left)
	})

	for i := range len(symbols) - 1 {
		if pair := pairwise(i, i+1); pair != nil {
			pairs.Push(pair)
		}
	}

	for !pairs.Empty() {
		pair, _ := pairs.Pop()

		left, right := symbols[pair.left], symbols[pair.right]
		if left.text == "" || right.text == "" || left.next != pair.right {
			continue // stale candidate
		}
		if left.text+right.text != pair.value {
			continue
		}

		if e.model.dropout > 0 && e.rng.Float64() < e.model.dropout {
			continue // merge dropout: skip this candidate for good
		}

		symbols[pair.left].text = pair.value
		symbols[pair.right].text = ""
		symbols[pair.left].next = right.next
		if right.next < len(symbols) {
			symbols[right.next].prev = pair.left
		}

		if next := pairwise(symbols[pair.left].prev, pair.left); next != nil {
			pairs.Push(next)
		}
		if next := pairwise(pair.left, symbols[pair.left].next); next != nil {
			pairs.Push(next)
		}
	}

	// collect survivors, then affix and map to ids; affixes apply at
	// id-lookup time, merges are declared over raw symbol strings
	var survivors []string
	for _, s := range symbols {
		if s.text != "" {
			survivors = append(survivors, s.text)
		}
	}

	prefix, suffix := e.model.prefix(), e.model.suffix()
	lastUnknown := false
	for i, text := range survivors {
		if i > 0 && prefix != "" {
			text = prefix + text
		}
		if i == len(survivors)-1 && suffix != "" {
			text += suffix
		}

		if id, ok := e.model.TokenToID(text); ok {
			ids = append(ids, id)
			lastUnknown = false
			continue
		}

		if e.model.byteFallback {
			if withBytes, ok := e.appendByteFallback(ids, text); ok {
				ids = withBytes
				lastUnknown = false
				continue
			}
			// byte-token table incomplete for this symbol; fall through to
			// the unknown token
		}

		if e.unkID < 0 {
			return nil, fmt.Errorf("%w: %q", ErrNoUnknownToken, text)
		}

		if e.model.fuseUnk && lastUnknown {
			continue // consecutive unknowns collapse into one id
		}
		ids = append(ids, e.unkID)
		lastUnknown = true
	}

	return ids, nil
}

// appendByteFallback re-emits an out-of-vocabulary symbol as one <0xNN>
// byte token per UTF-8 byte. It reports false and leaves ids untouched
// when any byte is missing from the vocabulary, so the caller can route
// the whole symbol to the unknown token instead.
func (e *encoder) appendByteFallback(ids []int32, text string) ([]int32, bool) {
	raw := []byte(text)
	if e.byteLevel {
		// fold the byte-level alphabet back to raw bytes first
		raw = raw[:0]
		for _, r := range text {
			if b, ok := decodeByteLevelRune(r); ok {
				raw = append(raw, b)
			}
		}
	}

	byteIDs := make([]int32, len(raw))
	for i, b := range raw {
		id, ok := e.model.byteToken(b)
		if !ok {
			return ids, false
		}
		byteIDs[i] = id
	}
	return append(ids, byteIDs...), true
}
