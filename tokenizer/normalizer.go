package tokenizer

import (
	"encoding/json"
	"iter"
	"log/slog"
	"strings"

	"github.com/dlclark/regexp2"
	"golang.org/x/text/unicode/norm"

	"github.com/subwordlab/bpetok/internal/unicodedata"
)

// Segmenter is the boundary between the tokenizer core and whatever
// normalization and pre-splitting strategy is configured. Segment yields
// the normalized pieces of a text in order; the BPE stage tokenizes each
// piece independently. Added-token spans are removed before Segment runs,
// so pieces never cross them.
type Segmenter interface {
	Segment(text string) iter.Seq[string]
}

// IdentitySegmenter yields the whole text as a single piece, with no
// normalization.
type IdentitySegmenter struct{}

func (IdentitySegmenter) Segment(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		if text != "" {
			yield(text)
		}
	}
}

// byteLevelPattern is the default GPT-2 byte-level split, e.g.
// https://github.com/huggingface/tokenizers/blob/main/tokenizers/src/pre_tokenizers/byte_level.rs#L44
const byteLevelPattern = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`

// RegexSegmenter splits text with pre-tokenizer patterns, yielding both
// the matches and the gaps between them in order. Patterns are applied in
// sequence, each splitting the pieces the previous one produced. A
// pattern's split mode controls which side survives: both, matches only
// (the Whitespace pre-tokenizer), or gaps only (Split with removed
// delimiters).
type RegexSegmenter struct {
	patterns []splitPattern
}

type splitMode int

const (
	splitIsolate     splitMode = iota // yield matches and gaps
	splitMatchesOnly                  // drop the gaps
	splitGapsOnly                     // drop the matched delimiters
)

type splitPattern struct {
	re   *regexp2.Regexp
	mode splitMode
}

func NewRegexSegmenter(patterns ...string) (*RegexSegmenter, error) {
	s := &RegexSegmenter{}
	for _, pattern := range patterns {
		if err := s.add(pattern, splitIsolate); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *RegexSegmenter) add(pattern string, mode splitMode) error {
	re, err := regexp2.Compile(pattern, regexp2.RE2)
	if err != nil {
		return err
	}
	s.patterns = append(s.patterns, splitPattern{re: re, mode: mode})
	return nil
}

func (s *RegexSegmenter) Segment(text string) iter.Seq[string] {
	parts := []string{text}
	for _, p := range s.patterns {
		parts = splitParts(p, parts)
	}

	return func(yield func(string) bool) {
		for _, part := range parts {
			if part == "" {
				continue
			}
			if !yield(part) {
				return
			}
		}
	}
}

func splitParts(p splitPattern, parts []string) []string {
	var out []string
	for _, part := range parts {
		r := []rune(part)
		var offset int
		for m, _ := p.re.FindRunesMatch(r); m != nil; m, _ = p.re.FindNextMatch(m) {
			if m.Index > offset && p.mode != splitMatchesOnly {
				out = append(out, string(r[offset:m.Index]))
			}
			if p.mode != splitGapsOnly {
				out = append(out, m.String())
			}
			offset = m.Index + m.Length
		}
		if offset < len(r) && p.mode != splitMatchesOnly {
			out = append(out, string(r[offset:]))
		}
	}
	return out
}

// NormSegmenter applies a Unicode normalization form before delegating
// splitting.
type NormSegmenter struct {
	Form norm.Form
	Next Segmenter
}

func (s NormSegmenter) Segment(text string) iter.Seq[string] {
	return s.Next.Segment(s.Form.String(text))
}

type lowercaseSegmenter struct {
	next Segmenter
}

func (s lowercaseSegmenter) Segment(text string) iter.Seq[string] {
	return s.next.Segment(strings.Map(unicodedata.ToLower, text))
}

type replaceSegmenter struct {
	pattern, replacement string
	next                 Segmenter
}

func (s replaceSegmenter) Segment(text string) iter.Seq[string] {
	return s.next.Segment(strings.ReplaceAll(text, s.pattern, s.replacement))
}

type regexReplaceSegmenter struct {
	re          *regexp2.Regexp
	replacement string
	next        Segmenter
}

func (s regexReplaceSegmenter) Segment(text string) iter.Seq[string] {
	replaced, err := s.re.Replace(text, s.replacement, -1, -1)
	if err != nil {
		// Replace only fails on match timeouts, which are not configured
		replaced = text
	}
	return s.next.Segment(replaced)
}

// SpecKind tags the known normalizer and pre-tokenizer variants.
type SpecKind string

const (
	KindNFC        SpecKind = "NFC"
	KindNFD        SpecKind = "NFD"
	KindNFKC       SpecKind = "NFKC"
	KindNFKD       SpecKind = "NFKD"
	KindLowercase  SpecKind = "Lowercase"
	KindReplace    SpecKind = "Replace"
	KindSplit      SpecKind = "Split"
	KindByteLevel  SpecKind = "ByteLevel"
	KindWhitespace SpecKind = "Whitespace"
	KindSequence   SpecKind = "Sequence"

	// KindOpaque preserves configurations this engine does not interpret.
	// They load cleanly, behave as identity and keep their raw JSON for
	// pass-through.
	KindOpaque SpecKind = "Opaque"
)

// Spec is the tagged configuration variant for normalizers and
// pre-tokenizers. tokenizer.json stores these as freeform objects with a
// recursive Sequence case, so the known kinds are modeled explicitly and
// everything else is retained as Opaque rather than failing load.
type Spec struct {
	Kind    SpecKind
	Pattern string // Split regex or Replace needle
	// PatternRegex marks Pattern as a regular expression, the
	// {"Regex": ...} pattern shape, rather than a literal string.
	PatternRegex bool
	Replacement  string
	// Behavior is the Split behavior; "Removed" drops the matched
	// delimiters instead of yielding them as pieces.
	Behavior string
	Sequence []Spec
	Raw      json.RawMessage
}

func parseSpec(data json.RawMessage, logger *slog.Logger) (*Spec, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var raw struct {
		Type    string `json:"type"`
		Pattern struct {
			String string `json:"String"`
			Regex  string `json:"Regex"`
		} `json:"pattern"`
		Content       string            `json:"content"`
		Behavior      string            `json:"behavior"`
		Normalizers   []json.RawMessage `json:"normalizers"`
		PreTokenizers []json.RawMessage `json:"pretokenizers"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	spec := &Spec{Raw: data}
	switch SpecKind(raw.Type) {
	case KindNFC, KindNFD, KindNFKC, KindNFKD, KindLowercase, KindByteLevel, KindWhitespace:
		spec.Kind = SpecKind(raw.Type)
	case KindReplace:
		spec.Kind = KindReplace
		spec.Pattern = raw.Pattern.String
		spec.Replacement = raw.Content
		if spec.Pattern == "" && raw.Pattern.Regex != "" {
			spec.Pattern = raw.Pattern.Regex
			spec.PatternRegex = true
		}
	case KindSplit:
		spec.Kind = KindSplit
		spec.Pattern = raw.Pattern.Regex
		spec.Behavior = raw.Behavior
	case KindSequence:
		spec.Kind = KindSequence
		children := raw.Normalizers
		if len(children) == 0 {
			children = raw.PreTokenizers
		}
		for _, child := range children {
			sub, err := parseSpec(child, logger)
			if err != nil {
				return nil, err
			}
			if sub != nil {
				spec.Sequence = append(spec.Sequence, *sub)
			}
		}
	default:
		if logger != nil {
			logger.Warn("keeping unrecognized normalizer/pre-tokenizer as opaque", "type", raw.Type)
		}
		spec.Kind = KindOpaque
	}

	return spec, nil
}

// buildSegmenter composes the recognized subset of the normalizer and
// pre-tokenizer specs into a Segmenter. Opaque kinds contribute identity
// behavior. The returned flag reports whether a ByteLevel pre-tokenizer
// is configured, which switches the encoder to the GPT-2 byte alphabet.
func buildSegmenter(normSpec, preSpec *Spec, logger *slog.Logger) (Segmenter, bool, error) {
	type pattern struct {
		expr string
		mode splitMode
	}
	var patterns []pattern
	var byteLevel bool

	var walkPre func(s *Spec)
	walkPre = func(s *Spec) {
		if s == nil {
			return
		}
		switch s.Kind {
		case KindSplit:
			if s.Pattern != "" {
				mode := splitIsolate
				if s.Behavior == "Removed" {
					mode = splitGapsOnly
				}
				patterns = append(patterns, pattern{expr: s.Pattern, mode: mode})
			}
		case KindByteLevel:
			byteLevel = true
		case KindWhitespace:
			// word runs and punctuation runs; the whitespace between them
			// is dropped, never handed to the merge loop
			patterns = append(patterns, pattern{expr: `\w+|[^\w\s]+`, mode: splitMatchesOnly})
		case KindSequence:
			for i := range s.Sequence {
				walkPre(&s.Sequence[i])
			}
		}
	}
	walkPre(preSpec)

	if byteLevel && len(patterns) == 0 {
		patterns = append(patterns, pattern{expr: byteLevelPattern})
	}

	var segmenter Segmenter = IdentitySegmenter{}
	if len(patterns) > 0 {
		rs := &RegexSegmenter{}
		for _, p := range patterns {
			if err := rs.add(p.expr, p.mode); err != nil {
				return nil, false, err
			}
		}
		segmenter = rs
	}

	// normalizers wrap the splitter, innermost last in declared order
	var wrapErr error
	var wrap func(s *Spec, next Segmenter) Segmenter
	wrap = func(s *Spec, next Segmenter) Segmenter {
		if s == nil {
			return next
		}
		switch s.Kind {
		case KindNFC:
			return NormSegmenter{Form: norm.NFC, Next: next}
		case KindNFD:
			return NormSegmenter{Form: norm.NFD, Next: next}
		case KindNFKC:
			return NormSegmenter{Form: norm.NFKC, Next: next}
		case KindNFKD:
			return NormSegmenter{Form: norm.NFKD, Next: next}
		case KindLowercase:
			return lowercaseSegmenter{next: next}
		case KindReplace:
			// an empty pattern replaces nothing; keep identity rather than
			// interleaving the replacement between every rune
			if s.Pattern == "" {
				return next
			}
			if s.PatternRegex {
				re, err := regexp2.Compile(s.Pattern, regexp2.RE2)
				if err != nil {
					wrapErr = err
					return next
				}
				return regexReplaceSegmenter{re: re, replacement: s.Replacement, next: next}
			}
			return replaceSegmenter{pattern: s.Pattern, replacement: s.Replacement, next: next}
		case KindSequence:
			for i := len(s.Sequence) - 1; i >= 0; i-- {
				next = wrap(&s.Sequence[i], next)
			}
			return next
		default:
			return next
		}
	}

	segmenter = wrap(normSpec, segmenter)
	if wrapErr != nil {
		return nil, false, wrapErr
	}
	return segmenter, byteLevel, nil
}
