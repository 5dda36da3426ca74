package tokenizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"
)

type config struct {
	segmenter Segmenter
	rng       *rand.Rand
	logger    *slog.Logger
	companion []byte

	bos, eos, unk string
	rolesSet      bool
}

type Option func(*config)

// WithSegmenter overrides the segmenter built from the tokenizer.json
// normalizer and pre_tokenizer configuration.
func WithSegmenter(s Segmenter) Option {
	return func(c *config) { c.segmenter = s }
}

// WithRoles declares the bos/eos/unk token contents explicitly, taking
// precedence over companion configuration. Empty strings leave a role
// undeclared.
func WithRoles(bos, eos, unk string) Option {
	return func(c *config) {
		c.bos, c.eos, c.unk = bos, eos, unk
		c.rolesSet = true
	}
}

// WithDropoutSource supplies the random source merge dropout draws from.
// Loading a model with a nonzero dropout fails without one; encoding with
// dropout never touches global randomness. rand.Rand is not safe for
// concurrent use, so dropout-enabled encoding must stay on a single
// goroutine per source.
func WithDropoutSource(rng *rand.Rand) Option {
	return func(c *config) { c.rng = rng }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithCompanionConfig supplies tokenizer_config.json-style content for
// special token role resolution.
func WithCompanionConfig(data []byte) Option {
	return func(c *config) { c.companion = data }
}

type modelJSON struct {
	Type                    string           `json:"type"`
	Vocab                   map[string]int32 `json:"vocab"`
	Merges                  json.RawMessage  `json:"merges"`
	Dropout                 *float64         `json:"dropout"`
	UnkToken                *string          `json:"unk_token"`
	ContinuingSubwordPrefix *string          `json:"continuing_subword_prefix"`
	EndOfWordSuffix         *string          `json:"end_of_word_suffix"`
	FuseUnk                 bool             `json:"fuse_unk"`
	ByteFallback            bool             `json:"byte_fallback"`
	IgnoreMerges            bool             `json:"ignore_merges"`
}

type addedTokenJSON struct {
	ID         *int32 `json:"id"`
	Content    string `json:"content"`
	SingleWord bool   `json:"single_word"`
	LStrip     bool   `json:"lstrip"`
	RStrip     bool   `json:"rstrip"`
	Normalized bool   `json:"normalized"`
	Special    bool   `json:"special"`
}

// Load reads a tokenizer.json description and returns a ready Tokenizer.
// Any validation failure aborts construction; a partially loaded
// tokenizer is never returned.
func Load(r io.Reader, opts ...Option) (*Tokenizer, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	var raw struct {
		Version      string           `json:"version"`
		Model        *modelJSON       `json:"model"`
		Normalizer   json.RawMessage  `json:"normalizer"`
		PreTokenizer json.RawMessage  `json:"pre_tokenizer"`
		AddedTokens  []addedTokenJSON `json:"added_tokens"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("tokenizer: parse: %w", err)
	}

	if raw.Model == nil {
		return nil, fmt.Errorf("%w: no model object", ErrMissingVocab)
	}
	// absence of type implies BPE
	if raw.Model.Type != "" && raw.Model.Type != "BPE" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, raw.Model.Type)
	}
	if raw.Model.Merges == nil || string(raw.Model.Merges) == "null" {
		return nil, ErrMissingMerges
	}

	model, err := newModel(raw.Model)
	if err != nil {
		return nil, err
	}
	if model.dropout > 0 && cfg.rng == nil {
		return nil, ErrNoRandSource
	}

	added := make([]AddedToken, 0, len(raw.AddedTokens))
	for _, at := range raw.AddedTokens {
		if at.ID == nil {
			return nil, fmt.Errorf("%w: %q has no id", ErrInvalidAddedToken, at.Content)
		}
		added = append(added, AddedToken{
			ID:         *at.ID,
			Content:    at.Content,
			SingleWord: at.SingleWord,
			LStrip:     at.LStrip,
			RStrip:     at.RStrip,
			Normalized: at.Normalized,
			Special:    at.Special,
		})
	}

	registry, err := newRegistry(added, model)
	if err != nil {
		return nil, err
	}

	normSpec, err := parseSpec(raw.Normalizer, cfg.logger)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: normalizer: %w", err)
	}
	preSpec, err := parseSpec(raw.PreTokenizer, cfg.logger)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: pre_tokenizer: %w", err)
	}

	segmenter, byteLevel, err := buildSegmenter(normSpec, preSpec, cfg.logger)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: pre_tokenizer: %w", err)
	}
	if cfg.segmenter != nil {
		segmenter = cfg.segmenter
	}

	t := &Tokenizer{
		Version:      raw.Version,
		model:        model,
		registry:     registry,
		segmenter:    segmenter,
		byteLevel:    byteLevel,
		normalizer:   normSpec,
		preTokenizer: preSpec,
		bos:          -1,
		eos:          -1,
		unkID:        -1,
		rng:          cfg.rng,
		logger:       cfg.logger,
	}

	if err := resolveRoles(t, cfg); err != nil {
		return nil, err
	}

	return t, nil
}

// LoadFile loads tokenizer.json from path.
func LoadFile(path string, opts ...Option) (*Tokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Load(f, opts...)
}

// LoadFS loads "tokenizer.json" from fsys, picking up a companion
// "tokenizer_config.json" for special token roles when present.
func LoadFS(fsys fs.FS, opts ...Option) (*Tokenizer, error) {
	f, err := fsys.Open("tokenizer.json")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if data, err := fs.ReadFile(fsys, "tokenizer_config.json"); errors.Is(err, fs.ErrNotExist) {
		// noop
	} else if err != nil {
		return nil, err
	} else {
		opts = append([]Option{WithCompanionConfig(data)}, opts...)
	}

	return Load(f, opts...)
}

func parseMerges(data json.RawMessage) ([]string, error) {
	var merges []string
	if err := json.Unmarshal(data, &merges); err == nil {
		for _, merge := range merges {
			if left, _, ok := strings.Cut(merge, " "); !ok || left == "" {
				return nil, fmt.Errorf("%w: merge %q is not a pair", ErrInvalidModel, merge)
			}
		}
		return merges, nil
	}

	var pairs [][]string
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("%w: merges are neither []string nor [][]string", ErrInvalidModel)
	}

	merges = make([]string, len(pairs))
	for i, pair := range pairs {
		if len(pair) != 2 {
			return nil, fmt.Errorf("%w: merge pair of length %d", ErrInvalidModel, len(pair))
		}
		merges[i] = pair[0] + " " + pair[1]
	}
	return merges, nil
}

// resolveRoles binds the declared bos/eos/unk roles to ids. Roles come
// from WithRoles, then companion config, then the model's own unk_token.
// A declared role that does not resolve is fatal.
func resolveRoles(t *Tokenizer, cfg config) error {
	bos, eos, unk := cfg.bos, cfg.eos, cfg.unk
	var addBOS, addEOS *bool

	if !cfg.rolesSet && len(cfg.companion) > 0 {
		var companion map[string]json.RawMessage
		if err := json.Unmarshal(cfg.companion, &companion); err != nil {
			return fmt.Errorf("tokenizer: companion config: %w", err)
		}

		bos = extractTokenContent(companion["bos_token"])
		eos = extractTokenContent(companion["eos_token"])
		unk = extractTokenContent(companion["unk_token"])

		for key, dst := range map[string]**bool{"add_bos_token": &addBOS, "add_eos_token": &addEOS} {
			if data, ok := companion[key]; ok {
				var v bool
				if err := json.Unmarshal(data, &v); err == nil {
					*dst = &v
				}
			}
		}
	}

	lookup := func(content string) (int32, bool) {
		if id, ok := t.model.TokenToID(content); ok {
			return id, true
		}
		for i := range t.registry.entries {
			if t.registry.entries[i].Content == content {
				return t.registry.entries[i].ID, true
			}
		}
		return -1, false
	}

	for _, role := range []struct {
		content string
		name    string
		dst     *int32
	}{
		{bos, "bos", &t.bos},
		{eos, "eos", &t.eos},
		{unk, "unk", &t.unkID},
	} {
		if role.content == "" {
			continue
		}
		id, ok := lookup(role.content)
		if !ok {
			return fmt.Errorf("%w: %s token %q", ErrDanglingSpecial, role.name, role.content)
		}
		*role.dst = id
	}

	// the model's own unk_token is a declared role too
	if unkToken, ok := t.model.UnknownToken(); ok {
		id, found := lookup(unkToken)
		if !found {
			return fmt.Errorf("%w: unk token %q", ErrDanglingSpecial, unkToken)
		}
		if t.unkID < 0 {
			t.unkID = id
		}
	}

	t.addBOS = t.bos >= 0
	if addBOS != nil {
		t.addBOS = *addBOS && t.bos >= 0
	}
	t.addEOS = false
	if addEOS != nil {
		t.addEOS = *addEOS && t.eos >= 0
	}

	return nil
}

// extractTokenContent accepts the two shapes companion configs use for
// token roles: a plain string, or an object with a "content" field.
func extractTokenContent(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}

	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		return obj.Content
	}
	return ""
}
