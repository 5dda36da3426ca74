package tokenizer

import "errors"

// Load-time errors. A tokenizer is never partially constructed: any of
// these aborts Load before a *Tokenizer exists.
var (
	ErrMissingVocab      = errors.New("tokenizer: model is missing vocab")
	ErrMissingMerges     = errors.New("tokenizer: model is missing merges")
	ErrInvalidModel      = errors.New("tokenizer: malformed model field")
	ErrDuplicateID       = errors.New("tokenizer: duplicate token id in vocab")
	ErrSparseVocab       = errors.New("tokenizer: vocab ids are not a dense [0, size) range")
	ErrInvalidAddedToken = errors.New("tokenizer: invalid added token")
	ErrDanglingSpecial   = errors.New("tokenizer: special token role does not resolve to a known token")
	ErrUnsupportedModel  = errors.New("tokenizer: unsupported model type")
	ErrNoRandSource      = errors.New("tokenizer: dropout configured without a random source")
)

// Per-call errors. These fail the offending Encode or Decode call only;
// the tokenizer itself is immutable and stays usable.
var (
	ErrNoUnknownToken = errors.New("tokenizer: symbol not in vocab and no unk token or byte fallback configured")
	ErrInvalidTokenID = errors.New("tokenizer: token id out of range")
	ErrInvalidUTF8    = errors.New("tokenizer: decoded bytes are not valid utf-8")
)
