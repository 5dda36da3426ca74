package tokenizer

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// byteLevelModel is a minimal GPT-2 style description: ByteLevel
// pre-tokenizer, Ġ-encoded spaces, an <|eot|> special token.
const byteLevelModel = `{
	"version": "1.0",
	"model": {
		"type": "BPE",
		"vocab": {"h": 0, "i": 1, "hi": 2, "Ġ": 3, "Ġh": 4, "Ġhi": 5},
		"merges": ["Ġ h", "h i", "Ġh i"]
	},
	"pre_tokenizer": {"type": "ByteLevel", "add_prefix_space": false},
	"added_tokens": [
		{"id": 6, "content": "<|eot|>", "special": true}
	]
}`

func TestEncodeDecodeByteLevel(t *testing.T) {
	tok := mustLoad(t, byteLevelModel)

	if tok.Version != "1.0" {
		t.Errorf("version = %q", tok.Version)
	}

	ids, err := tok.Encode("hi hi", false)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int32{2, 5}, ids); diff != "" {
		t.Fatalf("unexpected ids (-want +got):\n%s", diff)
	}

	text, err := tok.Decode(ids, false)
	if err != nil {
		t.Fatal(err)
	}
	if text != "hi hi" {
		t.Errorf("round trip = %q, want %q", text, "hi hi")
	}
}

func TestEncodeAddedTokenOverlay(t *testing.T) {
	tok := mustLoad(t, byteLevelModel)

	ids, err := tok.Encode("hi<|eot|>hi", false)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int32{2, 6, 2}, ids); diff != "" {
		t.Fatalf("unexpected ids (-want +got):\n%s", diff)
	}

	withSpecial, err := tok.Decode(ids, false)
	if err != nil {
		t.Fatal(err)
	}
	if withSpecial != "hi<|eot|>hi" {
		t.Errorf("decode = %q", withSpecial)
	}

	skipped, err := tok.Decode(ids, true)
	if err != nil {
		t.Fatal(err)
	}
	if skipped != "hihi" {
		t.Errorf("decode with skipped specials = %q", skipped)
	}
}

func TestTokens(t *testing.T) {
	tok := mustLoad(t, byteLevelModel)

	got := tok.Tokens([]int32{2, 6, 99})
	want := []string{"hi", "<|eot|>", ""}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected tokens (-want +got):\n%s", diff)
	}
}

const roleModel = `{
	"model": {
		"vocab": {"h": 0, "i": 1, "hi": 2},
		"merges": ["h i"]
	},
	"added_tokens": [
		{"id": 3, "content": "<s>", "special": true},
		{"id": 4, "content": "</s>", "special": true}
	]
}`

func TestRolesFromCompanionConfig(t *testing.T) {
	companion := []byte(`{
		"bos_token": "<s>",
		"eos_token": {"content": "</s>"},
		"add_bos_token": true,
		"add_eos_token": true
	}`)

	tok := mustLoad(t, roleModel, WithCompanionConfig(companion))
	require.EqualValues(t, 3, tok.BOS())
	require.EqualValues(t, 4, tok.EOS())

	ids, err := tok.Encode("hi", true)
	require.NoError(t, err)
	require.Equal(t, []int32{3, 2, 4}, ids)

	// without special tokens the overlay stays out
	ids, err = tok.Encode("hi", false)
	require.NoError(t, err)
	require.Equal(t, []int32{2}, ids)
}

func TestRolesExplicit(t *testing.T) {
	tok := mustLoad(t, roleModel, WithRoles("<s>", "</s>", ""))
	require.EqualValues(t, 3, tok.BOS())
	require.EqualValues(t, 4, tok.EOS())

	// bos declared implies addBOS by default; eos stays opt-in
	ids, err := tok.Encode("hi", true)
	require.NoError(t, err)
	require.Equal(t, []int32{3, 2}, ids)
}

func TestRolesDangling(t *testing.T) {
	_, err := loadString(t, roleModel, WithRoles("<missing>", "", ""))
	require.ErrorIs(t, err, ErrDanglingSpecial)
}

func TestLoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"tokenizer.json":        {Data: []byte(roleModel)},
		"tokenizer_config.json": {Data: []byte(`{"bos_token": "<s>"}`)},
	}

	tok, err := LoadFS(fsys)
	require.NoError(t, err)
	require.EqualValues(t, 3, tok.BOS())
	require.EqualValues(t, -1, tok.EOS())
}

func TestLoadFSWithoutCompanion(t *testing.T) {
	fsys := fstest.MapFS{
		"tokenizer.json": {Data: []byte(roleModel)},
	}

	tok, err := LoadFS(fsys)
	require.NoError(t, err)
	require.EqualValues(t, -1, tok.BOS())
}

func TestDecodeInvalidTokenID(t *testing.T) {
	tok := mustLoad(t, roleModel)

	_, err := tok.Decode([]int32{0, 42}, false)
	if !errors.Is(err, ErrInvalidTokenID) {
		t.Fatalf("expected ErrInvalidTokenID, got %v", err)
	}
}

func TestDecodeInvalidUTF8(t *testing.T) {
	doc := `{
		"model": {
			"vocab": {"a": 0, "<0xC3>": 1},
			"merges": [],
			"byte_fallback": true
		}
	}`

	tok := mustLoad(t, doc)

	// a lone continuation-start byte is not a complete UTF-8 sequence
	_, err := tok.Decode([]int32{0, 1}, false)
	if !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("expected ErrInvalidUTF8, got %v", err)
	}
}

func TestIsSpecial(t *testing.T) {
	tok := mustLoad(t, byteLevelModel)

	if !tok.IsSpecial(6) {
		t.Error("<|eot|> should be special")
	}
	if tok.IsSpecial(2) {
		t.Error("hi should not be special")
	}
}

func TestEncodeConcurrent(t *testing.T) {
	tok := mustLoad(t, byteLevelModel)

	want, err := tok.Encode("hi hi hi", false)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan []int32)
	for range 8 {
		go func() {
			ids, err := tok.Encode("hi hi hi", false)
			if err != nil {
				t.Error(err)
			}
			done <- ids
		}()
	}
	for range 8 {
		if diff := cmp.Diff(want, <-done); diff != "" {
			t.Errorf("concurrent encode diverged (-want +got):\n%s", diff)
		}
	}
}

func TestIdentitySegmenterOverride(t *testing.T) {
	tok := mustLoad(t, byteLevelModel, WithSegmenter(IdentitySegmenter{}))

	// without the byte-level split the whole text is one piece
	ids, err := tok.Encode("hi", false)
	require.NoError(t, err)
	require.Equal(t, []int32{2}, ids)
}
