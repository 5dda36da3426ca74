package tokenizer

import (
	"strings"
	"testing"
)

func BenchmarkEncode(b *testing.B) {
	tok, err := Load(strings.NewReader(byteLevelModel))
	if err != nil {
		b.Fatal(err)
	}

	text := strings.Repeat("hi hi hi hi ", 64)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := tok.Encode(text, false); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFindMatches(b *testing.B) {
	tok, err := Load(strings.NewReader(byteLevelModel))
	if err != nil {
		b.Fatal(err)
	}

	text := strings.Repeat("hi <|eot|> ", 256)
	reg := tok.Registry()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = reg.FindMatches(text)
	}
}
