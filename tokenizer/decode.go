package tokenizer

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// decoder reconstructs text from a sequence of ids. Like the encoder it
// is stateless across calls.
type decoder struct {
	model     *Model
	registry  *Registry
	byteLevel bool
}

func (d *decoder) decode(ids []int32, skipSpecial bool) (string, error) {
	var sb strings.Builder
	suffixSpace := false // the last write ended with a space inserted for an end-of-word suffix

	for _, id := range ids {
		if entry, ok := d.registry.Get(id); ok {
			if entry.Special && skipSpecial {
				continue
			}
			sb.WriteString(entry.Content)
			suffixSpace = false
			continue
		}

		token, ok := d.model.IDToToken(id)
		if !ok {
			return "", fmt.Errorf("%w: %d", ErrInvalidTokenID, id)
		}

		// byte tokens reassemble into raw bytes; runs of them form one
		// UTF-8 sequence validated with the rest of the output below
		if d.model.byteFallback {
			if b, ok := parseByteToken(token); ok {
				sb.WriteByte(b)
				suffixSpace = false
				continue
			}
		}

		if d.byteLevel {
			for _, r := range token {
				if b, ok := decodeByteLevelRune(r); ok {
					sb.WriteByte(b)
				} else {
					sb.WriteRune(r)
				}
			}
			suffixSpace = false
			continue
		}

		suffixSpace = false
		if prefix := d.model.prefix(); prefix != "" {
			token = strings.TrimPrefix(token, prefix)
		}
		if suffix := d.model.suffix(); suffix != "" && strings.HasSuffix(token, suffix) {
			token = strings.TrimSuffix(token, suffix) + " "
			suffixSpace = true
		}
		sb.WriteString(token)
	}

	out := sb.String()
	if suffixSpace {
		// a suffix on the final token marks the end of the text, not a
		// trailing boundary
		out = out[:len(out)-1]
	}

	if !utf8.ValidString(out) {
		return "", ErrInvalidUTF8
	}
	return out, nil
}

// parseByteToken reports whether token has the <0xNN> byte-fallback shape
// and returns the byte it names.
func parseByteToken(token string) (byte, bool) {
	if len(token) != 6 || !strings.HasPrefix(token, "<0x") || token[5] != '>' {
		return 0, false
	}

	var b byte
	for _, c := range []byte(token[3:5]) {
		switch {
		case c >= '0' && c <= '9':
			b = b<<4 | (c - '0')
		case c >= 'A' && c <= 'F':
			b = b<<4 | (c - 'A' + 10)
		case c >= 'a' && c <= 'f':
			b = b<<4 | (c - 'a' + 10)
		default:
			return 0, false
		}
	}
	return b, true
}
