package text

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

const DefaultEncoding = "cl100k_base"

var loaderOnce sync.Once

// Truncator caps text at a token budget.
type Truncator struct {
	enc *tiktoken.Tiktoken
}

// NewTruncator loads encoding from the embedded BPE tables, so no network
// access is needed at startup.
func NewTruncator(encoding string) (*Truncator, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &Truncator{enc: enc}, nil
}

func (t *Truncator) Count(s string) int {
	return len(t.enc.Encode(s, nil, nil))
}

// Truncate returns s cut to at most maxTokens tokens, the token count of
// the returned text and whether anything was dropped. maxTokens <= 0
// disables the cap. The result is always valid UTF-8.
func (t *Truncator) Truncate(s string, maxTokens int) (string, int, bool) {
	tokens := t.enc.Encode(s, nil, nil)
	if maxTokens <= 0 || len(tokens) <= maxTokens {
		return s, len(tokens), false
	}

	// byte-level tokens can split a rune; back off until the tail is whole
	for n := maxTokens; n > 0; n-- {
		if out := t.enc.Decode(tokens[:n]); utf8.ValidString(out) {
			return out, n, true
		}
	}
	return "", 0, true
}
