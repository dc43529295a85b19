// Package tokens estimates how many model tokens a text will consume. The
// estimate is recorded on document records and usage events.
package tokens

import (
	"fmt"
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

// Counter estimates token counts.
type Counter interface {
	Count(text string) int
}

// Tiktoken counts tokens with the cl100k_base encoding.
type Tiktoken struct {
	encoding *tiktoken.Tiktoken
}

func NewTiktoken() (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("loading tiktoken encoding: %w", err)
	}
	return &Tiktoken{encoding: enc}, nil
}

func (t *Tiktoken) Count(text string) int {
	return len(t.encoding.Encode(text, nil, nil))
}

// Heuristic approximates four bytes per token. It needs no encoding data.
type Heuristic struct{}

func (Heuristic) Count(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// NewCounter prefers the tiktoken encoder and falls back to the heuristic
// when the encoding cannot be loaded (it is fetched on first use).
func NewCounter() Counter {
	t, err := NewTiktoken()
	if err != nil {
		slog.Default().With("component", "tokens").Warn("tiktoken unavailable, using length heuristic", "error", err)
		return Heuristic{}
	}
	return t
}
