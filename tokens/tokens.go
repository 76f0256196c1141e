// Package tokens counts tokens of message text. Flows branch on the count
// (token-count-branch step) and the CLI displays it.
package tokens

import (
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE used by recent OpenAI chat models.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens in a text.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(text string) int

// Count implements Counter.
func (f CounterFunc) Count(text string) int { return f(text) }

// Tiktoken counts with a tiktoken BPE.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding. Loading may download the BPE ranks
// on first use, so callers without network access should fall back to
// Heuristic (see Default).
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &Tiktoken{enc: enc}, nil
}

// Count implements Counter.
func (t *Tiktoken) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// Heuristic approximates BPE token counts without a vocabulary: words count
// roughly 4/3 tokens and every punctuation rune counts one.
type Heuristic struct{}

// Count implements Counter.
func (Heuristic) Count(text string) int {
	var words, punct int
	for _, f := range strings.FieldsFunc(text, func(r rune) bool {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			punct++
			return true
		}
		return unicode.IsSpace(r)
	}) {
		words += int(math.Ceil(float64(len([]rune(f))) / 4))
	}
	return words + punct
}

var (
	defaultOnce    sync.Once
	defaultCounter Counter
)

// Default returns a process-wide cl100k counter, or Heuristic when the
// encoding cannot be loaded.
func Default() Counter {
	defaultOnce.Do(func() {
		if tk, err := NewTiktoken(DefaultEncoding); err == nil {
			defaultCounter = tk
			return
		}
		defaultCounter = Heuristic{}
	})
	return defaultCounter
}

// New returns a counter for the named encoding; "heuristic" selects the
// vocabulary-free approximation and load failures fall back to it too.
func New(encoding string) Counter {
	if encoding == "heuristic" {
		return Heuristic{}
	}
	if tk, err := NewTiktoken(encoding); err == nil {
		return tk
	}
	return Heuristic{}
}
