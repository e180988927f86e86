// Package chunk splits extracted text units into bounded, overlapping chunks
// for embedding.
//
// Splitting is recursive over paragraph, line, word and character
// boundaries, and never crosses from one text unit into the next: a chunk
// always belongs to exactly one source file (and page).
package chunk

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/Aman-CERP/storyrag/internal/document"
	serrors "github.com/Aman-CERP/storyrag/internal/errors"
)

// Chunk size defaults, in characters.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// Options configures the chunker.
type Options struct {
	Size    int // Maximum characters per chunk
	Overlap int // Characters shared between consecutive chunks of a unit
}

// DefaultOptions returns the default chunking options.
func DefaultOptions() Options {
	return Options{Size: DefaultChunkSize, Overlap: DefaultChunkOverlap}
}

// Validate rejects sizes that cannot produce progress.
func (o Options) Validate() error {
	if o.Size <= 0 {
		return serrors.New(serrors.ErrCodeInvalidChunkingOptions,
			fmt.Sprintf("chunk size must be positive, got %d", o.Size), nil)
	}
	if o.Overlap < 0 || o.Overlap >= o.Size {
		return serrors.New(serrors.ErrCodeInvalidChunkingOptions,
			fmt.Sprintf("chunk overlap must be in [0, %d), got %d", o.Size, o.Overlap), nil).
			WithSuggestion("Set chunking.overlap below chunking.size in .storyrag.yaml")
	}
	return nil
}

// Chunker splits text units. It is stateless and safe for concurrent use.
type Chunker struct {
	opts     Options
	splitter textsplitter.RecursiveCharacter
}

// New creates a chunker after validating opts.
func New(opts Options) (*Chunker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{
		opts: opts,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(opts.Size),
			textsplitter.WithChunkOverlap(opts.Overlap),
		),
	}, nil
}

// Options returns the options the chunker was built with.
func (c *Chunker) Options() Options {
	return c.opts
}

// Split chunks each unit independently and concatenates the results in
// input order. Whitespace-only pieces are dropped.
func (c *Chunker) Split(units []document.TextUnit) ([]document.Chunk, error) {
	var out []document.Chunk
	for _, u := range units {
		if strings.TrimSpace(u.Text) == "" {
			continue
		}
		pieces, err := c.splitter.SplitText(u.Text)
		if err != nil {
			return nil, serrors.New(serrors.ErrCodeChunkingFailed,
				fmt.Sprintf("failed to split %s", u.Source), err).WithDetail("path", u.Source)
		}
		for _, p := range pieces {
			if strings.TrimSpace(p) == "" {
				continue
			}
			out = append(out, document.Chunk{Text: p, Source: u.Source, Page: u.Page})
		}
	}
	return out, nil
}
