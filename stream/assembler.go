// Package stream turns a generation token stream plus retrieval references
// into an ordered chunk sequence for streaming consumers.
package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/hupe1980/ragserve/model"
)

// TokenStream delivers generated answer fragments in order.
// Recv returns io.EOF after the last fragment.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// Assembler produces ordered chunk streams. Fragments are forwarded in
// generation order; the stream ends with exactly one final chunk carrying
// the complete reference list and no fragment text.
type Assembler struct {
	logger *slog.Logger
}

// New creates an assembler. A nil logger disables logging.
func New(logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Assembler{logger: logger}
}

// Stream consumes the token stream and emits chunks on the returned
// channel. The channel is closed after the final chunk.
//
// Cancelling ctx stops fragment production promptly and closes the
// underlying token stream; a cancelled stream ends without a final chunk.
// A mid-stream generation error also ends the stream, but still delivers
// the final chunk so consumers keep the references already paid for.
func (a *Assembler) Stream(ctx context.Context, ts TokenStream, refs []model.ScoredDocument) <-chan model.StreamChunk {
	out := make(chan model.StreamChunk, 8)

	go func() {
		defer close(out)
		defer ts.Close()

		for {
			fragment, err := ts.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					a.logger.Warn("generation stream interrupted", "error", err)
				}
				break
			}

			select {
			case out <- model.StreamChunk{Fragment: fragment}:
			case <-ctx.Done():
				return
			}
		}

		select {
		case out <- model.StreamChunk{Final: true, References: refs}:
		case <-ctx.Done():
		}
	}()

	return out
}
