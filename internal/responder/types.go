package responder

import (
	"context"

	"github.com/otohalabs/otoha/internal/memory"
)

// Request describes one chat turn to answer.
type Request struct {
	Text    string
	Speaker string
	Context []memory.Exchange
}

// Generator produces a conversational reply.
type Generator interface {
	Reply(ctx context.Context, req Request) (string, error)
}
