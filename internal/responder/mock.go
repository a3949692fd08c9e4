package responder

import (
	"context"
	"strings"
)

type mockGenerator struct{}

func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Reply(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "[mock reply for " + strings.TrimSpace(req.Text) + "]", nil
}
