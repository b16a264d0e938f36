package ai

import (
	"context"
	"errors"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

var (
	ErrMissingAPIKey   = errors.New("ai: upstream api key is not configured")
	ErrStreamTruncated = errors.New("ai: upstream closed the stream before [DONE]")
)

// StreamProvider streams assistant content chunks. Both channels are closed
// when streaming ends; an error, if any, is buffered before chunks closes.
type StreamProvider interface {
	// Validate reports configuration problems that make every call fail.
	Validate() error
	StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error)
}
