package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

const doneSentinel = "[DONE]"

// MaxLineBytes caps a single unterminated line held by the decoder.
const MaxLineBytes = 1 << 20

var ErrLineTooLong = errors.New("ai: upstream sse line exceeds limit")

// Frame is one `data:` payload recognised by the decoder.
type Frame struct {
	Data string
	Done bool
}

// SSEDecoder turns an upstream byte stream into data frames.
//
// Bytes are buffered until a newline arrives, so a read boundary may fall
// anywhere, including inside a multi-byte UTF-8 rune or a JSON payload. Once
// the `[DONE]` frame has been seen every further byte is ignored.
type SSEDecoder struct {
	pending []byte
	done    bool
}

func (d *SSEDecoder) Done() bool { return d.done }

// Feed consumes p and returns the frames completed by it. It fails once the
// buffered partial line grows past MaxLineBytes.
func (d *SSEDecoder) Feed(p []byte) ([]Frame, error) {
	if d.done {
		return nil, nil
	}
	d.pending = append(d.pending, p...)

	var out []Frame
	for !d.done {
		i := bytes.IndexByte(d.pending, '\n')
		if i < 0 {
			break
		}
		line := d.pending[:i]
		d.pending = d.pending[i+1:]
		if f, ok := d.line(line); ok {
			out = append(out, f)
		}
	}
	if d.done {
		d.pending = nil
		return out, nil
	}
	if len(d.pending) > MaxLineBytes {
		d.pending = nil
		return out, ErrLineTooLong
	}
	return out, nil
}

// Flush processes a trailing line that was never newline-terminated.
func (d *SSEDecoder) Flush() []Frame {
	if d.done || len(d.pending) == 0 {
		d.pending = nil
		return nil
	}
	line := d.pending
	d.pending = nil
	if f, ok := d.line(line); ok {
		return []Frame{f}
	}
	return nil
}

func (d *SSEDecoder) line(raw []byte) (Frame, bool) {
	line := strings.TrimRight(string(raw), "\r")
	if !strings.HasPrefix(line, "data:") {
		// comments, event names, ids and blank separators
		return Frame{}, false
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "" {
		return Frame{}, false
	}
	if data == doneSentinel {
		d.done = true
		return Frame{Done: true}, true
	}
	return Frame{Data: data}, true
}

type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ParseDelta extracts choices[0].delta.content from a chunk payload. ok is
// false for payloads that are not JSON; upstreamErr is set when the provider
// reports an error inside the stream.
func ParseDelta(payload string) (delta string, upstreamErr string, ok bool) {
	var c completionChunk
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return "", "", false
	}
	if c.Error != nil && c.Error.Message != "" {
		return "", c.Error.Message, true
	}
	if len(c.Choices) == 0 {
		return "", "", true
	}
	return c.Choices[0].Delta.Content, "", true
}
