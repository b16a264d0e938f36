package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenRouterProvider talks to any OpenAI-compatible /chat/completions
// endpoint; OpenRouter is the default base URL.
type OpenRouterProvider struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	SiteURL     string
	AppName     string
	// Timeout bounds a whole streamed completion. Zero means no limit.
	Timeout time.Duration
	Client  *http.Client
}

type OpenRouterOptions struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	SiteURL     string
	AppName     string
	Timeout     time.Duration
}

type openRouterChatReq struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

func NewOpenRouterProvider(o OpenRouterOptions) *OpenRouterProvider {
	if o.BaseURL == "" {
		o.BaseURL = "https://openrouter.ai/api/v1"
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 600
	}
	return &OpenRouterProvider{
		BaseURL:     o.BaseURL,
		APIKey:      o.APIKey,
		Model:       o.Model,
		MaxTokens:   o.MaxTokens,
		Temperature: o.Temperature,
		SiteURL:     o.SiteURL,
		AppName:     o.AppName,
		Timeout:     o.Timeout,
		// no client timeout; streaming is bounded by ctx
		Client: &http.Client{},
	}
}

func (p *OpenRouterProvider) Validate() error {
	if strings.TrimSpace(p.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if strings.TrimSpace(p.Model) == "" {
		return errors.New("openrouter: model is required")
	}
	if p.Client == nil {
		return errors.New("openrouter: http client is nil")
	}
	return nil
}

func (p *OpenRouterProvider) newRequest(ctx context.Context, messages []Message) (*http.Request, error) {
	b, err := json.Marshal(openRouterChatReq{
		Model:       strings.TrimSpace(p.Model),
		Messages:    messages,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	if p.SiteURL != "" {
		req.Header.Set("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		req.Header.Set("X-Title", p.AppName)
	}
	return req, nil
}

// StreamChat streams assistant content chunks via SSE.
func (p *OpenRouterProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		if err := p.Validate(); err != nil {
			errs <- err
			return
		}

		if p.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}

		req, err := p.newRequest(ctx, messages)
		if err != nil {
			errs <- err
			return
		}

		resp, err := p.Client.Do(req)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
			msg := strings.TrimSpace(string(body))
			if msg == "" {
				msg = fmt.Sprintf("status %d", resp.StatusCode)
			}
			errs <- fmt.Errorf("openrouter: upstream %d: %s", resp.StatusCode, msg)
			return
		}

		emit := func(frames []Frame) (stop bool, err error) {
			for _, f := range frames {
				if f.Done {
					return true, nil
				}
				delta, upstreamErr, ok := ParseDelta(f.Data)
				if !ok {
					// keep-alive noise or a non-JSON line
					continue
				}
				if upstreamErr != "" {
					return true, fmt.Errorf("openrouter: %s", upstreamErr)
				}
				if delta == "" {
					continue
				}
				select {
				case chunks <- delta:
				case <-ctx.Done():
					return true, ctx.Err()
				}
			}
			return false, nil
		}

		var dec SSEDecoder
		buf := make([]byte, 4*1024)
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				frames, err := dec.Feed(buf[:n])
				if err != nil {
					errs <- err
					return
				}
				stop, err := emit(frames)
				if err != nil {
					errs <- err
					return
				}
				if stop {
					return
				}
			}
			if readErr == io.EOF {
				stop, err := emit(dec.Flush())
				if err != nil {
					errs <- err
				} else if !stop {
					errs <- ErrStreamTruncated
				}
				return
			}
			if readErr != nil {
				errs <- readErr
				return
			}
		}
	}()

	return chunks, errs
}
