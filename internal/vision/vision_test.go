package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenAIDescriber_Describe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "vision-m" {
			t.Errorf("unexpected model %v", body["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":" Seekor kucing oranye tidur di sofa. "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	d := NewOpenAIDescriber(srv.URL, "k", "vision-m", time.Second)
	got, err := d.Describe(context.Background(), "https://cdn.example/cat.jpg")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if got != "Seekor kucing oranye tidur di sofa." {
		t.Fatalf("unexpected description %q", got)
	}
}

func TestDescribeOrPlaceholder_OnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewOpenAIDescriber(srv.URL, "k", "vision-m", time.Second)
	got, err := DescribeOrPlaceholder(context.Background(), d, "https://cdn.example/x.png")
	if err == nil {
		t.Fatalf("expected the underlying error to be reported")
	}
	if got != Placeholder {
		t.Fatalf("expected placeholder, got %q", got)
	}

	got, _ = DescribeOrPlaceholder(context.Background(), nil, "https://cdn.example/x.png")
	if got != Placeholder {
		t.Fatalf("nil describer: expected placeholder, got %q", got)
	}
}
