// Package captcha abstracts image-to-text CAPTCHA resolution. Resolution
// quality is a black box: callers must treat every guess as fallible and
// bound their own retries.
package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Resolver turns a challenge image into a text guess.
type Resolver interface {
	Resolve(ctx context.Context, image []byte) (string, error)
}

// Func adapts a plain function into a Resolver.
type Func func(ctx context.Context, image []byte) (string, error)

func (f Func) Resolve(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}

// HTTPResolver posts challenge images to an external OCR service and reads
// back its guess.
type HTTPResolver struct {
	http     *http.Client
	endpoint string
}

// NewHTTPResolver builds a resolver against the given endpoint.
func NewHTTPResolver(client *http.Client, endpoint string) *HTTPResolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPResolver{http: client, endpoint: endpoint}
}

// Resolve submits the image and returns the service's text guess.
func (r *HTTPResolver) Resolve(ctx context.Context, image []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(image))
	if err != nil {
		return "", fmt.Errorf("build resolve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resolve request: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read resolve response: %w", err)
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		// Plain-text services return the guess bare.
		return strings.TrimSpace(string(body)), nil
	}
	if payload.Text == "" {
		return "", fmt.Errorf("resolver returned an empty guess")
	}
	return payload.Text, nil
}
