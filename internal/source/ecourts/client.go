// Package ecourts implements the encrypted mobile-API protocol used by the
// district and high court backends, and the source adapters built on it.
// Requests are AES-CBC encrypted under fixed app keys; responses come back as
// ciphertext with a leading IV. The upstream never signals session expiry
// explicitly; an undecryptable response is the expiry signal.
package ecourts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"casewatch/internal/cases/models"
	"casewatch/internal/source"
)

// Client speaks the encrypted protocol to one backend (DC or HC flavour).
type Client struct {
	http     *http.Client
	baseURL  string
	sessions *SessionManager
	src      models.CourtSource
	timeout  time.Duration
	logger   *log.Logger
}

// NewClient builds a protocol client. baseURL is the mobile-API root, e.g.
// https://app.ecourts.gov.in/ecourt_mobile_DC.
func NewClient(httpClient *http.Client, baseURL string, sessions *SessionManager, src models.CourtSource, timeout time.Duration, logger *log.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		http:     httpClient,
		baseURL:  strings.TrimRight(baseURL, "/"),
		sessions: sessions,
		src:      src,
		timeout:  timeout,
		logger:   logger,
	}
}

// Request executes one protocol operation and returns the decrypted JSON
// payload. A decryption failure is treated as implicit session expiry: the
// session is invalidated, re-authenticated once (shared across concurrent
// callers), and the call retried before failing outward.
func (c *Client) Request(ctx context.Context, op string, params map[string]string) (json.RawMessage, error) {
	ctx, cancel := source.WithTimeout(ctx, c.timeout)
	defer cancel()

	sess, err := c.sessions.Current(ctx)
	if err != nil {
		return nil, source.NewError(source.KindNetwork, c.src, op, fmt.Errorf("authenticate: %w", err))
	}

	payload, err := c.once(ctx, op, params, sess)
	if err == nil {
		return payload, nil
	}
	if source.KindOf(err) != source.KindDecryption {
		return nil, err
	}

	// Implicit expiry: one re-auth, one retry.
	c.sessions.Invalidate(sess)
	sess, authErr := c.sessions.Current(ctx)
	if authErr != nil {
		return nil, source.NewError(source.KindNetwork, c.src, op, fmt.Errorf("re-authenticate: %w", authErr))
	}
	if c.logger != nil {
		c.logger.Printf("%s: session refreshed after decryption failure on %s", c.src, op)
	}
	return c.once(ctx, op, params, sess)
}

func (c *Client) once(ctx context.Context, op string, params map[string]string, sess *Session) (json.RawMessage, error) {
	encrypted, err := encodeRequest(params)
	if err != nil {
		return nil, source.NewError(source.KindValidation, c.src, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+op+".php", nil)
	if err != nil {
		return nil, source.NewError(source.KindValidation, c.src, op, err)
	}
	req.URL.RawQuery = url.Values{"params": {encrypted}}.Encode()

	// The upstream expects the bearer token itself encrypted under the
	// request key, not the raw JWT.
	bearer, err := encodeRequest(sess.Token)
	if err != nil {
		return nil, source.NewError(source.KindValidation, c.src, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, source.NewError(source.KindNetwork, c.src, op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, source.Errorf(source.KindRateLimited, c.src, op, "status %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, source.Errorf(source.KindUnavailable, c.src, op, "status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, source.Errorf(source.KindNetwork, c.src, op, "unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, source.NewError(source.KindNetwork, c.src, op, err)
	}
	if strings.TrimSpace(string(body)) == "null" {
		return nil, source.Errorf(source.KindNotFound, c.src, op, "empty result")
	}

	plaintext, err := decodeResponse(string(body))
	if err != nil {
		return nil, source.NewError(source.KindDecryption, c.src, op, err)
	}
	if !json.Valid(plaintext) {
		return nil, source.Errorf(source.KindDecryption, c.src, op, "decrypted payload is not valid JSON")
	}
	return json.RawMessage(plaintext), nil
}
