package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/arloliu/go-lis/logger"
)

// DefaultHTTPTimeout bounds one delivery request.
const DefaultHTTPTimeout = 15 * time.Second

// HTTPClient is the subset of *http.Client used by HTTPSender.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSender delivers payloads as JSON POST requests.
type HTTPSender struct {
	url     string
	authKey string
	agent   string
	client  HTTPClient
	logger  logger.Logger
}

// NewHTTPSender creates a sender posting to url. A nil client selects an *http.Client
// with DefaultHTTPTimeout; a nil logger selects the default logger. authKey, when set,
// is sent as a bearer token.
func NewHTTPSender(url, authKey string, client HTTPClient, l logger.Logger) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if l == nil {
		l = logger.GetLogger()
	}

	return &HTTPSender{
		url:     url,
		authKey: authKey,
		agent:   "lisbridge (" + runtime.GOOS + "/" + runtime.GOARCH + ")",
		client:  client,
		logger:  l,
	}
}

// Deliver posts payload. Transport errors and non-2xx responses wrap ErrDeliveryFailed.
// It satisfies DeliverFunc.
func (s *HTTPSender) Deliver(ctx context.Context, payload json.RawMessage) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.agent)
	if s.authKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.authKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: server returned %d: %s", ErrDeliveryFailed, resp.StatusCode, string(body))
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	s.logger.Debug("delivery: payload posted", "status", resp.StatusCode, "size", len(payload))

	return nil
}
