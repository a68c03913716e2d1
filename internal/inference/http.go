package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/chatrelay/chatrelay/pkg/security"
)

// HTTPService implements Service against a JSON inference gateway.
type HTTPService struct {
	baseURL    string
	httpClient *http.Client
	validator  *security.SSRFValidator
}

// NewHTTPService creates an inference client for the given gateway URL.
// The URL is validated against the gateway allowlist, and the client
// re-validates every dial target; redirects are not followed. A zero
// timeout leaves the request bounded only by its context.
func NewHTTPService(baseURL string, timeout time.Duration) (*HTTPService, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("inference base URL is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	validator := security.NewGatewaySSRFValidator()
	if err := validator.ValidateURL(baseURL); err != nil {
		return nil, fmt.Errorf("base URL rejected: %w", err)
	}

	return &HTTPService{
		baseURL:   parsed.String(),
		validator: validator,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: validator.SecureTransport(),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// Generate posts {model, prompt} to the gateway and returns the raw
// payload. Shape validation is deliberately not done here; the caller
// extracts what it can via Result.Reply.
func (s *HTTPService) Generate(ctx context.Context, model, prompt string) (*Result, error) {
	reqBody, err := json.Marshal(map[string]string{
		"model":  model,
		"prompt": prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/run", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("inference error (status %d): %s", resp.StatusCode, string(body))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return NewResult(raw), nil
}
