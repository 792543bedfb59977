package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jonwraymond/rpcpool/auth"
)

// HTTPConfig configures the real HTTP transport.
type HTTPConfig struct {
	// Client is the underlying HTTP client.
	// Default: &http.Client{} (per-attempt timeouts come from ctx)
	Client *http.Client

	// CredentialFor returns the credential for an endpoint URL. Nil, or
	// a nil return value, means no credential.
	CredentialFor func(endpoint string) auth.Credential

	// UserAgent is sent with every request.
	// Default: "rpcpool/1"
	UserAgent string
}

// HTTP is the real Transport: JSON-RPC 2.0 over HTTP POST.
type HTTP struct {
	config HTTPConfig
}

// NewHTTP creates an HTTP transport.
func NewHTTP(config HTTPConfig) *HTTP {
	// Apply defaults
	if config.Client == nil {
		config.Client = &http.Client{}
	}
	if config.UserAgent == "" {
		config.UserAgent = "rpcpool/1"
	}
	return &HTTP{config: config}
}

// wire types for the JSON-RPC 2.0 envelope.
type wireRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *wireError      `json:"error"`
}

// Do executes the request. Failures before the body is written return
// plain errors; failures once the request may have reached the wire
// are marked dispatched.
func (t *HTTP) Do(ctx context.Context, endpoint string, req Request) (*Response, error) {
	body, err := json.Marshal(wireRequest{
		JSONRPC: "2.0",
		ID:      req.ID,
		Method:  req.Method,
		Params:  req.Params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", t.config.UserAgent)

	if t.config.CredentialFor != nil {
		if cred := t.config.CredentialFor(endpoint); cred != nil {
			if err := cred.Apply(httpReq); err != nil {
				return nil, fmt.Errorf("apply credential: %w", err)
			}
		}
	}

	httpResp, err := t.config.Client.Do(httpReq)
	if err != nil {
		// The request may have reached the provider before the failure.
		return nil, MarkDispatched(err)
	}
	defer httpResp.Body.Close()

	// A 429 means the provider refused to execute the request, so it is
	// not marked dispatched: retrying elsewhere is safe even for
	// non-idempotent calls.
	if httpResp.StatusCode == http.StatusTooManyRequests {
		retryAfter := httpResp.Header.Get("Retry-After")
		return nil, &ProviderError{
			Code:    httpResp.StatusCode,
			Message: throttleMessage(retryAfter),
		}
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, MarkDispatched(fmt.Errorf("unexpected status %d", httpResp.StatusCode))
	}

	payload, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, MarkDispatched(fmt.Errorf("read response: %w", err))
	}

	var resp wireResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, MarkDispatched(fmt.Errorf("decode response: %w", err))
	}
	if resp.Error != nil {
		return nil, MarkDispatched(&ProviderError{Code: resp.Error.Code, Message: resp.Error.Message})
	}

	return &Response{Result: resp.Result}, nil
}

func throttleMessage(retryAfter string) string {
	if retryAfter == "" {
		return "provider throttled the request"
	}
	return "provider throttled the request, retry after " + retryAfter
}

// Ensure HTTP satisfies Transport.
var _ Transport = (*HTTP)(nil)
