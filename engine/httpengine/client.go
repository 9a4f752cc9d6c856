// Package httpengine adapts a remote execution engine reachable over HTTP to
// the engine.Engine contract. The vault's opaque payload is forwarded
// verbatim; the engine's response declares the custody movements it performed,
// which are applied through the restricted Authority so they commit or roll
// back with the enclosing operation.
package httpengine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tradevault/engine"
)

const defaultTimeout = 30 * time.Second

// Config describes one remote engine endpoint.
type Config struct {
	// ID is the engine identifier vault owners pin in their parameters.
	ID string
	// URL is the execution endpoint; the call kind is appended as the path.
	URL string
	// Timeout bounds one delegated call end to end.
	Timeout time.Duration
	// AuthToken, when set, is sent as a bearer token.
	AuthToken string
}

// Client is an HTTP-backed execution engine with a circuit breaker so a
// flapping engine fails fast instead of holding vault operations open.
type Client struct {
	id      string
	url     string
	token   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// New constructs a client for the configured engine.
func New(cfg Config) (*Client, error) {
	id := strings.TrimSpace(cfg.ID)
	if id == "" {
		return nil, fmt.Errorf("httpengine: engine id required")
	}
	url := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if url == "" {
		return nil, fmt.Errorf("httpengine: engine url required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "engine:" + id,
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Client{
		id:    id,
		url:   url,
		token: strings.TrimSpace(cfg.AuthToken),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: breaker,
	}, nil
}

// ID returns the engine identifier.
func (c *Client) ID() string { return c.id }

type executeRequest struct {
	Kind      string `json:"kind"`
	Vault     string `json:"vault"`
	Authority string `json:"authority"`
	AssetIn   string `json:"assetIn,omitempty"`
	AssetOut  string `json:"assetOut,omitempty"`
	Handle    string `json:"handle,omitempty"`
	Payload   string `json:"payload,omitempty"`
}

type movement struct {
	Direction string `json:"direction"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
}

type executeResponse struct {
	Handle    string     `json:"handle,omitempty"`
	Movements []movement `json:"movements"`
	Error     string     `json:"error,omitempty"`
}

// Execute performs one delegated call. The engine response lists the custody
// movements to apply; they run through the Authority handle so a later
// rollback of the enclosing operation discards them too.
func (c *Client) Execute(ctx context.Context, call engine.Call) (*engine.Receipt, error) {
	body, err := json.Marshal(executeRequest{
		Kind:      string(call.Kind),
		Vault:     call.Vault.String(),
		Authority: call.Authority.Address().String(),
		AssetIn:   call.AssetIn,
		AssetOut:  call.AssetOut,
		Handle:    call.Handle,
		Payload:   base64.StdEncoding.EncodeToString(call.Payload),
	})
	if err != nil {
		return nil, fmt.Errorf("httpengine: encode request: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, string(call.Kind), body)
	})
	if err != nil {
		return nil, err
	}
	resp := result.(*executeResponse)
	if resp.Error != "" {
		return nil, fmt.Errorf("httpengine: engine %s rejected call: %s", c.id, resp.Error)
	}
	for _, m := range resp.Movements {
		amount, ok := new(big.Int).SetString(strings.TrimSpace(m.Amount), 10)
		if !ok {
			return nil, fmt.Errorf("httpengine: invalid movement amount %q", m.Amount)
		}
		switch strings.ToLower(strings.TrimSpace(m.Direction)) {
		case "debit":
			if err := call.Authority.Debit(m.Asset, amount); err != nil {
				return nil, fmt.Errorf("httpengine: apply debit: %w", err)
			}
		case "credit":
			if err := call.Authority.Credit(m.Asset, amount); err != nil {
				return nil, fmt.Errorf("httpengine: apply credit: %w", err)
			}
		default:
			return nil, fmt.Errorf("httpengine: unknown movement direction %q", m.Direction)
		}
	}
	return &engine.Receipt{Handle: resp.Handle}, nil
}

func (c *Client) roundTrip(ctx context.Context, kind string, body []byte) (*executeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/"+kind, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpengine: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpengine: engine %s unreachable: %w", c.id, err)
	}
	defer httpResp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("httpengine: read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httpengine: engine %s returned status %d", c.id, httpResp.StatusCode)
	}
	var resp executeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("httpengine: decode response: %w", err)
	}
	return &resp, nil
}
