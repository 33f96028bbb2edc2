package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"swap-quote/internal/core"
	"swap-quote/internal/metrics"
	"swap-quote/internal/signing"
)

// Caller is the signed JSON-RPC surface the catalog and quote engine
// depend on. Tests substitute call-counting stubs.
type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

const (
	defaultTimeout   = 10 * time.Second
	defaultRetryWait = 250 * time.Millisecond
)

type Options struct {
	BaseURL string
	Timeout time.Duration
	Metrics *metrics.Metrics
}

// Client sends signed JSON-RPC envelopes over HTTPS and maps upstream
// failures onto the local error kinds. It holds no cache; freshness is
// the catalog's concern.
type Client struct {
	cred       *signing.Credential
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
	retryWait  time.Duration
}

func NewClient(cred *signing.Credential, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		cred:       cred,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		metrics:    opts.Metrics,
		retryWait:  defaultRetryWait,
	}
}

// Call signs and posts one JSON-RPC envelope and returns the result
// payload. Network failures on idempotent read methods get a single
// retry with jittered backoff; upstream and parse errors never do.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	started := time.Now()
	result, err := c.call(ctx, method, params, retryableMethods[method])
	c.metrics.RecordRPC(method, callOutcome(err), time.Since(started).Seconds())
	return result, err
}

func (c *Client) call(ctx context.Context, method string, params any, retryable bool) (json.RawMessage, error) {
	result, err := c.doCall(ctx, method, params)
	if err == nil || !retryable || !isNetworkError(err) {
		return result, err
	}
	wait := c.retryWait + time.Duration(rand.Int63n(int64(c.retryWait)+1))
	select {
	case <-time.After(wait):
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", core.ErrNetwork, ctx.Err())
	}
	return c.doCall(ctx, method, params)
}

func (c *Client) doCall(ctx context.Context, method string, params any) (json.RawMessage, error) {
	rawParams, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	// The envelope gets a fresh id per attempt, and the signature covers
	// the exact bytes sent as the body.
	body, err := json.Marshal(envelope{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  rawParams,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	signature, err := c.cred.Sign(body)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(c.cred.KeyHeader(), c.cred.APIKey())
	req.Header.Set(c.cred.SignatureHeader(), signature)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrNetwork, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", core.ErrNetwork, err)
	}
	if resp.StatusCode/100 != 2 {
		// Some upstream errors arrive with a non-2xx status but a valid
		// error body; surface those verbatim instead of as network noise.
		if apiErr, ok := parseErrorBody(respBody); ok {
			return nil, apiErr
		}
		return nil, fmt.Errorf("%w: http status %d", core.ErrNetwork, resp.StatusCode)
	}
	var parsed responseBody
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrParse, err)
	}
	if parsed.Error != nil {
		return nil, APIError{Code: parsed.Error.Code, Message: parsed.Error.Message}
	}
	if parsed.Result == nil {
		return nil, fmt.Errorf("%w: response has neither result nor error", core.ErrParse)
	}
	return parsed.Result, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return json.RawMessage(`{}`), nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return raw, nil
}

func parseErrorBody(body []byte) (APIError, bool) {
	var parsed responseBody
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Error == nil {
		return APIError{}, false
	}
	return APIError{Code: parsed.Error.Code, Message: parsed.Error.Message}, true
}

func isNetworkError(err error) bool {
	return err != nil && errors.Is(err, core.ErrNetwork)
}

func callOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, core.ErrNetwork):
		return "network"
	case errors.Is(err, core.ErrParse):
		return "parse"
	default:
		if _, ok := AsAPIError(err); ok {
			return "upstream"
		}
		return "error"
	}
}
