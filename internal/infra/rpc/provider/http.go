package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var throttlePatterns = []string{
	"rate limit",
	"too many requests",
	"exceeded",
	"throttled",
	"capacity",
}

// HTTPProvider implements RPCProvider for JSON-RPC over HTTP.
type HTTPProvider struct {
	name       string
	endpoint   string
	httpClient *http.Client
	nextID     atomic.Uint64

	mu           sync.RWMutex
	health       HealthStatus
	totalLatency time.Duration
	successCount int
	failureCount int
	requestCount int
}

// NewHTTPProvider creates a new HTTP-based RPC provider.
func NewHTTPProvider(name, endpoint string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:     name,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		health: HealthStatus{
			Available:     true,
			LastSuccessAt: time.Now(),
		},
	}
}

type jsonrpcResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Call makes a single JSON-RPC call.
func (p *HTTPProvider) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	start := time.Now()

	if params == nil {
		params = []any{}
	}
	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      p.nextID.Add(1),
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	body, err := p.post(ctx, jsonData)
	if err != nil {
		return nil, err
	}

	var rpcResp jsonrpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if rpcResp.Error != nil {
		if detectThrottle(rpcResp.Error.Message) {
			p.recordThrottle()
		}
		p.recordFailure()
		return nil, rpcResp.Error
	}

	p.recordSuccess(time.Since(start))

	if isNull(rpcResp.Result) {
		return nil, nil
	}
	return rpcResp.Result, nil
}

// BatchCall makes multiple RPC calls in one request.
// Responses are matched to requests by id, not by position.
func (p *HTTPProvider) BatchCall(ctx context.Context, requests []BatchRequest) ([]BatchResponse, error) {
	start := time.Now()

	batchReq := make([]map[string]any, len(requests))
	for i, req := range requests {
		params := req.Params
		if params == nil {
			params = []any{}
		}
		batchReq[i] = map[string]any{
			"jsonrpc": "2.0",
			"method":  req.Method,
			"params":  params,
			"id":      i + 1,
		}
	}

	jsonData, err := json.Marshal(batchReq)
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	body, err := p.post(ctx, jsonData)
	if err != nil {
		return nil, err
	}

	var batchResp []jsonrpcResponse
	if err := json.Unmarshal(body, &batchResp); err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("parse batch response: %w", err)
	}

	responses := make([]BatchResponse, len(requests))
	for i := range responses {
		responses[i] = BatchResponse{Error: fmt.Errorf("missing response for request %d", i+1)}
	}
	for _, r := range batchResp {
		var id int
		if err := json.Unmarshal(r.ID, &id); err != nil || id < 1 || id > len(requests) {
			continue
		}
		if r.Error != nil {
			responses[id-1] = BatchResponse{Error: r.Error}
			continue
		}
		result := r.Result
		if isNull(result) {
			result = nil
		}
		responses[id-1] = BatchResponse{Result: result}
	}

	p.recordSuccess(time.Since(start))
	return responses, nil
}

// Forward posts a raw JSON-RPC body and relays the response verbatim.
func (p *HTTPProvider) Forward(ctx context.Context, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.recordFailure()
		return nil, 0, fmt.Errorf("forward: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		p.recordFailure()
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		p.recordThrottle()
	}
	return out, resp.StatusCode, nil
}

func (p *HTTPProvider) post(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		// Rate limit detection
		p.recordThrottle()
		p.recordFailure()
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: resp.Header.Get("Retry-After"),
			Body:       truncate(string(body)),
		}
	case resp.StatusCode == http.StatusForbidden:
		// IP blocked detection
		p.recordFailure()
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: truncate(string(body))}
	case resp.StatusCode != http.StatusOK:
		if detectThrottle(string(body)) {
			p.recordThrottle()
		}
		p.recordFailure()
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: truncate(string(body))}
	}

	return body, nil
}

// GetName returns the provider's name.
func (p *HTTPProvider) GetName() string {
	return p.name
}

// GetHealth returns the provider's health status.
func (p *HTTPProvider) GetHealth() HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

// Close cleans up resources.
func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func (p *HTTPProvider) recordSuccess(latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.successCount++
	p.requestCount++
	p.totalLatency += latency
	p.health.LastSuccessAt = time.Now()
	p.health.Available = true

	if p.requestCount > 0 {
		p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)
	}
	if p.successCount > 0 {
		p.health.Latency = p.totalLatency / time.Duration(p.successCount)
	}
}

func (p *HTTPProvider) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failureCount++
	p.requestCount++
	p.health.LastFailureAt = time.Now()

	if p.requestCount > 0 {
		p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)
	}

	if p.health.ErrorRate > 0.5 {
		p.health.Available = false
	}
}

func (p *HTTPProvider) recordThrottle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.health.ThrottledAt = time.Now()
}

func detectThrottle(msg string) bool {
	lower := strings.ToLower(msg)
	for _, pattern := range throttlePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func truncate(s string) string {
	const limit = 256
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
