package routing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jc4p/mint-exchange-sub001/internal/infra/rpc/provider"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err    error
		expect ErrorAction
	}{
		{errors.New("429 Too Many Requests"), ActionFailover},
		{errors.New("project rate limit exceeded"), ActionFailover},
		{errors.New("quota exceeded"), ActionFailover},
		{errors.New("daily request count exceeded"), ActionFailover},
		{errors.New("403 Forbidden"), ActionFailover},
		{errors.New("Invalid JSON-RPC request -32600"), ActionFatal},
		{errors.New("Method not found -32601"), ActionFatal},
		{errors.New("Parse error -32700"), ActionFatal},
		{errors.New("connection reset by peer"), ActionRetry},
		{errors.New("timeout"), ActionRetry},
		{errors.New("500 Internal Server Error"), ActionRetry},
		{&provider.RPCError{Code: -32602, Message: "invalid block range"}, ActionFatal},
		{&provider.RPCError{Code: 3, Message: "execution reverted"}, ActionFatal},
		{&provider.RPCError{Code: -32000, Message: "header not found"}, ActionRetry},
		{&provider.HTTPStatusError{StatusCode: 429}, ActionFailover},
		{&provider.HTTPStatusError{StatusCode: 502, Body: "bad gateway"}, ActionRetry},
	}

	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.expect {
			t.Errorf("ClassifyError(%q) = %v, want %v", tt.err, got, tt.expect)
		}
	}
}

// =============================================================================
// Scripted provider
// =============================================================================

type scriptedProvider struct {
	name  string
	errs  []error
	calls int
}

func (p *scriptedProvider) GetName() string                  { return p.name }
func (p *scriptedProvider) GetHealth() provider.HealthStatus { return provider.HealthStatus{} }
func (p *scriptedProvider) Close() error                     { return nil }

func (p *scriptedProvider) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	return json.RawMessage(`"0x1"`), nil
}

func (p *scriptedProvider) BatchCall(ctx context.Context, reqs []provider.BatchRequest) ([]provider.BatchResponse, error) {
	return nil, errors.New("not implemented")
}

func (p *scriptedProvider) Forward(ctx context.Context, body []byte) ([]byte, int, error) {
	return nil, 0, errors.New("not implemented")
}

var fastRetry = RetryConfig{
	MaxAttempts:     3,
	InitialDelay:    time.Millisecond,
	MaxDelay:        5 * time.Millisecond,
	BackoffMultiple: 2,
}

func TestCallWithRetry_RecoversFromTransientErrors(t *testing.T) {
	p := &scriptedProvider{name: "a", errs: []error{errors.New("connection reset"), errors.New("eof")}}

	result, err := CallWithRetry(context.Background(), p, "eth_blockNumber", nil, fastRetry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != `"0x1"` {
		t.Errorf("result = %s", result)
	}
	if p.calls != 3 {
		t.Errorf("calls = %d, want 3", p.calls)
	}
}

func TestCallWithRetry_FatalStopsImmediately(t *testing.T) {
	p := &scriptedProvider{name: "a", errs: []error{&provider.RPCError{Code: -32602, Message: "bad params"}}}

	_, err := CallWithRetry(context.Background(), p, "eth_getLogs", nil, fastRetry)
	if err == nil {
		t.Fatal("expected error")
	}
	if p.calls != 1 {
		t.Errorf("calls = %d, want 1", p.calls)
	}
}

func TestCallWithRetry_Exhausted(t *testing.T) {
	boom := errors.New("connection refused")
	p := &scriptedProvider{name: "a", errs: []error{boom, boom, boom}}

	_, err := CallWithRetry(context.Background(), p, "eth_blockNumber", nil, fastRetry)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected last error to be wrapped, got %v", err)
	}
}

func TestCallWithFailover_MovesToNextProvider(t *testing.T) {
	throttled := &scriptedProvider{name: "a", errs: []error{&provider.HTTPStatusError{StatusCode: 429}}}
	healthy := &scriptedProvider{name: "b"}

	_, err := CallWithFailover(
		context.Background(),
		[]provider.RPCProvider{throttled, healthy},
		"eth_blockNumber",
		nil,
		fastRetry,
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if throttled.calls != 1 || healthy.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", throttled.calls, healthy.calls)
	}
}

func TestCalculateBackoff_Caps(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second, MaxDelay: 3 * time.Second, BackoffMultiple: 2}
	if got := CalculateBackoff(0, cfg); got != time.Second {
		t.Errorf("attempt 0 = %v", got)
	}
	if got := CalculateBackoff(1, cfg); got != 2*time.Second {
		t.Errorf("attempt 1 = %v", got)
	}
	if got := CalculateBackoff(5, cfg); got != 3*time.Second {
		t.Errorf("attempt 5 = %v", got)
	}
}
