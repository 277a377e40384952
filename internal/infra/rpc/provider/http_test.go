package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPProvider_Call(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode body: %v", err)
			return
		}
		if req["jsonrpc"] != "2.0" {
			t.Errorf("expected jsonrpc 2.0, got %v", req["jsonrpc"])
		}
		if params, ok := req["params"].([]any); !ok || len(params) != 0 {
			t.Errorf("expected empty params array, got %v", req["params"])
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x2a"}`))
	}))
	defer server.Close()

	p := NewHTTPProvider("mock", server.URL, 5*time.Second)
	result, err := p.Call(context.Background(), "eth_blockNumber", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != `"0x2a"` {
		t.Errorf("expected \"0x2a\", got %s", result)
	}
	if h := p.GetHealth(); !h.Available || h.ErrorRate != 0 {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestHTTPProvider_NullResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))
	}))
	defer server.Close()

	p := NewHTTPProvider("mock", server.URL, 5*time.Second)
	result, err := p.Call(context.Background(), "eth_getTransactionReceipt", []any{"0x01"})
	if err != nil || result != nil {
		t.Errorf("expected nil result and no error, got %s, %v", result, err)
	}
}

func TestHTTPProvider_RPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32005,"message":"Rate limit exceeded"}}`))
	}))
	defer server.Close()

	p := NewHTTPProvider("mock", server.URL, 5*time.Second)
	_, err := p.Call(context.Background(), "eth_getLogs", nil)

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32005 {
		t.Fatalf("expected RPCError -32005, got %v", err)
	}
	if p.GetHealth().ThrottledAt.IsZero() {
		t.Error("expected throttle to be recorded")
	}
}

func TestHTTPProvider_TooManyRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewHTTPProvider("mock", server.URL, 5*time.Second)
	_, err := p.Call(context.Background(), "eth_blockNumber", nil)

	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected HTTPStatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests || statusErr.RetryAfter != "3" {
		t.Errorf("unexpected error %+v", statusErr)
	}
	if p.GetHealth().Available {
		t.Error("provider with only failures should be unavailable")
	}
}

func TestHTTPProvider_BatchCallMatchesByID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Out of order on purpose.
		_, _ = w.Write([]byte(`[
			{"jsonrpc":"2.0","id":2,"error":{"code":-32000,"message":"boom"}},
			{"jsonrpc":"2.0","id":1,"result":"0x1"}
		]`))
	}))
	defer server.Close()

	p := NewHTTPProvider("mock", server.URL, 5*time.Second)
	resp, err := p.BatchCall(context.Background(), []BatchRequest{
		{Method: "eth_blockNumber"},
		{Method: "eth_chainId"},
		{Method: "eth_gasPrice"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp[0].Result) != `"0x1"` || resp[0].Error != nil {
		t.Errorf("unexpected first response %+v", resp[0])
	}
	if resp[1].Error == nil {
		t.Error("expected error for second request")
	}
	if resp[2].Error == nil {
		t.Error("expected missing-response error for third request")
	}
}

func TestHTTPProvider_ForwardIsVerbatim(t *testing.T) {
	const reply = `{"jsonrpc":"2.0","id":7,"error":{"code":-32601,"message":"method not found"}}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(reply))
	}))
	defer server.Close()

	p := NewHTTPProvider("mock", server.URL, 5*time.Second)
	out, status, err := p.Forward(context.Background(), []byte(`{"jsonrpc":"2.0","id":7,"method":"nope"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != http.StatusBadRequest || string(out) != reply {
		t.Errorf("expected verbatim 400, got %d %s", status, out)
	}
}
