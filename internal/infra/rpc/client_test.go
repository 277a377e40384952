package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jc4p/mint-exchange-sub001/internal/infra/rpc/provider"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/rpc/routing"
)

// =============================================================================
// Fake JSON-RPC node
// =============================================================================

type fakeNode struct {
	mu      sync.Mutex
	calls   map[string]int
	handler func(method string, call int, params json.RawMessage) (status int, body string)
}

func newFakeNode(handler func(method string, call int, params json.RawMessage) (int, string)) *httptest.Server {
	n := &fakeNode{calls: make(map[string]int), handler: handler}
	return httptest.NewServer(n)
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	body, _ := io.ReadAll(r.Body)
	if err := json.Unmarshal(body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls[req.Method]++
	call := n.calls[req.Method]
	n.mu.Unlock()

	status, result := n.handler(req.Method, call, req.Params)
	w.WriteHeader(status)
	if status != http.StatusOK {
		_, _ = w.Write([]byte(result))
		return
	}
	_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,` + result + `}`))
}

func newTestClient(url string) *Client {
	return NewClient(Config{
		Retry: routing.RetryConfig{
			MaxAttempts:     2,
			InitialDelay:    time.Millisecond,
			MaxDelay:        2 * time.Millisecond,
			BackoffMultiple: 2,
		},
		NotFoundAttempts: 3,
		NotFoundDelay:    time.Millisecond,
	}, provider.NewHTTPProvider("test", url, 5*time.Second))
}

const receiptJSON = `"result":{
	"transactionHash":"0x00000000000000000000000000000000000000000000000000000000000000aa",
	"blockNumber":"0x64",
	"blockHash":"0x00000000000000000000000000000000000000000000000000000000000000bb",
	"status":"0x1",
	"from":"0x1111111111111111111111111111111111111111",
	"to":"0x2222222222222222222222222222222222222222",
	"logs":[{
		"address":"0x2222222222222222222222222222222222222222",
		"topics":["0x00000000000000000000000000000000000000000000000000000000000000cc"],
		"data":"0x",
		"blockNumber":"0x64",
		"transactionHash":"0x00000000000000000000000000000000000000000000000000000000000000aa",
		"transactionIndex":"0x0",
		"blockHash":"0x00000000000000000000000000000000000000000000000000000000000000bb",
		"logIndex":"0x3",
		"removed":false
	}]
}`

// =============================================================================
// Tests
// =============================================================================

func TestGetLogs_ReversedRangeFailsWithoutCall(t *testing.T) {
	var hits int
	srv := newFakeNode(func(method string, call int, params json.RawMessage) (int, string) {
		hits++
		return http.StatusOK, `"result":[]`
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.GetLogs(context.Background(), LogFilter{FromBlock: 10, ToBlock: 9})
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
	if hits != 0 {
		t.Errorf("expected no RPC call, got %d", hits)
	}
}

func TestGetLogs_InvalidParamsNotRetried(t *testing.T) {
	var hits int
	srv := newFakeNode(func(method string, call int, params json.RawMessage) (int, string) {
		hits++
		return http.StatusOK, `"error":{"code":-32602,"message":"block range too large"}`
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.GetLogs(context.Background(), LogFilter{FromBlock: 1, ToBlock: 100000})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrUnavailable) {
		t.Errorf("invalid params must not be reported as unavailable: %v", err)
	}
	if hits != 1 {
		t.Errorf("expected 1 call, got %d", hits)
	}
}

func TestGetTransactionReceipt_RetriesUntilVisible(t *testing.T) {
	srv := newFakeNode(func(method string, call int, params json.RawMessage) (int, string) {
		if call < 3 {
			return http.StatusOK, `"result":null`
		}
		return http.StatusOK, receiptJSON
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	receipt, err := c.GetTransactionReceipt(context.Background(), common.HexToHash("0xaa"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !receipt.Succeeded() {
		t.Error("expected successful receipt")
	}
	if receipt.BlockNumber != 100 {
		t.Errorf("block = %d, want 100", receipt.BlockNumber)
	}
	if len(receipt.Logs) != 1 || receipt.Logs[0].Index != 3 {
		t.Fatalf("unexpected logs: %+v", receipt.Logs)
	}
}

func TestGetTransactionReceipt_NotFoundAfterBudget(t *testing.T) {
	var hits int
	srv := newFakeNode(func(method string, call int, params json.RawMessage) (int, string) {
		hits++
		return http.StatusOK, `"result":null`
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.GetTransactionReceipt(context.Background(), common.HexToHash("0xaa"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if hits != 3 {
		t.Errorf("expected 3 lookups, got %d", hits)
	}
}

func TestBlockNumber_UnavailableAfterServerErrors(t *testing.T) {
	srv := newFakeNode(func(method string, call int, params json.RawMessage) (int, string) {
		return http.StatusBadGateway, "upstream down"
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.BlockNumber(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestBlockNumber_TimeoutIsTyped(t *testing.T) {
	srv := newFakeNode(func(method string, call int, params json.RawMessage) (int, string) {
		time.Sleep(50 * time.Millisecond)
		return http.StatusOK, `"result":"0x10"`
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := c.BlockNumber(ctx)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestCallContract_DecodesReturnData(t *testing.T) {
	srv := newFakeNode(func(method string, call int, params json.RawMessage) (int, string) {
		if method != "eth_call" {
			return http.StatusOK, `"error":{"code":-32601,"message":"method not found"}`
		}
		return http.StatusOK, `"result":"0x0000000000000000000000000000000000000000000000000000000000000001"`
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	out, err := c.CallContract(context.Background(), common.HexToAddress("0x01"), []byte{0xde, 0xad})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 32 || out[31] != 1 {
		t.Errorf("unexpected return data %x", out)
	}
}

func TestForward_RelaysVerbatim(t *testing.T) {
	srv := newFakeNode(func(method string, call int, params json.RawMessage) (int, string) {
		return http.StatusOK, `"result":"0x2105"`
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	body, status, err := c.Forward(context.Background(), []byte(`{"jsonrpc":"2.0","id":7,"method":"eth_chainId","params":[]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("status = %d", status)
	}
	if string(body) != `{"jsonrpc":"2.0","id":7,"result":"0x2105"}` {
		t.Errorf("body = %s", body)
	}
}
