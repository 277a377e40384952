package webhook

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/jc4p/mint-exchange-sub001/internal/core/cursor"
	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/indexer"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/projector"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/chain"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/chain/exchange"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/chain/seaport"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/storage/memory"
	"github.com/jc4p/mint-exchange-sub001/internal/testutil"
)

// =============================================================================
// Test harness
// =============================================================================

var (
	seller = testutil.Addr(1)
	buyer  = testutil.Addr(2)
	nft    = testutil.Addr(4)
)

func registry() *chain.Registry {
	return chain.NewRegistry(
		exchange.NewDecoder(testutil.ExchangeAddress),
		seaport.NewDecoder(testutil.SeaportAddress),
	)
}

type harness struct {
	chain    *testutil.FakeChain
	store    *memory.MemoryStorage
	proj     *projector.Projector
	ingestor *Ingestor
}

func newHarness(opts ...Option) *harness {
	store := memory.NewMemoryStorage()
	fc := testutil.NewFakeChain(200)
	proj := projector.New(store, projector.WithPaymentToken(testutil.USDC))
	return &harness{
		chain:    fc,
		store:    store,
		proj:     proj,
		ingestor: NewIngestor(fc, registry(), proj, store.Anomalies(), opts...),
	}
}

func (h *harness) activityCount(t *testing.T, subject string) int {
	t.Helper()
	acts, err := h.store.Activities().ListBySubject(context.Background(), subject)
	if err != nil {
		t.Fatalf("list activity: %v", err)
	}
	return len(acts)
}

func at(block uint64, index uint, tx int) testutil.Pos {
	return testutil.Pos{Block: block, Index: index, Tx: testutil.TxHash(tx)}
}

func activityPayload(logs ...types.Log) []byte {
	type entry struct {
		Hash string    `json:"hash"`
		Log  types.Log `json:"log"`
	}
	var activity []entry
	for _, l := range logs {
		activity = append(activity, entry{Hash: l.TxHash.Hex(), Log: l})
	}
	body, err := json.Marshal(map[string]any{
		"webhookId": "wh_test",
		"id":        "whevt_1",
		"type":      TypeAddressActivity,
		"event":     map[string]any{"network": "BASE_MAINNET", "activity": activity},
	})
	if err != nil {
		panic(err)
	}
	return body
}

type memorySeen struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memorySeen) Seen(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key], nil
}

func (m *memorySeen) MarkSeen(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = true
	return nil
}

// =============================================================================
// Payload Tests
// =============================================================================

func TestParsePayload_AddressActivityGroupsByTransaction(t *testing.T) {
	body := activityPayload(
		testutil.ListingCreatedLog(at(105, 0, 1), 42, seller, nft, 7, 1, 0),
		testutil.ListingCreatedLog(at(106, 0, 2), 43, seller, nft, 8, 1, 0),
		testutil.ListingCancelledLog(at(105, 1, 1), 42),
	)

	p, groups, err := ParsePayload(body)
	if err != nil {
		t.Fatalf("ParsePayload failed: %v", err)
	}
	if p.Type != TypeAddressActivity {
		t.Errorf("type = %s", p.Type)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(groups))
	}
	if groups[0].TxHash != testutil.TxHash(1) || len(groups[0].Logs) != 2 {
		t.Errorf("first group = %s with %d logs", groups[0].TxHash.Hex(), len(groups[0].Logs))
	}
	if groups[0].Logs[1].Index != 1 || groups[0].Logs[1].BlockNumber != 105 {
		t.Errorf("log position lost: %+v", groups[0].Logs[1])
	}
}

func TestParsePayload_MinedTransactionWithoutLogsNeedsReceipt(t *testing.T) {
	body := []byte(`{"type":"MINED_TRANSACTION","event":{"transaction":{"hash":"` + testutil.TxHash(7).Hex() + `"}}}`)

	_, groups, err := ParsePayload(body)
	if err != nil {
		t.Fatalf("ParsePayload failed: %v", err)
	}
	if len(groups) != 1 || !groups[0].NeedsReceipt {
		t.Errorf("unexpected groups %+v", groups)
	}
}

func TestParsePayload_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"unknown type", `{"type":"NFT_ACTIVITY","event":{}}`},
		{"mined without transaction", `{"type":"MINED_TRANSACTION","event":{}}`},
		{"short hash", `{"type":"MINED_TRANSACTION","event":{"transaction":{"hash":"0x1234"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParsePayload([]byte(tt.body)); !errors.Is(err, ErrBadPayload) {
				t.Errorf("expected ErrBadPayload, got %v", err)
			}
		})
	}
}

// =============================================================================
// Ingest Tests
// =============================================================================

func TestIngest_DuplicateDelivery(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	if _, err := h.ingestor.Ingest(ctx, testutil.TxHash(1), []types.Log{
		testutil.ListingCreatedLog(at(105, 0, 1), 42, seller, nft, 7, 1, 0),
	}); err != nil {
		t.Fatalf("Ingest created failed: %v", err)
	}

	logs := []types.Log{testutil.ListingSoldLog(at(110, 3, 2), 42, buyer, 1)}

	first, err := h.ingestor.Ingest(ctx, testutil.TxHash(2), logs)
	if err != nil {
		t.Fatalf("first Ingest failed: %v", err)
	}
	if first.Applied != 1 {
		t.Fatalf("first delivery applied %d, want 1", first.Applied)
	}

	second, err := h.ingestor.Ingest(ctx, testutil.TxHash(2), logs)
	if err != nil {
		t.Fatalf("second Ingest failed: %v", err)
	}
	if second.Applied != 0 || second.Duplicates != 1 {
		t.Errorf("second delivery applied=%d duplicates=%d, want 0/1", second.Applied, second.Duplicates)
	}
	if got := h.activityCount(t, "listing:42"); got != 2 {
		t.Errorf("activity rows = %d, want 2", got)
	}

	l, _ := h.store.Listings().GetByBlockchainID(ctx, "42")
	if l.SoldAt == nil || !l.SoldAt.Equal(testutil.BlockTime(110)) {
		t.Errorf("sold_at = %v, want block 110 time", l.SoldAt)
	}
}

func TestIngest_CrossPathDedup(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	created := testutil.ListingCreatedLog(at(105, 0, 1), 42, seller, nft, 7, 1, 0)
	sold := testutil.ListingSoldLog(at(110, 0, 2), 42, buyer, 1)
	h.chain.AddLogs(created, sold)

	// Webhook sees the sale first.
	if _, err := h.ingestor.Ingest(ctx, testutil.TxHash(1), []types.Log{created}); err != nil {
		t.Fatalf("Ingest created failed: %v", err)
	}
	if _, err := h.ingestor.Ingest(ctx, testutil.TxHash(2), []types.Log{sold}); err != nil {
		t.Fatalf("Ingest sold failed: %v", err)
	}

	// Polling then covers the same blocks.
	ix := indexer.New(indexer.Config{StreamID: "s", StartBlock: 100},
		h.chain, registry(), cursor.NewManager(h.store.Cursors()), h.proj, h.store.Anomalies(), nil)
	res, err := ix.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if res.Applied != 0 || res.Duplicates != 2 {
		t.Errorf("poll applied=%d duplicates=%d, want 0/2", res.Applied, res.Duplicates)
	}
	if got := h.activityCount(t, "listing:42"); got != 2 {
		t.Errorf("activity rows = %d, want 2", got)
	}
	if got, _ := h.store.Anomalies().List(ctx, "", 10); len(got) != 0 {
		t.Errorf("cross-path delivery recorded anomalies: %+v", got)
	}
}

func TestIngest_DropsUntrackedAndRemovedLogs(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	foreign := testutil.ListingCreatedLog(at(105, 0, 1), 42, seller, nft, 7, 1, 0)
	foreign.Address = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	removed := testutil.ListingCreatedLog(at(105, 1, 1), 43, seller, nft, 7, 1, 0)
	removed.Removed = true

	res, err := h.ingestor.Ingest(ctx, testutil.TxHash(1), []types.Log{foreign, removed})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.Logs != 0 || res.Events != 0 {
		t.Errorf("expected nothing ingested, got %+v", res)
	}
}

func TestIngest_SeenSetShortCircuits(t *testing.T) {
	seen := &memorySeen{keys: make(map[string]bool)}
	h := newHarness(WithSeenSet(seen, time.Hour))
	ctx := context.Background()
	logs := []types.Log{testutil.ListingCreatedLog(at(105, 0, 1), 42, seller, nft, 7, 1, 0)}

	if _, err := h.ingestor.Ingest(ctx, testutil.TxHash(1), logs); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	res, err := h.ingestor.Ingest(ctx, testutil.TxHash(1), logs)
	if err != nil {
		t.Fatalf("second Ingest failed: %v", err)
	}
	if !res.AlreadySeen || res.Events != 0 {
		t.Errorf("expected seen short-circuit, got %+v", res)
	}
}

func TestIngestTransaction_UsesReceipt(t *testing.T) {
	h := newHarness()
	h.chain.AddLogs(
		testutil.ListingCreatedLog(at(105, 0, 1), 42, seller, nft, 7, 1, 0),
		testutil.ListingCancelledLog(at(105, 1, 1), 42),
	)

	res, err := h.ingestor.IngestTransaction(context.Background(), testutil.TxHash(1))
	if err != nil {
		t.Fatalf("IngestTransaction failed: %v", err)
	}
	if res.Applied != 2 {
		t.Errorf("applied = %d, want 2", res.Applied)
	}

	l, _ := h.store.Listings().GetByBlockchainID(context.Background(), "42")
	if l.Status(time.Now()) != domain.StatusCancelled {
		t.Errorf("status = %s, want cancelled", l.Status(time.Now()))
	}
}

// =============================================================================
// Handler Tests
// =============================================================================

func TestHandler_Signature(t *testing.T) {
	h := newHarness()
	handler := NewHandler(h.ingestor, "s3cret")
	body := activityPayload(testutil.ListingCreatedLog(at(105, 0, 1), 42, seller, nft, 7, 1, 0))

	post := func(sig string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/chain", bytes.NewReader(body))
		if sig != "" {
			req.Header.Set(SignatureHeader, sig)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := post(""); code != http.StatusUnauthorized {
		t.Errorf("unsigned request = %d, want 401", code)
	}
	if code := post("deadbeef"); code != http.StatusUnauthorized {
		t.Errorf("wrong signature = %d, want 401", code)
	}
	if code := post(hex.EncodeToString(Sign([]byte("s3cret"), body))); code != http.StatusOK {
		t.Errorf("signed request = %d, want 200", code)
	}
	if got := h.activityCount(t, "listing:42"); got != 1 {
		t.Errorf("activity rows = %d, want 1", got)
	}
}

func TestHandler_BadPayload(t *testing.T) {
	h := newHarness()
	handler := NewHandler(h.ingestor, "")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/chain", bytes.NewReader([]byte(`{"type":"GRAPHQL"}`)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
