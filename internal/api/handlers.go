package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/indexer"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/reconcile"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/rpc"
)

const maxRPCBody = 1 << 20

// handleRPC forwards the body verbatim and returns the upstream response verbatim.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if s.deps.RPC == nil {
		writeError(w, http.StatusServiceUnavailable, "rpc passthrough not configured")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRPCBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "body is not valid JSON")
		return
	}

	out, status, err := s.deps.RPC.Forward(r.Context(), body)
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, rpc.ErrTimeout) {
			code = http.StatusGatewayTimeout
		}
		s.log.Warn("RPC passthrough failed", "error", err)
		writeError(w, code, err.Error())
		return
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(out)
}

type reindexRequest struct {
	FromBlock uint64 `json:"from_block"`
}

// handleReindex moves the cursor so the next pass starts at from_block.
func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	if s.deps.Indexer == nil {
		writeError(w, http.StatusServiceUnavailable, "indexer not configured")
		return
	}
	var req reindexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	block, err := s.deps.Indexer.Reindex(r.Context(), req.FromBlock)
	switch {
	case errors.Is(err, indexer.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.log.Error("Failed to reset cursor", "stream", s.deps.StreamID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.log.Warn("Cursor reset by admin", "stream", s.deps.StreamID, "from_block", req.FromBlock)
	writeJSON(w, http.StatusOK, map[string]any{
		"stream_id":            s.deps.StreamID,
		"last_processed_block": block,
	})
}

type sweepRequest struct {
	Limit         int  `json:"limit"`
	CancelExpired bool `json:"cancel_expired"`
	DryRun        bool `json:"dry_run"`
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reconciler == nil {
		writeError(w, http.StatusServiceUnavailable, "reconciliation not configured")
		return
	}
	var req sweepRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	res, err := s.deps.Reconciler.Sweep(r.Context(), reconcile.SweepOptions{
		Limit:         req.Limit,
		DryRun:        req.DryRun,
		CancelExpired: req.CancelExpired,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if res.Locked {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reconciler == nil {
		writeError(w, http.StatusServiceUnavailable, "reconciliation not configured")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.deps.Reconciler.DriftReport(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRepairHashes(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reconciler == nil {
		writeError(w, http.StatusServiceUnavailable, "reconciliation not configured")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.deps.Reconciler.RepairOrderHashes(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type ingestTxRequest struct {
	TxHash string `json:"tx_hash"`
}

func (s *Server) handleIngestTx(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ingestor == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion not configured")
		return
	}
	var req ingestTxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	raw, err := hexutil.Decode(req.TxHash)
	if err != nil || len(raw) != common.HashLength {
		writeError(w, http.StatusBadRequest, "tx_hash must be a 32-byte hex string")
		return
	}

	res, err := s.deps.Ingestor.IngestTransaction(r.Context(), common.BytesToHash(raw))
	switch {
	case errors.Is(err, rpc.ErrNotFound):
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	case err != nil:
		s.log.Error("Failed to ingest transaction", "tx", req.TxHash, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	if s.deps.Anomalies == nil {
		writeError(w, http.StatusServiceUnavailable, "anomaly store not configured")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit <= 0 {
		limit = 100
	}
	kind := domain.AnomalyKind(r.URL.Query().Get("kind"))

	list, err := s.deps.Anomalies.List(r.Context(), kind, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []*domain.Anomaly{}
	}
	writeJSON(w, http.StatusOK, list)
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}
