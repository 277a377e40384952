package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/jc4p/mint-exchange-sub001/internal/indexing/metrics"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Alchemy-Signature"

const maxBodyBytes = 4 << 20

// Handler serves POST /webhooks/chain.
type Handler struct {
	ingestor *Ingestor
	secret   []byte
}

// NewHandler creates the HTTP handler. An empty secret disables signature checks.
func NewHandler(ingestor *Ingestor, secret string) *Handler {
	h := &Handler{ingestor: ingestor}
	if secret != "" {
		h.secret = []byte(secret)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("unknown", "too_large").Inc()
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "body too large"})
		return
	}

	if !h.verify(body, r.Header.Get(SignatureHeader)) {
		metrics.WebhookDeliveries.WithLabelValues("unknown", "bad_signature").Inc()
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}

	var head struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(body, &head)
	kind := strings.ToUpper(head.Type)
	if kind != TypeAddressActivity && kind != TypeMinedTransaction {
		kind = "unknown"
	}

	results, err := h.ingestor.IngestPayload(r.Context(), body)
	switch {
	case errors.Is(err, ErrBadPayload):
		metrics.WebhookDeliveries.WithLabelValues(kind, "rejected").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	case err != nil:
		// 5xx so the provider redelivers.
		metrics.WebhookDeliveries.WithLabelValues(kind, "failed").Inc()
		h.ingestor.log.Error("Webhook ingestion failed", "type", kind, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ingestion failed"})
		return
	}

	metrics.WebhookDeliveries.WithLabelValues(kind, "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"transactions": results})
}

func (h *Handler) verify(body []byte, signature string) bool {
	if h.secret == nil {
		return true
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil || len(got) == 0 {
		return false
	}
	return hmac.Equal(got, Sign(h.secret, body))
}

// Sign computes the body signature for secret.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
