package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Payload types accepted on the webhook endpoint.
const (
	TypeAddressActivity  = "ADDRESS_ACTIVITY"
	TypeMinedTransaction = "MINED_TRANSACTION"
)

// ErrBadPayload is returned for bodies that cannot be interpreted.
var ErrBadPayload = errors.New("webhook: bad payload")

// Payload is a notification push.
type Payload struct {
	WebhookID string `json:"webhookId"`
	ID        string `json:"id"`
	Type      string `json:"type"`
	Event     struct {
		Network     string     `json:"network"`
		Activity    []activity `json:"activity"`
		Transaction *minedTx   `json:"transaction"`
		Logs        []wireLog  `json:"logs"`
	} `json:"event"`
}

type activity struct {
	Hash string   `json:"hash"`
	Log  *wireLog `json:"log"`
}

type minedTx struct {
	Hash string `json:"hash"`
}

// wireLog accepts the hex-encoded log shape used by notification providers.
type wireLog struct {
	Address         common.Address  `json:"address"`
	Topics          []common.Hash   `json:"topics"`
	Data            hexutil.Bytes   `json:"data"`
	BlockNumber     *hexutil.Uint64 `json:"blockNumber"`
	BlockHash       common.Hash     `json:"blockHash"`
	TransactionHash common.Hash     `json:"transactionHash"`
	LogIndex        *hexutil.Uint   `json:"logIndex"`
	Removed         bool            `json:"removed"`
}

func (w wireLog) toLog(txHash common.Hash) types.Log {
	l := types.Log{
		Address:   w.Address,
		Topics:    w.Topics,
		Data:      w.Data,
		BlockHash: w.BlockHash,
		TxHash:    w.TransactionHash,
		Removed:   w.Removed,
	}
	if l.TxHash == (common.Hash{}) {
		l.TxHash = txHash
	}
	if w.BlockNumber != nil {
		l.BlockNumber = uint64(*w.BlockNumber)
	}
	if w.LogIndex != nil {
		l.Index = uint(*w.LogIndex)
	}
	return l
}

// TxLogs is the set of logs one transaction contributed to a payload.
type TxLogs struct {
	TxHash common.Hash
	Logs   []types.Log
	// NeedsReceipt is set for a mined-transaction push that carried no logs.
	NeedsReceipt bool
}

// ParsePayload decodes body and groups its logs by transaction, keeping the
// order in which transactions first appear.
func ParsePayload(body []byte) (*Payload, []TxLogs, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrBadPayload, err)
	}

	var (
		order  []common.Hash
		groups = make(map[common.Hash]*TxLogs)
	)
	add := func(tx common.Hash) *TxLogs {
		g, ok := groups[tx]
		if !ok {
			g = &TxLogs{TxHash: tx}
			groups[tx] = g
			order = append(order, tx)
		}
		return g
	}

	switch strings.ToUpper(p.Type) {
	case TypeAddressActivity:
		for _, a := range p.Event.Activity {
			if a.Log == nil {
				continue
			}
			tx, err := parseTxHash(a.Hash, a.Log.TransactionHash)
			if err != nil {
				return nil, nil, err
			}
			g := add(tx)
			g.Logs = append(g.Logs, a.Log.toLog(tx))
		}
		for _, w := range p.Event.Logs {
			if w.TransactionHash == (common.Hash{}) {
				return nil, nil, fmt.Errorf("%w: log without transactionHash", ErrBadPayload)
			}
			g := add(w.TransactionHash)
			g.Logs = append(g.Logs, w.toLog(w.TransactionHash))
		}

	case TypeMinedTransaction:
		if p.Event.Transaction == nil {
			return nil, nil, fmt.Errorf("%w: mined transaction payload without transaction", ErrBadPayload)
		}
		tx, err := parseTxHash(p.Event.Transaction.Hash, common.Hash{})
		if err != nil {
			return nil, nil, err
		}
		g := add(tx)
		for _, w := range p.Event.Logs {
			g.Logs = append(g.Logs, w.toLog(tx))
		}
		g.NeedsReceipt = len(g.Logs) == 0

	default:
		return nil, nil, fmt.Errorf("%w: unsupported type %q", ErrBadPayload, p.Type)
	}

	out := make([]TxLogs, 0, len(order))
	for _, tx := range order {
		out = append(out, *groups[tx])
	}
	return &p, out, nil
}

func parseTxHash(s string, fallback common.Hash) (common.Hash, error) {
	if s == "" {
		if fallback == (common.Hash{}) {
			return common.Hash{}, fmt.Errorf("%w: missing transaction hash", ErrBadPayload)
		}
		return fallback, nil
	}
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: invalid transaction hash %q", ErrBadPayload, s)
	}
	return common.BytesToHash(b), nil
}
