package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
)

// ErrMalformedLog is wrapped by decoders when a recognised log cannot be decoded.
var ErrMalformedLog = errors.New("malformed log")

// Decoder turns raw logs of one contract into domain events.
// Decode returns (nil, nil) for logs whose signature it does not handle.
type Decoder interface {
	Protocol() domain.Protocol
	Contract() common.Address
	// Topics lists the event signatures worth requesting from eth_getLogs.
	Topics() []common.Hash
	Decode(log types.Log) (domain.Event, error)
}

// ContractCaller performs read-only contract calls.
type ContractCaller interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Registry routes logs to the decoder of the emitting contract.
type Registry struct {
	byAddress map[common.Address]Decoder
	ordered   []Decoder
}

// NewRegistry creates a registry over the given decoders.
func NewRegistry(decoders ...Decoder) *Registry {
	r := &Registry{byAddress: make(map[common.Address]Decoder, len(decoders))}
	for _, d := range decoders {
		if d == nil {
			continue
		}
		r.byAddress[d.Contract()] = d
		r.ordered = append(r.ordered, d)
	}
	return r
}

// Addresses returns the tracked contract addresses.
func (r *Registry) Addresses() []common.Address {
	out := make([]common.Address, 0, len(r.ordered))
	for _, d := range r.ordered {
		out = append(out, d.Contract())
	}
	return out
}

// Topics returns the union of event signatures, suitable as topic 0 of a log filter.
func (r *Registry) Topics() []common.Hash {
	var out []common.Hash
	seen := make(map[common.Hash]struct{})
	for _, d := range r.ordered {
		for _, t := range d.Topics() {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// Tracks reports whether logs from addr are decoded by this registry.
func (r *Registry) Tracks(addr common.Address) bool {
	_, ok := r.byAddress[addr]
	return ok
}

// ProtocolOf returns the protocol of the decoder tracking addr.
func (r *Registry) ProtocolOf(addr common.Address) (domain.Protocol, bool) {
	d, ok := r.byAddress[addr]
	if !ok {
		return "", false
	}
	return d.Protocol(), true
}

// Decode dispatches a log. Untracked contracts and unknown signatures yield (nil, nil).
func (r *Registry) Decode(log types.Log) (domain.Event, error) {
	d, ok := r.byAddress[log.Address]
	if !ok {
		return nil, nil
	}
	ev, err := d.Decode(log)
	if err != nil {
		return nil, fmt.Errorf("%s log %s#%d: %w", d.Protocol(), log.TxHash.Hex(), log.Index, err)
	}
	return ev, nil
}

// Meta builds the common event location for a log.
func Meta(protocol domain.Protocol, log types.Log) domain.EventMeta {
	return domain.EventMeta{
		Protocol:    protocol,
		Contract:    log.Address,
		TxHash:      domain.NormalizeHash(log.TxHash),
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
	}
}
