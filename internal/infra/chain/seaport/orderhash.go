package seaport

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
)

const (
	offerItemType = "OfferItem(uint8 itemType,address token,uint256 identifierOrCriteria," +
		"uint256 startAmount,uint256 endAmount)"
	considerationItemType = "ConsiderationItem(uint8 itemType,address token,uint256 identifierOrCriteria," +
		"uint256 startAmount,uint256 endAmount,address recipient)"
	orderComponentsType = "OrderComponents(address offerer,address zone,OfferItem[] offer," +
		"ConsiderationItem[] consideration,uint8 orderType,uint256 startTime,uint256 endTime," +
		"bytes32 zoneHash,uint256 salt,bytes32 conduitKey,uint256 counter)"
)

// EIP-712 type hashes. Referenced struct types are appended in alphabetical order.
var (
	OfferItemTypeHash         = crypto.Keccak256Hash([]byte(offerItemType))
	ConsiderationItemTypeHash = crypto.Keccak256Hash([]byte(considerationItemType))
	OrderTypeHash             = crypto.Keccak256Hash([]byte(orderComponentsType + considerationItemType + offerItemType))
)

// ErrCounterUnknown is returned by OrderHash for parameters stored without
// the offerer's counter.
var ErrCounterUnknown = errors.New("order counter unknown")

// OrderHash computes the Seaport order hash: the EIP-712 struct hash of the
// order components (not the domain-separated digest). It is a pure function
// of the parameters and never touches the network.
func OrderHash(p *domain.OrderParameters) (common.Hash, error) {
	if p == nil {
		return common.Hash{}, fmt.Errorf("nil order parameters")
	}
	if !p.CounterKnown() {
		return common.Hash{}, ErrCounterUnknown
	}

	offerer, err := parseAddress(p.Offerer, false)
	if err != nil {
		return common.Hash{}, fmt.Errorf("offerer: %w", err)
	}
	zone, err := parseAddress(p.Zone, true)
	if err != nil {
		return common.Hash{}, fmt.Errorf("zone: %w", err)
	}

	offerHashes := make([]byte, 0, 32*len(p.Offer))
	for i, item := range p.Offer {
		h, err := hashOfferItem(item)
		if err != nil {
			return common.Hash{}, fmt.Errorf("offer[%d]: %w", i, err)
		}
		offerHashes = append(offerHashes, h...)
	}

	considerationHashes := make([]byte, 0, 32*len(p.Consideration))
	for i, item := range p.Consideration {
		h, err := hashConsiderationItem(item)
		if err != nil {
			return common.Hash{}, fmt.Errorf("consideration[%d]: %w", i, err)
		}
		considerationHashes = append(considerationHashes, h...)
	}

	words := make([][]byte, 0, 12)
	words = append(words, OrderTypeHash.Bytes(), addressWord(offerer), addressWord(zone))
	words = append(words, crypto.Keccak256(offerHashes), crypto.Keccak256(considerationHashes))
	words = append(words, uintWord(new(big.Int).SetUint64(uint64(p.OrderType))))

	for _, field := range []struct {
		name  string
		value domain.NumericString
	}{
		{"startTime", p.StartTime},
		{"endTime", p.EndTime},
	} {
		v, err := field.value.Big()
		if err != nil {
			return common.Hash{}, fmt.Errorf("%s: %w", field.name, err)
		}
		words = append(words, uintWord(v))
	}

	zoneHash, err := parseBytes32(p.ZoneHash)
	if err != nil {
		return common.Hash{}, fmt.Errorf("zoneHash: %w", err)
	}
	salt, err := p.Salt.Big()
	if err != nil {
		return common.Hash{}, fmt.Errorf("salt: %w", err)
	}
	conduitKey, err := parseBytes32(p.ConduitKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("conduitKey: %w", err)
	}
	counter, err := p.Counter.Big()
	if err != nil {
		return common.Hash{}, fmt.Errorf("counter: %w", err)
	}
	words = append(words, zoneHash.Bytes(), uintWord(salt), conduitKey.Bytes(), uintWord(counter))

	return crypto.Keccak256Hash(words...), nil
}

func hashOfferItem(item domain.OfferItem) ([]byte, error) {
	token, err := parseAddress(item.Token, true)
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	amounts, err := bigWords(item.IdentifierOrCriteria, item.StartAmount, item.EndAmount)
	if err != nil {
		return nil, err
	}
	words := [][]byte{
		OfferItemTypeHash.Bytes(),
		uintWord(new(big.Int).SetUint64(uint64(item.ItemType))),
		addressWord(token),
	}
	return crypto.Keccak256(append(words, amounts...)...), nil
}

func hashConsiderationItem(item domain.ConsiderationItem) ([]byte, error) {
	token, err := parseAddress(item.Token, true)
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	recipient, err := parseAddress(item.Recipient, false)
	if err != nil {
		return nil, fmt.Errorf("recipient: %w", err)
	}
	amounts, err := bigWords(item.IdentifierOrCriteria, item.StartAmount, item.EndAmount)
	if err != nil {
		return nil, err
	}
	words := [][]byte{
		ConsiderationItemTypeHash.Bytes(),
		uintWord(new(big.Int).SetUint64(uint64(item.ItemType))),
		addressWord(token),
	}
	words = append(words, amounts...)
	words = append(words, addressWord(recipient))
	return crypto.Keccak256(words...), nil
}

func bigWords(values ...domain.NumericString) ([][]byte, error) {
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		n, err := v.Big()
		if err != nil {
			return nil, err
		}
		out = append(out, uintWord(n))
	}
	return out, nil
}

func uintWord(v *big.Int) []byte {
	return math.U256Bytes(new(big.Int).Set(v))
}

func addressWord(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

func parseAddress(s string, allowEmpty bool) (common.Address, error) {
	if s == "" && allowEmpty {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseBytes32(s string) (common.Hash, error) {
	if s == "" {
		return common.Hash{}, nil
	}
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) > 64 {
		return common.Hash{}, fmt.Errorf("value %q longer than 32 bytes", s)
	}
	for _, c := range raw {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return common.Hash{}, fmt.Errorf("invalid hex %q", s)
		}
	}
	return common.BytesToHash(common.FromHex(s)), nil
}
