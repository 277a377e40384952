package domain

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ItemType is the Seaport asset class of an offer or consideration item.
type ItemType uint8

const (
	ItemNative ItemType = iota
	ItemERC20
	ItemERC721
	ItemERC1155
	ItemERC721WithCriteria
	ItemERC1155WithCriteria
)

// IsCurrency reports whether the item moves native or ERC-20 value.
func (t ItemType) IsCurrency() bool {
	return t == ItemNative || t == ItemERC20
}

// IsNFT reports whether the item moves an ERC-721 or ERC-1155 token.
func (t ItemType) IsNFT() bool {
	return t >= ItemERC721 && t <= ItemERC1155WithCriteria
}

// NumericString holds a uint256 as text. It decodes from JSON numbers or
// strings, and accepts decimal or 0x-prefixed hex.
type NumericString string

// UnmarshalJSON implements json.Unmarshaler.
func (n *NumericString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = NumericString(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("numeric field: %w", err)
	}
	*n = NumericString(num.String())
	return nil
}

// Big parses the value. An empty string is zero.
func (n NumericString) Big() (*big.Int, error) {
	s := string(n)
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	if v.Sign() < 0 || v.BitLen() > 256 {
		return nil, fmt.Errorf("number %q out of uint256 range", s)
	}
	return v, nil
}

// NumericFromBig formats a big integer in decimal.
func NumericFromBig(v *big.Int) NumericString {
	if v == nil {
		return "0"
	}
	return NumericString(v.String())
}

// OfferItem is one item the offerer gives up.
type OfferItem struct {
	ItemType             ItemType      `json:"itemType"`
	Token                string        `json:"token"`
	IdentifierOrCriteria NumericString `json:"identifierOrCriteria"`
	StartAmount          NumericString `json:"startAmount"`
	EndAmount            NumericString `json:"endAmount"`
}

// ConsiderationItem is one item the offerer expects someone to receive.
type ConsiderationItem struct {
	ItemType             ItemType      `json:"itemType"`
	Token                string        `json:"token"`
	IdentifierOrCriteria NumericString `json:"identifierOrCriteria"`
	StartAmount          NumericString `json:"startAmount"`
	EndAmount            NumericString `json:"endAmount"`
	Recipient            string        `json:"recipient"`
}

// OrderParameters is the signed Seaport order as persisted with a listing or offer.
// Together with the offerer's counter it fully determines the order hash.
// Counter is empty when the order was learned from OrderValidated, which
// does not carry it.
type OrderParameters struct {
	Offerer                         string              `json:"offerer"`
	Zone                            string              `json:"zone"`
	Offer                           []OfferItem         `json:"offer"`
	Consideration                   []ConsiderationItem `json:"consideration"`
	OrderType                       uint8               `json:"orderType"`
	StartTime                       NumericString       `json:"startTime"`
	EndTime                         NumericString       `json:"endTime"`
	ZoneHash                        string              `json:"zoneHash"`
	Salt                            NumericString       `json:"salt"`
	ConduitKey                      string              `json:"conduitKey"`
	Counter                         NumericString       `json:"counter"`
	TotalOriginalConsiderationItems NumericString       `json:"totalOriginalConsiderationItems,omitempty"`
}

// CounterKnown reports whether the signing counter was recorded. An empty
// counter is unknown, not zero.
func (p *OrderParameters) CounterKnown() bool {
	return p != nil && p.Counter != ""
}

// Value implements driver.Valuer for JSONB storage.
func (p *OrderParameters) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for JSONB storage.
func (p *OrderParameters) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("unsupported order parameters type %T", src)
	}
}

// SpentItem is an offer item as reported by a fulfilment event.
type SpentItem struct {
	ItemType   ItemType
	Token      common.Address
	Identifier *big.Int
	Amount     *big.Int
}

// ReceivedItem is a consideration item as reported by a fulfilment event.
type ReceivedItem struct {
	ItemType   ItemType
	Token      common.Address
	Identifier *big.Int
	Amount     *big.Int
	Recipient  common.Address
}
