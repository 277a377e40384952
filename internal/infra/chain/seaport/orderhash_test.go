package seaport

import (
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
)

// fixtureOrder is a USDC listing of token 7 with a 2.5% fee.
func fixtureOrder() *domain.OrderParameters {
	return &domain.OrderParameters{
		Offerer: "0x1111111111111111111111111111111111111111",
		Zone:    "0x0000000000000000000000000000000000000000",
		Offer: []domain.OfferItem{{
			ItemType:             domain.ItemERC721,
			Token:                "0x2222222222222222222222222222222222222222",
			IdentifierOrCriteria: "7",
			StartAmount:          "1",
			EndAmount:            "1",
		}},
		Consideration: []domain.ConsiderationItem{
			{
				ItemType:             domain.ItemERC20,
				Token:                "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
				IdentifierOrCriteria: "0",
				StartAmount:          "97500000",
				EndAmount:            "97500000",
				Recipient:            "0x1111111111111111111111111111111111111111",
			},
			{
				ItemType:             domain.ItemERC20,
				Token:                "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
				IdentifierOrCriteria: "0",
				StartAmount:          "2500000",
				EndAmount:            "2500000",
				Recipient:            "0x3333333333333333333333333333333333333333",
			},
		},
		OrderType:  0,
		StartTime:  "1700000000",
		EndTime:    "1800000000",
		ZoneHash:   "0x0000000000000000000000000000000000000000000000000000000000000000",
		Salt:       "12345",
		ConduitKey: "0x0000007b02230091a7ed01230072f7006a004d60a8d4e71d599b8104250f0000",
		Counter:    "0",
	}
}

func TestTypeHashes(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"OrderComponents", OrderTypeHash.Hex(), "0xfa445660b7e21515a59617fcd68910b487aa5808b8abda3d78bc85df364b2c2f"},
		{"OfferItem", OfferItemTypeHash.Hex(), "0xa66999307ad1bb4fde44d13a5d710bd7718e0c87c1eef68a571629fbf5b93d02"},
		{"ConsiderationItem", ConsiderationItemTypeHash.Hex(), "0x42d81c6929ffdc4eb27a0808e40e82516ad42296c166065de7f812492304ff6e"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s typehash = %s, want %s", tt.name, tt.got, tt.want)
		}
	}
}

// typedOrder renders p as EIP-712 typed data for go-ethereum's generic
// encoder, which shares no code with OrderHash.
func typedOrder(p *domain.OrderParameters) apitypes.TypedData {
	offer := make([]interface{}, 0, len(p.Offer))
	for _, it := range p.Offer {
		offer = append(offer, map[string]interface{}{
			"itemType":             strconv.Itoa(int(it.ItemType)),
			"token":                it.Token,
			"identifierOrCriteria": numeric(it.IdentifierOrCriteria),
			"startAmount":          numeric(it.StartAmount),
			"endAmount":            numeric(it.EndAmount),
		})
	}
	consideration := make([]interface{}, 0, len(p.Consideration))
	for _, it := range p.Consideration {
		consideration = append(consideration, map[string]interface{}{
			"itemType":             strconv.Itoa(int(it.ItemType)),
			"token":                it.Token,
			"identifierOrCriteria": numeric(it.IdentifierOrCriteria),
			"startAmount":          numeric(it.StartAmount),
			"endAmount":            numeric(it.EndAmount),
			"recipient":            it.Recipient,
		})
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"OrderComponents": {
				{Name: "offerer", Type: "address"},
				{Name: "zone", Type: "address"},
				{Name: "offer", Type: "OfferItem[]"},
				{Name: "consideration", Type: "ConsiderationItem[]"},
				{Name: "orderType", Type: "uint8"},
				{Name: "startTime", Type: "uint256"},
				{Name: "endTime", Type: "uint256"},
				{Name: "zoneHash", Type: "bytes32"},
				{Name: "salt", Type: "uint256"},
				{Name: "conduitKey", Type: "bytes32"},
				{Name: "counter", Type: "uint256"},
			},
			"OfferItem": {
				{Name: "itemType", Type: "uint8"},
				{Name: "token", Type: "address"},
				{Name: "identifierOrCriteria", Type: "uint256"},
				{Name: "startAmount", Type: "uint256"},
				{Name: "endAmount", Type: "uint256"},
			},
			"ConsiderationItem": {
				{Name: "itemType", Type: "uint8"},
				{Name: "token", Type: "address"},
				{Name: "identifierOrCriteria", Type: "uint256"},
				{Name: "startAmount", Type: "uint256"},
				{Name: "endAmount", Type: "uint256"},
				{Name: "recipient", Type: "address"},
			},
		},
		PrimaryType: "OrderComponents",
		Domain: apitypes.TypedDataDomain{
			Name:              "Seaport",
			Version:           "1.6",
			ChainId:           math.NewHexOrDecimal256(8453),
			VerifyingContract: "0x0000000000000068F116a894984e2DB1123eB395",
		},
		Message: apitypes.TypedDataMessage{
			"offerer":       p.Offerer,
			"zone":          p.Zone,
			"offer":         offer,
			"consideration": consideration,
			"orderType":     strconv.Itoa(int(p.OrderType)),
			"startTime":     numeric(p.StartTime),
			"endTime":       numeric(p.EndTime),
			"zoneHash":      p.ZoneHash,
			"salt":          numeric(p.Salt),
			"conduitKey":    p.ConduitKey,
			"counter":       numeric(p.Counter),
		},
	}
}

func numeric(n domain.NumericString) string {
	if n == "" {
		return "0"
	}
	return string(n)
}

func TestOrderHash_MatchesEIP712Encoder(t *testing.T) {
	offerSide := fixtureOrder()
	offerSide.Offer = []domain.OfferItem{{
		ItemType:             domain.ItemERC20,
		Token:                "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
		IdentifierOrCriteria: "0",
		StartAmount:          "50000000",
		EndAmount:            "50000000",
	}}
	offerSide.Consideration = []domain.ConsiderationItem{{
		ItemType:             domain.ItemERC721WithCriteria,
		Token:                "0x2222222222222222222222222222222222222222",
		IdentifierOrCriteria: "0xab00000000000000000000000000000000000000000000000000000000000001",
		StartAmount:          "1",
		EndAmount:            "1",
		Recipient:            "0x4444444444444444444444444444444444444444",
	}}
	offerSide.OrderType = 2
	offerSide.Counter = "5"
	offerSide.ZoneHash = "0x00000000000000000000000000000000000000000000000000000000000000ff"

	empty := &domain.OrderParameters{
		Offerer:    "0x1111111111111111111111111111111111111111",
		Zone:       "0x0000000000000000000000000000000000000000",
		ZoneHash:   common.Hash{}.Hex(),
		ConduitKey: common.Hash{}.Hex(),
		Counter:    "0",
	}

	tests := map[string]*domain.OrderParameters{
		"listing": fixtureOrder(),
		"offer":   offerSide,
		"empty":   empty,
	}
	for name, p := range tests {
		typed := typedOrder(p)
		want, err := typed.HashStruct(typed.PrimaryType, typed.Message)
		if err != nil {
			t.Fatalf("%s: HashStruct failed: %v", name, err)
		}
		got, err := OrderHash(p)
		if err != nil {
			t.Fatalf("%s: OrderHash failed: %v", name, err)
		}
		if got != common.BytesToHash(want) {
			t.Errorf("%s: OrderHash = %s, want %s", name, got.Hex(), common.BytesToHash(want).Hex())
		}
	}

	typed := typedOrder(fixtureOrder())
	if got := common.BytesToHash(typed.TypeHash(typed.PrimaryType)); got != OrderTypeHash {
		t.Errorf("OrderComponents typehash = %s, want %s", OrderTypeHash.Hex(), got.Hex())
	}
}

func TestOrderHash_RequiresCounter(t *testing.T) {
	p := fixtureOrder()
	p.Counter = ""
	if _, err := OrderHash(p); !errors.Is(err, ErrCounterUnknown) {
		t.Fatalf("expected ErrCounterUnknown, got %v", err)
	}
}

func TestOrderHash_SensitiveToEveryField(t *testing.T) {
	base, err := OrderHash(fixtureOrder())
	if err != nil {
		t.Fatalf("OrderHash failed: %v", err)
	}

	mutations := map[string]func(p *domain.OrderParameters){
		"salt":      func(p *domain.OrderParameters) { p.Salt = "12346" },
		"counter":   func(p *domain.OrderParameters) { p.Counter = "1" },
		"endTime":   func(p *domain.OrderParameters) { p.EndTime = "1800000001" },
		"orderType": func(p *domain.OrderParameters) { p.OrderType = 1 },
		"recipient": func(p *domain.OrderParameters) {
			p.Consideration[1].Recipient = "0x4444444444444444444444444444444444444444"
		},
		"tokenId": func(p *domain.OrderParameters) { p.Offer[0].IdentifierOrCriteria = "8" },
	}
	for name, mutate := range mutations {
		p := fixtureOrder()
		mutate(p)
		h, err := OrderHash(p)
		if err != nil {
			t.Fatalf("%s: OrderHash failed: %v", name, err)
		}
		if h == base {
			t.Errorf("%s: hash did not change", name)
		}
	}
}

func TestOrderHash_HexAndDecimalAgree(t *testing.T) {
	p := fixtureOrder()
	p.Salt = "0x3039" // 12345
	h, err := OrderHash(p)
	if err != nil {
		t.Fatalf("OrderHash failed: %v", err)
	}
	base, _ := OrderHash(fixtureOrder())
	if h != base {
		t.Errorf("hex salt produced %s, want %s", h.Hex(), base.Hex())
	}
}

func TestOrderHash_RejectsMalformed(t *testing.T) {
	tests := map[string]func(p *domain.OrderParameters){
		"offerer":    func(p *domain.OrderParameters) { p.Offerer = "not-an-address" },
		"salt":       func(p *domain.OrderParameters) { p.Salt = "12x" },
		"negative":   func(p *domain.OrderParameters) { p.StartTime = "-1" },
		"conduitKey": func(p *domain.OrderParameters) { p.ConduitKey = "0xzz" },
		"recipient":  func(p *domain.OrderParameters) { p.Consideration[0].Recipient = "" },
	}
	for name, mutate := range tests {
		p := fixtureOrder()
		mutate(p)
		if _, err := OrderHash(p); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := OrderHash(nil); err == nil {
		t.Error("nil parameters: expected error")
	}
}

func TestOrderHash_FromStoredJSON(t *testing.T) {
	stored := `{
		"offerer":"0x1111111111111111111111111111111111111111",
		"zone":"0x0000000000000000000000000000000000000000",
		"offer":[{"itemType":2,"token":"0x2222222222222222222222222222222222222222","identifierOrCriteria":"7","startAmount":"1","endAmount":"1"}],
		"consideration":[
			{"itemType":1,"token":"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913","identifierOrCriteria":"0","startAmount":"97500000","endAmount":"97500000","recipient":"0x1111111111111111111111111111111111111111"},
			{"itemType":1,"token":"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913","identifierOrCriteria":0,"startAmount":2500000,"endAmount":"2500000","recipient":"0x3333333333333333333333333333333333333333"}],
		"orderType":0,
		"startTime":1700000000,
		"endTime":"1800000000",
		"zoneHash":"0x0000000000000000000000000000000000000000000000000000000000000000",
		"salt":"0x3039",
		"conduitKey":"0x0000007b02230091a7ed01230072f7006a004d60a8d4e71d599b8104250f0000",
		"counter":0
	}`

	var p domain.OrderParameters
	if err := json.Unmarshal([]byte(stored), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	h, err := OrderHash(&p)
	if err != nil {
		t.Fatalf("OrderHash failed: %v", err)
	}
	base, err := OrderHash(fixtureOrder())
	if err != nil {
		t.Fatalf("OrderHash failed: %v", err)
	}
	if h != base {
		t.Errorf("OrderHash = %s, want %s", h.Hex(), base.Hex())
	}
}
