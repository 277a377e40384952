package seaport_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/chain"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/chain/seaport"
	"github.com/jc4p/mint-exchange-sub001/internal/testutil"
)

var (
	seller  = testutil.Addr(1)
	buyer   = testutil.Addr(2)
	feeAddr = testutil.Addr(3)
	nft     = testutil.Addr(4)
	h1      = common.HexToHash("0x0100000000000000000000000000000000000000000000000000000000000001")
)

func TestDecode_OrderFulfilledListing(t *testing.T) {
	d := seaport.NewDecoder(testutil.SeaportAddress)
	offer, consideration := testutil.ListingFill(nft, 7, seller, 97_500_000, 2_500_000, feeAddr)
	log := testutil.OrderFulfilledLog(
		testutil.Pos{Block: 10, Index: 2, Tx: testutil.TxHash(1)},
		h1, seller, common.Address{}, buyer, offer, consideration,
	)

	ev, err := d.Decode(log)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	fulfilled, ok := ev.(*domain.OrderFulfilled)
	if !ok {
		t.Fatalf("expected *OrderFulfilled, got %T", ev)
	}

	if fulfilled.OrderHash != h1 {
		t.Errorf("order hash = %s", fulfilled.OrderHash.Hex())
	}
	if fulfilled.Meta().BlockNumber != 10 || fulfilled.Meta().LogIndex != 2 {
		t.Errorf("unexpected meta %+v", fulfilled.Meta())
	}

	fill := fulfilled.Fill
	if fill.Side != domain.SideListing {
		t.Fatalf("side = %s, want listing", fill.Side)
	}
	if fill.Seller != seller || fill.Buyer != buyer {
		t.Errorf("seller/buyer = %s/%s", fill.Seller.Hex(), fill.Buyer.Hex())
	}
	if fill.NFTContract != nft || fill.TokenID.Int64() != 7 {
		t.Errorf("nft = %s #%s", fill.NFTContract.Hex(), fill.TokenID)
	}
	if fill.TotalPrice.Int64() != 100_000_000 {
		t.Errorf("total price = %s, want 100000000", fill.TotalPrice)
	}
	if fill.SellerProceeds.Int64() != 97_500_000 {
		t.Errorf("seller proceeds = %s, want 97500000", fill.SellerProceeds)
	}
	if fill.PaymentToken != testutil.USDC {
		t.Errorf("payment token = %s", fill.PaymentToken.Hex())
	}
}

func TestDecode_OrderFulfilledOffer(t *testing.T) {
	d := seaport.NewDecoder(testutil.SeaportAddress)
	offer := []testutil.SpentItem{
		{ItemType: 1, Token: testutil.USDC, Identifier: new(big.Int), Amount: big.NewInt(50_000_000)},
	}
	consideration := []testutil.ReceivedItem{
		{ItemType: 2, Token: nft, Identifier: big.NewInt(9), Amount: big.NewInt(1), Recipient: buyer},
		{ItemType: 1, Token: testutil.USDC, Identifier: new(big.Int), Amount: big.NewInt(1_250_000), Recipient: feeAddr},
	}
	log := testutil.OrderFulfilledLog(
		testutil.Pos{Block: 11, Tx: testutil.TxHash(2)},
		h1, buyer, common.Address{}, seller, offer, consideration,
	)

	ev, err := d.Decode(log)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	fill := ev.(*domain.OrderFulfilled).Fill
	if fill.Side != domain.SideOffer {
		t.Fatalf("side = %s, want offer", fill.Side)
	}
	if fill.Buyer != buyer || fill.Seller != seller {
		t.Errorf("buyer/seller = %s/%s", fill.Buyer.Hex(), fill.Seller.Hex())
	}
	if fill.TokenID.Int64() != 9 {
		t.Errorf("token = %s", fill.TokenID)
	}
	if fill.TotalPrice.Int64() != 50_000_000 || fill.SellerProceeds.Int64() != 48_750_000 {
		t.Errorf("price/proceeds = %s/%s", fill.TotalPrice, fill.SellerProceeds)
	}
}

func TestDecode_OrderFulfilledWithoutPaymentIsUnknown(t *testing.T) {
	d := seaport.NewDecoder(testutil.SeaportAddress)
	offer := []testutil.SpentItem{{ItemType: 2, Token: nft, Identifier: big.NewInt(1), Amount: big.NewInt(1)}}
	log := testutil.OrderFulfilledLog(testutil.Pos{Block: 1, Tx: testutil.TxHash(3)}, h1, seller, common.Address{}, buyer, offer, nil)

	ev, err := d.Decode(log)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if side := ev.(*domain.OrderFulfilled).Fill.Side; side != domain.SideUnknown {
		t.Errorf("side = %s, want unknown", side)
	}
}

func TestDecode_OrderCancelled(t *testing.T) {
	d := seaport.NewDecoder(testutil.SeaportAddress)
	log := testutil.OrderCancelledLog(testutil.Pos{Block: 5, Tx: testutil.TxHash(4)}, h1, seller, common.Address{})

	ev, err := d.Decode(log)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	cancelled, ok := ev.(*domain.OrderCancelled)
	if !ok {
		t.Fatalf("expected *OrderCancelled, got %T", ev)
	}
	if cancelled.OrderHash != h1 || cancelled.Offerer != seller {
		t.Errorf("unexpected event %+v", cancelled)
	}
	if cancelled.Subject() != domain.OrderSubject(h1.Hex()) {
		t.Errorf("subject = %s", cancelled.Subject())
	}
}

func TestDecode_OrderValidated(t *testing.T) {
	d := seaport.NewDecoder(testutil.SeaportAddress)
	conduit := common.HexToHash("0x0000007b02230091a7ed01230072f7006a004d60a8d4e71d599b8104250f0000")
	params := testutil.OrderParameters{
		Offerer: seller,
		Offer: []testutil.OfferItem{
			{ItemType: 2, Token: nft, IdentifierOrCriteria: big.NewInt(7), StartAmount: big.NewInt(1), EndAmount: big.NewInt(1)},
		},
		Consideration: []testutil.ConsiderationItem{
			{ItemType: 1, Token: testutil.USDC, IdentifierOrCriteria: new(big.Int), StartAmount: big.NewInt(97_500_000), EndAmount: big.NewInt(97_500_000), Recipient: seller},
			{ItemType: 1, Token: testutil.USDC, IdentifierOrCriteria: new(big.Int), StartAmount: big.NewInt(2_500_000), EndAmount: big.NewInt(2_500_000), Recipient: feeAddr},
		},
		StartTime:                       big.NewInt(1_700_000_000),
		EndTime:                         big.NewInt(1_900_000_000),
		Salt:                            big.NewInt(12345),
		ConduitKey:                      conduit,
		TotalOriginalConsiderationItems: big.NewInt(2),
	}
	log := testutil.OrderValidatedLog(testutil.Pos{Block: 12, Index: 1, Tx: testutil.TxHash(6)}, h1, params)

	ev, err := d.Decode(log)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	validated, ok := ev.(*domain.OrderValidated)
	if !ok {
		t.Fatalf("expected *OrderValidated, got %T", ev)
	}
	if validated.OrderHash != h1 {
		t.Errorf("order hash = %s", validated.OrderHash.Hex())
	}

	p := validated.Parameters
	if p.Offerer != domain.NormalizeAddress(seller) {
		t.Errorf("offerer = %s", p.Offerer)
	}
	if len(p.Offer) != 1 || p.Offer[0].ItemType != domain.ItemERC721 || p.Offer[0].IdentifierOrCriteria != "7" {
		t.Errorf("unexpected offer %+v", p.Offer)
	}
	if len(p.Consideration) != 2 || p.Consideration[1].StartAmount != "2500000" ||
		p.Consideration[1].Recipient != domain.NormalizeAddress(feeAddr) {
		t.Errorf("unexpected consideration %+v", p.Consideration)
	}
	if p.EndTime != "1900000000" || p.Salt != "12345" || p.TotalOriginalConsiderationItems != "2" {
		t.Errorf("unexpected scalars %+v", p)
	}
	if p.ConduitKey != conduit.Hex() {
		t.Errorf("conduit key = %s", p.ConduitKey)
	}

	// The event does not carry the counter, so the hash cannot be rebuilt.
	if p.CounterKnown() || p.Counter != "" {
		t.Errorf("counter = %q, want unknown", p.Counter)
	}
	if _, err := seaport.OrderHash(p); !errors.Is(err, seaport.ErrCounterUnknown) {
		t.Errorf("expected ErrCounterUnknown, got %v", err)
	}
}

func TestDecode_UnknownTopicIgnored(t *testing.T) {
	d := seaport.NewDecoder(testutil.SeaportAddress)
	log := testutil.OrderCancelledLog(testutil.Pos{Block: 5, Tx: testutil.TxHash(4)}, h1, seller, common.Address{})
	log.Topics[0] = common.HexToHash("0xdeadbeef")

	ev, err := d.Decode(log)
	if err != nil || ev != nil {
		t.Errorf("expected (nil, nil), got (%v, %v)", ev, err)
	}
}

func TestDecode_TruncatedDataIsMalformed(t *testing.T) {
	d := seaport.NewDecoder(testutil.SeaportAddress)
	offer, consideration := testutil.ListingFill(nft, 7, seller, 1, 0, feeAddr)
	log := testutil.OrderFulfilledLog(testutil.Pos{Block: 1, Tx: testutil.TxHash(5)}, h1, seller, common.Address{}, buyer, offer, consideration)
	log.Data = log.Data[:40]

	_, err := d.Decode(log)
	if !errors.Is(err, chain.ErrMalformedLog) {
		t.Fatalf("expected ErrMalformedLog, got %v", err)
	}
}
