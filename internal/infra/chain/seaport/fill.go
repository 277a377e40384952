package seaport

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
)

// SummarizeFill derives marketplace meaning from an OrderFulfilled event.
//
// An order offering an NFT is a listing: the offerer sells to the recipient
// and the price is the currency consideration. An order offering currency for
// an NFT consideration is an offer: the offerer buys from the fulfiller.
// Anything else is reported as SideUnknown.
func SummarizeFill(
	offerer, recipient common.Address,
	offer []domain.SpentItem,
	consideration []domain.ReceivedItem,
) domain.FillSummary {
	summary := domain.FillSummary{
		Side:           domain.SideUnknown,
		TotalPrice:     new(big.Int),
		SellerProceeds: new(big.Int),
	}

	if nft, ok := firstSpentNFT(offer); ok {
		payment, ok := firstReceivedCurrency(consideration)
		if !ok {
			return summary
		}
		summary.Side = domain.SideListing
		summary.Seller = offerer
		summary.Buyer = recipient
		summary.NFTContract = nft.Token
		summary.TokenID = nft.Identifier
		summary.PaymentToken = payment.Token
		for _, item := range consideration {
			if !item.ItemType.IsCurrency() || item.Token != payment.Token {
				continue
			}
			summary.TotalPrice.Add(summary.TotalPrice, item.Amount)
			if item.Recipient == offerer {
				summary.SellerProceeds.Add(summary.SellerProceeds, item.Amount)
			}
		}
		return summary
	}

	payment, ok := firstSpentCurrency(offer)
	if !ok {
		return summary
	}
	nft, ok := receivedNFT(consideration, offerer)
	if !ok {
		return summary
	}
	summary.Side = domain.SideOffer
	summary.Buyer = offerer
	summary.Seller = recipient
	summary.NFTContract = nft.Token
	summary.TokenID = nft.Identifier
	summary.PaymentToken = payment.Token
	for _, item := range offer {
		if item.ItemType.IsCurrency() && item.Token == payment.Token {
			summary.TotalPrice.Add(summary.TotalPrice, item.Amount)
		}
	}
	fees := new(big.Int)
	for _, item := range consideration {
		if item.ItemType.IsCurrency() && item.Token == payment.Token {
			fees.Add(fees, item.Amount)
		}
	}
	summary.SellerProceeds.Sub(summary.TotalPrice, fees)
	if summary.SellerProceeds.Sign() < 0 {
		summary.SellerProceeds.SetInt64(0)
	}
	return summary
}

func firstSpentNFT(items []domain.SpentItem) (domain.SpentItem, bool) {
	for _, item := range items {
		if item.ItemType.IsNFT() {
			return item, true
		}
	}
	return domain.SpentItem{}, false
}

func firstSpentCurrency(items []domain.SpentItem) (domain.SpentItem, bool) {
	for _, item := range items {
		if item.ItemType.IsCurrency() {
			return item, true
		}
	}
	return domain.SpentItem{}, false
}

func firstReceivedCurrency(items []domain.ReceivedItem) (domain.ReceivedItem, bool) {
	for _, item := range items {
		if item.ItemType.IsCurrency() {
			return item, true
		}
	}
	return domain.ReceivedItem{}, false
}

// receivedNFT prefers the NFT paid to the offerer, falling back to any NFT item.
func receivedNFT(items []domain.ReceivedItem, offerer common.Address) (domain.ReceivedItem, bool) {
	var fallback *domain.ReceivedItem
	for i, item := range items {
		if !item.ItemType.IsNFT() {
			continue
		}
		if item.Recipient == offerer {
			return item, true
		}
		if fallback == nil {
			fallback = &items[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return domain.ReceivedItem{}, false
}

// OrderSummary is what a signed order will create once indexed.
type OrderSummary struct {
	Side         domain.OrderSide
	Maker        common.Address
	NFTContract  common.Address
	TokenID      *big.Int
	PaymentToken common.Address
	Price        *big.Int
	StartTime    *big.Int
	EndTime      *big.Int
}

// SummarizeOrder classifies stored order parameters as a listing or an offer.
// Prices use start amounts; dutch auctions are out of scope for the marketplace.
func SummarizeOrder(p *domain.OrderParameters) (*OrderSummary, error) {
	if p == nil {
		return nil, fmt.Errorf("nil order parameters")
	}
	if !common.IsHexAddress(p.Offerer) {
		return nil, fmt.Errorf("invalid offerer %q", p.Offerer)
	}
	start, err := p.StartTime.Big()
	if err != nil {
		return nil, fmt.Errorf("startTime: %w", err)
	}
	end, err := p.EndTime.Big()
	if err != nil {
		return nil, fmt.Errorf("endTime: %w", err)
	}

	s := &OrderSummary{
		Side:      domain.SideUnknown,
		Maker:     common.HexToAddress(p.Offerer),
		Price:     new(big.Int),
		StartTime: start,
		EndTime:   end,
	}

	for _, item := range p.Offer {
		if !item.ItemType.IsNFT() {
			continue
		}
		id, err := item.IdentifierOrCriteria.Big()
		if err != nil {
			return nil, fmt.Errorf("offer identifier: %w", err)
		}
		s.Side = domain.SideListing
		s.NFTContract = common.HexToAddress(item.Token)
		s.TokenID = id
		break
	}

	if s.Side == domain.SideListing {
		found := false
		for _, item := range p.Consideration {
			if !item.ItemType.IsCurrency() {
				continue
			}
			token := common.HexToAddress(item.Token)
			if found && token != s.PaymentToken {
				continue
			}
			amount, err := item.StartAmount.Big()
			if err != nil {
				return nil, fmt.Errorf("consideration amount: %w", err)
			}
			s.PaymentToken = token
			s.Price.Add(s.Price, amount)
			found = true
		}
		if !found {
			s.Side = domain.SideUnknown
		}
		return s, nil
	}

	found := false
	for _, item := range p.Offer {
		if !item.ItemType.IsCurrency() {
			continue
		}
		token := common.HexToAddress(item.Token)
		if found && token != s.PaymentToken {
			continue
		}
		amount, err := item.StartAmount.Big()
		if err != nil {
			return nil, fmt.Errorf("offer amount: %w", err)
		}
		s.PaymentToken = token
		s.Price.Add(s.Price, amount)
		found = true
	}
	if !found {
		return s, nil
	}
	for _, item := range p.Consideration {
		if !item.ItemType.IsNFT() {
			continue
		}
		id, err := item.IdentifierOrCriteria.Big()
		if err != nil {
			return nil, fmt.Errorf("consideration identifier: %w", err)
		}
		s.Side = domain.SideOffer
		s.NFTContract = common.HexToAddress(item.Token)
		s.TokenID = id
		break
	}
	return s, nil
}
