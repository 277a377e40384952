package exchange

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// contractABI covers the events and read-only getters of the marketplace exchange.
const contractABI = `[
  {"type":"event","name":"ListingCreated","anonymous":false,"inputs":[
    {"name":"listingId","type":"uint256","indexed":true},
    {"name":"seller","type":"address","indexed":true},
    {"name":"nftContract","type":"address","indexed":true},
    {"name":"tokenId","type":"uint256","indexed":false},
    {"name":"price","type":"uint256","indexed":false},
    {"name":"expiresAt","type":"uint256","indexed":false}]},
  {"type":"event","name":"ListingCancelled","anonymous":false,"inputs":[
    {"name":"listingId","type":"uint256","indexed":true}]},
  {"type":"event","name":"ListingSold","anonymous":false,"inputs":[
    {"name":"listingId","type":"uint256","indexed":true},
    {"name":"buyer","type":"address","indexed":true},
    {"name":"price","type":"uint256","indexed":false}]},
  {"type":"event","name":"OfferMade","anonymous":false,"inputs":[
    {"name":"offerId","type":"uint256","indexed":true},
    {"name":"buyer","type":"address","indexed":true},
    {"name":"nftContract","type":"address","indexed":true},
    {"name":"tokenId","type":"uint256","indexed":false},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"expiresAt","type":"uint256","indexed":false}]},
  {"type":"event","name":"OfferAccepted","anonymous":false,"inputs":[
    {"name":"offerId","type":"uint256","indexed":true},
    {"name":"seller","type":"address","indexed":true}]},
  {"type":"event","name":"OfferCancelled","anonymous":false,"inputs":[
    {"name":"offerId","type":"uint256","indexed":true}]},
  {"type":"function","name":"getListing","stateMutability":"view",
    "inputs":[{"name":"listingId","type":"uint256"}],
    "outputs":[
      {"name":"seller","type":"address"},
      {"name":"nftContract","type":"address"},
      {"name":"tokenId","type":"uint256"},
      {"name":"price","type":"uint256"},
      {"name":"expiresAt","type":"uint256"},
      {"name":"sold","type":"bool"},
      {"name":"cancelled","type":"bool"}]},
  {"type":"function","name":"getOffer","stateMutability":"view",
    "inputs":[{"name":"offerId","type":"uint256"}],
    "outputs":[
      {"name":"buyer","type":"address"},
      {"name":"nftContract","type":"address"},
      {"name":"tokenId","type":"uint256"},
      {"name":"amount","type":"uint256"},
      {"name":"expiresAt","type":"uint256"},
      {"name":"accepted","type":"bool"},
      {"name":"cancelled","type":"bool"}]}
]`

// ABI is the parsed exchange interface.
var ABI = mustParse(contractABI)

// Event signature hashes (topic 0).
var (
	TopicListingCreated   = ABI.Events["ListingCreated"].ID
	TopicListingCancelled = ABI.Events["ListingCancelled"].ID
	TopicListingSold      = ABI.Events["ListingSold"].ID
	TopicOfferMade        = ABI.Events["OfferMade"].ID
	TopicOfferAccepted    = ABI.Events["OfferAccepted"].ID
	TopicOfferCancelled   = ABI.Events["OfferCancelled"].ID
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("failed to parse exchange ABI: " + err.Error())
	}
	return parsed
}
