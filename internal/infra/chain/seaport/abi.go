package seaport

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// contractABI is the subset of Seaport 1.5/1.6 the indexer reads.
const contractABI = `[
  {"type":"event","name":"OrderFulfilled","anonymous":false,"inputs":[
    {"name":"orderHash","type":"bytes32","indexed":false},
    {"name":"offerer","type":"address","indexed":true},
    {"name":"zone","type":"address","indexed":true},
    {"name":"recipient","type":"address","indexed":false},
    {"name":"offer","type":"tuple[]","indexed":false,"components":[
      {"name":"itemType","type":"uint8"},
      {"name":"token","type":"address"},
      {"name":"identifier","type":"uint256"},
      {"name":"amount","type":"uint256"}]},
    {"name":"consideration","type":"tuple[]","indexed":false,"components":[
      {"name":"itemType","type":"uint8"},
      {"name":"token","type":"address"},
      {"name":"identifier","type":"uint256"},
      {"name":"amount","type":"uint256"},
      {"name":"recipient","type":"address"}]}]},
  {"type":"event","name":"OrderCancelled","anonymous":false,"inputs":[
    {"name":"orderHash","type":"bytes32","indexed":false},
    {"name":"offerer","type":"address","indexed":true},
    {"name":"zone","type":"address","indexed":true}]},
  {"type":"event","name":"OrderValidated","anonymous":false,"inputs":[
    {"name":"orderHash","type":"bytes32","indexed":false},
    {"name":"orderParameters","type":"tuple","indexed":false,"components":[
      {"name":"offerer","type":"address"},
      {"name":"zone","type":"address"},
      {"name":"offer","type":"tuple[]","components":[
        {"name":"itemType","type":"uint8"},
        {"name":"token","type":"address"},
        {"name":"identifierOrCriteria","type":"uint256"},
        {"name":"startAmount","type":"uint256"},
        {"name":"endAmount","type":"uint256"}]},
      {"name":"consideration","type":"tuple[]","components":[
        {"name":"itemType","type":"uint8"},
        {"name":"token","type":"address"},
        {"name":"identifierOrCriteria","type":"uint256"},
        {"name":"startAmount","type":"uint256"},
        {"name":"endAmount","type":"uint256"},
        {"name":"recipient","type":"address"}]},
      {"name":"orderType","type":"uint8"},
      {"name":"startTime","type":"uint256"},
      {"name":"endTime","type":"uint256"},
      {"name":"zoneHash","type":"bytes32"},
      {"name":"salt","type":"uint256"},
      {"name":"conduitKey","type":"bytes32"},
      {"name":"totalOriginalConsiderationItems","type":"uint256"}]}]},
  {"type":"function","name":"getOrderStatus","stateMutability":"view",
    "inputs":[{"name":"orderHash","type":"bytes32"}],
    "outputs":[
      {"name":"isValidated","type":"bool"},
      {"name":"isCancelled","type":"bool"},
      {"name":"totalFilled","type":"uint256"},
      {"name":"totalSize","type":"uint256"}]},
  {"type":"function","name":"getCounter","stateMutability":"view",
    "inputs":[{"name":"offerer","type":"address"}],
    "outputs":[{"name":"counter","type":"uint256"}]}
]`

// ABI is the parsed Seaport interface.
var ABI = mustParse(contractABI)

// Event signature hashes (topic 0).
var (
	TopicOrderFulfilled = ABI.Events["OrderFulfilled"].ID
	TopicOrderCancelled = ABI.Events["OrderCancelled"].ID
	TopicOrderValidated = ABI.Events["OrderValidated"].ID
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("failed to parse Seaport ABI: " + err.Error())
	}
	return parsed
}
