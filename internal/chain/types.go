package chain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Block is the subset of block data the indexers persist.
type Block struct {
	Number       uint64
	Hash         common.Hash
	ParentHash   common.Hash
	Timestamp    time.Time
	Transactions []common.Hash
}

// Trace is one entry of a trace_filter/trace_transaction response — a
// single call/create/suicide frame located by its trace address within a
// transaction's call tree.
type Trace struct {
	BlockNumber         uint64
	BlockHash           common.Hash
	TransactionHash     common.Hash
	TransactionPosition int
	Type                TraceType
	From                common.Address
	To                  common.Address
	Value               *big.Int
	Gas                 uint64
	GasUsed             uint64
	Input               []byte
	Output              []byte
	Error               string
	TraceAddress        []int
}

type TraceType string

const (
	TraceCall         TraceType = "call"
	TraceDelegateCall TraceType = "delegatecall"
	TraceStaticCall   TraceType = "staticcall"
	TraceCreate       TraceType = "create"
	TraceCreate2      TraceType = "create2"
	TraceSuicide      TraceType = "suicide"
)

// TraceFilterQuery narrows a trace_filter call to a block range and
// optional from/to address sets, mirroring the spec's indexer windowing.
type TraceFilterQuery struct {
	FromBlock   uint64
	ToBlock     uint64
	FromAddress []common.Address
	ToAddress   []common.Address
}

// LogFilterQuery narrows a get_logs call, reusing go-ethereum's own
// ethereum.FilterQuery shape for topics/address matching.
type LogFilterQuery struct {
	FromBlock uint64
	ToBlock   uint64
	Addresses []common.Address
	Topics    [][]common.Hash
}

// Call is a single element of a batch_call request: an eth_call against a
// contract at a given block, or any other read-only RPC method.
type Call struct {
	Method string
	Params []interface{}
}

// Transaction and Receipt reuse go-ethereum's own wire types directly —
// this package never constructs or signs them, only decodes what the node
// returns.
type Transaction = types.Transaction
type Receipt = types.Receipt
type Log = types.Log
