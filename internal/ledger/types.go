// Package ledger defines the persisted read model for Safe wallets and the
// store interface every indexer and the processor write through. Entity
// shapes follow spec.md §3 verbatim; TokenInfo, Delegate, IndexingStatus
// and the ERC20/721Transfer projections are supplemental entities pulled
// from the system this spec was distilled from.
package ledger

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Block struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  time.Time
}

type EthereumTx struct {
	Hash        common.Hash
	BlockNumber uint64
	BlockHash   common.Hash
	From        common.Address
	To          *common.Address
	Value       *big.Int
	Data        []byte
	Nonce       uint64
	GasUsed     uint64
	Success     bool
	TxIndex     uint
}

// InternalTx is one call-tree frame from trace_filter/trace_transaction,
// unique on (tx_hash, trace_address).
type InternalTx struct {
	TxHash              common.Hash
	TraceAddress        []int
	BlockNumber         uint64
	TransactionPosition int
	Type                string
	From                common.Address
	To                  common.Address
	Value               *big.Int
	Gas                 uint64
	GasUsed             uint64
	Data                []byte
	Output              []byte
	Error               string
}

// InternalTxDecoded is the decoder's output attached to an InternalTx,
// carrying the Safe ABI version and decoded arguments as JSON.
type InternalTxDecoded struct {
	TxHash       common.Hash
	TraceAddress []int
	Version      string
	FunctionName string
	Arguments    []byte // JSON-encoded argument map
	Processed    bool
}

// EthereumEvent is one decoded log, unique on (tx_hash, log_index).
type EthereumEvent struct {
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
	Address     common.Address
	Topics      []common.Hash
	Arguments   []byte // JSON-encoded argument map, per event ABI
}

type SafeContract struct {
	Address      common.Address
	MasterCopy   common.Address
	SetupTxHash  common.Hash
	FactoryAddr  *common.Address
}

// SafeStatus is an append-only snapshot of a Safe's owner set, threshold,
// master copy and nonce as of one applied invocation.
type SafeStatus struct {
	Safe         common.Address
	TxHash       common.Hash
	TraceAddress []int
	Owners       []common.Address
	Threshold    uint64
	MasterCopy   common.Address
	Nonce        uint64
	CreatedAt    time.Time
}

// MultisigTransaction is keyed by the EIP-712 safe_tx_hash, aggregating
// one off-chain-agreed transaction across its lifecycle (proposed →
// confirmed → executed).
type MultisigTransaction struct {
	SafeTxHash  common.Hash
	Safe        common.Address
	To          common.Address
	Value       *big.Int
	Data        []byte
	Operation   uint8
	SafeTxGas   *big.Int
	BaseGas     *big.Int
	GasPrice    *big.Int
	GasToken    common.Address
	RefundRcvr  common.Address
	Nonce       uint64
	ExecutedTxHash *common.Hash
	IsExecuted  bool
	IsSuccessful *bool
	// Signatures is the packed signature bundle execTransaction was called
	// with, once executed; nil for a transaction only ever proposed off-chain.
	Signatures []byte
}

// MultisigConfirmation records one owner's approval of a safe_tx_hash,
// unique on (multisig_transaction_hash, owner).
type MultisigConfirmation struct {
	SafeTxHash      common.Hash
	Owner           common.Address
	SignatureType   string
	Signature       []byte
	TransactionHash common.Hash
	BlockNumber     uint64
}

// MonitoredAddress is the cursor row an indexer advances once its window
// is fully processed.
type MonitoredAddress struct {
	Address          common.Address
	InternalTxCursor uint64
	EventsCursor     uint64
	ProxyFactoryCursor uint64
}

type TokenType string

const (
	TokenTypeERC20  TokenType = "erc20"
	TokenTypeERC721 TokenType = "erc721"
)

type TokenInfo struct {
	Address  common.Address
	Name     string
	Symbol   string
	Decimals uint8
	Type     TokenType
}

type Delegate struct {
	Safe      common.Address
	Delegate  common.Address
	Delegator common.Address
	Label     string
	CreatedAt time.Time
}

type IndexingStatus struct {
	ChainID               uint64
	CurrentBlock           uint64
	CurrentBlockTimestamp time.Time
	Synced                bool
}

type ERC20Transfer struct {
	TxHash      common.Hash
	LogIndex    uint
	Token       common.Address
	From        common.Address
	To          common.Address
	Value       *big.Int
	BlockNumber uint64
}

type ERC721Transfer struct {
	TxHash      common.Hash
	LogIndex    uint
	Token       common.Address
	From        common.Address
	To          common.Address
	TokenID     *big.Int
	BlockNumber uint64
}
