package ledger

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotFound is returned by single-entity reads when no row matches.
var ErrNotFound = errors.New("ledger: not found")

// Store is the persistence surface every indexer and the processor write
// through, and the surface the (out-of-scope) read API queries against.
//
// Contract:
//   - Every Upsert* MUST be idempotent: re-applying the same entity twice
//     (same unique key, same field values) MUST NOT error and MUST NOT
//     duplicate rows.
//   - An Upsert with DIFFERING field values for an already-written
//     immutable fact (e.g. two different InternalTx bodies claiming the
//     same (tx_hash, trace_address)) does not error: the Postgres store
//     keeps the first write (ON CONFLICT DO NOTHING) and memstore keeps
//     the latest. A unique-constraint violation that does reach the
//     database driver is reported as a chainerr NonRetryable
//     ERR_UNIQUE_CONFLICT error, which callers MUST treat as "already
//     handled", never as "failed".
//   - Implementations MUST be safe for concurrent use by multiple indexer
//     goroutines and processor goroutines.
type Store interface {
	UpsertBlock(ctx context.Context, b *Block) error
	UpsertEthereumTx(ctx context.Context, tx *EthereumTx) error
	UpsertInternalTx(ctx context.Context, itx *InternalTx) error
	// GetInternalTx looks up the call frame a decoded invocation was found
	// in, the processor's only way to learn the invocation's target (the
	// Safe) and immediate caller (msg.sender of that frame).
	GetInternalTx(ctx context.Context, txHash common.Hash, traceAddress []int) (*InternalTx, error)
	UpsertInternalTxDecoded(ctx context.Context, d *InternalTxDecoded) error
	UpsertEthereumEvent(ctx context.Context, e *EthereumEvent) error
	UpsertSafeContract(ctx context.Context, s *SafeContract) error
	GetSafeContract(ctx context.Context, address common.Address) (*SafeContract, error)
	ListSafeContracts(ctx context.Context) ([]*SafeContract, error)
	AppendSafeStatus(ctx context.Context, s *SafeStatus) error
	UpsertMultisigTransaction(ctx context.Context, m *MultisigTransaction) error
	UpsertMultisigConfirmation(ctx context.Context, c *MultisigConfirmation) error

	// DeleteStaleMultisigTransactions removes MultisigTransaction rows for
	// safe sharing (ethereumTxHash, nonce) with a safe_tx_hash other than
	// keepSafeTxHash: wrong-nonce rows an earlier processing pass indexed
	// under a stale master_copy, now superseded by the correct hash.
	DeleteStaleMultisigTransactions(ctx context.Context, safe common.Address, ethereumTxHash common.Hash, nonce uint64, keepSafeTxHash common.Hash) error

	// ExecutionFailed reports whether ethereumTxHash's logs recorded a
	// Safe ExecutionFailed/ExecutionFailure event for safeTxHash.
	ExecutionFailed(ctx context.Context, ethereumTxHash common.Hash, safeTxHash common.Hash) (bool, error)
	UpsertTokenInfo(ctx context.Context, t *TokenInfo) error
	// GetTokenInfo returns the cached name/symbol/decimals for a contract,
	// or ErrNotFound if it has never been sighted.
	GetTokenInfo(ctx context.Context, address common.Address) (*TokenInfo, error)
	UpsertDelegate(ctx context.Context, d *Delegate) error
	SetIndexingStatus(ctx context.Context, s *IndexingStatus) error

	UpsertERC20Transfer(ctx context.Context, t *ERC20Transfer) error
	UpsertERC721Transfer(ctx context.Context, t *ERC721Transfer) error

	GetMultisigTransaction(ctx context.Context, safeTxHash common.Hash) (*MultisigTransaction, error)
	GetConfirmations(ctx context.Context, safeTxHash common.Hash) ([]*MultisigConfirmation, error)

	// LastSafeStatusFor returns the most recently appended SafeStatus for
	// safe, or ErrNotFound if the Safe has never been set up.
	LastSafeStatusFor(ctx context.Context, safe common.Address) (*SafeStatus, error)

	// PendingDecodedInvocations streams unprocessed InternalTxDecoded rows
	// for safe in strict chain order (block_number, tx_index,
	// trace_address), the order the processor MUST consume them in.
	PendingDecodedInvocations(ctx context.Context, safe common.Address, limit int) ([]*InternalTxDecoded, error)

	MarkInvocationProcessed(ctx context.Context, txHash common.Hash, traceAddress []int) error

	GetMonitoredAddress(ctx context.Context, address common.Address) (*MonitoredAddress, error)
	UpsertMonitoredAddress(ctx context.Context, m *MonitoredAddress) error
	ListMonitoredAddresses(ctx context.Context) ([]*MonitoredAddress, error)

	// Paginated read projections, following the same reader/writer split
	// used for address-indexed transfer history elsewhere in this stack.
	GetERC20Transfers(ctx context.Context, address common.Address, limit, offset int) ([]*ERC20Transfer, error)
	GetERC721Transfers(ctx context.Context, address common.Address, limit, offset int) ([]*ERC721Transfer, error)
	GetERC721Owner(ctx context.Context, token common.Address, tokenID string) (common.Address, error)

	Close() error
}

// EventPublisher publishes ledger mutation events for out-of-scope
// collaborators (read API cache invalidation, notification push). The
// no-op implementation is used whenever Kafka is not configured so ledger
// code never branches on whether publishing is active.
type EventPublisher interface {
	PublishSafeStatusChanged(ctx context.Context, safe common.Address, txHash common.Hash) error
	PublishMultisigTransactionChanged(ctx context.Context, safeTxHash common.Hash) error
	Close() error
}
