package outbox

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// NoOp is the ledger.EventPublisher used whenever Kafka isn't configured,
// so callers never need to branch on whether publishing is active.
type NoOp struct{}

func (NoOp) PublishSafeStatusChanged(context.Context, common.Address, common.Hash) error { return nil }
func (NoOp) PublishMultisigTransactionChanged(context.Context, common.Hash) error         { return nil }
func (NoOp) Close() error                                                                { return nil }
