// Package processor turns decoded Safe contract invocations into the
// append-only SafeStatus/MultisigTransaction/MultisigConfirmation history
// the rest of this service serves reads from. It consumes
// ledger.Store.PendingDecodedInvocations in strict chain order, one Safe
// at a time, and applies each invocation's state transition as a single
// logical unit of work.
package processor

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/gnosis/safe-transaction-history/internal/chainerr"
	"github.com/gnosis/safe-transaction-history/internal/decoder"
	"github.com/gnosis/safe-transaction-history/internal/ledger"
	"github.com/gnosis/safe-transaction-history/internal/logging"
	"github.com/gnosis/safe-transaction-history/internal/metrics"
)

// Processor walks every known Safe's pending decoded invocations and
// applies them in order.
type Processor struct {
	Store   ledger.Store
	Decoder *decoder.Registry
	ChainID *big.Int
	Metrics metrics.Metrics
	Logger  *zap.Logger

	// BatchSize bounds how many pending invocations are pulled per Safe
	// per pass.
	BatchSize int

	// AlwaysMarkUnknownProcessed controls what happens to a decoded
	// invocation whose function name this processor doesn't recognize
	// (e.g. an ABI addition from a Safe version newer than the embedded
	// set). When true, such invocations are marked processed immediately
	// so they never block the ones behind them; when false, they are left
	// pending for manual inspection and block that Safe's queue.
	AlwaysMarkUnknownProcessed bool
}

const defaultBatchSize = 200

// Run drives the processor loop until ctx is cancelled, polling every
// known Safe for pending work on each tick.
func (p *Processor) Run(ctx context.Context, pollInterval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := p.RunOnce(ctx); err != nil {
			p.Logger.Warn("processor pass failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}
	}
}

// RunOnce processes one pending-invocation pass across every known Safe.
func (p *Processor) RunOnce(ctx context.Context) error {
	contracts, err := p.Store.ListSafeContracts(ctx)
	if err != nil {
		return err
	}

	for _, sc := range contracts {
		if err := p.processSafe(ctx, sc.Address); err != nil {
			return err
		}
	}
	return nil
}

// processSafe applies every pending invocation for safe in chain order,
// stopping at the first Fatal error so later invocations are never
// applied ahead of one that couldn't be.
func (p *Processor) processSafe(ctx context.Context, safe common.Address) error {
	limit := p.BatchSize
	if limit <= 0 {
		limit = defaultBatchSize
	}

	invocations, err := p.Store.PendingDecodedInvocations(ctx, safe, limit)
	if err != nil {
		return err
	}

	logger := p.Logger.With(zap.String(logging.FieldSafe, safe.Hex()))

	for _, inv := range invocations {
		err := p.apply(ctx, safe, inv)
		switch {
		case err == nil:
			if markErr := p.Store.MarkInvocationProcessed(ctx, inv.TxHash, inv.TraceAddress); markErr != nil {
				return markErr
			}
			p.Metrics.RecordApply(inv.FunctionName, metrics.ApplyOK)

		case chainerr.IsNonRetryable(err):
			logger.Warn("skipping invocation",
				zap.String(logging.FieldFunctionName, inv.FunctionName),
				zap.String(logging.FieldTxHash, inv.TxHash.Hex()),
				zap.Error(err))
			if markErr := p.Store.MarkInvocationProcessed(ctx, inv.TxHash, inv.TraceAddress); markErr != nil {
				return markErr
			}
			p.Metrics.RecordApply(inv.FunctionName, metrics.ApplySkipped)

		case chainerr.IsFatal(err):
			logger.Error("invocation apply failed fatally, halting this safe's queue",
				zap.String(logging.FieldFunctionName, inv.FunctionName),
				zap.String(logging.FieldTxHash, inv.TxHash.Hex()),
				zap.Error(err))
			p.Metrics.RecordApply(inv.FunctionName, metrics.ApplyFailed)
			return nil

		default:
			return err
		}
	}
	return nil
}

// apply dispatches one decoded invocation to its state transition. Every
// case is responsible only for writing the resulting ledger rows; marking
// the invocation processed is the caller's job.
func (p *Processor) apply(ctx context.Context, safe common.Address, inv *ledger.InternalTxDecoded) error {
	itx, err := p.Store.GetInternalTx(ctx, inv.TxHash, inv.TraceAddress)
	if err != nil {
		return err
	}

	// Re-decode off the persisted call data rather than the persisted
	// JSON arguments: the JSON projection exists for external readers,
	// but round-tripping uint256/address/bytes32 values back out of JSON
	// loses the typed shape this dispatch needs. The raw calldata is the
	// source of truth either way.
	decoded, err := p.Decoder.Decode(itx.Data)
	if err != nil {
		return err
	}
	args := decoded.Arguments

	switch inv.FunctionName {
	case "setup":
		return p.applySetup(ctx, safe, itx, args)
	case "addOwnerWithThreshold":
		return p.applyAddOwner(ctx, safe, itx, args)
	case "removeOwner":
		return p.applyRemoveOwner(ctx, safe, itx, args)
	case "swapOwner":
		return p.applySwapOwner(ctx, safe, itx, args)
	case "changeThreshold":
		return p.applyChangeThreshold(ctx, safe, itx, args)
	case "changeMasterCopy":
		return p.applyChangeMasterCopy(ctx, safe, itx, args)
	case "approveHash":
		return p.applyApproveHash(ctx, safe, itx, args)
	case "execTransaction":
		return p.applyExecTransaction(ctx, safe, itx, args, decoded.Version)
	case "execTransactionFromModule":
		// Module-initiated calls bypass the signature-based nonce and
		// owner set entirely; nothing in the Safe's SafeStatus/
		// MultisigTransaction history changes.
		return nil
	default:
		if p.AlwaysMarkUnknownProcessed {
			return chainerr.NewNonRetryable(chainerr.ErrCodeInvariantViolation,
				"unrecognized function name reached the processor: "+inv.FunctionName, nil)
		}
		return chainerr.NewFatal(chainerr.ErrCodeInvariantViolation,
			"unrecognized function name reached the processor: "+inv.FunctionName, nil)
	}
}
