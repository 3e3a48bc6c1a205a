package processor

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gnosis/safe-transaction-history/internal/chainerr"
	"github.com/gnosis/safe-transaction-history/internal/decoder"
	"github.com/gnosis/safe-transaction-history/internal/ledger"
)

// loadStatus fetches the Safe's last SafeStatus, classifying "no status
// yet" as an invariant violation for every transition except setup: every
// other Safe function call presupposes the Safe already exists.
func (p *Processor) loadStatus(ctx context.Context, safe common.Address) (*ledger.SafeStatus, error) {
	st, err := p.Store.LastSafeStatusFor(ctx, safe)
	if err == ledger.ErrNotFound {
		return nil, chainerr.NewNonRetryable(chainerr.ErrCodeInvariantViolation,
			"state-changing call observed before any setup for this safe", nil)
	}
	return st, err
}

func (p *Processor) applySetup(ctx context.Context, safe common.Address, itx *ledger.InternalTx, args map[string]interface{}) error {
	owners, err := addressSliceArg(args, "_owners")
	if err != nil {
		return err
	}
	threshold, err := uint256Arg(args, "_threshold")
	if err != nil {
		return err
	}

	masterCopy := common.Address{}
	sc, err := p.Store.GetSafeContract(ctx, safe)
	switch {
	case err == nil:
		masterCopy = sc.MasterCopy
	case err == ledger.ErrNotFound:
		if err := p.Store.UpsertSafeContract(ctx, &ledger.SafeContract{
			Address:     safe,
			MasterCopy:  masterCopy,
			SetupTxHash: itx.TxHash,
		}); err != nil {
			return err
		}
	default:
		return err
	}

	return p.Store.AppendSafeStatus(ctx, &ledger.SafeStatus{
		Safe:         safe,
		TxHash:       itx.TxHash,
		TraceAddress: itx.TraceAddress,
		Owners:       owners,
		Threshold:    threshold.Uint64(),
		MasterCopy:   masterCopy,
		Nonce:        0,
		CreatedAt:    time.Now().UTC(),
	})
}

func (p *Processor) applyAddOwner(ctx context.Context, safe common.Address, itx *ledger.InternalTx, args map[string]interface{}) error {
	prev, err := p.loadStatus(ctx, safe)
	if err != nil {
		return err
	}
	owner, err := addressArg(args, "owner")
	if err != nil {
		return err
	}
	threshold, err := uint256Arg(args, "_threshold")
	if err != nil {
		return err
	}

	return p.Store.AppendSafeStatus(ctx, &ledger.SafeStatus{
		Safe:         safe,
		TxHash:       itx.TxHash,
		TraceAddress: itx.TraceAddress,
		Owners:       addOwner(prev.Owners, owner),
		Threshold:    threshold.Uint64(),
		MasterCopy:   prev.MasterCopy,
		Nonce:        prev.Nonce,
		CreatedAt:    time.Now().UTC(),
	})
}

func (p *Processor) applyRemoveOwner(ctx context.Context, safe common.Address, itx *ledger.InternalTx, args map[string]interface{}) error {
	prev, err := p.loadStatus(ctx, safe)
	if err != nil {
		return err
	}
	owner, err := addressArg(args, "owner")
	if err != nil {
		return err
	}
	threshold, err := uint256Arg(args, "_threshold")
	if err != nil {
		return err
	}

	return p.Store.AppendSafeStatus(ctx, &ledger.SafeStatus{
		Safe:         safe,
		TxHash:       itx.TxHash,
		TraceAddress: itx.TraceAddress,
		Owners:       removeOwnerFrom(prev.Owners, owner),
		Threshold:    threshold.Uint64(),
		MasterCopy:   prev.MasterCopy,
		Nonce:        prev.Nonce,
		CreatedAt:    time.Now().UTC(),
	})
}

func (p *Processor) applySwapOwner(ctx context.Context, safe common.Address, itx *ledger.InternalTx, args map[string]interface{}) error {
	prev, err := p.loadStatus(ctx, safe)
	if err != nil {
		return err
	}
	oldOwner, err := addressArg(args, "oldOwner")
	if err != nil {
		return err
	}
	newOwner, err := addressArg(args, "newOwner")
	if err != nil {
		return err
	}

	return p.Store.AppendSafeStatus(ctx, &ledger.SafeStatus{
		Safe:         safe,
		TxHash:       itx.TxHash,
		TraceAddress: itx.TraceAddress,
		Owners:       swapOwner(prev.Owners, oldOwner, newOwner),
		Threshold:    prev.Threshold,
		MasterCopy:   prev.MasterCopy,
		Nonce:        prev.Nonce,
		CreatedAt:    time.Now().UTC(),
	})
}

func (p *Processor) applyChangeThreshold(ctx context.Context, safe common.Address, itx *ledger.InternalTx, args map[string]interface{}) error {
	prev, err := p.loadStatus(ctx, safe)
	if err != nil {
		return err
	}
	threshold, err := uint256Arg(args, "_threshold")
	if err != nil {
		return err
	}

	return p.Store.AppendSafeStatus(ctx, &ledger.SafeStatus{
		Safe:         safe,
		TxHash:       itx.TxHash,
		TraceAddress: itx.TraceAddress,
		Owners:       prev.Owners,
		Threshold:    threshold.Uint64(),
		MasterCopy:   prev.MasterCopy,
		Nonce:        prev.Nonce,
		CreatedAt:    time.Now().UTC(),
	})
}

func (p *Processor) applyChangeMasterCopy(ctx context.Context, safe common.Address, itx *ledger.InternalTx, args map[string]interface{}) error {
	prev, err := p.loadStatus(ctx, safe)
	if err != nil {
		return err
	}
	masterCopy, err := addressArg(args, "_masterCopy")
	if err != nil {
		return err
	}

	return p.Store.AppendSafeStatus(ctx, &ledger.SafeStatus{
		Safe:         safe,
		TxHash:       itx.TxHash,
		TraceAddress: itx.TraceAddress,
		Owners:       prev.Owners,
		Threshold:    prev.Threshold,
		MasterCopy:   masterCopy,
		Nonce:        prev.Nonce,
		CreatedAt:    time.Now().UTC(),
	})
}

// applyApproveHash records an owner's on-chain approval of a safe_tx_hash.
// The signer is resolved to the immediate caller of this trace frame
// (itx.From) rather than the outermost transaction sender, since
// approveHash is routinely called through a relayer or batch contract —
// itx.From is already msg.sender as seen by the Safe, which is the
// correct owner identity regardless of who paid for the outer tx.
func (p *Processor) applyApproveHash(ctx context.Context, safe common.Address, itx *ledger.InternalTx, args map[string]interface{}) error {
	hashToApprove, err := bytes32Arg(args, "hashToApprove")
	if err != nil {
		return err
	}

	return p.Store.UpsertMultisigConfirmation(ctx, &ledger.MultisigConfirmation{
		SafeTxHash:      hashToApprove,
		Owner:           itx.From,
		SignatureType:   "approved_hash",
		TransactionHash: itx.TxHash,
		BlockNumber:     itx.BlockNumber,
	})
}

// applyExecTransaction is the Safe's core operation: compute the EIP-712
// digest the owners signed, recover every confirmation out of the packed
// signature bundle, record the MultisigTransaction's execution outcome,
// and bump the Safe's nonce. version identifies which Safe contract
// generation encoded this call, since both the EIP-712 layout and the
// gas-refund argument's ABI name (dataGas pre-v1.0.0, baseGas since)
// depend on it.
func (p *Processor) applyExecTransaction(ctx context.Context, safe common.Address, itx *ledger.InternalTx, args map[string]interface{}, version decoder.Version) error {
	prev, err := p.loadStatus(ctx, safe)
	if err != nil {
		return err
	}

	to, err := addressArg(args, "to")
	if err != nil {
		return err
	}
	value, err := uint256Arg(args, "value")
	if err != nil {
		return err
	}
	data, err := bytesArg(args, "data")
	if err != nil {
		return err
	}
	operation, err := uint8Arg(args, "operation")
	if err != nil {
		return err
	}
	safeTxGas, err := uint256Arg(args, "safeTxGas")
	if err != nil {
		return err
	}
	baseGas, _, err := uint256ArgAny(args, "baseGas", "dataGas")
	if err != nil {
		return err
	}
	gasPrice, err := uint256Arg(args, "gasPrice")
	if err != nil {
		return err
	}
	gasToken, err := addressArg(args, "gasToken")
	if err != nil {
		return err
	}
	refundReceiver, err := addressArg(args, "refundReceiver")
	if err != nil {
		return err
	}
	signatures, err := bytesArg(args, "signatures")
	if err != nil {
		return err
	}

	txArgs := ExecTransactionArgs{
		To: to, Value: value, Data: data, Operation: operation,
		SafeTxGas: safeTxGas, BaseGas: baseGas, GasPrice: gasPrice,
		GasToken: gasToken, RefundReceiver: refundReceiver, Signatures: signatures,
	}
	safeTxHash := SafeTxHash(p.ChainID, safe, prev.Nonce, version, txArgs)

	// A Safe never reverts execTransaction's outer call on failure; it
	// emits ExecutionFailed/ExecutionFailure instead. itx.Error only
	// reflects an actual revert, so the execution-failure event log is
	// the only reliable signal of a failed-but-not-reverted execution.
	failed, err := p.Store.ExecutionFailed(ctx, itx.TxHash, safeTxHash)
	if err != nil {
		return err
	}
	successful := itx.Error == "" && !failed
	executedTxHash := itx.TxHash

	// Delete any MultisigTransaction row previously indexed for this
	// (safe, nonce) as executed by this same ethereum tx under a different
	// safe_tx_hash: an earlier pass may
	// have computed the wrong digest (stale master copy / version) before
	// this execTransaction's own hash was confirmed by the chain.
	if err := p.Store.DeleteStaleMultisigTransactions(ctx, safe, itx.TxHash, prev.Nonce, safeTxHash); err != nil {
		return err
	}

	if err := p.Store.UpsertMultisigTransaction(ctx, &ledger.MultisigTransaction{
		SafeTxHash:     safeTxHash,
		Safe:           safe,
		To:             to,
		Value:          value,
		Data:           data,
		Operation:      operation,
		SafeTxGas:      safeTxGas,
		BaseGas:        baseGas,
		GasPrice:       gasPrice,
		GasToken:       gasToken,
		RefundRcvr:     refundReceiver,
		Nonce:          prev.Nonce,
		ExecutedTxHash: &executedTxHash,
		IsExecuted:     true,
		IsSuccessful:   &successful,
		Signatures:     signatures,
	}); err != nil && !chainerr.IsUniqueConflict(err) {
		return err
	}

	for _, conf := range RecoverConfirmations(safeTxHash, signatures) {
		if err := p.Store.UpsertMultisigConfirmation(ctx, &ledger.MultisigConfirmation{
			SafeTxHash:      safeTxHash,
			Owner:           conf.Owner,
			SignatureType:   conf.Type,
			Signature:       conf.Signature,
			TransactionHash: itx.TxHash,
			BlockNumber:     itx.BlockNumber,
		}); err != nil {
			return err
		}
	}

	return p.Store.AppendSafeStatus(ctx, &ledger.SafeStatus{
		Safe:         safe,
		TxHash:       itx.TxHash,
		TraceAddress: itx.TraceAddress,
		Owners:       prev.Owners,
		Threshold:    prev.Threshold,
		MasterCopy:   prev.MasterCopy,
		Nonce:        prev.Nonce + 1,
		CreatedAt:    time.Now().UTC(),
	})
}
