// Package internaltx implements the internal-transaction indexer.Stream:
// trace_filter over every monitored Safe address, persisting each call
// frame and, for frames whose input decodes against the Safe ABI, the
// decoded invocation the processor consumes.
package internaltx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/gnosis/safe-transaction-history/internal/chain"
	"github.com/gnosis/safe-transaction-history/internal/chainerr"
	"github.com/gnosis/safe-transaction-history/internal/decoder"
	"github.com/gnosis/safe-transaction-history/internal/ledger"
	"github.com/gnosis/safe-transaction-history/internal/logging"
)

type AddressLister func(ctx context.Context) ([]common.Address, error)

type Stream struct {
	Chain     chain.Client
	Store     ledger.Store
	Decoder   *decoder.Registry
	Addresses AddressLister
	Logger    *zap.Logger
}

func (s *Stream) Name() string { return "internaltx" }

func (s *Stream) Cursor(ctx context.Context) (uint64, error) {
	addrs, err := s.Addresses(ctx)
	if err != nil {
		return 0, err
	}
	if len(addrs) == 0 {
		return 0, nil
	}

	var min uint64
	first := true
	for _, addr := range addrs {
		m, err := s.Store.GetMonitoredAddress(ctx, addr)
		if err != nil {
			if err == ledger.ErrNotFound {
				return 0, nil
			}
			return 0, err
		}
		if first || m.InternalTxCursor < min {
			min = m.InternalTxCursor
			first = false
		}
	}
	return min, nil
}

func (s *Stream) DiscoverAndPersist(ctx context.Context, fromBlock, toBlock uint64) (int, error) {
	addrs, err := s.Addresses(ctx)
	if err != nil {
		return 0, err
	}
	if len(addrs) == 0 {
		return 0, nil
	}

	traces, err := s.Chain.TraceFilter(ctx, chain.TraceFilterQuery{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		ToAddress: addrs,
	})
	if err != nil {
		return 0, err
	}

	for _, t := range traces {
		itx := &ledger.InternalTx{
			TxHash:              t.TransactionHash,
			TraceAddress:        t.TraceAddress,
			BlockNumber:         t.BlockNumber,
			TransactionPosition: t.TransactionPosition,
			Type:                string(t.Type),
			From:                t.From,
			To:                  t.To,
			Value:               t.Value,
			Gas:                 t.Gas,
			GasUsed:             t.GasUsed,
			Data:                t.Input,
			Output:              t.Output,
			Error:               t.Error,
		}
		if err := s.Store.UpsertInternalTx(ctx, itx); err != nil && !chainerr.IsUniqueConflict(err) {
			return 0, err
		}

		if len(t.Input) < 4 {
			continue
		}
		inv, err := s.Decoder.Decode(t.Input)
		if err != nil {
			if chainerr.IsNonRetryable(err) {
				// CannotDecode: not a Safe-ABI call, silently skipped per
				// the data-shape error taxonomy.
				s.Logger.Debug("skipping undecodable call",
					zap.String(logging.FieldTxHash, t.TransactionHash.Hex()))
				continue
			}
			return 0, err
		}

		args, err := json.Marshal(inv.Arguments)
		if err != nil {
			return 0, fmt.Errorf("marshal decoded arguments: %w", err)
		}
		decoded := &ledger.InternalTxDecoded{
			TxHash:       t.TransactionHash,
			TraceAddress: t.TraceAddress,
			Version:      string(inv.Version),
			FunctionName: inv.FunctionName,
			Arguments:    args,
		}
		if err := s.Store.UpsertInternalTxDecoded(ctx, decoded); err != nil && !chainerr.IsUniqueConflict(err) {
			return 0, err
		}
	}

	return len(traces), nil
}

func (s *Stream) AdvanceCursor(ctx context.Context, toBlock uint64) error {
	addrs, err := s.Addresses(ctx)
	if err != nil {
		return err
	}
	for _, addr := range addrs {
		m, err := s.Store.GetMonitoredAddress(ctx, addr)
		if err != nil {
			if err == ledger.ErrNotFound {
				m = &ledger.MonitoredAddress{Address: addr}
			} else {
				return err
			}
		}
		m.InternalTxCursor = toBlock
		if err := s.Store.UpsertMonitoredAddress(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
