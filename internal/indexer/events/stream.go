// Package events implements the ERC-20/721 Transfer event indexer.Stream:
// a global get_logs scan for the Transfer topic, filtered down to events
// touching a monitored Safe address, split into the ERC-20 and ERC-721
// transfer projections by argument shape (value vs. indexed tokenId). It
// also captures each watched Safe's own ExecutionFailed/ExecutionFailure
// events, the processor's only source for whether an execTransaction call
// actually failed (a Safe never reverts the outer call on failure).
package events

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/gnosis/safe-transaction-history/internal/chain"
	"github.com/gnosis/safe-transaction-history/internal/chainerr"
	"github.com/gnosis/safe-transaction-history/internal/ledger"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)"), shared
// by the ERC-20 and ERC-721 Transfer event signatures.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Safe contracts emit one of these on every execTransaction call, never
// reverting the outer call even on failure; safe_tx_hash is always the
// first 32 bytes of Data. The event was renamed and gained a payment
// argument between the pre-1.1.1 and 1.1.1+ contracts, so both signatures
// are watched.
var (
	executionFailedTopic  = crypto.Keccak256Hash([]byte("ExecutionFailed(bytes32)"))
	executionFailureTopic = crypto.Keccak256Hash([]byte("ExecutionFailure(bytes32,uint256)"))
)

type AddressLister func(ctx context.Context) ([]common.Address, error)

type Stream struct {
	Chain     chain.Client
	Store     ledger.Store
	Addresses AddressLister
	Logger    *zap.Logger
}

func (s *Stream) Name() string { return "events" }

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
		if first || m.EventsCursor < min {
			min = m.EventsCursor
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
	watched := make(map[common.Address]bool, len(addrs))
	for _, a := range addrs {
		watched[a] = true
	}

	logs, err := s.Chain.GetLogs(ctx, chain.LogFilterQuery{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Topics:    [][]common.Hash{{TransferTopic, executionFailedTopic, executionFailureTopic}},
	})
	if err != nil {
		return 0, err
	}

	relevant := 0
	for _, log := range logs {
		if len(log.Topics) > 0 && (log.Topics[0] == executionFailedTopic || log.Topics[0] == executionFailureTopic) {
			if !watched[log.Address] || len(log.Data) < 32 {
				continue
			}
			relevant++

			safeTxHash := common.BytesToHash(log.Data[:32])
			argsJSON, _ := json.Marshal(map[string]string{"safe_tx_hash": safeTxHash.Hex(), "outcome": "failure"})
			event := &ledger.EthereumEvent{
				TxHash:      log.TxHash,
				LogIndex:    log.Index,
				BlockNumber: log.BlockNumber,
				Address:     log.Address,
				Topics:      log.Topics,
				Arguments:   argsJSON,
			}
			if err := s.Store.UpsertEthereumEvent(ctx, event); err != nil && !chainerr.IsUniqueConflict(err) {
				return 0, err
			}
			continue
		}

		from, to, ok := transferParticipants(log)
		if !ok || (!watched[from] && !watched[to]) {
			continue
		}
		relevant++

		argsJSON, _ := json.Marshal(map[string]string{"from": from.Hex(), "to": to.Hex()})
		event := &ledger.EthereumEvent{
			TxHash:      log.TxHash,
			LogIndex:    log.Index,
			BlockNumber: log.BlockNumber,
			Address:     log.Address,
			Topics:      log.Topics,
			Arguments:   argsJSON,
		}
		if err := s.Store.UpsertEthereumEvent(ctx, event); err != nil && !chainerr.IsUniqueConflict(err) {
			return 0, err
		}

		if len(log.Topics) == 4 {
			// ERC-721: Transfer(address indexed from, address indexed to, uint256 indexed tokenId)
			tokenID := new(big.Int).SetBytes(log.Topics[3].Bytes())
			t := &ledger.ERC721Transfer{
				TxHash: log.TxHash, LogIndex: log.Index, Token: log.Address,
				From: from, To: to, TokenID: tokenID, BlockNumber: log.BlockNumber,
			}
			if err := s.Store.UpsertERC721Transfer(ctx, t); err != nil && !chainerr.IsUniqueConflict(err) {
				return 0, err
			}
		} else if len(log.Data) >= 32 {
			// ERC-20: Transfer(address indexed from, address indexed to, uint256 value)
			value := new(big.Int).SetBytes(log.Data[:32])
			t := &ledger.ERC20Transfer{
				TxHash: log.TxHash, LogIndex: log.Index, Token: log.Address,
				From: from, To: to, Value: value, BlockNumber: log.BlockNumber,
			}
			if err := s.Store.UpsertERC20Transfer(ctx, t); err != nil && !chainerr.IsUniqueConflict(err) {
				return 0, err
			}
		}
	}

	return relevant, nil
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
		m.EventsCursor = toBlock
		if err := s.Store.UpsertMonitoredAddress(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func transferParticipants(log chain.Log) (from, to common.Address, ok bool) {
	if len(log.Topics) < 3 {
		return common.Address{}, common.Address{}, false
	}
	return common.BytesToAddress(log.Topics[1].Bytes()), common.BytesToAddress(log.Topics[2].Bytes()), true
}
