// Package proxyfactory implements the proxy-factory indexer.Stream: scans
// ProxyCreation logs emitted by the Safe proxy factory contract(s) and
// registers each newly created proxy as a SafeContract and a monitored
// address, so the other two streams pick it up on their next pass.
package proxyfactory

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/gnosis/safe-transaction-history/internal/chain"
	"github.com/gnosis/safe-transaction-history/internal/chainerr"
	"github.com/gnosis/safe-transaction-history/internal/ledger"
)

// ProxyCreationTopic is keccak256("ProxyCreation(address,address)"), the
// v1.1.1+ factory signature (proxy, singleton). Older v1.0.0 factories
// emit ProxyCreation(address) with a different topic; both are matched
// below via a two-element topic filter.
var ProxyCreationTopic = crypto.Keccak256Hash([]byte("ProxyCreation(address,address)"))
var ProxyCreationTopicLegacy = crypto.Keccak256Hash([]byte("ProxyCreation(address)"))

type Stream struct {
	Chain           chain.Client
	Store           ledger.Store
	FactoryAddresses []common.Address
	Logger          *zap.Logger
}

const cursorAddress = "proxyfactory-global-cursor"

func (s *Stream) Name() string { return "proxyfactory" }

func (s *Stream) Cursor(ctx context.Context) (uint64, error) {
	m, err := s.Store.GetMonitoredAddress(ctx, sentinelAddress())
	if err != nil {
		if err == ledger.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	return m.ProxyFactoryCursor, nil
}

func (s *Stream) DiscoverAndPersist(ctx context.Context, fromBlock, toBlock uint64) (int, error) {
	logs, err := s.Chain.GetLogs(ctx, chain.LogFilterQuery{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Addresses: s.FactoryAddresses,
		Topics:    [][]common.Hash{{ProxyCreationTopic, ProxyCreationTopicLegacy}},
	})
	if err != nil {
		return 0, err
	}

	for _, log := range logs {
		var proxy, singleton common.Address
		switch {
		case len(log.Topics) > 0 && log.Topics[0] == ProxyCreationTopic && len(log.Data) >= 64:
			// ProxyCreation(address proxy, address singleton)
			proxy = common.BytesToAddress(log.Data[:32])
			singleton = common.BytesToAddress(log.Data[32:64])
		case len(log.Data) >= 32:
			// legacy ProxyCreation(address proxy)
			proxy = common.BytesToAddress(log.Data[:32])
		default:
			continue
		}

		factory := log.Address
		sc := &ledger.SafeContract{
			Address:     proxy,
			MasterCopy:  singleton,
			SetupTxHash: log.TxHash,
			FactoryAddr: &factory,
		}
		if err := s.Store.UpsertSafeContract(ctx, sc); err != nil && !chainerr.IsUniqueConflict(err) {
			return 0, err
		}
		if err := s.Store.UpsertMonitoredAddress(ctx, &ledger.MonitoredAddress{Address: proxy}); err != nil {
			return 0, err
		}
	}

	return len(logs), nil
}

func (s *Stream) AdvanceCursor(ctx context.Context, toBlock uint64) error {
	m, err := s.Store.GetMonitoredAddress(ctx, sentinelAddress())
	if err != nil {
		if err == ledger.ErrNotFound {
			m = &ledger.MonitoredAddress{Address: sentinelAddress()}
		} else {
			return err
		}
	}
	m.ProxyFactoryCursor = toBlock
	return s.Store.UpsertMonitoredAddress(ctx, m)
}

// sentinelAddress holds the proxy-factory stream's single global cursor,
// since ProxyCreation discovery isn't scoped to any one monitored Safe.
func sentinelAddress() common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(cursorAddress))[:20])
}
