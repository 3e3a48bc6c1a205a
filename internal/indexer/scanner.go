// Package indexer implements the range-scanning loop shared by all three
// Safe indexers (internal-tx, ERC-20/721 events, proxy-factory). Each
// indexer plugs into the same Scanner by implementing Stream; the Scanner
// owns windowing, the reorg safety margin, backoff and cursor advancement.
package indexer

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/gnosis/safe-transaction-history/internal/chain"
	"github.com/gnosis/safe-transaction-history/internal/metrics"
)

const (
	backoffBase = 1 * time.Second
	backoffCap  = 60 * time.Second
)

// Stream is one range-scanning indexer's domain-specific slice of work:
// discover items in [fromBlock, toBlock] and persist them.
type Stream interface {
	// Name identifies the stream in logs and metrics ("internaltx",
	// "events", "proxyfactory").
	Name() string

	// Cursor returns the last fully-processed block number for this
	// stream, the starting point of the next window.
	Cursor(ctx context.Context) (uint64, error)

	// DiscoverAndPersist scans [fromBlock, toBlock] and persists whatever
	// it finds. It MUST be idempotent: re-running the same window after a
	// partial failure must not duplicate ledger rows. Returns the number
	// of items found, for metrics.
	DiscoverAndPersist(ctx context.Context, fromBlock, toBlock uint64) (itemsFound int, err error)

	// AdvanceCursor persists the new cursor position after a window
	// completes successfully.
	AdvanceCursor(ctx context.Context, toBlock uint64) error
}

// Scanner runs one Stream's periodic scan loop: pick a window bounded by
// the chain tip minus a reorg safety margin and the stream's own
// per-pass block limit, discover and persist, advance the cursor, repeat.
type Scanner struct {
	Stream       Stream
	Chain        chain.Client
	Metrics      metrics.Metrics
	Logger       *zap.Logger
	BlockLimit   uint64
	ReorgBlocks  uint64
	PollInterval time.Duration
}

// Run drives the scan loop until ctx is cancelled. Suspension points only
// occur at RPC calls and ledger commits, so cancellation is observed
// promptly between windows, never mid-write.
func (s *Scanner) Run(ctx context.Context) {
	logger := s.Logger.With(zap.String("stream", s.Stream.Name()))
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		advanced, err := s.runOnce(ctx)
		if err != nil {
			attempt++
			delay := backoffDelay(attempt)
			s.Metrics.RecordScan(s.Stream.Name(), 0, 0, false)
			logger.Warn("scan pass failed, backing off",
				zap.Error(err), zap.Duration("delay", delay), zap.Int("attempt", attempt))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		if !advanced {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.PollInterval):
			}
		}
	}
}

// runOnce performs one window: if there's nothing new to scan it returns
// (false, nil) so Run waits out the poll interval instead of busy-looping.
func (s *Scanner) runOnce(ctx context.Context) (advanced bool, err error) {
	cursor, err := s.Stream.Cursor(ctx)
	if err != nil {
		return false, err
	}

	tip, err := s.Chain.BlockNumber(ctx)
	if err != nil {
		return false, err
	}
	if tip < s.ReorgBlocks {
		return false, nil
	}
	safeTip := tip - s.ReorgBlocks

	if cursor >= safeTip {
		return false, nil
	}

	toBlock := cursor + s.BlockLimit
	if toBlock > safeTip {
		toBlock = safeTip
	}
	fromBlock := cursor + 1
	if fromBlock > toBlock {
		return false, nil
	}

	found, err := s.Stream.DiscoverAndPersist(ctx, fromBlock, toBlock)
	if err != nil {
		return false, err
	}

	if err := s.Stream.AdvanceCursor(ctx, toBlock); err != nil {
		return false, err
	}

	s.Metrics.RecordScan(s.Stream.Name(), toBlock-fromBlock+1, found, true)
	return true, nil
}

// backoffDelay computes exponential backoff with full jitter, base 1s
// capped at 60s: delay = random(0, min(cap, base * 2^attempt)).
func backoffDelay(attempt int) time.Duration {
	max := backoffBase * time.Duration(1<<uint(minInt(attempt, 6)))
	if max > backoffCap {
		max = backoffCap
	}
	return time.Duration(rand.Int63n(int64(max)))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
