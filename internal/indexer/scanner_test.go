package indexer_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gnosis/safe-transaction-history/internal/chain"
	"github.com/gnosis/safe-transaction-history/internal/indexer"
	"github.com/gnosis/safe-transaction-history/internal/metrics"
)

// fakeChain implements only BlockNumber; every other chain.Client method
// panics if a test exercises it, since the scan loop only needs the tip.
type fakeChain struct {
	chain.Client
	tip atomic.Uint64
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	return f.tip.Load(), nil
}

type fakeStream struct {
	cursor    atomic.Uint64
	persistFn func(ctx context.Context, from, to uint64) (int, error)
	advances  atomic.Int64
}

func (s *fakeStream) Name() string { return "fake" }

func (s *fakeStream) Cursor(context.Context) (uint64, error) {
	return s.cursor.Load(), nil
}

func (s *fakeStream) DiscoverAndPersist(ctx context.Context, from, to uint64) (int, error) {
	if s.persistFn != nil {
		return s.persistFn(ctx, from, to)
	}
	return 0, nil
}

func (s *fakeStream) AdvanceCursor(_ context.Context, to uint64) error {
	s.cursor.Store(to)
	s.advances.Add(1)
	return nil
}

func TestScannerAdvancesWithinReorgSafetyWindow(t *testing.T) {
	fc := &fakeChain{}
	fc.tip.Store(1000)

	stream := &fakeStream{}
	sc := &indexer.Scanner{
		Stream:       stream,
		Chain:        fc,
		Metrics:      metrics.NoOp{},
		Logger:       zap.NewNop(),
		BlockLimit:   100,
		ReorgBlocks:  200,
		PollInterval: time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	sc.Run(ctx)

	// safeTip = 1000 - 200 = 800; BlockLimit 100 caps each window, so the
	// cursor should have advanced in 100-block steps up to 800.
	require.Equal(t, uint64(800), stream.cursor.Load())
	require.True(t, stream.advances.Load() >= 8)
}

func TestScannerDoesNothingInsideReorgWindow(t *testing.T) {
	fc := &fakeChain{}
	fc.tip.Store(100)

	stream := &fakeStream{}
	stream.cursor.Store(100)
	sc := &indexer.Scanner{
		Stream:       stream,
		Chain:        fc,
		Metrics:      metrics.NoOp{},
		Logger:       zap.NewNop(),
		BlockLimit:   100,
		ReorgBlocks:  200,
		PollInterval: 10 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	sc.Run(ctx)

	require.Equal(t, int64(0), stream.advances.Load())
}

func TestScannerBacksOffOnPersistError(t *testing.T) {
	fc := &fakeChain{}
	fc.tip.Store(1000)

	var attempts atomic.Int32
	stream := &fakeStream{
		persistFn: func(context.Context, uint64, uint64) (int, error) {
			attempts.Add(1)
			return 0, errors.New("boom")
		},
	}
	sc := &indexer.Scanner{
		Stream:       stream,
		Chain:        fc,
		Metrics:      metrics.NoOp{},
		Logger:       zap.NewNop(),
		BlockLimit:   100,
		ReorgBlocks:  200,
		PollInterval: time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	sc.Run(ctx)

	require.Equal(t, int64(0), stream.advances.Load())
	require.True(t, attempts.Load() > 0)
}
