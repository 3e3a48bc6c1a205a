package ledger_test

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/gnosis/safe-transaction-history/internal/ledger"
	"github.com/gnosis/safe-transaction-history/internal/ledger/memstore"
)

type recordingPublisher struct {
	safeStatusCalls int
	multisigTxCalls int
	closed          bool
}

func (p *recordingPublisher) PublishSafeStatusChanged(context.Context, common.Address, common.Hash) error {
	p.safeStatusCalls++
	return nil
}

func (p *recordingPublisher) PublishMultisigTransactionChanged(context.Context, common.Hash) error {
	p.multisigTxCalls++
	return nil
}

func (p *recordingPublisher) Close() error {
	p.closed = true
	return nil
}

func TestWithPublisherNotifiesOnMutation(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	store := ledger.WithPublisher(memstore.New(), pub)

	safe := common.HexToAddress("0xAAAA000000000000000000000000000000000A")
	txHash := common.HexToHash("0x01")

	require.NoError(t, store.AppendSafeStatus(ctx, &ledger.SafeStatus{
		Safe: safe, TxHash: txHash, Owners: []common.Address{safe}, Threshold: 1,
	}))
	require.Equal(t, 1, pub.safeStatusCalls)

	safeTxHash := common.HexToHash("0x02")
	require.NoError(t, store.UpsertMultisigTransaction(ctx, &ledger.MultisigTransaction{
		SafeTxHash: safeTxHash, Safe: safe,
	}))
	require.Equal(t, 1, pub.multisigTxCalls)

	require.NoError(t, store.Close())
	require.True(t, pub.closed)
}
