package memstore_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/gnosis/safe-transaction-history/internal/ledger"
	"github.com/gnosis/safe-transaction-history/internal/ledger/memstore"
)

func TestSafeContractUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	_, err := store.GetSafeContract(ctx, addr)
	require.ErrorIs(t, err, ledger.ErrNotFound)

	sc := &ledger.SafeContract{
		Address:     addr,
		MasterCopy:  common.HexToAddress("0x2222222222222222222222222222222222222222"),
		SetupTxHash: common.HexToHash("0xaa"),
	}
	require.NoError(t, store.UpsertSafeContract(ctx, sc))

	got, err := store.GetSafeContract(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, sc.MasterCopy, got.MasterCopy)

	all, err := store.ListSafeContracts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestMultisigTransactionAndConfirmations(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	safeTxHash := common.HexToHash("0xbeef")
	owner := common.HexToAddress("0x3333333333333333333333333333333333333333")

	_, err := store.GetMultisigTransaction(ctx, safeTxHash)
	require.ErrorIs(t, err, ledger.ErrNotFound)

	require.NoError(t, store.UpsertMultisigTransaction(ctx, &ledger.MultisigTransaction{
		SafeTxHash: safeTxHash,
		Value:      big.NewInt(0),
		Nonce:      1,
	}))
	require.NoError(t, store.UpsertMultisigConfirmation(ctx, &ledger.MultisigConfirmation{
		SafeTxHash: safeTxHash,
		Owner:      owner,
	}))

	got, err := store.GetMultisigTransaction(ctx, safeTxHash)
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Nonce)

	confs, err := store.GetConfirmations(ctx, safeTxHash)
	require.NoError(t, err)
	require.Len(t, confs, 1)
	require.Equal(t, owner, confs[0].Owner)
}

func TestTokenInfoUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	token := common.HexToAddress("0x4444444444444444444444444444444444444444")
	_, err := store.GetTokenInfo(ctx, token)
	require.ErrorIs(t, err, ledger.ErrNotFound)

	require.NoError(t, store.UpsertTokenInfo(ctx, &ledger.TokenInfo{
		Address: token, Name: "Kitty", Symbol: "CK", Type: ledger.TokenTypeERC721,
	}))

	got, err := store.GetTokenInfo(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "Kitty", got.Name)
	require.Equal(t, "CK", got.Symbol)
}

func TestERC721TransferPagination(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	owner := common.HexToAddress("0x5555555555555555555555555555555555555555")
	token := common.HexToAddress("0x6666666666666666666666666666666666666666")

	for i := 0; i < 5; i++ {
		require.NoError(t, store.UpsertERC721Transfer(ctx, &ledger.ERC721Transfer{
			TxHash:      common.BigToHash(big.NewInt(int64(i))),
			Token:       token,
			To:          owner,
			TokenID:     big.NewInt(int64(i)),
			BlockNumber: uint64(i),
		}))
	}

	page1, err := store.GetERC721Transfers(ctx, owner, 2, 0)
	require.NoError(t, err)
	require.Len(t, page1, 2)

	page2, err := store.GetERC721Transfers(ctx, owner, 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)

	page3, err := store.GetERC721Transfers(ctx, owner, 2, 4)
	require.NoError(t, err)
	require.Len(t, page3, 1)
}

func TestMonitoredAddressUpsertAndList(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	addr := common.HexToAddress("0x7777777777777777777777777777777777777777")
	_, err := store.GetMonitoredAddress(ctx, addr)
	require.ErrorIs(t, err, ledger.ErrNotFound)

	require.NoError(t, store.UpsertMonitoredAddress(ctx, &ledger.MonitoredAddress{Address: addr, EventsCursor: 100}))

	got, err := store.GetMonitoredAddress(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, uint64(100), got.EventsCursor)

	all, err := store.ListMonitoredAddresses(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}
