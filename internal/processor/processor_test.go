package processor

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/gnosis/safe-transaction-history/internal/decoder"
	"github.com/gnosis/safe-transaction-history/internal/ledger"
	"github.com/gnosis/safe-transaction-history/internal/ledger/memstore"
	"github.com/gnosis/safe-transaction-history/internal/logging"
	"github.com/gnosis/safe-transaction-history/internal/metrics"
)

// mirrorABI matches abi/safe_v1_1_1.json's function signatures exactly, so
// selectors computed here land on the same registry entries the processor
// under test decodes against. Kept local to the test so the processor
// package under test never imports test-only fixtures.
const mirrorABI = `[
  {"type":"function","name":"setup","inputs":[
    {"name":"_owners","type":"address[]"},
    {"name":"_threshold","type":"uint256"},
    {"name":"to","type":"address"},
    {"name":"data","type":"bytes"},
    {"name":"fallbackHandler","type":"address"},
    {"name":"paymentToken","type":"address"},
    {"name":"payment","type":"uint256"},
    {"name":"paymentReceiver","type":"address"}
  ],"outputs":[]},
  {"type":"function","name":"addOwnerWithThreshold","inputs":[
    {"name":"owner","type":"address"},
    {"name":"_threshold","type":"uint256"}
  ],"outputs":[]},
  {"type":"function","name":"execTransaction","inputs":[
    {"name":"to","type":"address"},
    {"name":"value","type":"uint256"},
    {"name":"data","type":"bytes"},
    {"name":"operation","type":"uint8"},
    {"name":"safeTxGas","type":"uint256"},
    {"name":"baseGas","type":"uint256"},
    {"name":"gasPrice","type":"uint256"},
    {"name":"gasToken","type":"address"},
    {"name":"refundReceiver","type":"address"},
    {"name":"signatures","type":"bytes"}
  ],"outputs":[{"name":"success","type":"bool"}]},
  {"type":"function","name":"approveHash","inputs":[
    {"name":"hashToApprove","type":"bytes32"}
  ],"outputs":[]}
]`

func mustPack(t *testing.T, method string, args ...interface{}) []byte {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(mirrorABI))
	require.NoError(t, err)
	data, err := parsed.Pack(method, args...)
	require.NoError(t, err)
	return data
}

type harness struct {
	store   ledger.Store
	dec     *decoder.Registry
	proc    *Processor
	safe    common.Address
	chainID *big.Int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dec, err := decoder.NewRegistry()
	require.NoError(t, err)

	logger, err := logging.New("development")
	require.NoError(t, err)

	store := memstore.New()
	chainID := big.NewInt(1)

	return &harness{
		store:   store,
		dec:     dec,
		chainID: chainID,
		proc: &Processor{
			Store:                      store,
			Decoder:                    dec,
			ChainID:                    chainID,
			Metrics:                    metrics.NoOp{},
			Logger:                     logger,
			BatchSize:                  50,
			AlwaysMarkUnknownProcessed: true,
		},
	}
}

// seed writes an InternalTx + InternalTxDecoded pair for one Safe-ABI call,
// as the internaltx indexer stream would, and registers the safe as known.
func (h *harness) seed(t *testing.T, ctx context.Context, safe common.Address, from common.Address, traceAddr []int, blockNumber uint64, txPos int, calldata []byte, errStr string) common.Hash {
	t.Helper()
	txHash := crypto.Keccak256Hash(append(calldata, byte(blockNumber), byte(txPos)))

	itx := &ledger.InternalTx{
		TxHash:              txHash,
		TraceAddress:        traceAddr,
		BlockNumber:         blockNumber,
		TransactionPosition: txPos,
		Type:                "call",
		From:                from,
		To:                  safe,
		Value:               big.NewInt(0),
		Data:                calldata,
		Error:               errStr,
	}
	require.NoError(t, h.store.UpsertInternalTx(ctx, itx))

	inv, err := h.dec.Decode(calldata)
	require.NoError(t, err)

	require.NoError(t, h.store.UpsertInternalTxDecoded(ctx, &ledger.InternalTxDecoded{
		TxHash:       txHash,
		TraceAddress: traceAddr,
		Version:      string(inv.Version),
		FunctionName: inv.FunctionName,
	}))

	require.NoError(t, h.store.UpsertSafeContract(ctx, &ledger.SafeContract{Address: safe, SetupTxHash: txHash}))
	return txHash
}

func TestProcessorSetupEstablishesInitialStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	safe := common.HexToAddress("0xAAAA000000000000000000000000000000000A")
	owner := common.HexToAddress("0xBBBB000000000000000000000000000000000B")

	calldata := mustPack(t, "setup",
		[]common.Address{owner}, big.NewInt(1),
		common.Address{}, []byte{}, common.Address{}, common.Address{}, big.NewInt(0), common.Address{})
	h.seed(t, ctx, safe, owner, []int{0}, 100, 0, calldata, "")

	require.NoError(t, h.proc.RunOnce(ctx))

	st, err := h.store.LastSafeStatusFor(ctx, safe)
	require.NoError(t, err)
	require.Len(t, st.Owners, 1)
	require.Equal(t, owner, st.Owners[0])
	require.Equal(t, uint64(1), st.Threshold)
	require.Equal(t, uint64(0), st.Nonce)

	pending, err := h.store.PendingDecodedInvocations(ctx, safe, 10)
	require.NoError(t, err)
	require.Empty(t, pending, "setup should be marked processed")
}

func TestProcessorAddOwnerAppendsNewStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	safe := common.HexToAddress("0xAAAA000000000000000000000000000000000A")
	owner1 := common.HexToAddress("0xBBBB000000000000000000000000000000000B")
	owner2 := common.HexToAddress("0xCCCC000000000000000000000000000000000C")

	setupCalldata := mustPack(t, "setup",
		[]common.Address{owner1}, big.NewInt(1),
		common.Address{}, []byte{}, common.Address{}, common.Address{}, big.NewInt(0), common.Address{})
	h.seed(t, ctx, safe, owner1, []int{0}, 100, 0, setupCalldata, "")

	addCalldata := mustPack(t, "addOwnerWithThreshold", owner2, big.NewInt(2))
	h.seed(t, ctx, safe, safe, []int{0}, 101, 0, addCalldata, "")

	require.NoError(t, h.proc.RunOnce(ctx))

	st, err := h.store.LastSafeStatusFor(ctx, safe)
	require.NoError(t, err)
	require.Len(t, st.Owners, 2)
	require.Equal(t, uint64(2), st.Threshold)
}

func TestProcessorExecTransactionRecoversConfirmationAndBumpsNonce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	safe := common.HexToAddress("0xAAAA000000000000000000000000000000000A")

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey)

	setupCalldata := mustPack(t, "setup",
		[]common.Address{owner}, big.NewInt(1),
		common.Address{}, []byte{}, common.Address{}, common.Address{}, big.NewInt(0), common.Address{})
	h.seed(t, ctx, safe, owner, []int{0}, 100, 0, setupCalldata, "")
	require.NoError(t, h.proc.RunOnce(ctx))

	to := common.HexToAddress("0xDDDD000000000000000000000000000000000D")
	execArgs := ExecTransactionArgs{
		To: to, Value: big.NewInt(5), Data: nil, Operation: 0,
		SafeTxGas: big.NewInt(0), BaseGas: big.NewInt(0), GasPrice: big.NewInt(0),
		GasToken: common.Address{}, RefundReceiver: common.Address{},
	}

	// execTransaction's selector is identical across every embedded Safe
	// ABI version (the argument names differ, not their types), so the
	// registry only ever resolves one of them for this call; ask it which
	// one rather than assuming v1.1.1 so the expected digest always
	// matches what the processor itself will compute.
	probe := mustPack(t, "execTransaction", to, big.NewInt(5), []byte{}, uint8(0),
		big.NewInt(0), big.NewInt(0), big.NewInt(0), common.Address{}, common.Address{}, []byte{})
	probeInv, err := h.dec.Decode(probe)
	require.NoError(t, err)

	digest := SafeTxHash(h.chainID, safe, 0, probeInv.Version, execArgs)
	sig, err := crypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)
	sig[64] += 27

	execCalldata := mustPack(t, "execTransaction", to, big.NewInt(5), []byte{}, uint8(0),
		big.NewInt(0), big.NewInt(0), big.NewInt(0), common.Address{}, common.Address{}, sig)
	h.seed(t, ctx, safe, owner, []int{0}, 101, 0, execCalldata, "")

	require.NoError(t, h.proc.RunOnce(ctx))

	st, err := h.store.LastSafeStatusFor(ctx, safe)
	require.NoError(t, err)
	require.Equal(t, uint64(1), st.Nonce)

	tx, err := h.store.GetMultisigTransaction(ctx, digest)
	require.NoError(t, err)
	require.True(t, tx.IsExecuted)
	require.NotNil(t, tx.IsSuccessful)
	require.True(t, *tx.IsSuccessful)

	confs, err := h.store.GetConfirmations(ctx, digest)
	require.NoError(t, err)
	require.Len(t, confs, 1)
	require.Equal(t, owner, confs[0].Owner)
	require.Equal(t, "eoa", confs[0].SignatureType)
}

// buildExecTransaction packs an execTransaction call and computes the
// digest the processor will independently arrive at, probing the shared
// registry for whichever ABI candidate it resolves for the shared
// selector rather than assuming a fixed version.
func buildExecTransaction(t *testing.T, h *harness, chainID *big.Int, safe common.Address, nonce uint64, key *ecdsaKey, to common.Address, value *big.Int) (common.Hash, []byte) {
	t.Helper()
	probe := mustPack(t, "execTransaction", to, value, []byte{}, uint8(0),
		big.NewInt(0), big.NewInt(0), big.NewInt(0), common.Address{}, common.Address{}, []byte{})
	probeInv, err := h.dec.Decode(probe)
	require.NoError(t, err)

	digest := SafeTxHash(chainID, safe, nonce, probeInv.Version, ExecTransactionArgs{
		To: to, Value: value, Data: nil, Operation: 0,
		SafeTxGas: big.NewInt(0), BaseGas: big.NewInt(0), GasPrice: big.NewInt(0),
		GasToken: common.Address{}, RefundReceiver: common.Address{},
	})

	sig, err := crypto.Sign(digest.Bytes(), key.priv)
	require.NoError(t, err)
	sig[64] += 27

	calldata := mustPack(t, "execTransaction", to, value, []byte{}, uint8(0),
		big.NewInt(0), big.NewInt(0), big.NewInt(0), common.Address{}, common.Address{}, sig)
	return digest, calldata
}

func TestProcessorExecTransactionBackfillsProposedTransaction(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	safe := common.HexToAddress("0xAAAA000000000000000000000000000000000A")

	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(priv.PublicKey)
	key := &ecdsaKey{priv: priv}

	setupCalldata := mustPack(t, "setup",
		[]common.Address{owner}, big.NewInt(1),
		common.Address{}, []byte{}, common.Address{}, common.Address{}, big.NewInt(0), common.Address{})
	h.seed(t, ctx, safe, owner, []int{0}, 100, 0, setupCalldata, "")
	require.NoError(t, h.proc.RunOnce(ctx))

	to := common.HexToAddress("0xDDDD000000000000000000000000000000000D")
	digest, execCalldata := buildExecTransaction(t, h, h.chainID, safe, 0, key, to, big.NewInt(7))

	// An API submission proposed this exact transaction before it was ever
	// executed on-chain: no executed_tx_hash, no signatures yet.
	require.NoError(t, h.store.UpsertMultisigTransaction(ctx, &ledger.MultisigTransaction{
		SafeTxHash: digest,
		Safe:       safe,
		To:         to,
		Value:      big.NewInt(7),
		Operation:  0,
		SafeTxGas:  big.NewInt(0),
		BaseGas:    big.NewInt(0),
		GasPrice:   big.NewInt(0),
		GasToken:   common.Address{},
		RefundRcvr: common.Address{},
		Nonce:      0,
	}))

	h.seed(t, ctx, safe, owner, []int{0}, 101, 0, execCalldata, "")
	require.NoError(t, h.proc.RunOnce(ctx))

	tx, err := h.store.GetMultisigTransaction(ctx, digest)
	require.NoError(t, err)
	require.True(t, tx.IsExecuted)
	require.NotNil(t, tx.ExecutedTxHash)
	require.NotNil(t, tx.IsSuccessful)
	require.True(t, *tx.IsSuccessful)
	require.NotEmpty(t, tx.Signatures)
}

func TestProcessorExecTransactionRecordsExecutionFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	safe := common.HexToAddress("0xAAAA000000000000000000000000000000000A")

	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(priv.PublicKey)
	key := &ecdsaKey{priv: priv}

	setupCalldata := mustPack(t, "setup",
		[]common.Address{owner}, big.NewInt(1),
		common.Address{}, []byte{}, common.Address{}, common.Address{}, big.NewInt(0), common.Address{})
	h.seed(t, ctx, safe, owner, []int{0}, 100, 0, setupCalldata, "")
	require.NoError(t, h.proc.RunOnce(ctx))

	to := common.HexToAddress("0xDDDD000000000000000000000000000000000D")
	digest, execCalldata := buildExecTransaction(t, h, h.chainID, safe, 0, key, to, big.NewInt(3))
	txHash := h.seed(t, ctx, safe, owner, []int{0}, 101, 0, execCalldata, "")

	// The Safe emitted ExecutionFailure for this call without reverting
	// the outer execTransaction call, so itx.Error is empty.
	argsJSON, err := json.Marshal(map[string]string{"safe_tx_hash": digest.Hex(), "outcome": "failure"})
	require.NoError(t, err)
	require.NoError(t, h.store.UpsertEthereumEvent(ctx, &ledger.EthereumEvent{
		TxHash:      txHash,
		LogIndex:    0,
		BlockNumber: 101,
		Address:     safe,
		Arguments:   argsJSON,
	}))

	require.NoError(t, h.proc.RunOnce(ctx))

	tx, err := h.store.GetMultisigTransaction(ctx, digest)
	require.NoError(t, err)
	require.True(t, tx.IsExecuted)
	require.NotNil(t, tx.IsSuccessful)
	require.False(t, *tx.IsSuccessful)
}

func TestProcessorExecTransactionDeletesStaleNonceRow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	safe := common.HexToAddress("0xAAAA000000000000000000000000000000000A")

	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(priv.PublicKey)
	key := &ecdsaKey{priv: priv}

	setupCalldata := mustPack(t, "setup",
		[]common.Address{owner}, big.NewInt(1),
		common.Address{}, []byte{}, common.Address{}, common.Address{}, big.NewInt(0), common.Address{})
	h.seed(t, ctx, safe, owner, []int{0}, 100, 0, setupCalldata, "")
	require.NoError(t, h.proc.RunOnce(ctx))

	to := common.HexToAddress("0xDDDD000000000000000000000000000000000D")
	digest, execCalldata := buildExecTransaction(t, h, h.chainID, safe, 0, key, to, big.NewInt(9))
	txHash := crypto.Keccak256Hash(append(execCalldata, byte(101), byte(0)))

	// A stale row, indexed under the wrong safe_tx_hash (e.g. computed
	// against an earlier master-copy guess) for the very transaction hash
	// and nonce this execTransaction call will now correctly resolve.
	staleHash := crypto.Keccak256Hash([]byte("stale"))
	require.NoError(t, h.store.UpsertMultisigTransaction(ctx, &ledger.MultisigTransaction{
		SafeTxHash:     staleHash,
		Safe:           safe,
		To:             to,
		Value:          big.NewInt(9),
		Operation:      0,
		SafeTxGas:      big.NewInt(0),
		BaseGas:        big.NewInt(0),
		GasPrice:       big.NewInt(0),
		GasToken:       common.Address{},
		RefundRcvr:     common.Address{},
		Nonce:          0,
		ExecutedTxHash: &txHash,
		IsExecuted:     true,
	}))

	h.seed(t, ctx, safe, owner, []int{0}, 101, 0, execCalldata, "")
	require.NoError(t, h.proc.RunOnce(ctx))

	_, err = h.store.GetMultisigTransaction(ctx, staleHash)
	require.ErrorIs(t, err, ledger.ErrNotFound, "stale row sharing (safe, nonce, ethereum_tx) should be deleted")

	tx, err := h.store.GetMultisigTransaction(ctx, digest)
	require.NoError(t, err)
	require.True(t, tx.IsExecuted)
}

type ecdsaKey struct {
	priv *ecdsa.PrivateKey
}

func TestProcessorSkipsOutOfOrderInvocation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	safe := common.HexToAddress("0xAAAA000000000000000000000000000000000A")
	owner := common.HexToAddress("0xBBBB000000000000000000000000000000000B")

	// addOwnerWithThreshold before any setup: loadStatus reports an
	// invariant violation, which applyAddOwner surfaces as NonRetryable
	// (not Fatal) so it is skipped rather than blocking the queue.
	addCalldata := mustPack(t, "addOwnerWithThreshold", owner, big.NewInt(1))
	h.seed(t, ctx, safe, safe, []int{0}, 100, 0, addCalldata, "")

	require.NoError(t, h.proc.RunOnce(ctx))

	_, err := h.store.LastSafeStatusFor(ctx, safe)
	require.ErrorIs(t, err, ledger.ErrNotFound)

	pending, err := h.store.PendingDecodedInvocations(ctx, safe, 10)
	require.NoError(t, err)
	require.Empty(t, pending, "out-of-order call should still be marked processed, not retried forever")
}
