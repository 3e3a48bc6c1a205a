package processor

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnosis/safe-transaction-history/internal/decoder"
)

func testArgs() ExecTransactionArgs {
	return ExecTransactionArgs{
		To:             common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Value:          big.NewInt(1000000000000000000),
		Data:           nil,
		Operation:      0,
		SafeTxGas:      big.NewInt(0),
		BaseGas:        big.NewInt(0),
		GasPrice:       big.NewInt(0),
		GasToken:       common.Address{},
		RefundReceiver: common.Address{},
	}
}

func TestSafeTxHashDeterministic(t *testing.T) {
	safe := common.HexToAddress("0x2222222222222222222222222222222222222222")
	chainID := big.NewInt(1)

	h1 := SafeTxHash(chainID, safe, 0, decoder.VersionV111, testArgs())
	h2 := SafeTxHash(chainID, safe, 0, decoder.VersionV111, testArgs())
	assert.Equal(t, h1, h2)
}

func TestSafeTxHashVariesWithNonce(t *testing.T) {
	safe := common.HexToAddress("0x2222222222222222222222222222222222222222")
	chainID := big.NewInt(1)

	h1 := SafeTxHash(chainID, safe, 0, decoder.VersionV111, testArgs())
	h2 := SafeTxHash(chainID, safe, 1, decoder.VersionV111, testArgs())
	assert.NotEqual(t, h1, h2)
}

func TestSafeTxHashVariesWithChainID(t *testing.T) {
	safe := common.HexToAddress("0x2222222222222222222222222222222222222222")

	h1 := SafeTxHash(big.NewInt(1), safe, 0, decoder.VersionV111, testArgs())
	h2 := SafeTxHash(big.NewInt(137), safe, 0, decoder.VersionV111, testArgs())
	assert.NotEqual(t, h1, h2)
}

func TestSafeTxHashVariesWithVersion(t *testing.T) {
	safe := common.HexToAddress("0x2222222222222222222222222222222222222222")
	chainID := big.NewInt(1)

	h001 := SafeTxHash(chainID, safe, 0, decoder.VersionV001, testArgs())
	h100 := SafeTxHash(chainID, safe, 0, decoder.VersionV100, testArgs())
	h111 := SafeTxHash(chainID, safe, 0, decoder.VersionV111, testArgs())

	assert.NotEqual(t, h001, h100, "dataGas vs baseGas typehash should diverge")
	assert.NotEqual(t, h100, h111, "domain separator with/without chainId should diverge")
	assert.NotEqual(t, h001, h111)
}

func TestRecoverConfirmationsECDSA(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey)

	safe := common.HexToAddress("0x2222222222222222222222222222222222222222")
	digest := SafeTxHash(big.NewInt(1), safe, 0, decoder.VersionV111, testArgs())

	sig, err := crypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)
	sig[64] += 27 // plain-ECDSA packing per the Safe contract's v convention

	confs := RecoverConfirmations(digest, sig)
	require.Len(t, confs, 1)
	assert.Equal(t, owner, confs[0].Owner)
	assert.Equal(t, "eoa", confs[0].Type)
}

func TestRecoverConfirmationsApprovedHash(t *testing.T) {
	owner := common.HexToAddress("0x3333333333333333333333333333333333333333")
	safe := common.HexToAddress("0x2222222222222222222222222222222222222222")
	digest := SafeTxHash(big.NewInt(1), safe, 0, decoder.VersionV111, testArgs())

	sig := make([]byte, 65)
	copy(sig[:32], common.LeftPadBytes(owner.Bytes(), 32))
	sig[64] = sigTypeApprovedHash

	confs := RecoverConfirmations(digest, sig)
	require.Len(t, confs, 1)
	assert.Equal(t, owner, confs[0].Owner)
	assert.Equal(t, "approved_hash", confs[0].Type)
}

func TestRecoverConfirmationsMalformedBundle(t *testing.T) {
	digest := common.HexToHash("0xdeadbeef")
	assert.Nil(t, RecoverConfirmations(digest, make([]byte, 10)))
	assert.Nil(t, RecoverConfirmations(digest, nil))
}

func TestRecoverConfirmationsMultipleSigners(t *testing.T) {
	key1, _ := crypto.GenerateKey()
	key2, _ := crypto.GenerateKey()
	owner1 := crypto.PubkeyToAddress(key1.PublicKey)
	owner2 := crypto.PubkeyToAddress(key2.PublicKey)

	safe := common.HexToAddress("0x2222222222222222222222222222222222222222")
	digest := SafeTxHash(big.NewInt(1), safe, 3, decoder.VersionV111, testArgs())

	sig1, _ := crypto.Sign(digest.Bytes(), key1)
	sig1[64] += 27
	sig2, _ := crypto.Sign(digest.Bytes(), key2)
	sig2[64] += 27

	bundle := append(append([]byte{}, sig1...), sig2...)
	confs := RecoverConfirmations(digest, bundle)
	require.Len(t, confs, 2)
	assert.Equal(t, owner1, confs[0].Owner)
	assert.Equal(t, owner2, confs[1].Owner)
}
