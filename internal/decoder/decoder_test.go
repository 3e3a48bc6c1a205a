package decoder_test

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/stretchr/testify/require"

	"github.com/gnosis/safe-transaction-history/internal/chainerr"
	"github.com/gnosis/safe-transaction-history/internal/decoder"
)

const approveHashABI = `[{"type":"function","name":"approveHash","inputs":[{"name":"hashToApprove","type":"bytes32"}],"outputs":[]}]`

func TestDecodeApproveHash(t *testing.T) {
	reg, err := decoder.NewRegistry()
	require.NoError(t, err)

	parsed, err := abi.JSON(bytes.NewReader([]byte(approveHashABI)))
	require.NoError(t, err)

	var hash [32]byte
	copy(hash[:], []byte("some safe tx hash padded to 32b"))
	data, err := parsed.Pack("approveHash", hash)
	require.NoError(t, err)

	inv, err := reg.Decode(data)
	require.NoError(t, err)
	require.Equal(t, "approveHash", inv.FunctionName)
	require.Equal(t, hash, inv.Arguments["hashToApprove"])
}

func TestDecodeUnrecognizedSelectorIsNonRetryable(t *testing.T) {
	reg, err := decoder.NewRegistry()
	require.NoError(t, err)

	_, err = reg.Decode([]byte{0xde, 0xad, 0xbe, 0xef, 0x01})
	require.Error(t, err)

	var ierr *chainerr.IndexError
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, chainerr.ErrCodeCannotDecode, ierr.Code)
	require.Equal(t, chainerr.NonRetryable, ierr.Classification)
}

func TestDecodeShortDataIsNonRetryable(t *testing.T) {
	reg, err := decoder.NewRegistry()
	require.NoError(t, err)

	_, err = reg.Decode([]byte{0x01, 0x02})
	require.Error(t, err)

	var ierr *chainerr.IndexError
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, chainerr.ErrCodeCannotDecode, ierr.Code)
}

func TestDecodeMalformedArgsIsFatal(t *testing.T) {
	reg, err := decoder.NewRegistry()
	require.NoError(t, err)

	parsed, err := abi.JSON(bytes.NewReader([]byte(approveHashABI)))
	require.NoError(t, err)

	sel := parsed.Methods["approveHash"].ID
	truncated := append(append([]byte{}, sel...), 0x01, 0x02, 0x03)

	_, err = reg.Decode(truncated)
	require.Error(t, err)

	var ierr *chainerr.IndexError
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, chainerr.ErrCodeUnexpectedDecoding, ierr.Code)
	require.Equal(t, chainerr.Fatal, ierr.Classification)
}
