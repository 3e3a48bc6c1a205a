package processor

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gnosis/safe-transaction-history/internal/decoder"
)

// Domain separator layout changed at v1.1.1, when chainId was added to
// defend against cross-chain replay; v0.0.1 and v1.0.0 hash only the
// verifying contract. The SafeTx struct hash changed even earlier: v0.0.1
// named the refund-on-top-of-safeTxGas field "dataGas", renamed to
// "baseGas" from v1.0.0 onward.
var (
	domainSeparatorTypehashWithChainID = crypto.Keccak256Hash([]byte("EIP712Domain(uint256 chainId,address verifyingContract)"))
	domainSeparatorTypehashNoChainID   = crypto.Keccak256Hash([]byte("EIP712Domain(address verifyingContract)"))

	safeTxTypehashBaseGas = crypto.Keccak256Hash([]byte("SafeTx(address to,uint256 value,bytes data,uint8 operation,uint256 safeTxGas,uint256 baseGas,uint256 gasPrice,address gasToken,address refundReceiver,uint256 nonce)"))
	safeTxTypehashDataGas = crypto.Keccak256Hash([]byte("SafeTx(address to,uint256 value,bytes data,uint8 operation,uint256 safeTxGas,uint256 dataGas,uint256 gasPrice,address gasToken,address refundReceiver,uint256 nonce)"))
)

// ExecTransactionArgs is the execTransaction call's decoded argument set,
// exactly the fields the EIP-712 SafeTx struct hashes over plus the
// signature bundle evaluated separately.
type ExecTransactionArgs struct {
	To              common.Address
	Value           *big.Int
	Data            []byte
	Operation       uint8
	SafeTxGas       *big.Int
	BaseGas         *big.Int
	GasPrice        *big.Int
	GasToken        common.Address
	RefundReceiver  common.Address
	Signatures      []byte
}

// SafeTxHash computes the EIP-712 digest a Safe owner would have signed to
// approve this transaction. version selects the contract's typed-data
// layout at the time of the call: v1.1.1+ includes chainId in the domain
// separator, v0.0.1 and v1.0.0 don't; v0.0.1 additionally hashes its gas
// refund field under the name "dataGas" rather than "baseGas".
func SafeTxHash(chainID *big.Int, safe common.Address, nonce uint64, version decoder.Version, args ExecTransactionArgs) common.Hash {
	domainTypehash := domainSeparatorTypehashNoChainID
	var domainSeparator common.Hash
	if version == decoder.VersionV111 {
		domainTypehash = domainSeparatorTypehashWithChainID
		domainSeparator = crypto.Keccak256Hash(
			domainTypehash.Bytes(),
			common.LeftPadBytes(chainID.Bytes(), 32),
			common.LeftPadBytes(safe.Bytes(), 32),
		)
	} else {
		domainSeparator = crypto.Keccak256Hash(
			domainTypehash.Bytes(),
			common.LeftPadBytes(safe.Bytes(), 32),
		)
	}

	safeTxTypehash := safeTxTypehashBaseGas
	if version == decoder.VersionV001 {
		safeTxTypehash = safeTxTypehashDataGas
	}

	dataHash := crypto.Keccak256Hash(args.Data)

	structHash := crypto.Keccak256Hash(
		safeTxTypehash.Bytes(),
		common.LeftPadBytes(args.To.Bytes(), 32),
		common.LeftPadBytes(args.Value.Bytes(), 32),
		dataHash.Bytes(),
		common.LeftPadBytes([]byte{args.Operation}, 32),
		common.LeftPadBytes(args.SafeTxGas.Bytes(), 32),
		common.LeftPadBytes(args.BaseGas.Bytes(), 32),
		common.LeftPadBytes(args.GasPrice.Bytes(), 32),
		common.LeftPadBytes(args.GasToken.Bytes(), 32),
		common.LeftPadBytes(args.RefundReceiver.Bytes(), 32),
		common.LeftPadBytes(new(big.Int).SetUint64(nonce).Bytes(), 32),
	)

	return crypto.Keccak256Hash(
		[]byte{0x19, 0x01},
		domainSeparator.Bytes(),
		structHash.Bytes(),
	)
}

// Confirmation is one signature recovered out of an execTransaction call's
// packed signature bundle.
type Confirmation struct {
	Owner     common.Address
	Type      string
	Signature []byte
}

// signature type discriminants, per the Safe contract's checkSignatures:
// v==0 marks a contract signature (owner address packed in r), v==1 marks
// a pre-validated/approved-hash signature (owner address packed in r),
// v>30 marks an eth_sign-prefixed ECDSA signature, anything else is a
// plain ECDSA signature over safeTxHash directly.
const (
	sigTypeContract    = 0
	sigTypeApprovedHash = 1
	sigTypeEthSignBase  = 31
)

// RecoverConfirmations splits a packed 65-byte-per-signature bundle and
// recovers each owner, classifying by signature type. Malformed bundles
// (length not a multiple of 65) return an empty slice rather than erroring
// — an invariant violation to be logged by the caller, not aborted on.
func RecoverConfirmations(safeTxHash common.Hash, signatures []byte) []Confirmation {
	if len(signatures) == 0 || len(signatures)%65 != 0 {
		return nil
	}

	var out []Confirmation
	for i := 0; i < len(signatures); i += 65 {
		r := signatures[i : i+32]
		s := signatures[i+32 : i+64]
		v := signatures[i+64]
		sig := append([]byte(nil), signatures[i:i+65]...)

		switch {
		case v == sigTypeContract:
			out = append(out, Confirmation{Owner: common.BytesToAddress(r), Type: "contract_signature", Signature: sig})
		case v == sigTypeApprovedHash:
			out = append(out, Confirmation{Owner: common.BytesToAddress(r), Type: "approved_hash", Signature: sig})
		case v >= sigTypeEthSignBase:
			owner, ok := recoverECDSA(ethSignedHash(safeTxHash), r, s, v-sigTypeEthSignBase)
			if ok {
				out = append(out, Confirmation{Owner: owner, Type: "eth_sign", Signature: sig})
			}
		default:
			owner, ok := recoverECDSA(safeTxHash, r, s, v)
			if ok {
				out = append(out, Confirmation{Owner: owner, Type: "eoa", Signature: sig})
			}
		}
	}
	return out
}

func ethSignedHash(h common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte("\x19Ethereum Signed Message:\n32"), h.Bytes())
}

func recoverECDSA(digest common.Hash, r, s []byte, v byte) (common.Address, bool) {
	sig := make([]byte, 65)
	copy(sig[0:32], r)
	copy(sig[32:64], s)
	if v >= 27 {
		v -= 27
	}
	sig[64] = v

	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, false
	}
	return crypto.PubkeyToAddress(*pub), true
}
