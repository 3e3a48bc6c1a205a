package processor

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gnosis/safe-transaction-history/internal/chainerr"
)

// argument extraction out of decoder.Invocation.Arguments, which is a
// map[string]interface{} keyed by the matched ABI's parameter names.
// Every helper here returns a Fatal chainerr on shape mismatch: a
// recognized function whose arguments don't type-assert the way its own
// ABI promises indicates the decoder and processor have drifted apart,
// not a data problem worth retrying.

func addressArg(args map[string]interface{}, name string) (common.Address, error) {
	v, ok := args[name]
	if !ok {
		return common.Address{}, missingArg(name)
	}
	addr, ok := v.(common.Address)
	if !ok {
		return common.Address{}, badArg(name, v)
	}
	return addr, nil
}

func addressSliceArg(args map[string]interface{}, name string) ([]common.Address, error) {
	v, ok := args[name]
	if !ok {
		return nil, missingArg(name)
	}
	addrs, ok := v.([]common.Address)
	if !ok {
		return nil, badArg(name, v)
	}
	return addrs, nil
}

func uint256Arg(args map[string]interface{}, name string) (*big.Int, error) {
	v, ok := args[name]
	if !ok {
		return nil, missingArg(name)
	}
	n, ok := v.(*big.Int)
	if !ok {
		return nil, badArg(name, v)
	}
	return n, nil
}

// uint256ArgAny tries each name in order, returning the first one present.
// execTransaction's gas-refund field was renamed dataGas -> baseGas between
// the v0.0.1 and v1.0.0 Safe contracts; this lets one call site read either
// ABI's shape without caring which candidate the decoder matched.
func uint256ArgAny(args map[string]interface{}, names ...string) (*big.Int, string, error) {
	for _, name := range names {
		if _, ok := args[name]; ok {
			n, err := uint256Arg(args, name)
			return n, name, err
		}
	}
	return nil, "", missingArg(fmt.Sprintf("%v", names))
}

func uint8Arg(args map[string]interface{}, name string) (uint8, error) {
	v, ok := args[name]
	if !ok {
		return 0, missingArg(name)
	}
	n, ok := v.(uint8)
	if !ok {
		return 0, badArg(name, v)
	}
	return n, nil
}

func bytesArg(args map[string]interface{}, name string) ([]byte, error) {
	v, ok := args[name]
	if !ok {
		return nil, missingArg(name)
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, badArg(name, v)
	}
	return b, nil
}

func bytes32Arg(args map[string]interface{}, name string) (common.Hash, error) {
	v, ok := args[name]
	if !ok {
		return common.Hash{}, missingArg(name)
	}
	b, ok := v.([32]byte)
	if !ok {
		return common.Hash{}, badArg(name, v)
	}
	return common.Hash(b), nil
}

func missingArg(name string) error {
	return chainerr.NewFatal(chainerr.ErrCodeUnexpectedDecoding, fmt.Sprintf("missing argument %q", name), nil)
}

func badArg(name string, v interface{}) error {
	return chainerr.NewFatal(chainerr.ErrCodeUnexpectedDecoding, fmt.Sprintf("argument %q has unexpected type %T", name, v), nil)
}
