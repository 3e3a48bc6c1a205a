// Package decoder turns raw Safe contract call data into a typed,
// versioned function invocation. It is pure and stateless: the selector →
// (version, method) registry is built once at init time from the embedded
// Safe ABIs and never mutated afterward.
package decoder

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/gnosis/safe-transaction-history/internal/chainerr"
)

//go:embed abi/*.json
var abiFiles embed.FS

// Version identifies which historical Safe contract ABI a decoded call
// matched against. Multiple versions can share a selector when their
// signatures happen to coincide (e.g. everything except setup).
type Version string

const (
	VersionV001 Version = "v0.0.1"
	VersionV100 Version = "v1.0.0"
	VersionV111 Version = "v1.1.1"
)

// Invocation is the decoded result of a single Safe function call:
// the version whose ABI matched, the function name, and its arguments
// keyed by parameter name.
type Invocation struct {
	Version      Version
	FunctionName string
	Arguments    map[string]interface{}
}

// candidate is one (version, parsed method) pair reachable by a 4-byte
// selector. A selector can map to more than one candidate only when two
// versions define the same signature; NewRegistry registers the newest
// version first and keeps the first candidate, so such a selector always
// reports the newest version that defines it. Parameter names may still
// differ between those versions (v0.0.1's execTransaction says dataGas
// where later versions say baseGas); the argument map uses the names of
// the reported version's ABI.
type candidate struct {
	version Version
	method  abi.Method
	abi     abi.ABI
}

// Registry is the static selector → candidate table built from the
// embedded ABI JSON. Safe to share across goroutines; it is read-only
// after construction.
type Registry struct {
	bySelector map[[4]byte]candidate
}

// NewRegistry parses every embedded ABI file once and builds the selector
// table. Called once at process start; the result should be held for the
// lifetime of the process.
func NewRegistry() (*Registry, error) {
	versions := []struct {
		version Version
		path    string
	}{
		{VersionV111, "abi/safe_v1_1_1.json"},
		{VersionV100, "abi/safe_v1_0_0.json"},
		{VersionV001, "abi/safe_v0_0_1.json"},
	}

	reg := &Registry{bySelector: make(map[[4]byte]candidate)}

	for _, entry := range versions {
		version, path := entry.version, entry.path
		raw, err := abiFiles.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading embedded ABI %s: %w", path, err)
		}
		parsed, err := abi.JSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parsing ABI %s: %w", path, err)
		}
		for _, method := range parsed.Methods {
			var sel [4]byte
			copy(sel[:], method.ID)
			if _, exists := reg.bySelector[sel]; exists {
				// identical signature across versions; keep first registered.
				continue
			}
			reg.bySelector[sel] = candidate{version: version, method: method, abi: parsed}
		}
	}

	return reg, nil
}

// Decode matches data's 4-byte selector against the static registry and
// unpacks its arguments.
//
// Errors:
//   - CannotDecode (NonRetryable): the selector isn't in the registry, or
//     data is shorter than 4 bytes. This is an ordinary, expected outcome
//     for calls that target something other than the Safe singleton/proxy
//     ABI (e.g. a plain ETH transfer with a memo in data).
//   - UnexpectedDecoding (Fatal): the selector IS recognized but argument
//     unpacking failed — the data doesn't match the ABI despite matching
//     the selector, which should never happen for well-formed Safe calls
//     and signals a bug or an unanticipated ABI variant.
func (r *Registry) Decode(data []byte) (*Invocation, error) {
	if len(data) < 4 {
		return nil, chainerr.NewNonRetryable(chainerr.ErrCodeCannotDecode, "call data shorter than a 4-byte selector", nil)
	}

	var sel [4]byte
	copy(sel[:], data[:4])

	c, ok := r.bySelector[sel]
	if !ok {
		return nil, chainerr.NewNonRetryable(chainerr.ErrCodeCannotDecode, fmt.Sprintf("unrecognized selector %x", sel), nil)
	}

	args := make(map[string]interface{})
	if err := c.method.Inputs.UnpackIntoMap(args, data[4:]); err != nil {
		return nil, chainerr.NewFatal(chainerr.ErrCodeUnexpectedDecoding, fmt.Sprintf("unpack args for %s", c.method.Name), err)
	}

	return &Invocation{
		Version:      c.version,
		FunctionName: c.method.Name,
		Arguments:    args,
	}, nil
}

