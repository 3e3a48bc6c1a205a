// Package collectibles resolves a Safe's current ERC-721 holdings: it
// turns the address's raw Transfer history into a list of currently-owned
// tokens, each with whatever metadata its contract's tokenURI exposes.
package collectibles

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Collectible is one currently-owned ERC-721 token, resolved down to
// whatever metadata could be recovered for it.
type Collectible struct {
	Address      common.Address
	TokenID      *big.Int
	TokenName    string
	TokenSymbol  string
	URI          string
	Name         string
	Description  string
	ImageURI     string
	Metadata     map[string]interface{}
}
