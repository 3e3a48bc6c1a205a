package collectibles

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// override synthesizes a Collectible's display fields without going
// through tokenURI/HTTP at all, for contracts whose on-chain metadata is
// absent, non-standard, or simply not worth a round trip.
type override func(tokenID string) (name, description, imageURI string)

// overrides mirrors the shape of coinregistry's static table: a small,
// hand-maintained set of well-known contracts keyed by address, checked
// before any network call is made. Unlike coinregistry this table is
// keyed by contract address rather than a ticker symbol, since ERC-721
// contracts don't carry a universally agreed symbol the way coins do.
var overrides = map[common.Address]override{
	// ENS base registrar: tokenURI is technically ERC-721 compliant but
	// returns a metadata service URL that requires namehash reversal this
	// resolver has no way to perform; the registrar's own token name
	// already communicates the name.
	ensBaseRegistrar: func(tokenID string) (string, string, string) {
		return "ENS: " + tokenID, "Ethereum Name Service domain", ""
	},
	// CryptoKitties predates ERC-721's tokenURI entirely (it shipped
	// tokenMetadata(uint256,string) instead), so there is no URI to fetch.
	cryptoKitties: func(tokenID string) (string, string, string) {
		return fmt.Sprintf("CryptoKitty #%s", tokenID), "CryptoKitties collectible", kittyImageURL(tokenID)
	},
}

var (
	ensBaseRegistrar = common.HexToAddress("0x57f1887a8BF19b14fC0dF6Fd9B2acc9Af147eA85")
	cryptoKitties    = common.HexToAddress("0x06012c8cf97BEaD5deAe237070F9587f8E7A266d")
)

func kittyImageURL(tokenID string) string {
	return "https://api.cryptokitties.co/kitties/" + tokenID + ".png"
}

func overrideFor(token common.Address) (override, bool) {
	o, ok := overrides[token]
	return o, ok
}
