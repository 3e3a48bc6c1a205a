package processor

import "github.com/ethereum/go-ethereum/common"

// owner-list mutations mirror the linked-list semantics of the Safe
// contract's OwnerManager, but operate on the plain slice this service
// persists in SafeStatus.Owners — the contract's prevOwner bookkeeping
// is an on-chain gas optimization this service doesn't need to replicate.

func addOwner(owners []common.Address, owner common.Address) []common.Address {
	out := make([]common.Address, len(owners), len(owners)+1)
	copy(out, owners)
	return append(out, owner)
}

func removeOwnerFrom(owners []common.Address, owner common.Address) []common.Address {
	out := make([]common.Address, 0, len(owners))
	for _, o := range owners {
		if o != owner {
			out = append(out, o)
		}
	}
	return out
}

func swapOwner(owners []common.Address, oldOwner, newOwner common.Address) []common.Address {
	out := make([]common.Address, len(owners))
	copy(out, owners)
	for i, o := range out {
		if o == oldOwner {
			out[i] = newOwner
			break
		}
	}
	return out
}
