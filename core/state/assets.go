package state

import (
	"fmt"
	"math/big"

	"nhbmarket/native/market"
)

var assetOwnerPrefix = []byte("assets/owner/")

type storedAssetOwner struct {
	Collection [20]byte
	ItemID     *big.Int
	Owner      [20]byte
}

func assetOwnerKey(asset market.AssetRef) []byte {
	key := asset.Key()
	return prefixedKey(assetOwnerPrefix, key[:])
}

// AssetOwnerGet returns the recorded owner of the asset.
func (m *Manager) AssetOwnerGet(asset market.AssetRef) ([20]byte, bool, error) {
	stored := new(storedAssetOwner)
	ok, err := m.decode(assetOwnerKey(asset), stored)
	if err != nil || !ok {
		return [20]byte{}, false, err
	}
	if stored.Collection != asset.Collection || nonNil(stored.ItemID).Cmp(nonNil(asset.ItemID)) != 0 {
		return [20]byte{}, false, fmt.Errorf("assets: owner record does not match %s", asset)
	}
	return stored.Owner, true, nil
}

// AssetOwnerPut records the owner of the asset.
func (m *Manager) AssetOwnerPut(asset market.AssetRef, owner [20]byte) error {
	return m.encode(assetOwnerKey(asset), &storedAssetOwner{
		Collection: asset.Collection,
		ItemID:     nonNil(asset.ItemID),
		Owner:      owner,
	})
}
