package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeInstance             // a credit line or pool
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeSavings AccountSubType = iota

	// Instance sub-types
	SubTypeCollateral
	SubTypeLent

	// System sub-types
	SubTypeSystemFees

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

var (
	assetToID = map[string]AssetID{
		"DAI":  1,
		"USDC": 2,
		"LINK": 3,
		"WETH": 4,
		"WBTC": 5,
	}
	idToAsset = map[AssetID]string{
		1: "DAI",
		2: "USDC",
		3: "LINK",
		4: "WETH",
		5: "WBTC",
	}
	nextAssetID AssetID = 6
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// RegisterAsset adds an asset at startup. Not safe for concurrent use
// with lookups; call before the engine starts.
func RegisterAsset(asset string) AssetID {
	if id, ok := assetToID[asset]; ok {
		return id
	}
	id := nextAssetID
	nextAssetID++
	assetToID[asset] = id
	idToAsset[id] = asset
	return id
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for users/pools, encoded counter for credit lines
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(userID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewInstanceAccountKey creates a key for a credit line or pool account
func NewInstanceAccountKey(entityID [16]byte, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeInstance,
		EntityID: entityID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(name string, subType AccountSubType, assetID AssetID) AccountKey {
	var entityID [16]byte
	copy(entityID[:], []byte(name))
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: entityID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// CreditLineEntityID encodes a numeric credit line id into the entity
// field. Pools use their uuid directly.
func CreditLineEntityID(lineID uint64) [16]byte {
	var entityID [16]byte
	copy(entityID[:], []byte("credline"))
	binary.BigEndian.PutUint64(entityID[8:], lineID)
	return entityID
}

// PoolEntityID returns the entity field for a pool account.
func PoolEntityID(poolID uuid.UUID) [16]byte {
	return poolID
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeInstance:
		if string(k.EntityID[:8]) == "credline" {
			lineID := binary.BigEndian.Uint64(k.EntityID[8:])
			return fmt.Sprintf("creditline:%d:%s:%s", lineID, k.subTypeName(), assetName)
		}
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("pool:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeSavings:
		return "savings"
	case SubTypeCollateral:
		return "collateral"
	case SubTypeLent:
		return "lent"
	case SubTypeSystemFees:
		return "fees"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	default:
		return "unknown"
	}
}
