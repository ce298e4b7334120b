// Package chain wraps the relief token and spending controller contracts
// behind a narrow adapter interface.
//
// The orchestrator treats every call as independently fallible: a failed or
// timed-out call is reported as a typed error and the caller decides whether
// to continue. All amounts cross this boundary as *big.Int in 10^6 minor
// units (see internal/drusd).
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrInvalidPrivateKey = errors.New("chain: invalid private key")
	ErrInvalidAddress    = errors.New("chain: invalid address")
	ErrNotConfigured     = errors.New("chain: contract not configured")
	ErrTxFailed          = errors.New("chain: transaction reverted")
	ErrTimeout           = errors.New("chain: confirmation timed out")
	ErrRPCConnection     = errors.New("chain: RPC connection failed")
	ErrCircuitOpen       = errors.New("chain: RPC circuit open")
)

// CallError wraps a failed contract call with the operation name and, when
// the transaction made it on-chain before failing, its hash.
type CallError struct {
	Op     string
	TxHash string
	Err    error
}

func (e *CallError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("chain: %s failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("chain: %s failed: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// SpendingCategory is the on-chain category enum of the spending controller.
type SpendingCategory uint8

const (
	CategoryFood SpendingCategory = iota
	CategoryMedical
	CategoryShelter
	CategoryUtilities
	CategoryTransport
)

// CategoryID maps a category name to its on-chain enum value.
// Unknown names map to food, matching the contract's default.
func CategoryID(name string) SpendingCategory {
	switch name {
	case "medical":
		return CategoryMedical
	case "shelter":
		return CategoryShelter
	case "utilities":
		return CategoryUtilities
	case "transport":
		return CategoryTransport
	default:
		return CategoryFood
	}
}

// Allowances carries the five per-category ceilings for a beneficiary,
// in minor units.
type Allowances struct {
	Food      *big.Int
	Medical   *big.Int
	Shelter   *big.Int
	Utilities *big.Int
	Transport *big.Int
}

// Zero reports whether every category allowance is zero or unset.
func (a Allowances) Zero() bool {
	for _, v := range []*big.Int{a.Food, a.Medical, a.Shelter, a.Utilities, a.Transport} {
		if v != nil && v.Sign() > 0 {
			return false
		}
	}
	return true
}

// Adapter is the contract surface the orchestrator depends on.
// Implementations must return a typed error on any non-success outcome,
// never a silent default.
type Adapter interface {
	// Whitelist authorizes a beneficiary wallet to hold relief tokens.
	Whitelist(ctx context.Context, addr, name, region string) (txHash string, err error)

	// Mint creates campaign funds on the relief token contract.
	Mint(ctx context.Context, to string, amount *big.Int, campaignID, purpose string) (txHash string, err error)

	// Transfer sends relief tokens from the admin wallet to a beneficiary.
	Transfer(ctx context.Context, to string, amount *big.Int) (txHash string, err error)

	// SetAllowances sets all five category ceilings in one call.
	SetAllowances(ctx context.Context, addr string, a Allowances) (txHash string, err error)

	// RegisterMerchant registers an approved merchant on the spending controller.
	RegisterMerchant(ctx context.Context, addr, name string, category SpendingCategory, location string) (txHash string, err error)

	// BalanceOf reads the relief token balance of an address, in minor units.
	BalanceOf(ctx context.Context, addr string) (*big.Int, error)

	// IsWhitelisted reads the authoritative on-chain whitelist state.
	IsWhitelisted(ctx context.Context, addr string) (bool, error)
}
