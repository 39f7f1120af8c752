// Package position defines the cached position model: the (account,
// instrument) key space and the versioned collateral/debt entry with its
// TTL-based validity predicate.
package position

import (
	"time"

	"github.com/google/uuid"

	"PosCache/internal/fault"
)

// AccountID identifies an account. The nil UUID is not a valid account.
type AccountID = uuid.UUID

// Instrument identifies the collateral/debt instrument. Empty is invalid.
type Instrument = string

// Key addresses one cached position.
type Key struct {
	Account    AccountID
	Instrument Instrument
}

// Entry is the cached snapshot for one key.
type Entry struct {
	Collateral uint64
	Debt       uint64

	// Version starts at 0 (never written) and strictly increases on each
	// accepted write. Forward skips are allowed, regressions are not.
	Version uint64

	LastWrite time.Time
}

// DedupRecord holds the last accepted ordered-write token for a key.
// Created on the first ordered write, updated on every accepted ordered
// write, never rolled back. Clearing a key's entry leaves its record in
// place.
type DedupRecord struct {
	LastRequestID uuid.UUID
	LastSeq       uint64
}

// Valid reports whether the entry can be served without consulting the
// ledger. An entry aged exactly TTL is still valid; one instant past is not.
func (e *Entry) Valid(now time.Time, ttl time.Duration) bool {
	if e == nil || e.Version == 0 {
		return false
	}
	return now.Sub(e.LastWrite) <= ttl
}

// ValidateKey rejects default identities per the write-gate input contract.
func ValidateKey(account AccountID, instrument Instrument) error {
	if account == uuid.Nil {
		return fault.InvalidInput("account must not be the zero identity")
	}
	if instrument == "" {
		return fault.InvalidInput("instrument must not be empty")
	}
	return nil
}
