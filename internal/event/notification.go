// Package event defines the point-in-time notifications emitted by the
// cache. Notifications are observability signals, not durable history:
// the outbound publisher drops on a full channel and downstream consumers
// must not treat the stream as a replayable log.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type discriminator for notification payloads.
type Type int32

const (
	TypeUnknown Type = iota
	TypePositionCached
	TypeCacheUpdateFailed
	TypeIdempotentRequestIgnored
	TypeCacheCleared
	TypeModuleCacheRefreshed
)

// Notification is implemented by every emitted payload.
type Notification interface {
	Type() Type

	// Time returns when the notification was produced.
	Time() time.Time
}

// PositionCached confirms an accepted write.
type PositionCached struct {
	Account    uuid.UUID
	Instrument string
	Collateral uint64
	Debt       uint64
	Version    uint64
	Timestamp  time.Time
}

// CacheUpdateFailed records an aborted write: the values the writer
// attempted and why they could not be committed (ledger read failure or
// the administrative retry hitting the same).
type CacheUpdateFailed struct {
	Account             uuid.UUID
	Instrument          string
	Writer              string
	AttemptedCollateral uint64
	AttemptedDebt       uint64
	Reason              string
	Timestamp           time.Time
}

// IdempotentRequestIgnored marks a replayed ordered write that was
// suppressed without any state change.
type IdempotentRequestIgnored struct {
	Account    uuid.UUID
	Instrument string
	RequestID  uuid.UUID
	Seq        uint64
	Timestamp  time.Time
}

// CacheCleared marks an explicit invalidation of an account's entries.
type CacheCleared struct {
	Account   uuid.UUID
	Timestamp time.Time
}

// ModuleCacheRefreshed marks an administrative refresh of the writer
// allow-list cache.
type ModuleCacheRefreshed struct {
	Timestamp time.Time
}

func (n PositionCached) Type() Type           { return TypePositionCached }
func (n CacheUpdateFailed) Type() Type        { return TypeCacheUpdateFailed }
func (n IdempotentRequestIgnored) Type() Type { return TypeIdempotentRequestIgnored }
func (n CacheCleared) Type() Type             { return TypeCacheCleared }
func (n ModuleCacheRefreshed) Type() Type     { return TypeModuleCacheRefreshed }

func (n PositionCached) Time() time.Time           { return n.Timestamp }
func (n CacheUpdateFailed) Time() time.Time        { return n.Timestamp }
func (n IdempotentRequestIgnored) Time() time.Time { return n.Timestamp }
func (n CacheCleared) Time() time.Time             { return n.Timestamp }
func (n ModuleCacheRefreshed) Time() time.Time     { return n.Timestamp }

func (t Type) String() string {
	switch t {
	case TypePositionCached:
		return "PositionCached"
	case TypeCacheUpdateFailed:
		return "CacheUpdateFailed"
	case TypeIdempotentRequestIgnored:
		return "IdempotentRequestIgnored"
	case TypeCacheCleared:
		return "CacheCleared"
	case TypeModuleCacheRefreshed:
		return "ModuleCacheRefreshed"
	default:
		return "Unknown"
	}
}
