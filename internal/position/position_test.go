package position_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"PosCache/internal/fault"
	"PosCache/internal/position"
)

func TestEntryValid_Boundary(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	ttl := 5 * time.Minute
	e := position.Entry{Collateral: 1, Version: 1, LastWrite: now}

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"fresh", now, true},
		{"mid life", now.Add(ttl / 2), true},
		{"exactly TTL", now.Add(ttl), true},
		{"one instant past", now.Add(ttl + time.Nanosecond), false},
	}
	for _, tc := range cases {
		if got := e.Valid(tc.at, ttl); got != tc.want {
			t.Errorf("%s: got %t, want %t", tc.name, got, tc.want)
		}
	}
}

func TestEntryValid_NeverWritten(t *testing.T) {
	now := time.Now()
	e := position.Entry{LastWrite: now}
	if e.Valid(now, time.Hour) {
		t.Error("version 0 entry must never be valid")
	}

	var nilEntry *position.Entry
	if nilEntry.Valid(now, time.Hour) {
		t.Error("nil entry must never be valid")
	}
}

func TestValidateKey(t *testing.T) {
	if err := position.ValidateKey(uuid.New(), "USDC"); err != nil {
		t.Fatalf("valid key: %v", err)
	}
	if err := position.ValidateKey(uuid.Nil, "USDC"); fault.CodeOf(err) != fault.CodeInvalidInput {
		t.Errorf("nil account: got %v, want InvalidInput", err)
	}
	if err := position.ValidateKey(uuid.New(), ""); fault.CodeOf(err) != fault.CodeInvalidInput {
		t.Errorf("empty instrument: got %v, want InvalidInput", err)
	}
}
