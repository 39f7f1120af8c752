package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"PosCache/internal/authority"
	"PosCache/internal/cache"
	"PosCache/internal/position"
)

// Typed requests produced by the parser. The dispatch loop maps each to one
// service call.

type PushAbsoluteRequest struct {
	Writer     authority.Identity
	Account    position.AccountID
	Instrument position.Instrument
	Collateral uint64
	Debt       uint64
	Opts       cache.PushOptions
}

type PushDeltaRequest struct {
	Writer          authority.Identity
	Account         position.AccountID
	Instrument      position.Instrument
	CollateralDelta int64
	DebtDelta       int64
	Opts            cache.PushOptions
}

type BatchPushAbsoluteRequest struct {
	Writer      authority.Identity
	Accounts    []position.AccountID
	Instruments []position.Instrument
	Collateral  []uint64
	Debt        []uint64
}

type BatchPushDeltaRequest struct {
	Writer          authority.Identity
	Accounts        []position.AccountID
	Instruments     []position.Instrument
	CollateralDelta []int64
	DebtDelta       []int64
}

type ClearRequest struct {
	Caller      authority.Identity
	Account     position.AccountID
	ExpiredOnly bool
}

type RetryRequest struct {
	Caller     authority.Identity
	Account    position.AccountID
	Instrument position.Instrument
}

type RefreshModulesRequest struct {
	Caller authority.Identity
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type pushAbsoluteJSON struct {
	Writer     string  `json:"writer"`
	Account    string  `json:"account"`
	Instrument string  `json:"instrument"`
	Collateral uint64  `json:"collateral"`
	Debt       uint64  `json:"debt"`
	Version    *uint64 `json:"version,omitempty"`
	RequestID  string  `json:"request_id,omitempty"`
	Seq        uint64  `json:"seq,omitempty"`
}

type pushDeltaJSON struct {
	Writer          string  `json:"writer"`
	Account         string  `json:"account"`
	Instrument      string  `json:"instrument"`
	CollateralDelta int64   `json:"collateral_delta"`
	DebtDelta       int64   `json:"debt_delta"`
	Version         *uint64 `json:"version,omitempty"`
	RequestID       string  `json:"request_id,omitempty"`
	Seq             uint64  `json:"seq,omitempty"`
}

type batchPushAbsoluteJSON struct {
	Writer      string   `json:"writer"`
	Accounts    []string `json:"accounts"`
	Instruments []string `json:"instruments"`
	Collateral  []uint64 `json:"collateral"`
	Debt        []uint64 `json:"debt"`
}

type batchPushDeltaJSON struct {
	Writer          string   `json:"writer"`
	Accounts        []string `json:"accounts"`
	Instruments     []string `json:"instruments"`
	CollateralDelta []int64  `json:"collateral_delta"`
	DebtDelta       []int64  `json:"debt_delta"`
}

type clearJSON struct {
	Caller      string `json:"caller"`
	Account     string `json:"account"`
	ExpiredOnly bool   `json:"expired_only,omitempty"`
}

type retryJSON struct {
	Caller     string `json:"caller"`
	Account    string `json:"account"`
	Instrument string `json:"instrument"`
}

type refreshJSON struct {
	Caller string `json:"caller"`
}

// ParsePushAbsolute converts the wire payload into a typed request.
// Structural problems (bad JSON, unparseable UUIDs, a seq without a
// request id) are parse errors; semantic rules stay in the cache core.
func ParsePushAbsolute(data []byte) (*PushAbsoluteRequest, error) {
	var j pushAbsoluteJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse push absolute: %w", err)
	}
	account, err := uuid.Parse(j.Account)
	if err != nil {
		return nil, fmt.Errorf("parse account: %w", err)
	}
	opts, err := parseOpts(j.Version, j.RequestID, j.Seq)
	if err != nil {
		return nil, err
	}
	return &PushAbsoluteRequest{
		Writer:     authority.Identity(j.Writer),
		Account:    account,
		Instrument: j.Instrument,
		Collateral: j.Collateral,
		Debt:       j.Debt,
		Opts:       opts,
	}, nil
}

func ParsePushDelta(data []byte) (*PushDeltaRequest, error) {
	var j pushDeltaJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse push delta: %w", err)
	}
	account, err := uuid.Parse(j.Account)
	if err != nil {
		return nil, fmt.Errorf("parse account: %w", err)
	}
	opts, err := parseOpts(j.Version, j.RequestID, j.Seq)
	if err != nil {
		return nil, err
	}
	return &PushDeltaRequest{
		Writer:          authority.Identity(j.Writer),
		Account:         account,
		Instrument:      j.Instrument,
		CollateralDelta: j.CollateralDelta,
		DebtDelta:       j.DebtDelta,
		Opts:            opts,
	}, nil
}

func ParseBatchPushAbsolute(data []byte) (*BatchPushAbsoluteRequest, error) {
	var j batchPushAbsoluteJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse batch push absolute: %w", err)
	}
	accounts, err := parseAccounts(j.Accounts)
	if err != nil {
		return nil, err
	}
	return &BatchPushAbsoluteRequest{
		Writer:      authority.Identity(j.Writer),
		Accounts:    accounts,
		Instruments: j.Instruments,
		Collateral:  j.Collateral,
		Debt:        j.Debt,
	}, nil
}

func ParseBatchPushDelta(data []byte) (*BatchPushDeltaRequest, error) {
	var j batchPushDeltaJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse batch push delta: %w", err)
	}
	accounts, err := parseAccounts(j.Accounts)
	if err != nil {
		return nil, err
	}
	return &BatchPushDeltaRequest{
		Writer:          authority.Identity(j.Writer),
		Accounts:        accounts,
		Instruments:     j.Instruments,
		CollateralDelta: j.CollateralDelta,
		DebtDelta:       j.DebtDelta,
	}, nil
}

func ParseClear(data []byte) (*ClearRequest, error) {
	var j clearJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse clear: %w", err)
	}
	account, err := uuid.Parse(j.Account)
	if err != nil {
		return nil, fmt.Errorf("parse account: %w", err)
	}
	return &ClearRequest{
		Caller:      authority.Identity(j.Caller),
		Account:     account,
		ExpiredOnly: j.ExpiredOnly,
	}, nil
}

func ParseRetry(data []byte) (*RetryRequest, error) {
	var j retryJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse retry: %w", err)
	}
	account, err := uuid.Parse(j.Account)
	if err != nil {
		return nil, fmt.Errorf("parse account: %w", err)
	}
	return &RetryRequest{
		Caller:     authority.Identity(j.Caller),
		Account:    account,
		Instrument: j.Instrument,
	}, nil
}

func ParseRefreshModules(data []byte) (*RefreshModulesRequest, error) {
	var j refreshJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse refresh: %w", err)
	}
	return &RefreshModulesRequest{Caller: authority.Identity(j.Caller)}, nil
}

func parseOpts(version *uint64, requestID string, seq uint64) (cache.PushOptions, error) {
	opts := cache.PushOptions{Version: version}
	if requestID == "" {
		if seq != 0 {
			return opts, fmt.Errorf("seq %d supplied without request_id", seq)
		}
		return opts, nil
	}
	id, err := uuid.Parse(requestID)
	if err != nil {
		return opts, fmt.Errorf("parse request_id: %w", err)
	}
	opts.Token = &cache.RequestToken{RequestID: id, Seq: seq}
	return opts, nil
}

func parseAccounts(raw []string) ([]position.AccountID, error) {
	accounts := make([]position.AccountID, len(raw))
	for i, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse accounts[%d]: %w", i, err)
		}
		accounts[i] = id
	}
	return accounts, nil
}
