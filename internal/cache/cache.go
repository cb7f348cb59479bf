// Package cache implements the TTL-aware adapter that layers soft/hard
// staleness thresholds atop an opaque key/value Store. It never touches the
// on-disk encoding of a stored value; that is entirely Store's business
// (see internal/cache/dirstore for the one concrete implementation this
// repository ships).
package cache

import (
	"context"
	"fmt"
	"time"
)

// KeyLen is the width of a cache key: two concatenated SHA-512 digests
// (see internal/fingerprint), 64 bytes each.
const KeyLen = 128

// Key is the fixed-width content-addressed fingerprint produced by
// internal/fingerprint and consumed verbatim by Store and Adapter.
type Key [KeyLen]byte

// Result is a bitset: a single Get reply can convey both the found/not-found
// outcome and a staleness flag simultaneously.
type Result uint8

const (
	ResultOK Result = 1 << iota
	ResultNotFound
	ResultStale
	ResultError
	ResultOutOfResources
)

var resultNames = []struct {
	bit  Result
	name string
}{
	{ResultOK, "ok"},
	{ResultNotFound, "not_found"},
	{ResultStale, "stale"},
	{ResultError, "error"},
	{ResultOutOfResources, "out_of_resources"},
}

func (r Result) String() string {
	if r == 0 {
		return "none"
	}
	var out string
	for _, n := range resultNames {
		if r&n.bit == 0 {
			continue
		}
		if out != "" {
			out += "|"
		}
		out += n.name
	}
	return out
}

// GetFlags modify Adapter.Get's treatment of soft-stale entries.
type GetFlags uint8

// IncludeStale requests that a soft-stale entry be returned (tagged
// ResultOK|ResultStale) instead of being reported as not found.
const IncludeStale GetFlags = 1 << 0

// Store is the minimal read/write/delete contract the underlying on-disk
// key/value engine must expose. storedAt is the time the value was written,
// recovered from whatever opaque timestamp suffix the Store appends on Put.
type Store interface {
	Get(ctx context.Context, key Key) (value []byte, storedAt time.Time, found bool, err error)
	Put(ctx context.Context, key Key, value []byte) error
	Delete(ctx context.Context, key Key) error
}

// Adapter layers soft/hard TTL atop any Store. A zero soft or hard TTL
// disables that threshold entirely.
type Adapter struct {
	store   Store
	softTTL time.Duration
	hardTTL time.Duration
}

// NewAdapter constructs an Adapter backed by store with the given soft and
// hard TTLs.
func NewAdapter(store Store, softTTL, hardTTL time.Duration) *Adapter {
	return &Adapter{store: store, softTTL: softTTL, hardTTL: hardTTL}
}

// Get reads the entry stored under key. Past the hard TTL the entry is
// deleted and ResultNotFound is returned. Past the soft TTL, the caller gets
// the value back only if flags includes IncludeStale (tagged with
// ResultStale); otherwise it's reported not found (also tagged ResultStale,
// so a caller can distinguish "never existed" from "existed but aged out").
func (a *Adapter) Get(ctx context.Context, key Key, flags GetFlags) ([]byte, Result, error) {
	value, storedAt, found, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, ResultError, fmt.Errorf("cache: get: %w", err)
	}
	if !found {
		return nil, ResultNotFound, nil
	}

	age := time.Since(storedAt)
	if a.hardTTL > 0 && age > a.hardTTL {
		if err := a.store.Delete(ctx, key); err != nil {
			return nil, ResultNotFound, fmt.Errorf("cache: delete expired: %w", err)
		}
		return nil, ResultNotFound, nil
	}

	if a.softTTL > 0 && age > a.softTTL {
		if flags&IncludeStale != 0 {
			return value, ResultOK | ResultStale, nil
		}
		return nil, ResultNotFound | ResultStale, nil
	}

	return value, ResultOK, nil
}

// Put unconditionally overwrites the entry stored under key.
func (a *Adapter) Put(ctx context.Context, key Key, value []byte) error {
	if err := a.store.Put(ctx, key, value); err != nil {
		return fmt.Errorf("cache: put: %w", err)
	}
	return nil
}

// Del removes the entry stored under key, if any.
func (a *Adapter) Del(ctx context.Context, key Key) error {
	if err := a.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("cache: delete: %w", err)
	}
	return nil
}
