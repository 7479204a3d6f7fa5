// Package storage defines the pluggable persistent storage contract the
// node is built against (spec §6) and the Record envelope the node
// serializes into it. Storage itself only ever sees opaque strings; the
// node owns the {value, publisher, timestamp} structure.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when a key has no stored value.
var ErrNotFound = errors.New("storage: not found")

// Record is the structured value the node stores under a key, per spec
// §3: {value, publisher, timestamp}. The storage layer sees only its
// JSON-serialized form; Record is a first-class type at the node
// boundary only (spec §9, "ad-hoc JSON records -> tagged record type").
type Record struct {
	Value     json.RawMessage `json:"value"`
	Publisher string          `json:"publisher"`
	Timestamp time.Time       `json:"timestamp"`
}

// Encode serializes a Record to the opaque string form the Store
// contract persists.
func Encode(r Record) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("storage: encode record: %w", err)
	}
	return string(b), nil
}

// Decode parses the opaque string form back into a Record.
func Decode(raw string) (Record, error) {
	var r Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Record{}, fmt.Errorf("storage: decode record: %w", err)
	}
	return r, nil
}

// Entry is one key/value pair yielded by a Scan.
type Entry struct {
	Key   string
	Value string
}

// Scanner is a re-openable stream over every stored entry (spec §6:
// "create_scan() -> a pushed stream of {key,value} pairs"). Callers must
// call Close when done, including after Next returns false.
type Scanner interface {
	// Next advances to the next entry, returning false at end of stream
	// or on error (check Err to distinguish).
	Next() bool
	// Entry returns the entry most recently made current by Next.
	Entry() Entry
	// Err returns the first error encountered during iteration, if any.
	Err() error
	// Close releases resources associated with the scan.
	Close() error
}

// Store is the external persistent storage contract (spec §6). Keys and
// values are opaque strings; the node is responsible for interpreting
// values as Records.
type Store interface {
	// Get returns the stored string under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Put stores raw under key, replacing any existing value.
	Put(ctx context.Context, key, raw string) error
	// Del removes key, if present. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error
	// Scan opens a fresh stream over every stored entry.
	Scan(ctx context.Context) (Scanner, error)
}
