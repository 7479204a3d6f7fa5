package node

import "errors"

// Sentinel errors surfaced by the public API (spec §7).
var (
	// ErrInvalidValue means the configured Validator rejected a Put.
	ErrInvalidValue = errors.New("node: invalid value")
	// ErrNoContacts means a lookup returned no contacts to store to.
	ErrNoContacts = errors.New("node: no contacts available")
	// ErrAllStoresFailed means every STORE attempt during a Put failed.
	ErrAllStoresFailed = errors.New("node: all store attempts failed")
)
