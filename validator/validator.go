// Package validator defines the optional application-supplied value
// validator the node consults on STORE (spec §6). Omitting a Validator
// accepts all writes unconditionally.
package validator

import (
	"context"
	"encoding/json"
)

// Validator is the external, optional validity predicate on (key,
// value). Implementations may perform I/O (the spec's validate callback
// is itself async) so Validate takes a context.
type Validator interface {
	Validate(ctx context.Context, key string, value json.RawMessage) bool
}

// Func adapts a plain function to the Validator interface.
type Func func(ctx context.Context, key string, value json.RawMessage) bool

// Validate implements Validator.
func (f Func) Validate(ctx context.Context, key string, value json.RawMessage) bool {
	return f(ctx, key, value)
}
