package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/jdziat/strand-jobs/pkg/core"
)

var validate = validator.New()

// TypedHandler is the strongly typed form of a Handler.
type TypedHandler[P, R any] func(ctx context.Context, payload P, progress ProgressFunc) (R, error)

// Codec is the serialization boundary for one job type's payload.
type Codec[P any] struct{}

// Decode parses a payload strictly: unknown fields are rejected and struct
// payloads are checked against their `validate` tags.
func (Codec[P]) Decode(raw json.RawMessage) (P, error) {
	var p P
	if len(bytes.TrimSpace(raw)) == 0 {
		return p, fmt.Errorf("%w: empty payload", core.ErrInvalidPayload)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("%w: %v", core.ErrInvalidPayload, err)
	}
	if err := validateStruct(p); err != nil {
		return p, fmt.Errorf("%w: %v", core.ErrInvalidPayload, err)
	}
	return p, nil
}

// Encode serializes a payload.
func (Codec[P]) Encode(p P) (json.RawMessage, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidPayload, err)
	}
	return b, nil
}

// Identifier is implemented by payloads that carry fields which must not
// distinguish otherwise identical submissions.
type Identifier interface {
	Identity() any
}

// Identity decodes raw and re-encodes it, so absent and zero-valued fields
// and unknown key order yield the same bytes. Payloads implementing
// Identifier are reduced first.
func (c Codec[P]) Identity(raw json.RawMessage) (json.RawMessage, error) {
	p, err := c.Decode(raw)
	if err != nil {
		return nil, err
	}
	var v any = p
	if id, ok := v.(Identifier); ok {
		v = id.Identity()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidPayload, err)
	}
	return b, nil
}

// Validate checks that raw decodes into a valid P.
func (c Codec[P]) Validate(raw json.RawMessage) error {
	_, err := c.Decode(raw)
	return err
}

// Register wraps a typed handler with its codec and registers it for t.
// The payload is validated at submission time as well as before execution.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func Register[P, R any](r *Registry, t core.JobType, fn TypedHandler[P, R], opts ...Option) error {
	var codec Codec[P]
	h := func(ctx context.Context, raw json.RawMessage, progress ProgressFunc) (json.RawMessage, error) {
		payload, err := codec.Decode(raw)
		if err != nil {
			return nil, err
		}
		res, err := fn(ctx, payload, progress)
		if err != nil {
			return nil, err
		}
		out, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("marshal result for %q: %w", t, err)
		}
		return out, nil
	}
	opts = append([]Option{WithPayloadValidator(codec.Validate), WithIdentity(codec.Identity)}, opts...)
	return r.RegisterHandler(t, h, opts...)
}

// MustRegister is Register that panics on error.
func MustRegister[P, R any](r *Registry, t core.JobType, fn TypedHandler[P, R], opts ...Option) {
	if err := Register(r, t, fn, opts...); err != nil {
		panic(err.Error())
	}
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if _, ok := err.(*validator.InvalidValidationError); ok {
		// Not a struct (maps, slices, scalars): nothing to check.
		return nil
	}
	return err
}
