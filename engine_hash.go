package rentAuth

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// runHash runs fn on one of the bounded hashing slots. Waiting for a slot
// and the computation itself share the Timeouts.Hash deadline; on expiry
// the caller gets ServiceUnavailable while fn finishes in the background
// and frees its slot.
func (e *Engine) runHash(ctx context.Context, op string, fn func()) error {
	hctx, cancel := context.WithTimeout(ctx, e.config.Timeouts.Hash)
	defer cancel()

	if err := e.hashSlots.Acquire(hctx, 1); err != nil {
		return e.unavailable(op, fmt.Errorf("hash slot: %w", err))
	}

	done := make(chan struct{})
	go func() {
		defer e.hashSlots.Release(1)
		defer close(done)
		fn()
	}()

	select {
	case <-done:
		return nil
	case <-hctx.Done():
		return e.unavailable(op, fmt.Errorf("hash: %w", hctx.Err()))
	}
}

func (e *Engine) hashPassword(ctx context.Context, op, secret string) (string, error) {
	var (
		hash    string
		hashErr error
	)
	if err := e.runHash(ctx, op, func() { hash, hashErr = e.hasher.Hash(secret) }); err != nil {
		return "", err
	}
	if hashErr != nil {
		return "", newError(KindGenerationError, op, hashErr)
	}
	return hash, nil
}

// verifyPassword reports whether secret matches encoded. An undecodable
// stored hash is a corrupted record: it is logged and surfaces as
// ServiceUnavailable.
func (e *Engine) verifyPassword(ctx context.Context, op, secret, encoded string) (bool, error) {
	var (
		ok        bool
		verifyErr error
	)
	if err := e.runHash(ctx, op, func() { ok, verifyErr = e.hasher.Verify(secret, encoded) }); err != nil {
		return false, err
	}
	if verifyErr != nil {
		return false, e.unavailable(op, verifyErr, zap.String("reason", "stored password hash unreadable"))
	}
	return ok, nil
}
