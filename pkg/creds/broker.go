package creds

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrSignatureDeclined is returned (wrapped) by signers when the user
// rejects the signature prompt. Re-entering the flow is expected.
var ErrSignatureDeclined = errors.New("creds: signature declined by user")

// IssuanceError wraps a failed create attempt that was not a user decline.
type IssuanceError struct {
	Err error
}

func (e *IssuanceError) Error() string {
	return fmt.Sprintf("creds: credential issuance failed: %v", e.Err)
}

func (e *IssuanceError) Unwrap() error { return e.Err }

// Issuer is the exchange credential surface: derive returns previously
// issued credentials for the signing identity, create issues new ones. Both
// require one EIP-712 signature from the connected wallet.
type Issuer interface {
	DeriveAPIKey(ctx context.Context) (*Credentials, error)
	CreateAPIKey(ctx context.Context) (*Credentials, error)
}

// Broker resolves trading credentials for an EOA: cache first, then derive,
// then create, persisting the result.
type Broker struct {
	store  *Store
	issuer Issuer
	log    *zap.Logger
}

// NewBroker creates a broker over the given store and issuer.
func NewBroker(store *Store, issuer Issuer, log *zap.Logger) *Broker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broker{store: store, issuer: issuer, log: log}
}

// Cached returns the stored credentials for eoa without any network call.
func (b *Broker) Cached(eoa string) (*Credentials, bool) {
	c, ok, err := b.store.Get(eoa)
	if err != nil {
		b.log.Warn("credential store read failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return &c, true
}

// GetOrCreate resolves credentials for eoa.
//
// skipDerive is set by callers that deployed the smart-contract wallet within
// the current run: a brand-new account cannot have prior credentials, and
// attempting derive against it produces a confusing failure prompt.
//
// Derive failure for unknown identities is normal control flow and falls
// through to create. A create failure is surfaced as ErrSignatureDeclined
// (recoverable) when the user rejected the prompt, or as an IssuanceError
// otherwise.
func (b *Broker) GetOrCreate(ctx context.Context, eoa string, skipDerive bool) (*Credentials, error) {
	if c, ok := b.Cached(eoa); ok {
		b.log.Debug("credentials from cache", zap.String("eoa", strings.ToLower(eoa)))
		return c, nil
	}

	if !skipDerive {
		c, err := b.issuer.DeriveAPIKey(ctx)
		if err == nil {
			return b.persist(eoa, c)
		}
		if errors.Is(err, ErrSignatureDeclined) {
			return nil, err
		}
		// First-time accounts have nothing to derive.
		b.log.Debug("derive returned nothing, creating", zap.Error(err))
	}

	c, err := b.issuer.CreateAPIKey(ctx)
	if err != nil {
		if errors.Is(err, ErrSignatureDeclined) {
			return nil, err
		}
		return nil, &IssuanceError{Err: err}
	}
	return b.persist(eoa, c)
}

func (b *Broker) persist(eoa string, c *Credentials) (*Credentials, error) {
	if err := b.store.Put(eoa, *c); err != nil {
		// Credentials are still usable this session; losing the cache only
		// costs a future signature.
		b.log.Warn("credential store write failed", zap.Error(err))
	}
	return c, nil
}
