// Package identity obtains and keeps current the mutual TLS identity of a
// stevedore process.
//
// [Bootstrap.Run] establishes the root of trust, reusing a cached root when
// the certificate authority is unreachable, and then either reuses the
// persisted identity or has the authority sign a brand-new one. It is run
// once before serving and periodically by a [Renewer].
//
// [Credentials] holds the result and hands out TLS configurations that
// pick up a renewed identity on the next handshake.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/juliaogris/stevedore/pkg/cert"
)

// ErrNoTrust is returned by [Bootstrap.Run] when no root of trust is cached
// and none could be fetched. The process cannot serve in that state.
var ErrNoTrust = errors.New("no root of trust")

// Authority is the certificate authority as seen by the bootstrap.
// The ca package Client implements it.
type Authority interface {
	// FetchRoot returns the authority's root, or nil if cached is current.
	FetchRoot(ctx context.Context, cached *cert.Root) (*cert.Root, error)
	// SignNewIdentity returns a freshly generated, signed identity.
	SignNewIdentity(ctx context.Context, root *cert.Root) (cert.Identity, error)
}

// Result is the outcome of a bootstrap run.
type Result struct {
	Root     cert.Root
	Identity cert.Identity

	RootChanged bool // a new root was received and persisted
	Renewed     bool // a new identity was signed and persisted
}

// Bootstrap resolves the root of trust and a valid identity. Store and
// Authority are required; the remaining fields are optional.
type Bootstrap struct {
	Store     cert.Store
	Authority Authority

	// RenewBefore renews identities expiring within this window. Zero
	// renews only expired identities.
	RenewBefore time.Duration

	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *Metrics
}

// Run executes one bootstrap pass. The store is only written after a
// complete and validated response from the authority, so a failed pass
// never leaves a partially replaced identity behind.
func (b *Bootstrap) Run(ctx context.Context) (Result, error) {
	root, rootChanged, err := b.resolveRoot(ctx)
	if err != nil {
		b.Metrics.renewal(resultError)
		return Result{}, err
	}
	result := Result{Root: root, RootChanged: rootChanged}
	if rootChanged {
		b.Metrics.rootChanged()
	}

	cached, cachedOK := b.cachedIdentity(root)
	if cachedOK && cached.ValidAt(b.now(), b.RenewBefore) {
		result.Identity = cached
		b.Metrics.renewal(resultReused)
		b.Metrics.expiry(cached)
		return result, nil
	}

	id, err := b.renew(ctx, root)
	if err != nil {
		b.Metrics.renewal(resultError)
		if cachedOK && cached.ValidAt(b.now(), 0) {
			b.logger().Warn("identity renewal failed, using cached identity", "err", err)
			result.Identity = cached
			b.Metrics.expiry(cached)
			return result, nil
		}
		return Result{}, err
	}
	result.Identity = id
	result.Renewed = true
	b.Metrics.renewal(resultRenewed)
	b.Metrics.expiry(id)
	return result, nil
}

func (b *Bootstrap) resolveRoot(ctx context.Context) (cert.Root, bool, error) {
	var cached *cert.Root
	root, err := b.Store.LoadRoot()
	switch {
	case err == nil:
		cached = &root
	case errors.Is(err, cert.ErrNotFound):
	case errors.Is(err, cert.ErrCorrupt):
		b.logger().Warn("ignoring corrupt cached root", "err", err)
	default:
		return cert.Root{}, false, fmt.Errorf("cannot load root: %w", err)
	}

	fetched, err := b.Authority.FetchRoot(ctx, cached)
	if err != nil {
		if cached == nil {
			return cert.Root{}, false, fmt.Errorf("%w: %w", ErrNoTrust, err)
		}
		b.logger().Warn("cannot fetch root, using cached root", "err", err)
		return *cached, false, nil
	}
	if fetched == nil {
		if cached == nil {
			return cert.Root{}, false, fmt.Errorf("%w: authority sent no root", ErrNoTrust)
		}
		return *cached, false, nil
	}
	if cached != nil && fetched.Equal(*cached) {
		return *cached, false, nil
	}
	if err := b.Store.SaveRoot(*fetched); err != nil {
		return cert.Root{}, false, fmt.Errorf("cannot save root: %w", err)
	}
	if cached != nil {
		b.logger().Info("root of trust changed")
	}
	return *fetched, true, nil
}

// cachedIdentity returns the persisted identity if it is usable with root.
func (b *Bootstrap) cachedIdentity(root cert.Root) (cert.Identity, bool) {
	id, err := b.Store.Load()
	switch {
	case err == nil:
	case errors.Is(err, cert.ErrNotFound):
		return cert.Identity{}, false
	default:
		b.logger().Warn("ignoring cached identity", "err", err)
		return cert.Identity{}, false
	}
	if err := id.SignedBy(root); err != nil {
		b.logger().Info("cached identity does not chain to root", "err", err)
		return cert.Identity{}, false
	}
	return id, true
}

func (b *Bootstrap) renew(ctx context.Context, root cert.Root) (cert.Identity, error) {
	id, err := b.Authority.SignNewIdentity(ctx, &root)
	if err != nil {
		return cert.Identity{}, fmt.Errorf("cannot sign identity: %w", err)
	}
	if err := b.Store.Save(id); err != nil {
		return cert.Identity{}, fmt.Errorf("cannot save identity: %w", err)
	}
	notAfter, _ := id.NotAfter()
	b.logger().Info("identity renewed", "notAfter", notAfter)
	return id, nil
}

func (b *Bootstrap) now() time.Time {
	if b.Now == nil {
		return time.Now()
	}
	return b.Now()
}

func (b *Bootstrap) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}
