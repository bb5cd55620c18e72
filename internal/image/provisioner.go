// SPDX-License-Identifier: MPL-2.0

package image

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/distribution/reference"

	"github.com/pbtest/pbtest/internal/container"
)

const (
	// DefaultPullTimeout bounds a single pull, retries included.
	DefaultPullTimeout = 20 * time.Minute

	defaultPullAttempts = 3
	defaultPullBackoff  = 2 * time.Second
)

// ErrProvision is wrapped by ProvisionError.
var ErrProvision = errors.New("image provisioning failed")

type (
	// Store is the part of a container engine the provisioner needs.
	Store interface {
		ListImages(ctx context.Context) ([]container.ImageSummary, error)
		PullImage(ctx context.Context, ref string) error
	}

	// ProvisionError reports a failed presence check or pull.
	ProvisionError struct {
		Ref string
		// Op is "parse", "list" or "pull".
		Op  string
		Err error
	}

	// Provisioner ensures images are present locally.
	//
	// The presence check and the pull are not atomic: two processes ensuring
	// the same image may both pull it. Engines treat concurrent pulls of one
	// reference idempotently, so this only costs bandwidth.
	Provisioner struct {
		store        Store
		logger       *slog.Logger
		pullTimeout  time.Duration
		pullAttempts int
		pullBackoff  time.Duration
	}

	// ProvisionerOption configures a Provisioner.
	ProvisionerOption func(*Provisioner)
)

// Error implements the error interface.
func (e *ProvisionError) Error() string {
	return fmt.Sprintf("image %s: %s failed: %v", e.Ref, e.Op, e.Err)
}

// Unwrap exposes ErrProvision and the underlying cause.
func (e *ProvisionError) Unwrap() []error {
	return []error{ErrProvision, e.Err}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ProvisionerOption {
	return func(p *Provisioner) {
		p.logger = l
	}
}

// WithPullTimeout bounds each pull. Zero disables the bound.
func WithPullTimeout(d time.Duration) ProvisionerOption {
	return func(p *Provisioner) {
		p.pullTimeout = d
	}
}

// WithPullRetry sets how often transient pull failures are retried.
func WithPullRetry(attempts int, backoff time.Duration) ProvisionerOption {
	return func(p *Provisioner) {
		p.pullAttempts = max(attempts, 1)
		p.pullBackoff = backoff
	}
}

// NewProvisioner creates a provisioner backed by store.
func NewProvisioner(store Store, opts ...ProvisionerOption) *Provisioner {
	p := &Provisioner{
		store:        store,
		logger:       slog.Default(),
		pullTimeout:  DefaultPullTimeout,
		pullAttempts: defaultPullAttempts,
		pullBackoff:  defaultPullBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Present reports whether ref is available locally.
func (p *Provisioner) Present(ctx context.Context, ref string) (bool, error) {
	named, err := Normalize(ref)
	if err != nil {
		return false, &ProvisionError{Ref: ref, Op: "parse", Err: err}
	}
	return p.present(ctx, ref, named)
}

// Ensure makes sure ref is available locally, pulling it only when missing.
func (p *Provisioner) Ensure(ctx context.Context, ref string) error {
	named, err := Normalize(ref)
	if err != nil {
		return &ProvisionError{Ref: ref, Op: "parse", Err: err}
	}

	ok, err := p.present(ctx, ref, named)
	if err != nil {
		return err
	}
	if ok {
		p.logger.Debug("image present", "image", ref)
		return nil
	}

	p.logger.Info("pulling image", "image", ref)
	start := time.Now()

	pullCtx := ctx
	if p.pullTimeout > 0 {
		var cancel context.CancelFunc
		pullCtx, cancel = context.WithTimeout(ctx, p.pullTimeout)
		defer cancel()
	}

	err = container.RetryWithBackoff(pullCtx, p.pullAttempts, p.pullBackoff, func(attempt int) (bool, error) {
		err := p.store.PullImage(pullCtx, ref)
		if err != nil && container.IsTransientError(err) {
			p.logger.Warn("transient pull failure", "image", ref, "attempt", attempt+1, "error", err)
			return true, err
		}
		return false, err
	})
	if err != nil {
		return &ProvisionError{Ref: ref, Op: "pull", Err: err}
	}

	p.logger.Info("image pulled", "image", ref, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

func (p *Provisioner) present(ctx context.Context, ref string, named reference.Named) (bool, error) {
	images, err := p.store.ListImages(ctx)
	if err != nil {
		return false, &ProvisionError{Ref: ref, Op: "list", Err: err}
	}
	for _, img := range images {
		if Matches(named, img.RepoTags, img.RepoDigests) {
			return true, nil
		}
	}
	return false, nil
}
