package naming

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/dittodfs/internal/logger"
	"github.com/marmos91/dittodfs/pkg/dfs"
	"github.com/marmos91/dittodfs/pkg/lock"
	"github.com/marmos91/dittodfs/pkg/path"
)

// Lock implements Service.
func (c *Coordinator) Lock(ctx context.Context, p path.Path, exclusive bool) (err error) {
	defer c.observe("lock", time.Now(), &err)

	if err := c.lockPath(ctx, p, exclusive); err != nil {
		return err
	}

	c.replicate(ctx, p, exclusive)
	return nil
}

// Unlock implements Service.
func (c *Coordinator) Unlock(ctx context.Context, p path.Path, exclusive bool) (err error) {
	defer c.observe("unlock", time.Now(), &err)

	return c.unlockPath(p, exclusive)
}

// lockPath acquires the lock chain of p without running the replication
// policy. Namespace operations use it on parent directories.
//
// The chain is collected with the registry mutex held and acquired with it
// released, so a blocked Lock never stalls unrelated operations.
func (c *Coordinator) lockPath(ctx context.Context, p path.Path, exclusive bool) error {
	c.mu.Lock()
	if !c.knownLocked(p) {
		c.mu.Unlock()
		return dfs.NewNotFound("path not found", p.String())
	}
	chain := c.chainLocked(p)
	c.mu.Unlock()

	if c.config.LockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.LockTimeout)
		defer cancel()
	}

	mode := lock.ModeFor(exclusive)
	start := time.Now()

	for i, l := range chain {
		levelMode := lock.Shared
		if i == len(chain)-1 {
			levelMode = mode
		}

		if err := l.AcquireContext(ctx, levelMode); err != nil {
			// Give back the ancestors already held, deepest first. They
			// were all taken in shared mode.
			for j := i - 1; j >= 0; j-- {
				_ = chain[j].Release(lock.Shared)
			}

			logger.Debug("Lock wait abandoned: path=%s mode=%s level=%d err=%v", p, mode, i, err)
			return &dfs.Error{
				Code:    dfs.ErrCanceled,
				Message: fmt.Sprintf("lock wait abandoned (%v)", err),
				Path:    p.String(),
			}
		}
	}

	// A Delete may have removed p, or replaced a lock entry of its chain,
	// while this call was queued.
	if !c.chainCurrent(p, chain) {
		releaseChain(chain, mode)
		logger.Debug("Lock of %s abandoned: path removed while waiting", p)
		return dfs.NewNotFound("path not found", p.String())
	}

	c.metrics.ObserveLockWait(mode.String(), time.Since(start))
	logger.Debug("Locked %s (%s)", p, mode)

	return nil
}

// unlockPath releases the lock chain of p deepest first.
//
// The target level is released first. If it is not held in the given mode
// nothing else is released, since the ancestor holds then belong to other
// callers.
func (c *Coordinator) unlockPath(p path.Path, exclusive bool) error {
	c.mu.Lock()
	if _, ok := c.locks[p.Key()]; !ok {
		c.mu.Unlock()
		return dfs.NewInvalidArgument("path not found", p.String())
	}
	chain := c.chainLocked(p)
	c.mu.Unlock()

	mode := lock.ModeFor(exclusive)

	if err := chain[len(chain)-1].Release(mode); err != nil {
		if errors.Is(err, lock.ErrNotHeld) {
			return dfs.NewInvalidArgument(fmt.Sprintf("unlock without matching lock (%s)", mode), p.String())
		}
		return err
	}
	for i := len(chain) - 2; i >= 0; i-- {
		if err := chain[i].Release(lock.Shared); err != nil {
			return fmt.Errorf("release ancestor %d of %s: %w", i, p, err)
		}
	}

	logger.Debug("Unlocked %s (%s)", p, mode)
	return nil
}

// releaseChain gives back a fully acquired chain, deepest first.
func releaseChain(chain []*lock.NodeLock, mode lock.Mode) {
	_ = chain[len(chain)-1].Release(mode)
	for i := len(chain) - 2; i >= 0; i-- {
		_ = chain[i].Release(lock.Shared)
	}
}

// chainCurrent reports whether p is still known and every NodeLock of chain
// is still the registered entry for its level.
func (c *Coordinator) chainCurrent(p path.Path, chain []*lock.NodeLock) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.knownLocked(p) {
		return false
	}

	ancestors := p.Ancestors()
	path.Sort(ancestors)
	for i, ancestor := range ancestors {
		if c.locks[ancestor.Key()] != chain[i] {
			return false
		}
	}
	return true
}

// chainLocked returns the NodeLocks of p's ancestor chain, root first,
// creating missing entries.
func (c *Coordinator) chainLocked(p path.Path) []*lock.NodeLock {
	ancestors := p.Ancestors()
	path.Sort(ancestors)

	chain := make([]*lock.NodeLock, len(ancestors))
	for i, ancestor := range ancestors {
		chain[i] = c.nodeLockLocked(ancestor)
	}
	return chain
}
