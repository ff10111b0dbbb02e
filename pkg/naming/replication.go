package naming

import (
	"context"

	"github.com/marmos91/dittodfs/internal/logger"
	"github.com/marmos91/dittodfs/pkg/path"
	"github.com/marmos91/dittodfs/pkg/storage"
)

// replicate runs the replication policy for a freshly locked path.
//
// It is a no-op for directories. The caller holds the lock chain of p, so
// no writer can run concurrently with a copy and no reader can observe a
// replica being invalidated.
func (c *Coordinator) replicate(ctx context.Context, p path.Path, exclusive bool) {
	if exclusive {
		c.invalidateReplicas(ctx, p)
		return
	}
	c.countRead(ctx, p)
}

// countRead records one read of p and creates a new replica when the read
// counter reaches the threshold.
func (c *Coordinator) countRead(ctx context.Context, p path.Path) {
	key := p.Key()

	c.mu.Lock()
	if !c.isFileLocked(p) {
		c.mu.Unlock()
		return
	}

	c.reads[key]++
	if c.reads[key] < c.config.ReplicationThreshold {
		c.mu.Unlock()
		return
	}
	c.reads[key] = 0

	primary := c.primaryOf[key]
	held := c.replicas[key]

	type candidate struct {
		data    storage.DataHandle
		command storage.CommandHandle
	}
	var candidates []candidate
	for _, node := range c.nodes {
		if _, ok := held[node]; !ok {
			candidates = append(candidates, candidate{data: node, command: c.commandOf[node]})
		}
	}
	c.mu.Unlock()

	if len(candidates) == 0 {
		logger.Debug("Replication threshold reached for %s but every node already holds a copy", p)
		return
	}

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			logger.Debug("Replication of %s abandoned: %v", p, err)
			return
		}

		cmd, err := c.dialer.Command(cand.command)
		if err != nil {
			logger.Warn("Replication of %s to %s: dial failed: %v", p, cand.data, err)
			c.metrics.RecordReplicationFailure()
			continue
		}

		ok, err := cmd.Copy(ctx, p, primary)
		if err != nil || !ok {
			logger.Warn("Replication of %s to %s failed: ok=%v err=%v", p, cand.data, ok, err)
			c.metrics.RecordReplicationFailure()
			continue
		}

		c.mu.Lock()
		if set, exists := c.replicas[key]; exists {
			set[cand.data] = struct{}{}
		}
		c.mu.Unlock()

		c.metrics.RecordReplicaCreated()
		logger.Info("Replicated %s from %s to %s", p, primary, cand.data)
		return
	}
}

// invalidateReplicas deletes every copy of p except the primary and resets
// the replica set to the primary alone.
func (c *Coordinator) invalidateReplicas(ctx context.Context, p path.Path) {
	key := p.Key()

	c.mu.Lock()
	if !c.isFileLocked(p) {
		c.mu.Unlock()
		return
	}

	primary := c.primaryOf[key]
	var stale []storage.CommandHandle
	var staleData []storage.DataHandle
	for _, h := range c.replicaHoldersLocked(p) {
		if h != primary {
			stale = append(stale, c.commandOf[h])
			staleData = append(staleData, h)
		}
	}
	c.replicas[key] = map[storage.DataHandle]struct{}{primary: {}}
	c.reads[key] = 0
	c.mu.Unlock()

	for i, h := range stale {
		cmd, err := c.dialer.Command(h)
		if err != nil {
			logger.Warn("Invalidating replica of %s on %s: dial failed: %v", p, staleData[i], err)
			continue
		}

		if _, err := cmd.Delete(ctx, p); err != nil {
			logger.Warn("Invalidating replica of %s on %s failed: %v", p, staleData[i], err)
			continue
		}
	}

	if len(stale) > 0 {
		c.metrics.RecordReplicasInvalidated(len(stale))
		logger.Debug("Invalidated %d replica(s) of %s", len(stale), p)
	}
}
