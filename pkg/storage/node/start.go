package node

import (
	"context"
	"fmt"

	"github.com/marmos91/dittodfs/internal/logger"
	"github.com/marmos91/dittodfs/pkg/naming"
	"github.com/marmos91/dittodfs/pkg/storage"
)

// Start registers the node with the naming coordinator.
//
// Every local file is reported. Files the coordinator already knows are
// deleted locally, then empty directories are pruned. The data and command
// programs must already be reachable at the given handles, since the
// coordinator may call them as soon as registration returns.
func (n *Node) Start(ctx context.Context, registration naming.Registration, data storage.DataHandle, command storage.CommandHandle) error {
	files, err := n.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list local files: %w", err)
	}

	logger.Info("Storage node %s registering %d files: data=%s command=%s",
		n.id, len(files), data.Addr, command.Addr)

	duplicates, err := registration.Register(ctx, data, command, files)
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for _, p := range duplicates {
		if err := n.store.Delete(ctx, p); err != nil {
			return fmt.Errorf("failed to delete duplicate %s: %w", p, err)
		}
	}
	if err := n.store.PruneEmpty(ctx); err != nil {
		return fmt.Errorf("failed to prune empty directories: %w", err)
	}

	n.metrics.RecordDuplicatesRemoved(len(duplicates))
	n.metrics.SetFilesHosted(len(files) - len(duplicates))

	logger.Info("Storage node %s registered: %d files hosted, %d duplicates removed",
		n.id, len(files)-len(duplicates), len(duplicates))
	return nil
}
