package naming

import (
	"context"
	"time"

	"github.com/marmos91/dittodfs/internal/logger"
	"github.com/marmos91/dittodfs/pkg/dfs"
	"github.com/marmos91/dittodfs/pkg/path"
	"github.com/marmos91/dittodfs/pkg/storage"
)

// Register implements Registration.
//
// Every reported file that is not yet known is added to the namespace with
// the registering node as primary; missing ancestor directories are created
// along the way. A reported path is a duplicate when it is already a file or
// directory, or when one of its ancestors is a file. Duplicates are returned
// so the node can delete its local copies. Reporting a path twice in the same
// call is not a duplicate.
func (c *Coordinator) Register(ctx context.Context, data storage.DataHandle, command storage.CommandHandle, files []path.Path) (duplicates []path.Path, err error) {
	defer c.observe("register", time.Now(), &err)

	if data.IsZero() {
		return nil, dfs.NewInvalidArgument("storage handle is null", "")
	}
	if command.IsZero() {
		return nil, dfs.NewInvalidArgument("command handle is null", "")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.commandOf[data]; exists {
		return nil, dfs.NewInvalidArgument("storage node already registered", data.Addr)
	}

	c.commandOf[data] = command
	c.nodes = append(c.nodes, data)

	reported := make(map[string]struct{}, len(files))
	duplicates = []path.Path{}
	added := 0

	for _, f := range files {
		if f.IsRoot() {
			continue
		}
		if _, seen := reported[f.Key()]; seen {
			continue
		}
		reported[f.Key()] = struct{}{}

		if c.knownLocked(f) || c.underFileLocked(f) {
			duplicates = append(duplicates, f)
			continue
		}

		chain := f.Ancestors()
		for _, ancestor := range chain[1 : len(chain)-1] {
			if !c.isDirectoryLocked(ancestor) {
				c.addDirectoryLocked(ancestor)
			}
		}
		c.addFileLocked(f, data)
		added++
	}

	c.metrics.SetStorageNodes(len(c.nodes))
	c.updateGaugesLocked()

	logger.Info("Registered storage node %s (%s): %d file(s) reported, %d added, %d duplicate(s)",
		data, command, len(files), added, len(duplicates))

	return duplicates, nil
}
