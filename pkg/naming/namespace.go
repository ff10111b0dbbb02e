package naming

import (
	"context"
	"sort"
	"time"

	"github.com/marmos91/dittodfs/internal/logger"
	"github.com/marmos91/dittodfs/pkg/dfs"
	"github.com/marmos91/dittodfs/pkg/path"
	"github.com/marmos91/dittodfs/pkg/storage"
)

// IsDirectory implements Service.
func (c *Coordinator) IsDirectory(ctx context.Context, p path.Path) (isDir bool, err error) {
	defer c.observe("is_directory", time.Now(), &err)

	if p.IsRoot() {
		return true, nil
	}

	parent, _ := p.Parent()
	if err := c.lockPath(ctx, parent, false); err != nil {
		if dfs.IsNotFound(err) {
			return false, dfs.NewNotFound("path not found", p.String())
		}
		return false, err
	}
	defer func() { _ = c.unlockPath(parent, false) }()

	c.mu.Lock()
	isFile := c.isFileLocked(p)
	isDir = c.isDirectoryLocked(p)
	c.mu.Unlock()

	if !isFile && !isDir {
		return false, dfs.NewNotFound("path not found", p.String())
	}
	return isDir, nil
}

// List implements Service.
//
// The names are returned sorted.
func (c *Coordinator) List(ctx context.Context, dir path.Path) (names []string, err error) {
	defer c.observe("list", time.Now(), &err)

	c.mu.Lock()
	isDir := c.isDirectoryLocked(dir)
	c.mu.Unlock()
	if !isDir {
		return nil, dfs.NewNotFound("directory not found", dir.String())
	}

	if err := c.lockPath(ctx, dir, false); err != nil {
		return nil, err
	}
	defer func() { _ = c.unlockPath(dir, false) }()

	c.mu.Lock()
	names = c.childrenLocked(dir, c.files)
	names = append(names, c.childrenLocked(dir, c.directories)...)
	c.mu.Unlock()

	sort.Strings(names)
	return names, nil
}

// childrenLocked returns the names of the members of set that sit exactly one
// level below dir.
func (c *Coordinator) childrenLocked(dir path.Path, set map[string]path.Path) []string {
	var names []string
	for _, p := range set {
		if p.Depth() != dir.Depth()+1 || !p.IsSubpath(dir) {
			continue
		}
		name, _ := p.Last()
		names = append(names, name)
	}
	return names
}

// CreateFile implements Service.
//
// The parent directory is locked exclusively while a storage node, chosen
// uniformly at random, creates the file.
func (c *Coordinator) CreateFile(ctx context.Context, p path.Path) (created bool, err error) {
	defer c.observe("create_file", time.Now(), &err)

	if p.IsRoot() {
		return false, nil
	}

	c.mu.Lock()
	exists := c.knownLocked(p)
	parentOK := c.parentIsDirectoryLocked(p)
	c.mu.Unlock()

	if exists {
		return false, nil
	}
	if !parentOK {
		return false, dfs.NewNotFound("parent directory not found", p.String())
	}

	parent, _ := p.Parent()
	if err := c.lockPath(ctx, parent, true); err != nil {
		return false, err
	}
	defer func() { _ = c.unlockPath(parent, true) }()

	// Re-check under the parent lock: a concurrent create may have won, or
	// a concurrent delete may have removed the parent.
	c.mu.Lock()
	if c.knownLocked(p) {
		c.mu.Unlock()
		return false, nil
	}
	if !c.parentIsDirectoryLocked(p) {
		c.mu.Unlock()
		return false, dfs.NewNotFound("parent directory not found", p.String())
	}
	if len(c.nodes) == 0 {
		c.mu.Unlock()
		return false, &dfs.Error{Code: dfs.ErrUnavailable, Message: "no storage nodes registered", Path: p.String()}
	}
	node := c.nodes[c.pick(len(c.nodes))]
	commandHandle := c.commandOf[node]
	c.mu.Unlock()

	cmd, err := c.dialer.Command(commandHandle)
	if err != nil {
		logger.Warn("CreateFile %s: dial %s failed: %v", p, commandHandle, err)
		return false, nil
	}

	ok, err := cmd.Create(ctx, p)
	if err != nil {
		logger.Warn("CreateFile %s on %s failed: %v", p, node, err)
		return false, nil
	}
	if !ok {
		logger.Debug("CreateFile %s: %s refused to create the file", p, node)
		return false, nil
	}

	c.mu.Lock()
	c.addFileLocked(p, node)
	c.updateGaugesLocked()
	c.mu.Unlock()

	logger.Debug("Created file %s on %s", p, node)
	return true, nil
}

// CreateDirectory implements Service.
//
// Directories only exist in the namespace; no storage node is contacted.
func (c *Coordinator) CreateDirectory(ctx context.Context, p path.Path) (created bool, err error) {
	defer c.observe("create_directory", time.Now(), &err)

	if p.IsRoot() {
		return false, nil
	}

	c.mu.Lock()
	exists := c.knownLocked(p)
	parentOK := c.parentIsDirectoryLocked(p)
	c.mu.Unlock()

	if exists {
		return false, nil
	}
	if !parentOK {
		return false, dfs.NewNotFound("parent directory not found", p.String())
	}

	parent, _ := p.Parent()
	if err := c.lockPath(ctx, parent, true); err != nil {
		return false, err
	}
	defer func() { _ = c.unlockPath(parent, true) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.knownLocked(p) {
		return false, nil
	}
	if !c.parentIsDirectoryLocked(p) {
		return false, dfs.NewNotFound("parent directory not found", p.String())
	}
	c.addDirectoryLocked(p)
	c.updateGaugesLocked()

	logger.Debug("Created directory %s", p)
	return true, nil
}

// Delete implements Service.
//
// Deleting a file removes it from every node in its replica set. Deleting a
// directory asks every node that holds a copy of any file below it to
// delete the directory recursively. In both cases the coordinator forgets
// the path only if every node acknowledged; otherwise nothing is removed
// and false is returned.
func (c *Coordinator) Delete(ctx context.Context, p path.Path) (deleted bool, err error) {
	defer c.observe("delete", time.Now(), &err)

	if p.IsRoot() {
		return false, nil
	}

	c.mu.Lock()
	known := c.knownLocked(p)
	c.mu.Unlock()
	if !known {
		return false, dfs.NewNotFound("path not found", p.String())
	}

	parent, _ := p.Parent()
	if err := c.lockPath(ctx, parent, true); err != nil {
		return false, err
	}
	defer func() { _ = c.unlockPath(parent, true) }()

	c.mu.Lock()
	isFile := c.isFileLocked(p)
	isDir := c.isDirectoryLocked(p)

	var holders []storage.DataHandle
	switch {
	case isFile:
		holders = c.replicaHoldersLocked(p)
	case isDir:
		holders = c.subtreeHoldersLocked(p)
	default:
		c.mu.Unlock()
		return false, dfs.NewNotFound("path not found", p.String())
	}

	commands := make([]storage.CommandHandle, len(holders))
	for i, h := range holders {
		commands[i] = c.commandOf[h]
	}
	c.mu.Unlock()

	acknowledged := 0
	for i, h := range commands {
		cmd, err := c.dialer.Command(h)
		if err != nil {
			logger.Warn("Delete %s: dial %s failed: %v", p, holders[i], err)
			continue
		}

		ok, err := cmd.Delete(ctx, p)
		if err != nil {
			logger.Warn("Delete %s on %s failed: %v", p, holders[i], err)
			continue
		}
		if ok {
			acknowledged++
		}
	}

	if acknowledged != len(commands) {
		logger.Warn("Delete %s: only %d of %d node(s) acknowledged, keeping namespace entry",
			p, acknowledged, len(commands))
		return false, nil
	}

	c.mu.Lock()
	if isFile {
		c.removeFileLocked(p)
	} else {
		c.removeSubtreeLocked(p)
	}
	c.updateGaugesLocked()
	c.mu.Unlock()

	logger.Debug("Deleted %s from %d node(s)", p, len(commands))
	return true, nil
}

// subtreeHoldersLocked returns every node holding a copy of any file below
// dir, sorted by address.
func (c *Coordinator) subtreeHoldersLocked(dir path.Path) []storage.DataHandle {
	seen := make(map[storage.DataHandle]struct{})
	for key, f := range c.files {
		if !f.IsSubpath(dir) {
			continue
		}
		if set, ok := c.replicas[key]; ok {
			for h := range set {
				seen[h] = struct{}{}
			}
		} else if primary, ok := c.primaryOf[key]; ok {
			seen[primary] = struct{}{}
		}
	}

	holders := make([]storage.DataHandle, 0, len(seen))
	for h := range seen {
		holders = append(holders, h)
	}
	sortHandles(holders)
	return holders
}

// removeSubtreeLocked forgets dir and everything below it. Lock entries of
// directories are kept; lock entries of files are dropped.
func (c *Coordinator) removeSubtreeLocked(dir path.Path) {
	for _, f := range c.files {
		if f.IsSubpath(dir) {
			c.removeFileLocked(f)
		}
	}
	for key, d := range c.directories {
		if d.IsSubpath(dir) {
			delete(c.directories, key)
		}
	}
}

// GetStorage implements Service.
func (c *Coordinator) GetStorage(ctx context.Context, p path.Path) (h storage.DataHandle, err error) {
	defer c.observe("get_storage", time.Now(), &err)

	c.mu.Lock()
	defer c.mu.Unlock()

	primary, ok := c.primaryOf[p.Key()]
	if !ok {
		return storage.DataHandle{}, dfs.NewNotFound("file not found", p.String())
	}
	return primary, nil
}
