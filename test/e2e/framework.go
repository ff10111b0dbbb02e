// Package e2e runs whole clusters (one naming coordinator and several
// storage nodes, all on loopback TCP) and drives them through the same
// clients the binaries use.
package e2e

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittodfs/internal/logger"
	namingproto "github.com/marmos91/dittodfs/internal/protocol/naming"
	"github.com/marmos91/dittodfs/internal/protocol/rpc"
	storageproto "github.com/marmos91/dittodfs/internal/protocol/storage"
	rpcadapter "github.com/marmos91/dittodfs/pkg/adapter/rpc"
	"github.com/marmos91/dittodfs/pkg/config"
	"github.com/marmos91/dittodfs/pkg/naming"
	"github.com/marmos91/dittodfs/pkg/path"
	"github.com/marmos91/dittodfs/pkg/server"
	"github.com/marmos91/dittodfs/pkg/storage"
	"github.com/marmos91/dittodfs/pkg/storage/node"
	"github.com/marmos91/dittodfs/pkg/store/content"
)

const startupTimeout = 10 * time.Second

// TestContext is a running cluster.
type TestContext struct {
	T           *testing.T
	Config      *TestConfig
	Coordinator *naming.Coordinator

	// Service is a client of the coordinator's service endpoint.
	Service *namingproto.ServiceClient

	// Nodes in the order they joined.
	Nodes []*StorageNode

	pool             *rpc.Pool
	dialer           *storageproto.Dialer
	registrationAddr string
	ctx              context.Context
	cancel           context.CancelFunc
	wg               sync.WaitGroup
}

// StorageNode is one running storage node.
type StorageNode struct {
	Node    *node.Node
	Store   content.Store
	Data    storage.DataHandle
	Command storage.CommandHandle
}

// NewTestContext starts a coordinator. Nodes are added with AddNode.
// Everything is stopped when the test ends.
func NewTestContext(t *testing.T, cfg *TestConfig) *TestContext {
	t.Helper()

	logger.SetLevel("ERROR")

	ctx, cancel := context.WithCancel(context.Background())
	tc := &TestContext{
		T:      t,
		Config: cfg,
		pool:   rpc.NewPool(5 * time.Second),
		ctx:    ctx,
		cancel: cancel,
	}
	tc.dialer = storageproto.NewDialer(tc.pool)
	t.Cleanup(tc.Cleanup)

	tc.startNaming()
	return tc
}

// processConfig returns defaults with every endpoint on an OS-chosen
// loopback port.
func processConfig() *config.Config {
	cfg := config.GetDefaultConfig()
	for _, endpoint := range []*rpcadapter.RPCConfig{
		&cfg.Naming.Service, &cfg.Naming.Registration, &cfg.Storage.Data, &cfg.Storage.Command,
	} {
		endpoint.Host = "127.0.0.1"
		endpoint.Port = 0
		endpoint.MetricsLogInterval = time.Hour
		endpoint.ShutdownTimeout = 2 * time.Second
	}
	cfg.Storage.Hostname = "127.0.0.1"
	return cfg
}

func (tc *TestContext) startNaming() {
	tc.T.Helper()

	cfg := processConfig()
	if tc.Config.ReplicationThreshold > 0 {
		cfg.Naming.ReplicationThreshold = tc.Config.ReplicationThreshold
	}

	tc.Coordinator = naming.New(naming.Config{
		ReplicationThreshold: cfg.Naming.ReplicationThreshold,
	}, tc.dialer, nil)

	adapters := config.CreateNamingAdapters(cfg, tc.Coordinator)
	tc.serve(adapters)

	tc.Service = namingproto.NewServiceClient(tc.pool, loopback(adapters[0].Port()))
	tc.registrationAddr = loopback(adapters[1].Port())
}

// AddNode starts a storage node holding files before it registers, and
// registers it.
func (tc *TestContext) AddNode(files map[string]string) *StorageNode {
	tc.T.Helper()

	cfg := processConfig()
	cfg.Storage.Content = tc.Config.ContentConfig(tc.T)
	cfg.Storage.CopyChunkSize = 7

	store, err := config.CreateContentStore(tc.ctx, &cfg.Storage.Content)
	if err != nil {
		tc.T.Fatalf("Failed to create content store: %v", err)
	}
	tc.T.Cleanup(func() { _ = store.Close() })

	for name, data := range files {
		p := path.MustParse(name)
		if err := store.Create(tc.ctx, p); err != nil {
			tc.T.Fatalf("Failed to seed %s: %v", name, err)
		}
		if err := store.WriteAt(tc.ctx, p, 0, []byte(data)); err != nil {
			tc.T.Fatalf("Failed to seed %s: %v", name, err)
		}
	}

	n := node.New(node.Config{CopyChunkSize: cfg.Storage.CopyChunkSize}, store, tc.dialer, nil)
	adapters := config.CreateStorageAdapters(cfg, n)
	tc.serve(adapters)

	sn := &StorageNode{
		Node:    n,
		Store:   store,
		Data:    storage.DataHandle{Addr: loopback(adapters[0].Port())},
		Command: storage.CommandHandle{Addr: loopback(adapters[1].Port())},
	}

	registration := namingproto.NewRegistrationClient(tc.pool, tc.registrationAddr)
	if err := n.Start(tc.ctx, registration, sn.Data, sn.Command); err != nil {
		tc.T.Fatalf("Storage node failed to register: %v", err)
	}

	tc.Nodes = append(tc.Nodes, sn)
	return sn
}

// serve runs adapters under one server and waits until all of them listen.
func (tc *TestContext) serve(adapters []*rpcadapter.RPCAdapter) {
	tc.T.Helper()

	srv := server.New(2 * time.Second)
	for _, a := range config.Adapters(adapters) {
		if err := srv.AddAdapter(a); err != nil {
			tc.T.Fatalf("Failed to add adapter: %v", err)
		}
	}

	tc.wg.Add(1)
	go func() {
		defer tc.wg.Done()
		_ = srv.Serve(tc.ctx)
	}()

	deadline := time.After(startupTimeout)
	for _, a := range adapters {
		select {
		case <-a.Listening():
		case <-deadline:
			tc.T.Fatalf("%s did not start within %v", a.Protocol(), startupTimeout)
		}
	}
}

// Cleanup stops every process of the cluster.
func (tc *TestContext) Cleanup() {
	tc.cancel()
	_ = tc.pool.Close()
	tc.wg.Wait()
}

// Context returns the cluster context.
func (tc *TestContext) Context() context.Context {
	return tc.ctx
}

// DataClient returns a client for a data handle.
func (tc *TestContext) DataClient(h storage.DataHandle) storage.Data {
	tc.T.Helper()

	data, err := tc.dialer.Data(h)
	if err != nil {
		tc.T.Fatalf("Failed to reach %s: %v", h, err)
	}
	return data
}

// WriteFile writes data at offset 0 of p on the node holding its primary copy.
func (tc *TestContext) WriteFile(p path.Path, data []byte) {
	tc.T.Helper()

	h, err := tc.Service.GetStorage(tc.ctx, p)
	if err != nil {
		tc.T.Fatalf("GetStorage(%s): %v", p, err)
	}
	if err := tc.DataClient(h).Write(tc.ctx, p, 0, data); err != nil {
		tc.T.Fatalf("Write(%s): %v", p, err)
	}
}

// ReadFile reads the whole of p from the node at h.
func (tc *TestContext) ReadFile(h storage.DataHandle, p path.Path) []byte {
	tc.T.Helper()

	data := tc.DataClient(h)
	size, err := data.Size(tc.ctx, p)
	if err != nil {
		tc.T.Fatalf("Size(%s) on %s: %v", p, h, err)
	}
	out, err := data.Read(tc.ctx, p, 0, int32(size))
	if err != nil {
		tc.T.Fatalf("Read(%s) on %s: %v", p, h, err)
	}
	return out
}

// NodeAt returns the storage node serving h.
func (tc *TestContext) NodeAt(h storage.DataHandle) *StorageNode {
	tc.T.Helper()

	for _, n := range tc.Nodes {
		if n.Data == h {
			return n
		}
	}
	tc.T.Fatalf("no storage node at %s", h)
	return nil
}

// runOnAllConfigs runs fn against a fresh cluster for each configuration.
func runOnAllConfigs(t *testing.T, fn func(t *testing.T, tc *TestContext)) {
	for _, cfg := range AllConfigurations(t) {
		t.Run(cfg.Name, func(t *testing.T) {
			fn(t, NewTestContext(t, cfg))
		})
	}
}

func loopback(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}
