package config

import (
	namingproto "github.com/marmos91/dittodfs/internal/protocol/naming"
	"github.com/marmos91/dittodfs/internal/protocol/rpc"
	storageproto "github.com/marmos91/dittodfs/internal/protocol/storage"
	"github.com/marmos91/dittodfs/pkg/adapter"
	rpcadapter "github.com/marmos91/dittodfs/pkg/adapter/rpc"
	"github.com/marmos91/dittodfs/pkg/metrics"
	"github.com/marmos91/dittodfs/pkg/naming"
	"github.com/marmos91/dittodfs/pkg/storage/node"
)

// Adapter names, used in logs and as the metrics label.
const (
	AdapterNamingService      = "naming-service"
	AdapterNamingRegistration = "naming-registration"
	AdapterStorageData        = "storage-data"
	AdapterStorageCommand     = "storage-command"
)

// CreateNamingAdapters creates the two endpoints of a naming coordinator:
// the client service and the storage registration endpoint, in that order.
func CreateNamingAdapters(cfg *Config, coordinator *naming.Coordinator) []*rpcadapter.RPCAdapter {
	service := cfg.Naming.Service
	service.Name = AdapterNamingService

	registration := cfg.Naming.Registration
	registration.Name = AdapterNamingRegistration

	return []*rpcadapter.RPCAdapter{
		newAdapter(service, namingproto.ServiceProgram(coordinator)),
		newAdapter(registration, namingproto.RegistrationProgram(coordinator)),
	}
}

// CreateStorageAdapters creates the data and command endpoints of a storage
// node, in that order.
func CreateStorageAdapters(cfg *Config, n *node.Node) []*rpcadapter.RPCAdapter {
	data := cfg.Storage.Data
	data.Name = AdapterStorageData

	command := cfg.Storage.Command
	command.Name = AdapterStorageCommand

	return []*rpcadapter.RPCAdapter{
		newAdapter(data, storageproto.DataProgram(n)),
		newAdapter(command, storageproto.CommandProgram(n)),
	}
}

func newAdapter(config rpcadapter.RPCConfig, program *rpc.Program) *rpcadapter.RPCAdapter {
	return rpcadapter.New(config, []*rpc.Program{program}, metrics.NewRPCMetrics(config.Name))
}

// Adapters converts RPC adapters for registration with the server.
func Adapters(rpcAdapters []*rpcadapter.RPCAdapter) []adapter.Adapter {
	out := make([]adapter.Adapter, len(rpcAdapters))
	for i, a := range rpcAdapters {
		out[i] = a
	}
	return out
}
