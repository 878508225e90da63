package workers

import (
	coordinator "github.com/embereye/docpilot/compute-coordinator"
	"github.com/embereye/docpilot/engines"
	"github.com/embereye/docpilot/events"
	"github.com/embereye/docpilot/settings"
	"github.com/embereye/docpilot/storage"
	"github.com/rs/zerolog"
	"sync/atomic"
)

type Deps struct {
	Lg      zerolog.Logger
	Bus     *events.Bus
	Store   *storage.Storage // nil disables the embeddings cache
	Compute []settings.ComputeConfigurationSection
	Summary settings.SummaryConfigurationSection
}

// NewLauncher returns the worker factory the coordinator uses to grow its
// pools. Model workers are spread round-robin over the configured compute
// backends.
func NewLauncher(deps *Deps) coordinator.Launcher {
	var nextBackend uint64

	return func(pool coordinator.PoolKind, id string, inbox chan<- *coordinator.WorkerResponse) coordinator.Worker {
		if pool == coordinator.PK_Model {
			backend := settings.ComputeConfigurationSection{}
			if len(deps.Compute) > 0 {
				idx := int(atomic.AddUint64(&nextBackend, 1)-1) % len(deps.Compute)
				backend = deps.Compute[idx]
			}
			return newModelWorker(id, inbox, deps, backend)
		}
		return newGeneralWorker(id, inbox, deps)
	}
}

func engineFromConfig(backend settings.ComputeConfigurationSection) *engines.RemoteEngine {
	return &engines.RemoteEngine{
		EndpointUrl:           backend.Endpoint,
		EmbeddingsEndpointUrl: backend.EmbeddingsEndpoint,
		Protocol:              backend.Protocol,
		Token:                 backend.Token,
		MaxBatchSize:          backend.MaxBatchSize,
	}
}
