package server

import (
	coordinator "github.com/embereye/docpilot/compute-coordinator"
	"github.com/embereye/docpilot/events"
	"github.com/embereye/docpilot/retrieval"
	"github.com/embereye/docpilot/settings"
	"github.com/embereye/docpilot/storage"
	"github.com/embereye/docpilot/workers"
	"github.com/rs/zerolog"
	"time"
)

type Settings struct {
	TopInterval time.Duration
	TermUI      bool
	LogChan     chan []byte
}

type Context struct {
	Config      *settings.ConfigurationFile
	Storage     *storage.Storage
	Log         zerolog.Logger
	Index       retrieval.Index
	Bus         *events.Bus
	Coordinator *coordinator.Coordinator
}

func NewContext(configPath string, lg zerolog.Logger, srvSettings *Settings) (*Context, error) {
	config, err := settings.ProcessConfigurationFile(configPath)
	if err != nil {
		return nil, err
	}

	ctx := &Context{
		Config: config,
		Log:    lg.With().Str("cfg-file", configPath).Logger(),
		Bus:    events.NewBus(),
	}

	if config.Database.Host != "" {
		db, err := storage.NewStorage(&config.Database, lg)
		if err != nil {
			return nil, err
		}
		ctx.Storage = db
	} else {
		lg.Warn().Msg("no database section in config, persistence disabled")
	}

	ctx.Index, err = buildIndex(config, lg)
	if err != nil {
		return nil, err
	}

	launcher := workers.NewLauncher(&workers.Deps{
		Lg:      lg,
		Bus:     ctx.Bus,
		Store:   ctx.Storage,
		Compute: config.Compute,
		Summary: config.Summary,
	})

	ctx.Coordinator = coordinator.NewCoordinator(lg, ctx.Bus, ctx.Index, launcher, &coordinator.Settings{
		ModelWorkers:   config.Workers.ModelWorkers,
		GeneralWorkers: config.Workers.GeneralWorkers,
		InitTimeout:    config.Workers.InitTimeout(),
		EvidenceK:      config.Summary.EvidenceK,
		TopInterval:    srvSettings.TopInterval,
		TermUI:         srvSettings.TermUI,
		LogChan:        srvSettings.LogChan,
	})

	ctx.persistSummaries()

	return ctx, nil
}

func buildIndex(config *settings.ConfigurationFile, lg zerolog.Logger) (retrieval.Index, error) {
	dims := uint64(768)
	for _, vectorDB := range config.VectorDBs {
		if vectorDB.Dimensions > 0 {
			dims = vectorDB.Dimensions
		}
		if vectorDB.Type == "qdrant" {
			index, err := retrieval.NewQdrantIndex(&vectorDB)
			if err != nil {
				return nil, err
			}
			if err = index.EnsureCollection(&retrieval.CollectionParameters{
				Dimensions:      dims,
				DistanceMeasure: retrieval.DistanceCosine,
			}); err != nil {
				lg.Error().Err(err).Msg("error ensuring qdrant collection")
			}
			return index, nil
		}
	}

	lg.Info().Uint64("dims", dims).Msg("using in-process usearch index")
	index := retrieval.NewUsearchIndex()
	if err := index.EnsureCollection(&retrieval.CollectionParameters{
		Dimensions:      dims,
		DistanceMeasure: retrieval.DistanceCosine,
	}); err != nil {
		return nil, err
	}
	return index, nil
}

// persistSummaries mirrors summary lifecycle events into storage so the UI
// can read them back after a restart.
func (ctx *Context) persistSummaries() {
	if ctx.Storage == nil {
		return
	}

	ctx.Bus.SummaryCompleted.Subscribe(func(ev events.SummaryCompleted) {
		if err := ctx.Storage.SaveSummary(ev.DocId, ev.Summary, "ready"); err != nil {
			ctx.Log.Error().Err(err).Str("doc", ev.DocId).Msg("error saving summary")
		}
	})
	ctx.Bus.SummaryFailed.Subscribe(func(ev events.SummaryFailed) {
		if err := ctx.Storage.SaveSummary(ev.DocId, "", "failed"); err != nil {
			ctx.Log.Error().Err(err).Str("doc", ev.DocId).Msg("error saving failed summary state")
		}
	})
}

func (ctx *Context) Start(onStart func(ctx *Context)) {
	go ctx.Coordinator.Run()
	onStart(ctx)
}
