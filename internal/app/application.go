package app

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/sealed_scores/internal/app/cluster"
	"github.com/R3E-Network/sealed_scores/internal/app/notify"
	"github.com/R3E-Network/sealed_scores/internal/app/services/scores"
	"github.com/R3E-Network/sealed_scores/internal/app/storage"
	"github.com/R3E-Network/sealed_scores/internal/app/storage/memory"
	"github.com/R3E-Network/sealed_scores/internal/app/system"
	"github.com/R3E-Network/sealed_scores/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation. When only one of the two is replaced, the
// job/result atomicity of CompleteJob is that of the job store.
type Stores struct {
	Jobs    storage.JobStore
	Results storage.ResultStore
}

// Options configures the composed application.
type Options struct {
	// Cluster is required; use the fake cluster for local runs.
	Cluster cluster.Cluster
	// Notifiers receive every event after the in-process event log.
	Notifiers []notify.Notifier
	// CallbackBase is the public URL remote clusters post callbacks to.
	CallbackBase string
	EventLogSize int
	// WebSocket enables the event hub.
	WebSocket       bool
	SweepInterval   time.Duration
	SweepStaleAfter time.Duration
}

// Application ties the scores service to its stores, cluster and event sinks
// and manages the lifecycle of the background workers.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Scores  *scores.Service
	Events  *notify.Log
	Hub     *notify.Hub
	Cluster cluster.Cluster
	Sweeper *scores.Sweeper
}

// New builds a fully initialised application.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if opts.Cluster == nil {
		return nil, fmt.Errorf("cluster is required")
	}

	if stores.Jobs == nil || stores.Results == nil {
		mem := memory.New()
		if stores.Jobs == nil {
			stores.Jobs = mem
		}
		if stores.Results == nil {
			stores.Results = mem
		}
	}

	events := notify.NewLog(opts.EventLogSize)
	sinks := notify.Multi{events}
	var hub *notify.Hub
	if opts.WebSocket {
		hub = notify.NewHub(events, log)
		sinks = append(sinks, hub)
	}
	sinks = append(sinks, opts.Notifiers...)

	svc := scores.New(stores.Jobs, stores.Results, opts.Cluster, sinks, log)
	if opts.CallbackBase != "" {
		svc.WithCallbackBase(opts.CallbackBase)
	}

	manager := system.NewManager()
	pump := scores.NewPump(svc, opts.Cluster, log)
	sweeper := scores.NewSweeper(svc, opts.SweepInterval, opts.SweepStaleAfter, log)
	for _, worker := range []system.Service{pump, sweeper} {
		if err := manager.Register(worker); err != nil {
			return nil, fmt.Errorf("register %s: %w", worker.Name(), err)
		}
	}

	return &Application{
		manager: manager,
		log:     log,
		Scores:  svc,
		Events:  events,
		Hub:     hub,
		Cluster: opts.Cluster,
		Sweeper: sweeper,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services and disconnects event stream clients.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	if a.Hub != nil {
		a.Hub.Close()
	}
	return err
}
