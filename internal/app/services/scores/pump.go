package scores

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/sealed_scores/internal/app/cluster"
	"github.com/R3E-Network/sealed_scores/internal/app/system"
	svcerrors "github.com/R3E-Network/sealed_scores/internal/errors"
	"github.com/R3E-Network/sealed_scores/pkg/logger"
)

var _ system.Service = (*Pump)(nil)

// Pump drains callbacks from an in-process cluster into the service. Clusters
// that push callbacks over HTTP make the pump exit right away.
type Pump struct {
	service *Service
	cluster cluster.Cluster
	log     *logger.Logger
	backoff time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewPump constructs a lifecycle-managed callback pump.
func NewPump(service *Service, c cluster.Cluster, log *logger.Logger) *Pump {
	if log == nil {
		log = logger.NewDefault("scores-pump")
	}
	return &Pump{service: service, cluster: c, log: log, backoff: time.Second}
}

func (p *Pump) Name() string { return "scores-pump" }

func (p *Pump) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.cluster == nil || p.service == nil {
		p.mu.Unlock()
		p.log.Warn("no cluster configured; callback pump disabled")
		return nil
	}
	if p.running {
		p.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(runCtx)
	}()

	p.log.Info("callback pump started")
	return nil
}

func (p *Pump) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.log.Info("callback pump stopped")
	return nil
}

func (p *Pump) run(ctx context.Context) {
	for {
		cb, err := p.cluster.AwaitCallback(ctx)
		if err != nil {
			if errors.Is(err, cluster.ErrCallbacksPushed) {
				p.log.Info("cluster pushes callbacks over HTTP; pump idle")
				return
			}
			if ctx.Err() != nil {
				return
			}
			p.log.WithError(err).Warn("await callback failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.backoff):
			}
			continue
		}

		if _, err := p.service.HandleCallback(ctx, cb.Offset, cb.Output); err != nil {
			p.log.WithError(err).WithField("offset", cb.Offset).Log(rejectionLevel(err), "callback rejected")
		}
	}
}

// rejectionLevel keeps redelivered callbacks out of the warning stream.
// Failures the service did not classify are errors.
func rejectionLevel(err error) logrus.Level {
	switch {
	case svcerrors.IsKind(err, svcerrors.KindConcurrency):
		return logrus.DebugLevel
	case svcerrors.GetServiceError(err) == nil, svcerrors.IsKind(err, svcerrors.KindInternal):
		return logrus.ErrorLevel
	default:
		return logrus.WarnLevel
	}
}
