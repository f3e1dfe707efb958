package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Poller runs a cycle immediately and then on a fixed interval. Restart
// cancels the cycle in flight and starts a fresh interval; restarts requested
// while one is pending collapse into one.
type Poller struct {
	interval time.Duration
	cycle    func(ctx context.Context)
	logger   *zap.Logger

	restartCh chan struct{}

	mu          sync.Mutex
	cancelCycle context.CancelFunc
	stop        context.CancelFunc
	done        chan struct{}
}

func NewPoller(interval time.Duration, cycle func(ctx context.Context), logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		interval:  interval,
		cycle:     cycle,
		logger:    logger,
		restartCh: make(chan struct{}, 1),
	}
}

// Start launches the loop. Calling Start on a running poller does nothing.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return
	}

	ctx, p.stop = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)

	p.logger.Info("poller started", zap.Duration("interval", p.interval))
}

// Stop cancels the loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()

	if stop == nil {
		return
	}
	stop()
	<-done
	p.logger.Info("poller stopped")
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done != nil
}

// Restart cancels any in-flight cycle and schedules an immediate one.
func (p *Poller) Restart() {
	p.mu.Lock()
	if p.cancelCycle != nil {
		p.cancelCycle()
	}
	p.mu.Unlock()

	select {
	case p.restartCh <- struct{}{}:
	default:
	}
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		// A restart queued before this cycle is already satisfied by it.
		select {
		case <-p.restartCh:
		default:
		}

		p.runCycle(ctx)
		timer.Reset(p.interval)

		select {
		case <-ctx.Done():
			return
		case <-p.restartCh:
			p.logger.Debug("poller restarted")
		case <-timer.C:
		}
	}
}

func (p *Poller) runCycle(ctx context.Context) {
	cycleCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancelCycle = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.cancelCycle = nil
		p.mu.Unlock()
		cancel()
		if r := recover(); r != nil {
			p.logger.Error("poll cycle panicked", zap.Any("panic", r))
		}
	}()

	p.cycle(cycleCtx)
}
