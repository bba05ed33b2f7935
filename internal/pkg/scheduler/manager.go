// Package scheduler drives the payment plan ticks on their cadences.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/StudioDesk/internal/pkg/paymentplan"
)

// Cadence names what triggered a run.
type Cadence string

const (
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceOverdue Cadence = "overdue"
	CadenceManual  Cadence = "manual"
)

// Cadences lists every cadence, manual included.
var Cadences = []Cadence{CadenceDaily, CadenceWeekly, CadenceOverdue, CadenceManual}

// Runner executes the batches. *paymentplan.Service implements it.
type Runner interface {
	RunScheduledTick(ctx context.Context) paymentplan.TickReport
	RunOverdueSweep(ctx context.Context) paymentplan.TickReport
}

// StatsRecorder receives every finished report.
type StatsRecorder interface {
	Record(ctx context.Context, cadence Cadence, report paymentplan.TickReport)
}

// Manager fires the daily, weekly and overdue cadences. A cadence whose
// previous run is still in progress skips its next fire.
type Manager struct {
	runner    Runner
	cfg       Config
	newTicker TickerFactory
	stats     StatsRecorder

	busy map[Cadence]*atomic.Bool

	ctx     context.Context
	cancel  context.CancelFunc
	tickers []Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithTickerFactory replaces the real tickers, mainly for tests.
func WithTickerFactory(f TickerFactory) Option {
	return func(m *Manager) { m.newTicker = f }
}

// WithStats publishes every report to s.
func WithStats(s StatsRecorder) Option {
	return func(m *Manager) { m.stats = s }
}

func NewManager(runner Runner, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		runner:    runner,
		cfg:       cfg,
		newTicker: NewRealTicker,
		busy:      make(map[Cadence]*atomic.Bool, len(Cadences)),
	}
	for _, c := range Cadences {
		m.busy[c] = &atomic.Bool{}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches one worker per configured cadence.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	if !m.cfg.Enabled {
		log.Info("[Scheduler] Disabled by PAYMENT_SCHEDULER_ENABLED, only manual ticks will run")
		return
	}

	m.stopCh = make(chan struct{})
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.tickers = nil
	m.running = true
	log.Info("[Scheduler] Starting payment plan cadences")

	m.startCadence(CadenceDaily, m.cfg.DailyInterval)
	m.startCadence(CadenceWeekly, m.cfg.WeeklyInterval)
	m.startCadence(CadenceOverdue, m.cfg.OverdueSweepInterval)

	log.Info("[Scheduler] Started successfully")
}

func (m *Manager) startCadence(c Cadence, interval time.Duration) {
	if interval <= 0 {
		log.Warnf("[Scheduler] %s cadence disabled (interval %s)", c, interval)
		return
	}
	t := m.newTicker(interval)
	m.tickers = append(m.tickers, t)
	m.wg.Add(1)
	go m.worker(c, t)
	log.Infof("[Scheduler] Started %s worker (interval: %s)", c, interval)
}

// Stop cancels in-flight runs and waits for the workers to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	log.Info("[Scheduler] Stopping payment plan cadences...")

	for _, t := range m.tickers {
		t.Stop()
	}
	close(m.stopCh)
	m.cancel()
	m.running = false

	m.wg.Wait()
	m.tickers = nil
	log.Info("[Scheduler] Stopped successfully")
}

// IsRunning returns whether the cadences are active.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// ErrTickInProgress is returned by RunNow while a manual tick is running.
var ErrTickInProgress = errors.New("manual tick already in progress")

// RunNow runs a full tick synchronously on the same path as the timers.
func (m *Manager) RunNow(ctx context.Context) (paymentplan.TickReport, error) {
	report, ok := m.run(ctx, CadenceManual)
	if !ok {
		return report, ErrTickInProgress
	}
	return report, nil
}

func (m *Manager) worker(c Cadence, t Ticker) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Infof("[Scheduler] %s worker stopping", c)
			return
		case <-t.C():
			if _, ok := m.run(m.ctx, c); !ok {
				log.Warnf("[Scheduler] %s tick skipped, previous run still in progress", c)
			}
		}
	}
}

// run executes one cadence unless it is already running. The manual cadence
// is guarded too, so repeated admin clicks do not stack.
func (m *Manager) run(ctx context.Context, c Cadence) (paymentplan.TickReport, bool) {
	busy := m.busy[c]
	if !busy.CompareAndSwap(false, true) {
		return paymentplan.TickReport{}, false
	}
	defer busy.Store(false)

	var report paymentplan.TickReport
	if c == CadenceOverdue {
		report = m.runner.RunOverdueSweep(ctx)
	} else {
		report = m.runner.RunScheduledTick(ctx)
	}

	if m.stats != nil {
		// Stats must not depend on the tick's own context.
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		m.stats.Record(sctx, c, report)
		cancel()
	}
	if report.Failed() {
		log.Warnf("[Scheduler] %s tick finished with %d item errors", c, len(report.Errors))
	}
	return report, true
}
