package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/zapkiosk/zapkiosk/internal/config"
	"github.com/zapkiosk/zapkiosk/internal/donation"
	"github.com/zapkiosk/zapkiosk/internal/ops"
)

// Presenter receives the presentation phases of a donation alert.
// Pulse fires the attention cue (haptic/sound), Show makes the alert
// visible, Hide starts the exit transition. The queue calls these from
// a single goroutine, one donation at a time.
type Presenter interface {
	Pulse(d *donation.Donation)
	Show(d *donation.Donation)
	Hide(d *donation.Donation)
}

// NopPresenter discards all presentation phases
type NopPresenter struct{}

func (NopPresenter) Pulse(*donation.Donation) {}
func (NopPresenter) Show(*donation.Donation)  {}
func (NopPresenter) Hide(*donation.Donation)  {}

// Queue serializes donation alerts: a FIFO backlog feeding one active
// presentation slot. The next donation is pulled only after the
// previous one's pulse, visible and exit phases have all completed, so
// a burst of zaps plays back one alert at a time with none skipped or
// merged. The backlog is unbounded; donation rates are human-scale.
type Queue struct {
	presenter Presenter
	cfg       config.Alerts
	log       *ops.Logger

	mu      sync.Mutex
	pending []*donation.Donation
	current *donation.Donation

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates an alert queue driving the given presenter
func NewQueue(presenter Presenter, cfg config.Alerts, logger *ops.Logger) *Queue {
	if presenter == nil {
		presenter = NopPresenter{}
	}
	return &Queue{
		presenter: presenter,
		cfg:       cfg,
		log:       logger.WithComponent("alerts"),
		wake:      make(chan struct{}, 1),
	}
}

// Enqueue appends a donation to the backlog. Never blocks, never drops.
func (q *Queue) Enqueue(d *donation.Donation) {
	if d == nil {
		return
	}

	q.mu.Lock()
	q.pending = append(q.pending, d)
	queued := len(q.pending)
	q.mu.Unlock()

	q.log.LogAlert(d.ID, "queued", queued)

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Current returns the donation occupying the active presentation slot,
// or nil when the slot is idle.
func (q *Queue) Current() *donation.Donation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// Pending returns the backlog length, excluding the current item
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Start launches the presentation worker
func (q *Queue) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	q.wg.Add(1)
	go q.run(workerCtx)
}

// Stop halts the worker. An in-flight alert is abandoned mid-phase;
// remaining backlog is discarded with the process.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()

	for {
		d := q.pop()
		if d == nil {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		if !q.present(ctx, d) {
			return
		}
	}
}

func (q *Queue) pop() *donation.Donation {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	d := q.pending[0]
	q.pending = q.pending[1:]
	return d
}

// present runs one full display cycle. Only completion advances the
// slot: new arrivals never interrupt an alert in progress. Returns
// false when the context was cancelled mid-cycle.
func (q *Queue) present(ctx context.Context, d *donation.Donation) bool {
	q.mu.Lock()
	q.current = d
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.current = nil
		q.mu.Unlock()
	}()

	q.presenter.Pulse(d)
	q.log.LogAlert(d.ID, "pulse", q.Pending())
	if !sleepCtx(ctx, time.Duration(q.cfg.PulseMs)*time.Millisecond) {
		return false
	}

	q.presenter.Show(d)
	q.log.LogAlert(d.ID, "visible", q.Pending())
	if !sleepCtx(ctx, time.Duration(q.cfg.VisibleMs)*time.Millisecond) {
		return false
	}

	q.presenter.Hide(d)
	q.log.LogAlert(d.ID, "exit", q.Pending())
	return sleepCtx(ctx, time.Duration(q.cfg.ExitMs)*time.Millisecond)
}

// sleepCtx sleeps for d, returning false if the context ended first
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
