package alerts

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zapkiosk/zapkiosk/internal/config"
	"github.com/zapkiosk/zapkiosk/internal/donation"
	"github.com/zapkiosk/zapkiosk/internal/ops"
)

// recordingPresenter records every phase call in order
type recordingPresenter struct {
	mu     sync.Mutex
	phases []string
	shown  []string
	done   chan struct{} // signalled on every Hide
}

func newRecordingPresenter() *recordingPresenter {
	return &recordingPresenter{done: make(chan struct{}, 100)}
}

func (p *recordingPresenter) record(phase, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phases = append(p.phases, phase+":"+id)
}

func (p *recordingPresenter) Pulse(d *donation.Donation) { p.record("pulse", d.ID) }

func (p *recordingPresenter) Show(d *donation.Donation) {
	p.record("show", d.ID)
	p.mu.Lock()
	p.shown = append(p.shown, d.ID)
	p.mu.Unlock()
}

func (p *recordingPresenter) Hide(d *donation.Donation) {
	p.record("hide", d.ID)
	p.done <- struct{}{}
}

func (p *recordingPresenter) shownIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.shown...)
}

func (p *recordingPresenter) allPhases() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.phases...)
}

func setupTestQueue(t *testing.T) (*Queue, *recordingPresenter) {
	t.Helper()

	presenter := newRecordingPresenter()
	cfg := config.Alerts{PulseMs: 1, VisibleMs: 5, ExitMs: 1}
	logger := ops.NewLogger(&config.Logging{Level: "error", Format: "text"})

	q := NewQueue(presenter, cfg, logger)
	q.Start(context.Background())
	t.Cleanup(q.Stop)

	return q, presenter
}

func alertDonation(id string) *donation.Donation {
	return &donation.Donation{
		ID:         id,
		Sender:     "82341f88",
		AmountSats: 21,
		ReceivedAt: 1700000000,
		LocalDate:  "2025-06-01",
	}
}

func waitHides(t *testing.T, p *recordingPresenter, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		select {
		case <-p.done:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for alert %d of %d to complete", i+1, n)
		}
	}
}

func TestBurstPreservesOrder(t *testing.T) {
	q, presenter := setupTestQueue(t)

	const n = 10
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("d%02d", i)
		q.Enqueue(alertDonation(ids[i]))
	}

	waitHides(t, presenter, n)

	shown := presenter.shownIDs()
	if len(shown) != n {
		t.Fatalf("presented %d alerts, want %d (none skipped or merged)", len(shown), n)
	}
	for i, id := range shown {
		if id != ids[i] {
			t.Errorf("alert %d = %s, want %s (arrival order)", i, id, ids[i])
		}
	}
}

func TestPhaseSequence(t *testing.T) {
	q, presenter := setupTestQueue(t)

	q.Enqueue(alertDonation("only"))
	waitHides(t, presenter, 1)

	want := []string{"pulse:only", "show:only", "hide:only"}
	got := presenter.allPhases()
	if len(got) != len(want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("phases = %v, want %v", got, want)
		}
	}
}

func TestOneActiveSlot(t *testing.T) {
	presenter := newRecordingPresenter()
	cfg := config.Alerts{PulseMs: 1, VisibleMs: 50, ExitMs: 1}
	logger := ops.NewLogger(&config.Logging{Level: "error", Format: "text"})

	q := NewQueue(presenter, cfg, logger)
	q.Start(context.Background())
	defer q.Stop()

	q.Enqueue(alertDonation("first"))
	q.Enqueue(alertDonation("second"))

	// While the first alert is visible, the second must still be queued
	deadline := time.Now().Add(2 * time.Second)
	for q.Current() == nil {
		if time.Now().After(deadline) {
			t.Fatal("first alert never became current")
		}
		time.Sleep(time.Millisecond)
	}

	if got := q.Current().ID; got != "first" {
		t.Errorf("Current() = %s, want first", got)
	}
	if got := q.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1 while first is showing", got)
	}

	waitHides(t, presenter, 2)
}

func TestEnqueueWhileIdle(t *testing.T) {
	q, presenter := setupTestQueue(t)

	// Queue drains, goes idle, then a new donation arrives
	q.Enqueue(alertDonation("a"))
	waitHides(t, presenter, 1)

	q.Enqueue(alertDonation("b"))
	waitHides(t, presenter, 1)

	shown := presenter.shownIDs()
	if len(shown) != 2 || shown[0] != "a" || shown[1] != "b" {
		t.Errorf("shown = %v, want [a b]", shown)
	}
}

func TestNilEnqueueIgnored(t *testing.T) {
	q, _ := setupTestQueue(t)

	q.Enqueue(nil)
	if got := q.Pending(); got != 0 {
		t.Errorf("Pending() = %d, want 0 after nil enqueue", got)
	}
}

func TestNilPresenterDefaultsToNop(t *testing.T) {
	logger := ops.NewLogger(&config.Logging{Level: "error", Format: "text"})
	q := NewQueue(nil, config.Alerts{PulseMs: 1, VisibleMs: 1, ExitMs: 1}, logger)
	q.Start(context.Background())
	defer q.Stop()

	// Must not panic
	q.Enqueue(alertDonation("x"))
	time.Sleep(20 * time.Millisecond)
}
