// Package mirror fans a finished turn out to the paired session. Events are
// emitted after primary persistence succeeds and consumed by background
// workers; nothing here can fail the primary request.
package mirror

import (
	"sync"
	"time"

	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/store"
	"parley/pkg/telemetry"
	"parley/pkg/utils"
)

// Event is one post-commit turn copy destined for the mirror session.
type Event struct {
	MirrorSession string
	SourceSession string
	UserMsg       models.Message
	AssistantMsg  models.Message
}

// Worker drains a bounded event queue into the store.
type Worker struct {
	ch   chan Event
	stop chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time
}

func NewWorker(capacity int) *Worker {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Worker{
		ch:   make(chan Event, capacity),
		stop: make(chan struct{}),
		now:  time.Now,
	}
}

// Start launches n consumer goroutines.
func (w *Worker) Start(n int) {
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for {
				select {
				case ev, ok := <-w.ch:
					if !ok {
						return
					}
					w.apply(ev)
				case <-w.stop:
					return
				}
			}
		}()
	}
}

// Enqueue hands an event to the workers without blocking the caller. A full
// queue drops the event; the primary turn already succeeded.
func (w *Worker) Enqueue(ev Event) {
	select {
	case w.ch <- ev:
	default:
		telemetry.MirrorEventsTotal.WithLabelValues("dropped").Inc()
		logger.Warn("mirror_queue_full", "mirror", ev.MirrorSession, "source", ev.SourceSession)
	}
}

// Close stops accepting events and waits for the queue to drain.
func (w *Worker) Close() {
	close(w.ch)
	w.wg.Wait()
	close(w.stop)
}

// apply copies the turn into the mirror session under freshly computed
// order indices. Every failure is logged and swallowed.
func (w *Worker) apply(ev Event) {
	maxIdx, err := store.MaxOrderIndex(ev.MirrorSession)
	if err != nil {
		w.fail(ev, "max_order", err)
		return
	}
	ts := w.now().UTC().UnixNano()
	meta := map[string]string{
		"mirrored_from": ev.SourceSession,
	}

	userCopy := ev.UserMsg
	userCopy.ID = utils.GenID()
	userCopy.Session = ev.MirrorSession
	userCopy.Order = maxIdx + 1
	userCopy.TS = ts
	userCopy.Meta = withSource(meta, ev.UserMsg.ID)
	if err := store.AppendMessage(userCopy); err != nil {
		w.fail(ev, "append_user", err)
		return
	}

	asstCopy := ev.AssistantMsg
	asstCopy.ID = utils.GenID()
	asstCopy.Session = ev.MirrorSession
	asstCopy.Order = maxIdx + 2
	asstCopy.TS = ts
	asstCopy.Meta = withSource(meta, ev.AssistantMsg.ID)
	if err := store.AppendMessage(asstCopy); err != nil {
		w.fail(ev, "append_assistant", err)
		return
	}

	if err := store.TouchSession(ev.MirrorSession, ts); err != nil {
		logger.Warn("mirror_touch_failed", "mirror", ev.MirrorSession, "error", err)
	}
	telemetry.MirrorEventsTotal.WithLabelValues("ok").Inc()
	logger.Debug("mirror_applied", "mirror", ev.MirrorSession, "source", ev.SourceSession)
}

func (w *Worker) fail(ev Event, op string, err error) {
	telemetry.MirrorEventsTotal.WithLabelValues("failed").Inc()
	logger.Warn("mirror_write_failed", "mirror", ev.MirrorSession, "source", ev.SourceSession, "op", op, "error", err)
}

func withSource(base map[string]string, sourceMsg string) map[string]string {
	m := make(map[string]string, len(base)+1)
	for k, v := range base {
		m[k] = v
	}
	m["source_msg"] = sourceMsg
	return m
}
