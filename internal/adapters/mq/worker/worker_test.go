package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	worker "github.com/okian/herald/internal/adapters/mq/worker"
	model "github.com/okian/herald/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

type mockQueue struct {
	eventChan chan model.RawEvent
	closed    atomic.Bool
}

func newMockQueue() *mockQueue {
	return &mockQueue{eventChan: make(chan model.RawEvent, 10)}
}

func (mq *mockQueue) Dequeue(context.Context) <-chan model.RawEvent { return mq.eventChan }

func (mq *mockQueue) Close() error {
	if mq.closed.CompareAndSwap(false, true) {
		close(mq.eventChan)
	}
	return nil
}

type mockHandler struct {
	mu      sync.Mutex
	handled []string
	fail    map[string]error
}

func (h *mockHandler) Handle(_ context.Context, raw model.RawEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fail[raw.ID]; err != nil {
		return err
	}
	h.handled = append(h.handled, raw.ID)
	return nil
}

func (h *mockHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.handled...)
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a running dispatcher", t, func() {
		q := newMockQueue()
		h := &mockHandler{fail: map[string]error{"bad": errors.New("boom")}}
		w := worker.NewInMemoryWorker(q, h, worker.WithName("test-dispatcher"))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When events arrive, including a failing one", func() {
			q.eventChan <- model.RawEvent{ID: "bad"}
			q.eventChan <- model.RawEvent{ID: "d-1"}

			convey.Convey("Then the good event is still handled", func() {
				convey.So(waitFor(func() bool { return len(h.seen()) == 1 }), convey.ShouldBeTrue)
				convey.So(h.seen(), convey.ShouldResemble, []string{"d-1"})
			})
		})

		convey.Convey("When shutting down", func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
			defer shutdownCancel()

			convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
		})
	})
}

func TestDispatchers(t *testing.T) {
	convey.Convey("Given three dispatchers over one queue", t, func() {
		q := newMockQueue()
		h := &mockHandler{}
		d := worker.NewDispatchers(3, q, h)
		d.Start(context.Background())

		for _, id := range []string{"a", "b", "c", "d"} {
			q.eventChan <- model.RawEvent{ID: id}
		}

		convey.Convey("Then every event is handled once", func() {
			convey.So(waitFor(func() bool { return len(h.seen()) == 4 }), convey.ShouldBeTrue)
			convey.So(h.seen(), convey.ShouldHaveLength, 4)
		})

		convey.Convey("Then shutdown closes the queue", func() {
			convey.So(d.Shutdown(context.Background()), convey.ShouldBeNil)
			convey.So(q.closed.Load(), convey.ShouldBeTrue)
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool of two", t, func() {
		p := worker.NewPool(2, 4)
		defer p.Close()
		ctx := context.Background()

		convey.So(p.Size(), convey.ShouldEqual, 2)

		convey.Convey("When tasks succeed, fail and panic", func() {
			errBoom := errors.New("boom")
			errs := p.Run(ctx, []worker.Task{
				func(context.Context) error { return nil },
				func(context.Context) error { return errBoom },
				func(context.Context) error { panic("subscriber blew up") },
				func(context.Context) error { return nil },
			})

			convey.Convey("Then each result is isolated", func() {
				convey.So(errs, convey.ShouldHaveLength, 4)
				convey.So(errs[0], convey.ShouldBeNil)
				convey.So(errors.Is(errs[1], errBoom), convey.ShouldBeTrue)
				convey.So(errors.Is(errs[2], worker.ErrTaskPanic), convey.ShouldBeTrue)
				convey.So(errs[2].Error(), convey.ShouldContainSubstring, "subscriber blew up")
				convey.So(errs[3], convey.ShouldBeNil)
			})
		})

		convey.Convey("When many tasks run", func() {
			var running, peak atomic.Int32
			tasks := make([]worker.Task, 20)
			for i := range tasks {
				tasks[i] = func(context.Context) error {
					n := running.Add(1)
					for {
						old := peak.Load()
						if n <= old || peak.CompareAndSwap(old, n) {
							break
						}
					}
					time.Sleep(2 * time.Millisecond)
					running.Add(-1)
					return nil
				}
			}
			errs := p.Run(ctx, tasks)

			convey.Convey("Then concurrency never exceeds the pool size", func() {
				for _, err := range errs {
					convey.So(err, convey.ShouldBeNil)
				}
				convey.So(int(peak.Load()), convey.ShouldBeLessThanOrEqualTo, 2)
			})
		})

		convey.Convey("When the context is already cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			var ran atomic.Bool
			errs := p.Run(cctx, []worker.Task{func(context.Context) error { ran.Store(true); return nil }})

			convey.Convey("Then the task does not run", func() {
				convey.So(errors.Is(errs[0], context.Canceled), convey.ShouldBeTrue)
				convey.So(ran.Load(), convey.ShouldBeFalse)
			})
		})
	})
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
