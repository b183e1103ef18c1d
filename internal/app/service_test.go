package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	service "github.com/okian/herald/internal/app"
	"github.com/okian/herald/internal/adapters/repository/memory"
	"github.com/okian/herald/internal/domain/dedupe"
	"github.com/okian/herald/internal/domain/model"
	"github.com/okian/herald/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var t0 = time.Date(2024, 5, 6, 9, 5, 0, 0, time.UTC)

type fakePublisher struct {
	mu        sync.Mutex
	fail      bool
	decisions []*model.DeliveryDecision
	digests   []*model.DigestWindow
}

func (p *fakePublisher) PublishDecision(_ context.Context, d *model.DeliveryDecision) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.decisions = append(p.decisions, d)
	return nil
}

func (p *fakePublisher) PublishDigest(_ context.Context, w *model.DigestWindow) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.digests = append(p.digests, w)
	return nil
}

func (p *fakePublisher) setFail(v bool) {
	p.mu.Lock()
	p.fail = v
	p.mu.Unlock()
}

func (p *fakePublisher) decisionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.decisions)
}

type fixture struct {
	svc       *service.Service
	pub       *fakePublisher
	directory *memory.Directory
	items     *memory.Items
	outbox    *memory.Outbox
}

func userProfile() model.NotificationProfile {
	return model.NotificationProfile{
		ID:       "default",
		Enabled:  true,
		Scope:    model.Scope{Kind: model.ScopeUser},
		Target:   model.Target{Kind: model.TargetDM},
		Priority: 1,
	}
}

func newFixture(opts ...service.Option) *fixture {
	subs := []model.Subscriber{
		{ID: "sub-alice", GitHubLogin: "alice", Profiles: []model.NotificationProfile{userProfile()}},
		{ID: "sub-carol", GitHubLogin: "carol", Profiles: []model.NotificationProfile{userProfile()}},
	}
	cfgs := []model.DigestConfig{{
		ID:           "digest-alice",
		SubscriberID: "sub-alice",
		Enabled:      true,
		Scope:        model.Scope{Kind: model.ScopeUser},
		Time:         "09:00",
		Target:       model.Target{Kind: model.TargetDM},
	}}

	f := &fixture{
		pub:       &fakePublisher{},
		directory: memory.NewDirectory(subs, cfgs),
		items:     memory.NewItems(),
		outbox:    memory.NewOutbox(),
	}
	stores := service.Stores{
		Ledger:        dedupe.NewMemoryStore(),
		Directory:     f.directory,
		Teams:         f.directory,
		Installations: f.directory,
		Items:         f.items,
		Outbox:        f.outbox,
		Slots:         memory.NewSlots(),
	}
	base := []service.Option{
		service.WithClock(func() time.Time { return t0 }),
		service.WithWorkerCount(2),
		service.WithDelivery(time.Second, 1, time.Millisecond),
	}
	svc, err := service.New(stores, f.pub, append(base, opts...)...)
	if err != nil {
		panic(err)
	}
	f.svc = svc
	return f
}

func raw(id string, kind model.Kind, action, payload string) model.RawEvent {
	return model.RawEvent{ID: id, Kind: kind, Action: action, Payload: json.RawMessage(payload), ReceivedAt: t0}
}

const reviewApproved = `{
  "action": "submitted",
  "review": {"id": 7, "state": "APPROVED", "body": "ship it", "user": {"login": "bob"}, "submitted_at": "2024-05-06T09:00:00Z"},
  "pull_request": {
    "number": 12, "title": "Add retries", "body": "", "state": "open",
    "html_url": "https://github.com/acme/api/pull/12",
    "user": {"login": "alice"},
    "requested_reviewers": [], "requested_teams": [], "assignees": []
  },
  "repository": {"id": 1, "full_name": "acme/api"},
  "sender": {"login": "bob", "type": "User"}
}`

const prOpened = `{
  "action": "opened",
  "pull_request": {
    "number": 13, "title": "Tidy config", "body": "", "state": "open",
    "html_url": "https://github.com/acme/api/pull/13",
    "user": {"login": "alice"},
    "requested_reviewers": [{"login": "dave"}], "requested_teams": [], "assignees": []
  },
  "repository": {"id": 1, "full_name": "acme/api"},
  "sender": {"login": "alice", "type": "User"}
}`

func TestService_New(t *testing.T) {
	Convey("Given missing stores", t, func() {
		_, err := service.New(service.Stores{}, &fakePublisher{})

		Convey("Then construction fails", func() {
			So(errors.Is(err, service.ErrMissingDependency), ShouldBeTrue)
		})
	})

	Convey("Given complete stores without a publisher", t, func() {
		stores := service.Stores{
			Ledger:    dedupe.NewMemoryStore(),
			Directory: memory.NewDirectory(nil, nil),
			Items:     memory.NewItems(),
			Outbox:    memory.NewOutbox(),
			Slots:     memory.NewSlots(),
		}
		_, err := service.New(stores, nil)

		So(errors.Is(err, service.ErrMissingDependency), ShouldBeTrue)
	})
}

func TestService_Handle(t *testing.T) {
	Convey("Given a pipeline with alice and carol", t, func() {
		ctx := context.Background()
		f := newFixture()
		Reset(f.svc.Close)

		Convey("When bob approves alice's pull request", func() {
			err := f.svc.Handle(ctx, raw("d-1", model.KindReview, "submitted", reviewApproved))

			Convey("Then both user profiles fire and alice's carries her reason", func() {
				So(err, ShouldBeNil)
				So(f.pub.decisions, ShouldHaveLength, 2)
				So(f.pub.decisions[1].SubscriberID, ShouldEqual, "sub-carol")
				So(f.pub.decisions[1].Reasons.Empty(), ShouldBeTrue)
				d := f.pub.decisions[0]
				So(d.SubscriberID, ShouldEqual, "sub-alice")
				So(d.EventID, ShouldEqual, "d-1")
				So(d.ProfileID, ShouldEqual, "default")
				So(d.Reasons.Has(model.ReasonAuthor), ShouldBeTrue)
				So(d.ActionKey, ShouldEqual, model.ActionKey("pull_request_review.submitted"))
				So(d.DecidedAt, ShouldEqual, t0)
			})

			Convey("Then the pull request is tracked with bob's review", func() {
				open, err := f.items.OpenItems(ctx, t0.Add(-time.Hour))
				So(err, ShouldBeNil)
				So(open, ShouldHaveLength, 1)
				So(open[0].Reviews, ShouldHaveLength, 1)
				So(open[0].Reviews[0].Login, ShouldEqual, "bob")
				So(open[0].Reviews[0].State, ShouldEqual, model.ReviewApproved)
			})

			Convey("Then the counters reflect one processed event", func() {
				stats := f.svc.GetStats()
				So(stats["received"], ShouldEqual, int64(1))
				So(stats["processed"], ShouldEqual, int64(1))
				So(stats["decisions"], ShouldEqual, int64(2))
				So(stats["delivered"], ShouldEqual, int64(2))
			})

			Convey("And the same delivery arrives again", func() {
				err := f.svc.Handle(ctx, raw("d-1", model.KindReview, "submitted", reviewApproved))

				Convey("Then it is skipped without new decisions", func() {
					So(err, ShouldBeNil)
					So(f.pub.decisions, ShouldHaveLength, 2)
					So(f.svc.GetStats()["duplicates"], ShouldEqual, int64(1))
				})
			})
		})

		Convey("When bob opens a pull request nobody is involved in", func() {
			payload := `{"action":"opened","pull_request":{"number":21,"title":"Bump deps","body":"","state":"open",
				"html_url":"https://github.com/acme/api/pull/21","user":{"login":"bob"},
				"requested_reviewers":[],"requested_teams":[],"assignees":[]},
				"repository":{"id":1,"full_name":"acme/api"},"sender":{"login":"bob","type":"User"}}`
			err := f.svc.Handle(ctx, raw("d-4", model.KindPullRequest, "opened", payload))

			Convey("Then every user-scoped profile still fires with empty reasons", func() {
				So(err, ShouldBeNil)
				So(f.pub.decisions, ShouldHaveLength, 2)
				for _, d := range f.pub.decisions {
					So(d.Reasons.Empty(), ShouldBeTrue)
					So(d.ProfileID, ShouldEqual, "default")
				}
			})
		})

		Convey("When the caller gives up before subscribers are evaluated", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			err := f.svc.Handle(cctx, raw("d-5", model.KindReview, "submitted", reviewApproved))

			Convey("Then the event fails without decisions and is not marked processed", func() {
				So(errors.Is(err, service.ErrEvaluationAborted), ShouldBeTrue)
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
				So(f.pub.decisions, ShouldBeEmpty)
				stats := f.svc.GetStats()
				So(stats["failed"], ShouldEqual, int64(1))
				So(stats["processed"], ShouldEqual, int64(0))
				So(stats["decisions"], ShouldEqual, int64(0))
			})

			Convey("And the redelivery evaluates every subscriber", func() {
				So(f.svc.Handle(ctx, raw("d-5", model.KindReview, "submitted", reviewApproved)), ShouldBeNil)
				So(f.pub.decisions, ShouldHaveLength, 2)
				So(f.svc.GetStats()["duplicates"], ShouldEqual, int64(0))
			})
		})

		Convey("When a bot opens a pull request", func() {
			payload := `{"action":"opened","pull_request":{"number":1,"title":"bump","state":"open","user":{"login":"dependabot[bot]","type":"Bot"}},
				"repository":{"id":1,"full_name":"acme/api"},"sender":{"login":"dependabot[bot]","type":"Bot"}}`
			err := f.svc.Handle(ctx, raw("d-2", model.KindPullRequest, "opened", payload))

			Convey("Then the event is dropped", func() {
				So(err, ShouldBeNil)
				So(f.pub.decisions, ShouldBeEmpty)
				So(f.svc.GetStats()["dropped"], ShouldEqual, int64(1))
				So(f.items.Len(), ShouldEqual, 0)
			})
		})

		Convey("When the payload is malformed", func() {
			err := f.svc.Handle(ctx, raw("d-3", model.KindPullRequest, "opened", `{"action":`))

			Convey("Then it is dropped, not failed", func() {
				So(err, ShouldBeNil)
				So(f.svc.GetStats()["failed"], ShouldEqual, int64(0))
			})
		})
	})
}

func TestService_Evaluate(t *testing.T) {
	Convey("Given a classified review event", t, func() {
		ctx := context.Background()
		f := newFixture()
		Reset(f.svc.Close)

		res := f.svc.Classify(raw("d-1", model.KindReview, "submitted", reviewApproved))
		So(res.Kept(), ShouldBeTrue)
		subs, _ := f.directory.Subscribers(ctx)

		Convey("When every subscriber is evaluated", func() {
			evals := f.svc.Evaluate(ctx, res.Event, subs)

			Convey("Then results keep subscriber order with traces", func() {
				So(evals, ShouldHaveLength, 2)
				So(evals[0].SubscriberID, ShouldEqual, "sub-alice")
				So(evals[0].Match.Decision, ShouldNotBeNil)
				So(evals[1].SubscriberID, ShouldEqual, "sub-carol")
				So(evals[1].Reasons.Empty(), ShouldBeTrue)
				So(evals[1].Match.Decision, ShouldNotBeNil)
				So(evals[1].Match.Trace, ShouldHaveLength, 1)
				So(evals[1].Err, ShouldBeNil)
			})

			Convey("Then nothing was published", func() {
				So(f.pub.decisions, ShouldBeEmpty)
			})
		})
	})
}

func TestService_SideEffects(t *testing.T) {
	Convey("Given a pipeline with a directory", t, func() {
		ctx := context.Background()
		f := newFixture()
		Reset(f.svc.Close)

		Convey("When alice is added to a team", func() {
			payload := `{"action":"added","scope":"team","member":{"login":"alice"},"team":{"slug":"backend"},
				"organization":{"login":"acme"},"sender":{"login":"admin"}}`
			So(f.svc.Handle(ctx, raw("m-1", model.KindMembership, "added", payload)), ShouldBeNil)

			Convey("Then the directory knows her team", func() {
				subs, _ := f.directory.Subscribers(ctx)
				So(subs[0].TeamSlugs, ShouldResemble, []string{"backend"})
				So(f.pub.decisions, ShouldBeEmpty)
			})
		})

		Convey("When an unknown login joins a team", func() {
			payload := `{"action":"added","member":{"login":"mallory"},"team":{"slug":"backend"},"sender":{"login":"admin"}}`
			err := f.svc.Handle(ctx, raw("m-2", model.KindMembership, "added", payload))

			Convey("Then the event is still processed", func() {
				So(err, ShouldBeNil)
				So(f.svc.GetStats()["processed"], ShouldEqual, int64(1))
			})
		})

		Convey("When an installation is created then suspended", func() {
			created := `{"action":"created","installation":{"id":42,"account":{"login":"acme"}},
				"repositories":[{"id":1,"full_name":"acme/api"}],"sender":{"login":"admin"}}`
			suspended := `{"action":"suspend","installation":{"id":42,"account":{"login":"acme"}},"sender":{"login":"admin"}}`
			So(f.svc.Handle(ctx, raw("i-1", model.KindInstallation, "created", created)), ShouldBeNil)
			So(f.svc.Handle(ctx, raw("i-2", model.KindInstallation, "suspend", suspended)), ShouldBeNil)

			Convey("Then the installation is suspended and keeps its repositories", func() {
				insts, err := f.directory.Installations(ctx)
				So(err, ShouldBeNil)
				So(insts, ShouldHaveLength, 1)
				So(insts[0].Suspended, ShouldBeTrue)
				So(insts[0].Repositories, ShouldHaveLength, 1)
			})

			Convey("And it is deleted", func() {
				deleted := `{"action":"deleted","installation":{"id":42},"sender":{"login":"admin"}}`
				So(f.svc.Handle(ctx, raw("i-3", model.KindInstallation, "deleted", deleted)), ShouldBeNil)

				insts, _ := f.directory.Installations(ctx)
				So(insts, ShouldBeEmpty)
			})
		})
	})
}

func TestService_Outbox(t *testing.T) {
	Convey("Given a publisher that is down", t, func() {
		ctx := context.Background()
		f := newFixture()
		Reset(f.svc.Close)
		f.pub.setFail(true)

		Convey("When a decision cannot be delivered", func() {
			err := f.svc.Handle(ctx, raw("d-1", model.KindReview, "submitted", reviewApproved))

			Convey("Then the event is processed and the decision is kept in the outbox", func() {
				So(err, ShouldBeNil)
				n, _ := f.outbox.Size(ctx)
				So(n, ShouldEqual, 2)
				stats := f.svc.GetStats()
				So(stats["processed"], ShouldEqual, int64(1))
				So(stats["delivery_failures"], ShouldEqual, int64(2))
				So(stats["outboxed"], ShouldEqual, int64(2))
			})

			Convey("And the outbox runs while the publisher is still down", func() {
				delivered, err := f.svc.RunOutbox(ctx, t0.Add(time.Minute))
				So(err, ShouldBeNil)
				So(delivered, ShouldEqual, 0)

				Convey("Then the entry is rescheduled", func() {
					due, _ := f.outbox.Due(ctx, t0.Add(time.Minute), 10)
					So(due, ShouldBeEmpty)
					due, _ = f.outbox.Due(ctx, t0.Add(2*time.Hour), 10)
					So(due, ShouldHaveLength, 2)
					So(due[0].Attempts, ShouldEqual, 1)
					So(due[0].LastError, ShouldContainSubstring, "broker down")
				})
			})

			Convey("And the outbox runs after the publisher recovers", func() {
				f.pub.setFail(false)
				delivered, err := f.svc.RunOutbox(ctx, t0.Add(time.Minute))

				Convey("Then the decision is delivered and removed", func() {
					So(err, ShouldBeNil)
					So(delivered, ShouldEqual, 2)
					So(f.pub.decisions, ShouldHaveLength, 2)
					subs := []string{f.pub.decisions[0].SubscriberID, f.pub.decisions[1].SubscriberID}
					So(subs, ShouldContain, "sub-alice")
					So(subs, ShouldContain, "sub-carol")
					n, _ := f.outbox.Size(ctx)
					So(n, ShouldEqual, 0)
				})
			})
		})
	})
}

func TestService_DeliveryBudget(t *testing.T) {
	Convey("Given a claim timeout too short for any publish", t, func() {
		ctx := context.Background()
		f := newFixture(service.WithClaimTimeout(time.Nanosecond))
		Reset(f.svc.Close)

		err := f.svc.Handle(ctx, raw("d-1", model.KindReview, "submitted", reviewApproved))

		Convey("Then decisions skip the publisher and wait in the outbox", func() {
			So(err, ShouldBeNil)
			So(f.pub.decisions, ShouldBeEmpty)
			n, _ := f.outbox.Size(ctx)
			So(n, ShouldEqual, 2)
			stats := f.svc.GetStats()
			So(stats["processed"], ShouldEqual, int64(1))
			So(stats["outboxed"], ShouldEqual, int64(2))
		})

		Convey("Then the outbox delivers them later", func() {
			delivered, err := f.svc.RunOutbox(ctx, t0.Add(time.Minute))
			So(err, ShouldBeNil)
			So(delivered, ShouldEqual, 2)
			So(f.pub.decisions, ShouldHaveLength, 2)
		})
	})
}

func TestService_TickDigests(t *testing.T) {
	Convey("Given alice has an open pull request and a 09:00 digest", t, func() {
		ctx := context.Background()
		f := newFixture()
		Reset(f.svc.Close)
		So(f.svc.Handle(ctx, raw("d-1", model.KindPullRequest, "opened", prOpened)), ShouldBeNil)

		Convey("When the scheduler ticks shortly after 09:00", func() {
			rep, err := f.svc.TickDigests(ctx, t0)

			Convey("Then one digest lists the pull request under her open items", func() {
				So(err, ShouldBeNil)
				So(rep.Due, ShouldEqual, 1)
				So(rep.Sent, ShouldEqual, 1)
				So(f.pub.digests, ShouldHaveLength, 1)
				w := f.pub.digests[0]
				So(w.SubscriberID, ShouldEqual, "sub-alice")
				So(w.UserOpenItems, ShouldHaveLength, 1)
				So(w.UserOpenItems[0].Number, ShouldEqual, 13)
				So(w.WaitingOnUser, ShouldBeEmpty)
				So(f.svc.GetStats()["digests_sent"], ShouldEqual, int64(1))
			})

			Convey("And it ticks again in the same slot", func() {
				rep, err := f.svc.TickDigests(ctx, t0.Add(time.Minute))

				Convey("Then nothing is sent twice", func() {
					So(err, ShouldBeNil)
					So(rep.Sent, ShouldEqual, 0)
					So(f.pub.digests, ShouldHaveLength, 1)
				})
			})
		})

		Convey("When the publisher is down at tick time", func() {
			f.pub.setFail(true)
			rep, err := f.svc.TickDigests(ctx, t0)

			Convey("Then the digest waits in the outbox and the slot is done", func() {
				So(err, ShouldBeNil)
				So(rep.Sent, ShouldEqual, 1)
				due, _ := f.outbox.Due(ctx, t0.Add(time.Hour), 10)
				kinds := map[string]int{}
				for _, e := range due {
					kinds[string(e.Kind)]++
				}
				So(kinds["digest"], ShouldEqual, 1)
			})
		})
	})
}

func TestService_StartStop(t *testing.T) {
	Convey("Given a pipeline that is not started", t, func() {
		ctx := context.Background()
		f := newFixture(service.WithQueueSize(8), service.WithDispatcherCount(2))
		Reset(f.svc.Close)

		Convey("Then Enqueue refuses events", func() {
			So(f.svc.Enqueue(ctx, raw("d-1", model.KindReview, "submitted", reviewApproved)), ShouldBeFalse)
			So(f.svc.GetStats()["started"], ShouldBeFalse)
		})

		Convey("When it is started and an event is enqueued", func() {
			So(f.svc.Start(ctx), ShouldBeNil)
			So(f.svc.Start(ctx), ShouldBeNil)
			Reset(func() { _ = f.svc.Stop(ctx) })
			So(f.svc.Enqueue(ctx, raw("d-1", model.KindReview, "submitted", reviewApproved)), ShouldBeTrue)

			Convey("Then a dispatcher handles it", func() {
				So(waitFor(func() bool { return f.pub.decisionCount() == 2 }), ShouldBeTrue)
				So(f.svc.GetStats()["started"], ShouldBeTrue)
			})

			Convey("Then Stop drains and stops the loops", func() {
				So(f.svc.Stop(ctx), ShouldBeNil)
				So(f.svc.Stop(ctx), ShouldBeNil)
				So(f.svc.GetStats()["started"], ShouldBeFalse)
				So(f.svc.Enqueue(ctx, raw("d-2", model.KindReview, "submitted", reviewApproved)), ShouldBeFalse)
			})
		})
	})
}

func TestLogPublisher(t *testing.T) {
	Convey("Given a log publisher", t, func() {
		p := service.NewLogPublisher(nil)
		ctx := context.Background()

		Convey("Then publishing never fails", func() {
			So(p.PublishDecision(ctx, &model.DeliveryDecision{ID: "x"}), ShouldBeNil)
			So(p.PublishDigest(ctx, &model.DigestWindow{ID: "y"}), ShouldBeNil)
		})
	})
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
