package metrics

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options on a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then metrics are namespaced under herald_pipeline", func() {
				So(manager, ShouldNotBeNil)
				manager.eventsReceived.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(names, ShouldContain, "herald_pipeline_events_received_total")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the options are applied", func() {
				So(manager.namespace, ShouldEqual, "test")
				So(manager.subsystem, ShouldEqual, "unit")
				So(manager.histogramBuckets, ShouldResemble, []float64{0.1, 0.5, 1.0})
				So(manager.constLabels["env"], ShouldEqual, "test")
			})
		})

		Convey("When empty option values are passed", func() {
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithHistogramBuckets(nil),
				WithPrometheusRegistry(prometheus.NewRegistry()),
			)

			Convey("Then defaults are kept", func() {
				So(manager.namespace, ShouldEqual, "herald")
				So(manager.subsystem, ShouldEqual, "pipeline")
				So(manager.histogramBuckets, ShouldNotBeEmpty)
			})
		})
	})
}

func TestRecording(t *testing.T) {
	Convey("Given the global recorders", t, func() {
		Convey("When recording pipeline counters", func() {
			before := testutil.ToFloat64(globalManager.eventsDropped.WithLabelValues("bot_sender"))
			RecordEventDropped("bot_sender")
			RecordEventDropped("bot_sender")

			Convey("Then the labelled counter advances", func() {
				after := testutil.ToFloat64(globalManager.eventsDropped.WithLabelValues("bot_sender"))
				So(after-before, ShouldEqual, float64(2))
			})
		})

		Convey("When recording decisions and digest results", func() {
			before := testutil.ToFloat64(globalManager.decisions.WithLabelValues("user"))
			RecordDecision("user")
			RecordDigestRun("suppressed")

			Convey("Then the counters advance", func() {
				So(testutil.ToFloat64(globalManager.decisions.WithLabelValues("user"))-before, ShouldEqual, float64(1))
				So(testutil.ToFloat64(globalManager.digestRuns.WithLabelValues("suppressed")), ShouldBeGreaterThanOrEqualTo, float64(1))
			})
		})

		Convey("When recording ingest outcomes", func() {
			before := testutil.ToFloat64(globalManager.ingestRequests.WithLabelValues("issues", "backpressure"))
			RecordIngest("issues", "backpressure")

			Convey("Then the kind and outcome pair advances", func() {
				after := testutil.ToFloat64(globalManager.ingestRequests.WithLabelValues("issues", "backpressure"))
				So(after-before, ShouldEqual, float64(1))
			})
		})

		Convey("When updating gauges", func() {
			UpdateQueueSize(7)
			UpdateQueueCapacity(10)
			UpdateOutboxSize(3)

			Convey("Then they reflect the last value", func() {
				So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, float64(7))
				So(testutil.ToFloat64(globalManager.queueCapacity), ShouldEqual, float64(10))
				So(testutil.ToFloat64(globalManager.outboxSize), ShouldEqual, float64(3))
			})
		})

		Convey("When recording every remaining recorder", func() {
			Convey("Then none of them panic", func() {
				So(func() {
					RecordEventReceived()
					RecordEventDuplicate()
					RecordEventProcessed()
					RecordEventFailed()
					RecordSideEffect("membership")
					RecordEventLatency(12.5)
					RecordProfileVerdict("winner")
					RecordSubscriberEvaluation()
					RecordSubscriberFailure()
					RecordSemanticFallback()
					RecordDeliveryLatency(3)
					RecordDeliveryFailure("decision")
					RecordDigestItems("waiting", 4)
					RecordDigestLeaseContended()
					UpdateQueueUtilization(0.7)
					RecordQueueEnqueue()
					RecordQueueDequeue()
					RecordQueueEnqueueError()
					UpdateWorkerCount(4)
					AddWorkerBusy(1)
					AddWorkerBusy(-1)
					RecordWorkerLatency(1.5)
					RecordHTTPRequest("/events", "POST", "202")
					RecordHTTPRequestDuration("/events", "POST", "202", 0.4)
					RecordError("pipeline", "publish")
					UpdateSystemMemoryUsage(1024)
					UpdateSystemGoroutineCount(10)
					RecordSystemGCPauseTime(0.2)
				}, ShouldNotPanic)
			})
		})
	})
}

func TestConcurrentRecording(t *testing.T) {
	Convey("Given concurrent writers", t, func() {
		before := testutil.ToFloat64(globalManager.eventsProcessed)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					RecordEventProcessed()
				}
			}()
		}
		wg.Wait()

		Convey("Then no increments are lost", func() {
			So(testutil.ToFloat64(globalManager.eventsProcessed)-before, ShouldEqual, float64(1000))
		})
	})
}

func TestGetRegistry(t *testing.T) {
	Convey("Given the package registry", t, func() {
		So(GetRegistry(), ShouldNotBeNil)
		_, err := GetRegistry().Gather()
		So(err, ShouldBeNil)
	})
}
