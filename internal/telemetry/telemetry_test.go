package telemetry

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetup(t *testing.T) {
	Convey("Given tracing is disabled", t, func() {
		tel, err := Setup(context.Background(), Config{ServiceName: "herald"})

		Convey("Then setup and shutdown are no-ops", func() {
			So(err, ShouldBeNil)
			So(tel.Shutdown(context.Background()), ShouldBeNil)
			So(Tracer(), ShouldNotBeNil)
		})
	})

	Convey("Given an OTLP endpoint", t, func() {
		prev := otel.GetTracerProvider()
		defer otel.SetTracerProvider(prev)

		tel, err := Setup(context.Background(), Config{Endpoint: "127.0.0.1:4318", ServiceName: "herald", ServiceVersion: "test"})

		Convey("Then a provider is installed and shuts down", func() {
			So(err, ShouldBeNil)
			So(otel.GetTracerProvider(), ShouldHaveSameTypeAs, &sdktrace.TracerProvider{})
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			So(tel.Shutdown(ctx), ShouldBeNil)
		})
	})
}

func TestTracerRecordsSpans(t *testing.T) {
	Convey("Given an in-memory span recorder", t, func() {
		prev := otel.GetTracerProvider()
		defer otel.SetTracerProvider(prev)
		rec := tracetest.NewSpanRecorder()
		otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

		_, span := Tracer().Start(context.Background(), "pipeline.handle")
		span.End()

		So(rec.Ended(), ShouldHaveLength, 1)
		So(rec.Ended()[0].Name(), ShouldEqual, "pipeline.handle")
		So(rec.Ended()[0].InstrumentationScope().Name, ShouldEqual, InstrumentationName)
	})
}

func TestParseHeaders(t *testing.T) {
	Convey("Given a header list", t, func() {
		So(parseHeaders("a=1, b = 2,broken"), ShouldResemble, map[string]string{"a": "1", "b": "2"})
		So(parseHeaders(""), ShouldBeEmpty)
	})
}

func TestExporterOptions(t *testing.T) {
	Convey("Given endpoint forms", t, func() {
		So(exporterOptions(Config{Endpoint: "collector:4318"}), ShouldHaveLength, 2)
		So(exporterOptions(Config{Endpoint: "https://otel.example.com/", Headers: "x=y"}), ShouldHaveLength, 2)
	})
}
