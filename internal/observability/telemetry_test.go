package observability

import (
	"context"
	"testing"
)

func TestInitDisabledInstallsNoopTracer(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if Enabled() {
		t.Fatalf("expected Enabled() false for a disabled config")
	}
	if Tracer() == nil {
		t.Fatalf("expected a non-nil no-op tracer")
	}
}

func TestInitWithStdoutExporterEnablesTracing(t *testing.T) {
	err := Init(context.Background(), Config{
		Enabled:     true,
		Exporter:    "stdout",
		ServiceName: "cfagent-test",
		SampleRate:  1.0,
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !Enabled() {
		t.Fatalf("expected Enabled() true")
	}
	if err := Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitRejectsUnknownExporter(t *testing.T) {
	err := Init(context.Background(), Config{Enabled: true, Exporter: "carrier-pigeon"})
	if err == nil {
		t.Fatalf("expected an error for an unknown exporter")
	}
}
