package otel

import (
	"context"
	"errors"
	"testing"
)

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{ServiceName: "  "}); err == nil {
		t.Fatalf("expected error without service name")
	}
}

func TestInitWithoutExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{
		ServiceName: "reserved",
		Attributes:  map[string]string{"reserve.strategy": "pool"},
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNormalizedEndpoint(t *testing.T) {
	cases := []struct {
		in       string
		endpoint string
		insecure bool
	}{
		{"", defaultEndpoint, false},
		{"http://collector:4318/", "collector:4318", true},
		{"https://otel.example.com", "otel.example.com", false},
		{"collector:4318", "collector:4318", false},
	}
	for _, tc := range cases {
		cfg, err := Config{ServiceName: "reserved", Endpoint: tc.in}.normalized()
		if err != nil {
			t.Fatalf("normalize %q: %v", tc.in, err)
		}
		if cfg.Endpoint != tc.endpoint || cfg.Insecure != tc.insecure {
			t.Fatalf("normalize %q: got %q insecure=%v", tc.in, cfg.Endpoint, cfg.Insecure)
		}
		if cfg.ExportInterval != defaultExportInterval || cfg.BatchTimeout != defaultBatchTimeout {
			t.Fatalf("defaults not applied: %+v", cfg)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"OTEL_EXPORTER_OTLP_ENDPOINT": " collector:4318 ",
		"OTEL_EXPORTER_OTLP_INSECURE": "true",
		"OTEL_EXPORTER_OTLP_HEADERS":  "tenant=reserve",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	base := Config{Endpoint: "localhost:4318", Headers: map[string]string{"api-key": "abc"}}
	cfg := base.ApplyEnv(lookup)
	if cfg.Endpoint != "collector:4318" || !cfg.Insecure {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.Headers["api-key"] != "abc" || cfg.Headers["tenant"] != "reserve" {
		t.Fatalf("headers not merged: %v", cfg.Headers)
	}
	if len(base.Headers) != 1 {
		t.Fatalf("base headers mutated: %v", base.Headers)
	}

	env["OTEL_EXPORTER_OTLP_INSECURE"] = "maybe"
	if got := (Config{}).ApplyEnv(lookup); got.Insecure {
		t.Fatalf("unparseable insecure flag must be ignored")
	}
}

func TestJoinShutdownReverseOrder(t *testing.T) {
	var order []int
	stop := func(id int, err error) ShutdownFunc {
		return func(context.Context) error {
			order = append(order, id)
			return err
		}
	}
	first := errors.New("first")
	second := errors.New("second")
	err := joinShutdown([]ShutdownFunc{stop(1, first), stop(2, second)})(context.Background())
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("unexpected shutdown order %v", order)
	}
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Fatalf("expected both errors, got %v", err)
	}
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = abc ,broken, =x,tenant=reserve")
	if len(headers) != 2 || headers["api-key"] != "abc" || headers["tenant"] != "reserve" {
		t.Fatalf("unexpected headers %v", headers)
	}
}

func TestSampler(t *testing.T) {
	if got := (Config{}).sampler().Description(); got == "" {
		t.Fatalf("empty sampler description")
	}
	if got := (Config{SampleRatio: 0.25}).sampler().Description(); got == (Config{}).sampler().Description() {
		t.Fatalf("ratio sampler not applied: %s", got)
	}
}
