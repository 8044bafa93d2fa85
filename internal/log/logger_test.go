package log

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
)

func TestConfigure_DefaultsToStdout(t *testing.T) {
	Configure(Config{Level: "debug", Service: "test-svc"})
	if !initialized {
		t.Fatal("expected logger to be initialized")
	}
}

func TestConfigure_CustomOutput(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf, Service: "test-svc", Version: "v1"})

	WithComponent("sampler").Info().Msg("hello")
	if buf.Len() == 0 {
		t.Fatal("expected log output to be written")
	}
	if !bytes.Contains(buf.Bytes(), []byte("test-svc")) {
		t.Errorf("expected output to contain service name, got %s", buf.String())
	}
}

func TestSetLevel_Invalid(t *testing.T) {
	if err := SetLevel("not-a-level"); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestSetLevel_Valid(t *testing.T) {
	if err := SetLevel("warn"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := SetLevel("info"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf})
	WithComponent("decision").Info().Msg("tick")
	if !bytes.Contains(buf.Bytes(), []byte(`"component":"decision"`)) {
		t.Errorf("expected component field in output, got %s", buf.String())
	}
}

func TestDerive(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf})
	l := Derive(func(c *zerolog.Context) {
		*c = c.Str("extra", "value")
	})
	l.Info().Msg("ok")
	if !bytes.Contains(buf.Bytes(), []byte(`"extra":"value"`)) {
		t.Errorf("expected derived field in output, got %s", buf.String())
	}
}
