package controllercfg

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_PassesValidate(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("Validate(Default()) error = %v", err)
	}
}

func TestValidate_RejectsZeroInterval(t *testing.T) {
	c := Default()
	c.MonitoringIntervalMs = 0
	if err := Validate(c); err == nil {
		t.Fatal("Validate() expected error for zero monitoringIntervalMs")
	}
}

func TestValidate_RejectsNegativeMaxThreads(t *testing.T) {
	c := Default()
	bad := -1
	c.MaxThreads = &bad
	if err := Validate(c); err == nil {
		t.Fatal("Validate() expected error for negative maxThreads")
	}
}

func TestValidate_RejectsUnknownPersistenceBackend(t *testing.T) {
	c := Default()
	c.Persistence.Backend = "oracle"
	if err := Validate(c); err == nil {
		t.Fatal("Validate() expected error for unknown persistence backend")
	}
}

func TestLoadFile_OverridesDefaultsFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "monitoringIntervalMs: 2000\nscaleCooldownMs: 5000\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.MonitoringIntervalMs != 2000 {
		t.Fatalf("MonitoringIntervalMs = %d, want 2000", cfg.MonitoringIntervalMs)
	}
	if cfg.ScaleCooldownMs != 5000 {
		t.Fatalf("ScaleCooldownMs = %d, want 5000", cfg.ScaleCooldownMs)
	}
	// untouched fields keep their defaults
	if cfg.MaxDataPoints != 300 {
		t.Fatalf("MaxDataPoints = %d, want default 300", cfg.MaxDataPoints)
	}
}

func TestLoadFile_RejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "totallyMadeUpField: 123\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile() expected an error for an unrecognized field")
	}
}

func TestLoadFile_RejectsInvalidAfterLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "monitoringIntervalMs: -5\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile() expected validation error for negative interval")
	}
}

func TestFromEnv_OverridesDefaultsAndValidates(t *testing.T) {
	t.Setenv("THREADCTL_MONITORING_INTERVAL_MS", "2500")
	t.Setenv("THREADCTL_PERSISTENCE_BACKEND", "badger")
	t.Setenv("THREADCTL_MAX_THREADS", "8")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.MonitoringIntervalMs != 2500 {
		t.Errorf("MonitoringIntervalMs = %d, want 2500", cfg.MonitoringIntervalMs)
	}
	if cfg.Persistence.Backend != "badger" {
		t.Errorf("Persistence.Backend = %q, want badger", cfg.Persistence.Backend)
	}
	if cfg.MaxThreads == nil || *cfg.MaxThreads != 8 {
		t.Errorf("MaxThreads = %v, want 8", cfg.MaxThreads)
	}
	// untouched fields keep their defaults
	if cfg.MaxDataPoints != 300 {
		t.Errorf("MaxDataPoints = %d, want default 300", cfg.MaxDataPoints)
	}
}

func TestFromEnv_RejectsInvalidOverride(t *testing.T) {
	t.Setenv("THREADCTL_MONITORING_INTERVAL_MS", "-1")
	if _, err := FromEnv(); err == nil {
		t.Fatal("FromEnv() expected validation error for negative interval")
	}
}
