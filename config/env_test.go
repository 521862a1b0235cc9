package config

import (
	"testing"
	"time"
)

type sample struct {
	Path  string        `env:"SAMPLE_PATH,required,notEmpty"`
	TTL   time.Duration `env:"SAMPLE_TTL" envDefault:"5m"`
	Debug bool          `env:"SAMPLE_DEBUG"`
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("SAMPLE_PATH", "/tmp/db")
	var cfg sample
	if err := Load(&cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Path != "/tmp/db" || cfg.TTL != 5*time.Minute || cfg.Debug {
		t.Fatalf("unexpected config: %#v", cfg)
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("SAMPLE_PATH", "/tmp/db")
	t.Setenv("SAMPLE_TTL", "30s")
	t.Setenv("SAMPLE_DEBUG", "true")
	var cfg sample
	if err := Load(&cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TTL != 30*time.Second || !cfg.Debug {
		t.Fatalf("unexpected config: %#v", cfg)
	}
}

func TestLoadRequiredMissing(t *testing.T) {
	t.Setenv("SAMPLE_PATH", "")
	var cfg sample
	if err := Load(&cfg); err == nil {
		t.Fatalf("expected error for missing SAMPLE_PATH")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	t.Setenv("SAMPLE_PATH", "/tmp/db")
	t.Setenv("SAMPLE_TTL", "soon")
	var cfg sample
	if err := Load(&cfg); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}
