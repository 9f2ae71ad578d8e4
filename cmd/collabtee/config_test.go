package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/collabtee/collabtee/engine"
)

const testConfig = `
workload_ref: workloads/train.tar
executor:
  url: http://executor:8080
  execute_timeout: 2m
policy:
  collaborators: exact
  reject_on_denial: true
objects:
  base_url: http://localhost:9080/objects
  secret: s3cret
`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collabtee.yaml")
	if err := os.WriteFile(path, []byte(testConfig), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COLLABTEE_OBJECTS_URL_TTL", "30s")

	cfg, err := loadConfig(newViper(), path)
	if err != nil {
		t.Fatal(err)
	}

	if have, want := cfg.Executor.ExecuteTimeout, 2*time.Minute; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := cfg.Executor.LogsTimeout, 5*time.Second; have != want {
		t.Errorf("default: have: %v, want: %v", have, want)
	}
	if have, want := cfg.Objects.URLTTL, 30*time.Second; have != want {
		t.Errorf("environment: have: %v, want: %v", have, want)
	}
	if have, want := cfg.OutputPrefix, engine.DefaultOutputPrefix; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := cfg.Policy.Collaborators, string(engine.PolicyExact); have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if !cfg.Policy.RejectOnDenial {
		t.Error("expected reject_on_denial")
	}
	if have, want := len(cfg.engineOptions()), 5; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestLoadConfigEnvironmentOnly(t *testing.T) {
	t.Setenv("COLLABTEE_WORKLOAD_REF", "workloads/w.tar")
	t.Setenv("COLLABTEE_EXECUTOR_URL", "http://executor")
	t.Setenv("COLLABTEE_OBJECTS_BASE_URL", "http://objects")
	t.Setenv("COLLABTEE_OBJECTS_SECRET", "x")

	cfg, err := loadConfig(newViper(), "")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := cfg.WorkloadRef, "workloads/w.tar"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := cfg.Policy.Collaborators, string(engine.PolicySubset); have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	t.Setenv("COLLABTEE_WORKLOAD_REF", "workloads/w.tar")
	t.Setenv("COLLABTEE_EXECUTOR_URL", "http://executor")
	t.Setenv("COLLABTEE_OBJECTS_BASE_URL", "http://objects")
	t.Setenv("COLLABTEE_OBJECTS_SECRET", "x")
	t.Setenv("COLLABTEE_POLICY_COLLABORATORS", "some")

	if _, err := loadConfig(newViper(), ""); err == nil {
		t.Error("expected error for unknown policy")
	}

	t.Setenv("COLLABTEE_POLICY_COLLABORATORS", "")
	t.Setenv("COLLABTEE_EXECUTOR_URL", "")
	if _, err := loadConfig(newViper(), ""); err == nil {
		t.Error("expected error for missing executor url")
	}
}
