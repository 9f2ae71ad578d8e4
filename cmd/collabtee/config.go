package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/collabtee/collabtee/engine"
	"github.com/collabtee/collabtee/executor"
	objkv "github.com/collabtee/collabtee/objstore/kv"

	"github.com/spf13/viper"
)

// config holds the deployment settings of the orchestrator.
type config struct {
	WorkloadRef  string `mapstructure:"workload_ref"`
	OutputPrefix string `mapstructure:"output_prefix"`
	UploadPrefix string `mapstructure:"upload_prefix"`

	Executor struct {
		URL                string        `mapstructure:"url"`
		ExecuteTimeout     time.Duration `mapstructure:"execute_timeout"`
		LogsTimeout        time.Duration `mapstructure:"logs_timeout"`
		AttestationTimeout time.Duration `mapstructure:"attestation_timeout"`
	} `mapstructure:"executor"`

	Policy struct {
		Collaborators  string `mapstructure:"collaborators"`
		RejectOnDenial bool   `mapstructure:"reject_on_denial"`
	} `mapstructure:"policy"`

	Objects struct {
		BaseURL string        `mapstructure:"base_url"`
		Secret  string        `mapstructure:"secret"`
		URLTTL  time.Duration `mapstructure:"url_ttl"`
		MaxSize int64         `mapstructure:"max_size"`

		// directory of the on-disk object store; in-memory if empty
		Path string `mapstructure:"path"`
	} `mapstructure:"objects"`
}

// newViper returns a viper instance reading COLLABTEE_ prefixed
// environment variables (e.g. COLLABTEE_EXECUTOR_URL) with defaults set.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("COLLABTEE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// every key needs a default for Unmarshal to see its environment variable
	v.SetDefault("workload_ref", "")
	v.SetDefault("output_prefix", engine.DefaultOutputPrefix)
	v.SetDefault("upload_prefix", engine.DefaultUploadPrefix)
	v.SetDefault("executor.url", "")
	v.SetDefault("executor.execute_timeout", executor.DefaultExecuteTimeout)
	v.SetDefault("executor.logs_timeout", executor.DefaultLogsTimeout)
	v.SetDefault("executor.attestation_timeout", executor.DefaultAttestationTimeout)
	v.SetDefault("policy.collaborators", string(engine.PolicySubset))
	v.SetDefault("policy.reject_on_denial", false)
	v.SetDefault("objects.base_url", "")
	v.SetDefault("objects.secret", "")
	v.SetDefault("objects.url_ttl", objkv.DefaultTTL)
	v.SetDefault("objects.max_size", 0)
	v.SetDefault("objects.path", "")
	return v
}

// loadConfig reads the config file at path (if any) and the environment.
func loadConfig(v *viper.Viper, path string) (*config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	cfg := new(config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *config) validate() error {
	if c.WorkloadRef == "" {
		return errors.New("missing workload_ref")
	}
	if c.Executor.URL == "" {
		return errors.New("missing executor.url")
	}
	if c.Objects.BaseURL == "" {
		return errors.New("missing objects.base_url")
	}
	if c.Objects.Secret == "" {
		return errors.New("missing objects.secret")
	}
	if _, err := engine.ParseCollaboratorPolicy(c.Policy.Collaborators); err != nil {
		return err
	}
	return nil
}

// engineOptions returns the engine options for c.
func (c *config) engineOptions() []engine.Option {
	policy, _ := engine.ParseCollaboratorPolicy(c.Policy.Collaborators)
	return []engine.Option{
		engine.WithExecuteTimeout(c.Executor.ExecuteTimeout),
		engine.WithOutputPrefix(c.OutputPrefix),
		engine.WithUploadPrefix(c.UploadPrefix),
		engine.WithCollaboratorPolicy(policy),
		engine.WithRejectOnDenial(c.Policy.RejectOnDenial),
	}
}
