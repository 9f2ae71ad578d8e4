// Package main starts a collabtee orchestrator server.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/collabtee/collabtee/engine"
	enginehttp "github.com/collabtee/collabtee/engine/http"
	"github.com/collabtee/collabtee/executor"
	httpcmd "github.com/collabtee/collabtee/http"
	"github.com/collabtee/collabtee/logkeys"
	objkv "github.com/collabtee/collabtee/objstore/kv"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/envflag"
	nanohttp "github.com/micromdm/nanolib/http"
	"github.com/micromdm/nanolib/http/trace"
	"github.com/micromdm/nanolib/log/stdlogfmt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// overridden by -ldflags -X
var version = "unknown"

const (
	apiUsername = "collabtee"
	apiRealm    = "collabtee"
)

func main() {
	var (
		flDebug   = flag.Bool("debug", false, "log debug messages")
		flListen  = flag.String("listen", ":9080", "HTTP listen address")
		flVersion = flag.Bool("version", false, "print version and exit")
		flDump    = flag.Bool("dump", false, "dump API requests")
		flAPIKey  = flag.String("api", "", "API key for API endpoints")
		flConfig  = flag.String("config", "", "path to config file")
		flStorage = flag.String("storage", "file", "name of storage backend")
		flDSN     = flag.String("storage-dsn", "", "data source name (e.g. connection string or path)")
		flOptions = flag.String("storage-options", "", "storage backend options")
	)
	envflag.Parse("COLLABTEE_", []string{"version"})

	if *flVersion {
		fmt.Println(version)
		return
	}

	logger := stdlogfmt.New(stdlogfmt.WithDebugFlag(*flDebug))

	cfg, err := loadConfig(newViper(), *flConfig)
	if err != nil {
		logger.Info(logkeys.Message, "load config", logkeys.Error, err)
		os.Exit(1)
	}

	// configure metadata storage
	storage, err := parseStorage(context.Background(), *flStorage, *flDSN, *flOptions)
	if err != nil {
		logger.Info(logkeys.Message, "parse storage", logkeys.Error, err)
		os.Exit(1)
	}

	// configure the object store and the executor
	objects, err := objkv.New(
		objectBucket(cfg.Objects.Path),
		cfg.Objects.BaseURL,
		[]byte(cfg.Objects.Secret),
		objkv.WithTTL(cfg.Objects.URLTTL),
		objkv.WithMaxSize(cfg.Objects.MaxSize),
		objkv.WithLogger(logger.With("service", "objects")),
	)
	if err != nil {
		logger.Info(logkeys.Message, "creating object store", logkeys.Error, err)
		os.Exit(1)
	}

	exec, err := executor.New(
		cfg.Executor.URL,
		executor.WithLogger(logger.With("service", "executor")),
		executor.WithTimeouts(cfg.Executor.ExecuteTimeout, cfg.Executor.LogsTimeout, cfg.Executor.AttestationTimeout),
	)
	if err != nil {
		logger.Info(logkeys.Message, "creating executor client", logkeys.Error, err)
		os.Exit(1)
	}

	// configure the workflow engine
	eOpts := append(
		cfg.engineOptions(),
		engine.WithLogger(logger.With("service", "engine")),
		engine.WithMetrics(engine.NewMetrics(prometheus.DefaultRegisterer)),
	)
	e := engine.New(storage, exec, objects, cfg.WorkloadRef, eOpts...)

	mux := flow.New()

	mux.Handle("/version", nanohttp.NewJSONVersionHandler(version))
	mux.Handle("/metrics", promhttp.Handler(), "GET")

	// signed URLs authorize object requests
	mux.Handle("/objects/...", http.StripPrefix("/objects", objects.Handler()), "GET", "HEAD", "PUT")

	mux.Group(func(mux *flow.Mux) {
		if *flAPIKey != "" {
			mux.Use(func(h http.Handler) http.Handler {
				return nanohttp.NewSimpleBasicAuthHandler(h, apiUsername, *flAPIKey, apiRealm)
			})
		}
		if *flDump {
			mux.Use(func(h http.Handler) http.Handler {
				return httpcmd.DumpHandler(h, os.Stdout)
			})
		}

		enginehttp.HandleAPIv1("/v1", mux, logger, e)
	})

	logger.Info(
		logkeys.Message, "starting server",
		"listen", *flListen,
		"storage", *flStorage,
		"workload_ref", cfg.WorkloadRef,
	)
	err = http.ListenAndServe(*flListen, trace.NewTraceLoggingHandler(mux, logger.With("handler", "log"), newTraceID))
	logs := []interface{}{logkeys.Message, "server shutdown"}
	if err != nil {
		logs = append(logs, logkeys.Error, err)
	}
	logger.Info(logs...)
}

// newTraceID generates a new HTTP trace ID for context logging.
func newTraceID(_ *http.Request) string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
