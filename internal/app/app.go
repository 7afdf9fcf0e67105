// Package app assembles the engine from environment configuration. The
// server, the worker and ingestctl share it so all binaries agree on store,
// blob storage and optional integrations.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/ingest/backend/internal/db"
	"github.com/OFFIS-RIT/ingest/backend/internal/storage"
	"github.com/OFFIS-RIT/ingest/backend/internal/util"
	"github.com/OFFIS-RIT/ingest/backend/pkg/events"
	"github.com/OFFIS-RIT/ingest/backend/pkg/extraction"
	"github.com/OFFIS-RIT/ingest/backend/pkg/graph"
	graphneo4j "github.com/OFFIS-RIT/ingest/backend/pkg/graph/neo4j"
	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/loader"
	loaderio "github.com/OFFIS-RIT/ingest/backend/pkg/loader/io"
	"github.com/OFFIS-RIT/ingest/backend/pkg/logger"
	"github.com/OFFIS-RIT/ingest/backend/pkg/pipeline"
	"github.com/OFFIS-RIT/ingest/backend/pkg/registry"
	"github.com/OFFIS-RIT/ingest/backend/pkg/session"
	"github.com/OFFIS-RIT/ingest/backend/pkg/store"
	"github.com/OFFIS-RIT/ingest/backend/pkg/store/memory"
	pgxstore "github.com/OFFIS-RIT/ingest/backend/pkg/store/pgx"
	"github.com/OFFIS-RIT/ingest/backend/pkg/tags"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	StorePgx    = "pgx"
	StoreMemory = "memory"
)

// Blobs stores and returns the raw bytes of uploaded files.
type Blobs interface {
	Put(ctx context.Context, locator string, content []byte) error
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// Engine is the wired set of engine components.
type Engine struct {
	Config      ingest.Config
	Store       store.Store
	Pool        *pgxpool.Pool
	Registry    *registry.Registry
	Sessions    *session.Engine
	Extractions *extraction.Store
	Graph       *graph.Graph
	Tags        *tags.Index
	Blobs       Blobs
	// Bucket is set when blobs live in S3.
	Bucket    *storage.Bucket
	Events    *events.RedisBus
	Processor *pipeline.Processor

	closers []func()
}

// Options are the environment-independent knobs of Build.
type Options struct {
	Store       string
	DatabaseURL string
	Migrate     bool
	ConfigPath  string
	BlobDir     string
	RedisAddr   string
	RedisPass   string
	RedisChan   string
	Neo4j       graphneo4j.Config
	// Concurrency of corpus matching inside one pipeline run.
	MatchConcurrency int
}

// OptionsFromEnv reads Options from the process environment.
func OptionsFromEnv() Options {
	return Options{
		Store:       strings.ToLower(util.GetEnvString("STORE", StorePgx)),
		DatabaseURL: util.GetEnv("DATABASE_URL"),
		Migrate:     util.GetEnvBool("MIGRATE_ON_START", true),
		ConfigPath:  util.GetEnv("INGEST_CONFIG"),
		BlobDir:     util.GetEnv("BLOB_DIR"),
		RedisAddr:   util.GetEnv("REDIS_ADDR"),
		RedisPass:   util.GetEnv("REDIS_PASSWORD"),
		RedisChan:   util.GetEnvString("REDIS_CHANNEL", events.DefaultChannel),
		Neo4j: graphneo4j.Config{
			URI:      util.GetEnv("NEO4J_URI"),
			User:     util.GetEnv("NEO4J_USER"),
			Password: util.GetEnv("NEO4J_PASSWORD"),
			Database: util.GetEnv("NEO4J_DATABASE"),
		},
		MatchConcurrency: util.GetEnvInt("MATCH_CONCURRENCY", 4),
	}
}

// Build connects every configured backend and wires the engine. Close
// releases what Build opened, also after a partial failure.
func Build(ctx context.Context, opts Options) (*Engine, error) {
	e := &Engine{}
	if err := e.build(ctx, opts); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) build(ctx context.Context, opts Options) error {
	cfg, err := ingest.LoadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	e.Config = cfg

	switch opts.Store {
	case StoreMemory:
		logger.Warn("[App] Using in-memory store, data is lost on exit")
		e.Store = memory.New()
	case StorePgx, "":
		if opts.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s store", StorePgx)
		}
		if opts.Migrate {
			if err := db.Migrate(opts.DatabaseURL); err != nil {
				return err
			}
		}
		pool, err := pgxstore.Connect(ctx, opts.DatabaseURL)
		if err != nil {
			return err
		}
		e.closers = append(e.closers, pool.Close)
		e.Pool = pool
		e.Store = pgxstore.New(pool)
	default:
		return fmt.Errorf("unknown store %q", opts.Store)
	}

	if opts.BlobDir != "" {
		dir, err := loaderio.NewDir(opts.BlobDir)
		if err != nil {
			return err
		}
		e.Blobs = dir
	} else {
		bucket, err := storage.New(ctx, storage.ConfigFromEnv())
		if err != nil {
			return err
		}
		e.Bucket = bucket
		e.Blobs = bucket
	}

	var sessionOpts []session.Option
	if opts.RedisAddr != "" {
		bus, err := events.NewRedisBus(ctx, opts.RedisAddr, opts.RedisPass, opts.RedisChan)
		if err != nil {
			return err
		}
		e.closers = append(e.closers, func() { _ = bus.Close() })
		e.Events = bus
		sessionOpts = append(sessionOpts, session.WithPublisher(bus))
	}

	var graphOpts []graph.Option
	mirror, err := graphneo4j.Connect(ctx, opts.Neo4j)
	if err != nil {
		return err
	}
	if mirror != nil {
		e.closers = append(e.closers, func() { _ = mirror.Close(context.Background()) })
		graphOpts = append(graphOpts, graph.WithMirror(mirror))
	}

	e.wire(sessionOpts, graphOpts, opts.MatchConcurrency)
	logger.Info("[App] Engine ready",
		"store", opts.Store,
		"s3", e.Bucket != nil,
		"events", e.Events != nil,
		"neo4j", mirror != nil,
	)
	return nil
}

func (e *Engine) wire(sessionOpts []session.Option, graphOpts []graph.Option, concurrency int) {
	e.Registry = registry.New(e.Store, e.Config)
	e.Sessions = session.New(e.Store, sessionOpts...)
	e.Extractions = extraction.New(e.Store)
	e.Graph = graph.New(e.Store, e.Config, graphOpts...)
	e.Tags = tags.New(e.Store)
	e.Processor = pipeline.New(pipeline.Components{
		Files:       e.Registry,
		Sessions:    e.Sessions,
		Blobs:       e.Blobs,
		Extractor:   loader.NewExtractor(),
		Extractions: e.Extractions,
		Tags:        e.Tags,
		Graph:       e.Graph,
		Corpus:      e.Store,
		Config:      e.Config,
	}, pipeline.WithConcurrency(concurrency))
}

// NewInMemory wires an engine on the memory store with the given blob store.
// It backs tests and single-process development setups.
func NewInMemory(cfg ingest.Config, blobs Blobs) *Engine {
	e := &Engine{Config: cfg, Store: memory.New(), Blobs: blobs}
	e.wire(nil, nil, 0)
	return e
}

// Close releases connections in reverse order of creation.
func (e *Engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}
