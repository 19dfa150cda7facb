package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ZanzyTHEbar/cyibot"
	"github.com/ZanzyTHEbar/cyibot/internal/adapters"
	"github.com/ZanzyTHEbar/cyibot/internal/cache"
	"github.com/ZanzyTHEbar/cyibot/internal/config"
	"github.com/ZanzyTHEbar/cyibot/internal/directory"
	"github.com/ZanzyTHEbar/cyibot/internal/eventbus"
	"github.com/ZanzyTHEbar/cyibot/internal/logging"
	"github.com/ZanzyTHEbar/cyibot/internal/retriever"
	"github.com/ZanzyTHEbar/cyibot/internal/session"
	"github.com/ZanzyTHEbar/cyibot/internal/synth"
	"github.com/ZanzyTHEbar/cyibot/internal/transport/httpapi"
	"github.com/ZanzyTHEbar/cyibot/internal/translator"
	"github.com/ZanzyTHEbar/cyibot/internal/vectorstore"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"go.uber.org/zap"
)

// application is the wired router and the resources it holds.
type application struct {
	router  *cyibot.Router
	checks  map[string]httpapi.Check
	closers []func() error
	logger  *zap.Logger
}

// buildApp connects to the model provider and wires every component.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*application, error) {
	if err := cfg.RequireModel(); err != nil {
		return nil, err
	}
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{APIKey: cfg.LLM.APIKey}))
	model := adapters.NewGenkitModel(g, cfg.LLM.Model,
		adapters.WithTemperature(cfg.LLM.Temperature),
		adapters.WithModelLogger(logger),
	)
	embedder := adapters.NewGenkitEmbedder(g, cfg.LLM.Embedder)
	return buildComponents(ctx, cfg, logger, model, embedder)
}

// buildComponents wires the router around the given model and embedder.
func buildComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, model cyibot.LanguageModel, embedder cyibot.Embedder) (app *application, err error) {
	app = &application{checks: make(map[string]httpapi.Check), logger: logger}
	defer func() {
		if err != nil {
			app.Close()
			app = nil
		}
	}()

	schema, err := config.LoadSchema(cfg.SchemaFile)
	if err != nil {
		return nil, err
	}
	glossary, err := config.LoadGlossary(cfg.GlossaryFile)
	if err != nil {
		return nil, err
	}

	store, err := app.openDirectory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Vector.CacheEntries > 0 {
		cached, err := cache.NewEmbeddingCache(embedder,
			cache.WithMaxEntries(cfg.Vector.CacheEntries),
			cache.WithTTL(cfg.Vector.CacheTTL),
			cache.WithFile(cfg.Vector.CacheFile),
			cache.WithLogger(logger.Named("embeddings")),
		)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, cached.Close)
		embedder = cached
	}
	searcher, err := app.openVectors(ctx, cfg, schema, embedder)
	if err != nil {
		return nil, err
	}

	ret, err := retriever.New(searcher, schema,
		retriever.WithTopK(cfg.Router.TopK),
		retriever.WithMinScore(cfg.Router.MinScore),
		retriever.WithLogger(logger.Named("retriever")),
	)
	if err != nil {
		return nil, err
	}

	dialect := translator.DialectSQLite
	if cfg.Directory.Driver == directory.DriverPostgres {
		dialect = translator.DialectPostgres
	}
	tr, err := translator.New(store, schema,
		translator.WithGlossary(glossary),
		translator.WithTable(cfg.Directory.Table),
		translator.WithMode(translator.Mode(cfg.Directory.TranslatorMode)),
		translator.WithModel(model),
		translator.WithDialect(dialect),
		translator.WithLogger(logger.Named("translator")),
	)
	if err != nil {
		return nil, err
	}

	syn, err := synth.New(model, synth.WithLogger(logger.Named("synth")))
	if err != nil {
		return nil, err
	}

	sessions := session.NewStore(
		session.WithTTL(cfg.Router.SessionTTL),
		session.WithMaxSessions(cfg.Router.MaxSessions),
		session.WithMaxTurns(cfg.Router.MaxTurns),
		session.WithLogger(logger.Named("sessions")),
	)
	app.closers = append(app.closers, sessions.Close)

	bus := eventbus.NewChannelEventBus(eventbus.WithLogger(logger.Named("eventbus")))
	app.closers = append(app.closers, bus.Close)
	if _, err := logging.SubscribeEventLogger(bus, logger); err != nil {
		return nil, err
	}

	app.router, err = cyibot.NewRouter(cyibot.Components{
		Schema:      schema,
		Model:       model,
		Retriever:   ret,
		Translator:  tr,
		Synthesizer: syn,
		Sessions:    sessions,
	},
		cyibot.WithConfig(cfg.RouterOptions()),
		cyibot.WithLogger(logger.Named("router")),
		cyibot.WithEventBus(bus),
	)
	if err != nil {
		return nil, err
	}
	return app, nil
}

func (a *application) openDirectory(ctx context.Context, cfg *config.Config) (cyibot.DirectoryStore, error) {
	if cfg.Directory.Driver == "memory" {
		store := directory.NewMemoryStore()
		if cfg.Directory.DSN != "" {
			records, err := directory.LoadCSVFile(cfg.Directory.DSN)
			if err != nil {
				return nil, cyibot.NewConfigurationError("cannot load directory CSV "+cfg.Directory.DSN, err)
			}
			store.Add(records...)
			if cfg.Directory.Watch {
				w, err := directory.WatchCSV(context.WithoutCancel(ctx), cfg.Directory.DSN, store, a.logger.Named("directory"))
				if err != nil {
					return nil, cyibot.NewConfigurationError("cannot watch directory CSV", err)
				}
				a.closers = append(a.closers, w.Close)
			}
		}
		a.logger.Info("directory loaded in memory", zap.Int("records", store.Len()))
		return store, nil
	}

	db, err := directory.OpenReadOnly(ctx, cfg.Directory.Driver, cfg.Directory.DSN, a.logger)
	if err != nil {
		return nil, cyibot.NewConfigurationError("cannot open directory database", err)
	}
	a.closers = append(a.closers, db.Close)
	store := directory.NewSQLStore(db, []string{cfg.Directory.Table}, a.logger.Named("directory"))
	a.checks["directory"] = store.Ping
	return store, nil
}

// seeder is a vector store that accepts documents.
type seeder interface {
	cyibot.VectorSearcher
	Add(ctx context.Context, docs ...vectorstore.Document) error
}

func (a *application) openVectors(ctx context.Context, cfg *config.Config, schema *cyibot.MetadataSchema, embedder cyibot.Embedder) (cyibot.VectorSearcher, error) {
	var store seeder
	switch cfg.Vector.Backend {
	case "chroma":
		chroma := vectorstore.NewChromaStore(cfg.Vector.ChromaURL, cfg.Vector.Collection, embedder,
			vectorstore.WithChromaLogger(a.logger.Named("chroma")))
		a.checks["vectors"] = chroma.Heartbeat
		store = chroma
	case "sqlite":
		db, err := directory.Open(ctx, directory.DriverSQLite, cfg.Vector.DSN, a.logger)
		if err != nil {
			return nil, cyibot.NewConfigurationError("cannot open fragment database", err)
		}
		a.closers = append(a.closers, db.Close)
		a.checks["vectors"] = db.PingContext
		store, err = vectorstore.NewSQLiteStore(ctx, db, embedder, a.logger.Named("vectors"))
		if err != nil {
			return nil, err
		}
	default:
		store = vectorstore.NewMemoryStore(embedder)
	}

	if cfg.Vector.SeedFile != "" {
		if err := seed(ctx, store, schema, cfg.Vector.SeedFile); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// seed indexes every file matching pattern, which may use ** to match
// nested directories.
func seed(ctx context.Context, store seeder, schema *cyibot.MetadataSchema, pattern string) error {
	paths, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return cyibot.NewConfigurationError("invalid seed pattern "+pattern, err)
	}
	if len(paths) == 0 {
		return cyibot.NewConfigurationError("no seed files match "+pattern, nil)
	}
	for _, path := range paths {
		if err := seedFile(ctx, store, schema, path); err != nil {
			return err
		}
	}
	return nil
}

func seedFile(ctx context.Context, store seeder, schema *cyibot.MetadataSchema, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return cyibot.NewConfigurationError("cannot open seed file "+path, err)
	}
	defer f.Close()

	docs, err := vectorstore.LoadSeed(f)
	if err != nil {
		return cyibot.NewConfigurationError("invalid seed file "+path, err)
	}
	if err := vectorstore.ValidateMetadata(schema, docs); err != nil {
		return cyibot.NewConfigurationError("invalid seed metadata in "+path, err)
	}
	if err := store.Add(ctx, docs...); err != nil {
		return fmt.Errorf("failed to index %s: %w", path, err)
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
