// Package app wires configuration into the running set of services shared
// by the HTTP server and the command line client.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/papershelf/internal/artifact"
	"github.com/timmy/papershelf/internal/config"
	"github.com/timmy/papershelf/internal/extractor"
	"github.com/timmy/papershelf/internal/fetcher"
	"github.com/timmy/papershelf/internal/logger"
	"github.com/timmy/papershelf/internal/notify"
	"github.com/timmy/papershelf/internal/repository"
	"github.com/timmy/papershelf/internal/service"
	"github.com/timmy/papershelf/internal/storage"
	"github.com/timmy/papershelf/internal/tools"
	"github.com/timmy/papershelf/internal/tracker"
	"gorm.io/gorm"
)

// Name and Version identify the server to clients.
const (
	Name    = "papershelf"
	Version = "0.3.0"
)

// App holds the wired services.
type App struct {
	Config      *config.Config
	Logger      *logger.Logger
	Store       *artifact.Store
	Tracker     *tracker.Tracker
	Supervisor  *service.Supervisor
	Conversions *service.ConversionService
	Search      *service.SearchService
	Library     *service.LibraryService
	Tools       *tools.Registry
	Hub         *notify.Hub
	Ingest      *service.IngestService
	// History is nil when the catalog database is unavailable.
	History *repository.JobRepository

	db *gorm.DB
}

// New builds the services. The catalog database and the mirror are
// optional: failures to open them are logged and the features disabled.
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.GetDefault()
	}

	store := artifact.NewStore(cfg.Storage.Root)
	tr := tracker.New()
	sup := service.NewSupervisor(cfg.Convert.Workers)

	f := fetcher.New(&fetcher.Config{
		URLTemplate: cfg.Fetch.PDFURLTemplate,
		Timeout:     cfg.Fetch.Timeout,
		MaxBytes:    cfg.Fetch.MaxBytes,
		UserAgent:   cfg.Fetch.UserAgent,
		RateLimit:   cfg.Fetch.RateLimit,
	})
	ex := extractor.NewPDFExtractor(cfg.Convert.PDFToTextFallback)

	conversions := service.NewConversionService(store, f, ex, tr, sup, log)

	var (
		searchCatalog  service.PaperCatalog
		libraryCatalog service.CatalogReader
		history        *repository.JobRepository
	)
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		log.WithError(err).Warn("Catalog database unavailable, continuing without metadata cache and job history")
		db = nil
	} else {
		papers := repository.NewPaperRepository(db)
		searchCatalog = papers
		libraryCatalog = papers
		history = repository.NewJobRepository(db)
		conversions.WithHistory(history)
	}

	if cfg.Mirror.Enabled {
		mirror, err := storage.NewFromConfig(&cfg.Mirror)
		if err != nil {
			log.WithError(err).Warn("Mirror disabled")
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := mirror.EnsureBucket(ctx); err != nil {
				log.WithError(err).Warn("Could not verify mirror bucket, uploads may fail")
			}
			cancel()
			conversions.WithMirror(&service.MirrorConfig{Storage: mirror, Prefix: cfg.Mirror.Prefix})
			log.WithField("bucket", cfg.Mirror.Bucket).Info("Mirroring converted papers to object storage")
		}
	}

	search := service.NewSearchService(&service.SearchConfig{
		BaseURL:    cfg.Search.BaseURL,
		MaxResults: cfg.Search.MaxResults,
		Timeout:    cfg.Search.Timeout,
	}, searchCatalog, log)

	metadata := service.NewMetadataClient(&service.MetadataConfig{
		APIURL:    cfg.Metadata.APIURL,
		Timeout:   cfg.Metadata.Timeout,
		RateLimit: cfg.Metadata.RateLimit,
	})
	library := service.NewLibraryService(store, libraryCatalog, metadata, log)

	ingest := service.NewIngestService(conversions, searchCatalog, log, &service.IngestConfig{
		Workers:   cfg.Ingest.Workers,
		BatchSize: cfg.Ingest.BatchSize,
	})

	hub := notify.NewHub(tr.List)
	tr.Subscribe(hub.Publish)

	return &App{
		Config:      cfg,
		Logger:      log,
		Store:       store,
		Tracker:     tr,
		Supervisor:  sup,
		Conversions: conversions,
		Search:      search,
		Library:     library,
		Tools:       tools.NewRegistry(conversions, search, library),
		Hub:         hub,
		Ingest:      ingest,
		History:     history,
		db:          db,
	}, nil
}

// Start runs background loops until ctx is done.
func (a *App) Start(ctx context.Context) {
	go a.Hub.Run(ctx)
}

// Close waits for running jobs, cancelling them if ctx ends first, and
// closes the database.
func (a *App) Close(ctx context.Context) error {
	err := a.Supervisor.Shutdown(ctx)
	if a.db != nil {
		if sqlDB, dbErr := a.db.DB(); dbErr == nil {
			err = errors.Join(err, sqlDB.Close())
		}
	}
	return err
}
