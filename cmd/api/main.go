package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	appanalysis "github.com/bryanwahyu/bimwatch/internal/application/analysis"
	"github.com/bryanwahyu/bimwatch/internal/application/comparison"
	"github.com/bryanwahyu/bimwatch/internal/application/matching"
	"github.com/bryanwahyu/bimwatch/internal/application/progress"
	"github.com/bryanwahyu/bimwatch/internal/application/retrieval"
	"github.com/bryanwahyu/bimwatch/internal/config"
	domalerts "github.com/bryanwahyu/bimwatch/internal/domain/alerts"
	domanalysis "github.com/bryanwahyu/bimwatch/internal/domain/analysis"
	openaiclient "github.com/bryanwahyu/bimwatch/internal/infra/ai/openai"
	mysqlp "github.com/bryanwahyu/bimwatch/internal/infra/db/mysql"
	postgresp "github.com/bryanwahyu/bimwatch/internal/infra/db/postgres"
	"github.com/bryanwahyu/bimwatch/internal/infra/httpserver"
	"github.com/bryanwahyu/bimwatch/internal/infra/memcache"
	"github.com/bryanwahyu/bimwatch/internal/infra/search/opensearch"
	minioStore "github.com/bryanwahyu/bimwatch/internal/infra/storage"
	"github.com/bryanwahyu/bimwatch/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx := context.Background()

	// connect database, driver dipilih dari config
	var (
		db      *sql.DB
		records domanalysis.RecordStore
		alerts  domalerts.Sink
	)
	switch cfg.Database.Driver {
	case "postgres":
		db, err = postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			log.Fatalf("postgres connect error: %v", err)
		}
		records = postgresp.NewAnalysisRepository(db)
		alerts = postgresp.NewAlertRepository(db)
	default:
		db, err = mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			log.Fatalf("mysql connect error: %v", err)
		}
		records = mysqlp.NewAnalysisRepository(db)
		alerts = mysqlp.NewAlertRepository(db)
	}
	defer db.Close()

	// init minio
	store, err := minioStore.New(ctx,
		cfg.Minio.Endpoint,
		cfg.Minio.Region,
		cfg.Minio.BucketName,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.UseSSL,
	)
	if err != nil {
		log.Fatalf("minio init error: %v", err)
	}

	// init opensearch
	search := opensearch.New(opensearch.Config{
		Endpoint:     cfg.Search.Endpoint,
		Username:     cfg.Search.Username,
		Password:     cfg.Search.Password,
		ElementIndex: cfg.Search.ElementIndex,
		ImageIndex:   cfg.Search.ImageIndex,
		Timeout:      cfg.Search.Timeout.Std(),
	})

	// init openai
	aiClient := openaiclient.NewClient(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.BaseURL,
		cfg.OpenAI.ChatModel,
		cfg.OpenAI.EmbedModel,
	)

	// init services
	retrievalSvc := &retrieval.Service{
		Catalog: search,
		Cache:   memcache.New(cfg.Retrieval.CacheTTL.Std(), 10*time.Minute),
		Dim:     cfg.OpenAI.EmbeddingDim,
		TopK:    cfg.Retrieval.TopK,
		TTL:     cfg.Retrieval.CacheTTL.Std(),
	}

	matcher := matching.New(matching.Config{
		SimilarityThreshold: cfg.Matcher.SimilarityThreshold,
		FuzzyThreshold:      cfg.Matcher.FuzzyThreshold,
		Synonyms:            cfg.SynonymTable(),
		RelationRules:       cfg.Matcher.RelationRules,
	}, nil)

	calc := &progress.Calculator{Scope: progress.Scope(cfg.Progress.Scope)}

	compare := &comparison.Engine{
		Records:    records,
		Summarizer: aiClient,
		Cache:      memcache.New(cfg.Comparison.CacheTTL.Std(), time.Minute),
		TTL:        cfg.Comparison.CacheTTL.Std(),
	}

	svc := &appanalysis.Service{
		Embedder:   aiClient,
		Describer:  aiClient,
		Retrieval:  retrievalSvc,
		Matcher:    matcher,
		Progress:   calc,
		Comparison: compare,
		Catalog:    search,
		Records:    records,
		Images:     search,
		Clock:      appanalysis.SystemClock{},
	}

	// health checks
	health := middleware.HealthHandler(map[string]middleware.HealthChecker{
		"database":   &middleware.DatabaseHealthChecker{DB: db},
		"opensearch": &middleware.PingHealthChecker{Ping: search.Ping},
	})

	// init router
	mux := chi.NewRouter()
	mux.Use(middleware.LoggingMiddleware)
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(middleware.APIKeyAuth(cfg.APIKeys))
	mux.Use(middleware.RateLimitMiddleware(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate))
	mux.Mount("/", httpserver.NewRouter(svc, alerts, store, int(cfg.Upload.MaxSizeMB), health))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		log.Printf("server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
