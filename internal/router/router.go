package router

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	_ "clinical-occurrences/docs"
	memblob "clinical-occurrences/internal/adapters/blob/memory"
	"clinical-occurrences/internal/adapters/render/xlsx"
	pgseq "clinical-occurrences/internal/adapters/sequence/postgres"
	redisseq "clinical-occurrences/internal/adapters/sequence/redis"
	mem "clinical-occurrences/internal/adapters/storage/memory"
	pg "clinical-occurrences/internal/adapters/storage/postgres"
	"clinical-occurrences/internal/domain/aggregator"
	"clinical-occurrences/internal/domain/finalization"
	"clinical-occurrences/internal/domain/lifecycle"
	"clinical-occurrences/internal/domain/occurrence"
	"clinical-occurrences/internal/domain/protocol"
	"clinical-occurrences/internal/domain/sources"
	"clinical-occurrences/internal/middleware"
	"clinical-occurrences/internal/platform/metrics"
	"clinical-occurrences/internal/ports/auth"
	"clinical-occurrences/internal/ports/blob"
	"clinical-occurrences/internal/ports/capabilities"
)

type Options struct {
	AuthVerifier auth.AuthVerifier // puede ser nil (modo dev)

	// Opcional: si viene, usa Postgres. Si no, in-memory.
	DB *sql.DB
	// Opcional: secuencia de protocolos en Redis. Sin Redis se usa la de Postgres o memoria.
	Redis redis.UniversalClient
	// Opcional: pisa la secuencia elegida (tests, seeds).
	Sequence protocol.Sequence

	Blobs        blob.Store                // default: memoria
	Renderer     finalization.Renderer     // default: xlsx
	Notifier     finalization.Notifier     // nil = sin notificación
	Identity     aggregator.IdentityLookup // nil = sin nombres
	Capabilities capabilities.CapabilitiesResolver

	NotifyURL     string
	PublicBaseURL string
	SignedURLTTL  time.Duration
	IdentityTTL   time.Duration

	Logger   *zap.Logger
	Registry *prometheus.Registry // default: uno nuevo por router
}

type stores interface {
	occurrence.Store
	sources.RecordStore
}

func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := metrics.New(reg)

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.RequestLog(logger))

	r.Use(middleware.AuthContext(opts.AuthVerifier))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	var (
		store stores
		seq   protocol.Sequence
	)
	if opts.DB != nil {
		store = pg.NewOccurrencesRepo(opts.DB)
		seq = pgseq.NewSequence(opts.DB)
	} else {
		store = mem.NewOccurrenceRepo()
		seq = mem.NewSequence()
	}
	if opts.Redis != nil {
		seq = redisseq.NewSequence(opts.Redis)
	}
	if opts.Sequence != nil {
		seq = opts.Sequence
	}

	blobs := opts.Blobs
	if blobs == nil {
		blobs = memblob.NewStore()
	}
	renderer := opts.Renderer
	if renderer == nil {
		renderer = xlsx.NewRenderer()
	}

	// Services por módulo
	gen := protocol.NewGenerator(seq, store, logger.Named("protocol")).WithObserver(m)
	intake := sources.NewService(store, gen, logger.Named("sources"))

	agg := aggregator.New(store, store, aggregator.Options{
		Identity: aggregator.NewCachedIdentity(opts.Identity, opts.IdentityTTL),
		Logger:   logger.Named("aggregator"),
		Latency:  m,
	})

	pipeline := finalization.NewPipeline(finalization.Deps{
		Store:    store,
		Reader:   agg,
		Blobs:    blobs,
		Renderer: renderer,
		Notifier: opts.Notifier,
		Observer: m,
		Logger:   logger.Named("finalization"),
	}, finalization.Config{
		NotifyURL:     opts.NotifyURL,
		PublicBaseURL: opts.PublicBaseURL,
		SignedURLTTL:  opts.SignedURLTTL,
	})

	engine := lifecycle.NewService(lifecycle.Deps{
		Reader:    agg,
		Store:     store,
		Records:   store,
		Blobs:     blobs,
		Finalizer: pipeline,
		Observer:  m,
		Logger:    logger.Named("lifecycle"),
	})

	// Rutas por módulo
	sources.RegisterRoutes(r, intake)
	aggregator.RegisterRoutes(r, agg)
	lifecycle.RegisterRoutes(r, engine, opts.Capabilities, logger)
	finalization.RegisterRoutes(r, pipeline, opts.Capabilities, logger)

	return r
}
