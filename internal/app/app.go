package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"geosewa_exam/internal/client"
	"geosewa_exam/internal/config"
	"geosewa_exam/internal/controller"
	"geosewa_exam/internal/repository"
	"geosewa_exam/internal/service"
	"geosewa_exam/internal/util"
	"geosewa_exam/pkg/configwatcher"
	"geosewa_exam/pkg/database"
	"geosewa_exam/pkg/logger"
	"geosewa_exam/pkg/monitoring"
	"geosewa_exam/pkg/security"
	"geosewa_exam/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	Client          *client.Client
	services        *services
	configCallbacks []func(*config.Config)

	ctx    context.Context
	cancel context.CancelFunc
	tracer *sdktrace.TracerProvider
}

type repositories struct {
	cacheStore   repository.KVStore
	cacheBackend string
	answers      *repository.AnswerCacheRepository
	tokens       repository.TokenStore
}

type services struct {
	session *service.Session
	auth    *service.AuthService
	scoring *service.ScoringService
	reports *service.ReportService
	storage *service.StorageService
	exam    *service.ExamService
}

type controllers struct {
	auth    *controller.AuthController
	exam    *controller.ExamController
	attempt *controller.AttemptController
	result  *controller.ResultController
	health  *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initCacheStore(cfg *config.Config) (repository.KVStore, error) {
	switch cfg.Cache.Backend {
	case "", util.CacheMemory:
		return repository.NewMemoryStore(cfg.Cache.TTL), nil
	case util.CacheFile:
		store, err := repository.NewFileStore(cfg.Cache.FilePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case util.CacheRedis:
		rdb, err := database.InitRedis(&cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.Redis = rdb
		return repository.NewRedisStore(rdb, cfg.Cache.TTL), nil
	case util.CacheMySQL:
		db, err := database.InitDB(&cfg.Database)
		if err != nil {
			return nil, err
		}
		a.DB = db
		return repository.NewGormStore(db, cfg.Cache.TTL), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func initTokenStore(cfg *config.SessionConfig) (repository.TokenStore, error) {
	switch cfg.Store {
	case "", util.SessionStoreMemory:
		return repository.NewMemoryTokenStore(), nil
	case util.SessionStoreFile:
		store, err := repository.NewSealedFileTokenStore(cfg.Path, cfg.Secret)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Store)
	}
}

func (a *App) initRepositories(cfg *config.Config) (*repositories, error) {
	store, err := a.initCacheStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("answer cache: %w", err)
	}
	tokens, err := initTokenStore(&cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	backend := cfg.Cache.Backend
	if backend == "" {
		backend = util.CacheMemory
	}
	return &repositories{
		cacheStore:   store,
		cacheBackend: backend,
		answers:      repository.NewAnswerCacheRepository(store),
		tokens:       tokens,
	}, nil
}

// Sections maps configured exam sections onto the attempt layout.
func Sections(cfgs []config.SectionConfig) []service.Section {
	sections := make([]service.Section, 0, len(cfgs))
	for _, sc := range cfgs {
		sections = append(sections, service.Section{
			Name:              sc.Name,
			StartQuestion:     sc.StartQuestion,
			EndQuestion:       sc.EndQuestion,
			PointsPerQuestion: sc.PointsPerQuestion,
		})
	}
	return sections
}

func (a *App) initServices(repos *repositories, cfg *config.Config) (*services, error) {
	s := &services{}

	s.session = service.NewSession(repos.tokens)

	api, err := client.New(client.Options{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.Timeout,
		Limiter:   security.OutboundLimiter(cfg.API.RateLimit, cfg.API.Burst),
		BatchMode: client.BatchMode(cfg.Exam.BatchMode),
	}, s.session)
	if err != nil {
		return nil, err
	}
	a.Client = api

	s.auth = service.NewAuthService(api, s.session)
	s.scoring = service.NewScoringService(cfg.Exam.NegativeMark)
	s.reports = service.NewReportService()
	s.storage = service.NewStorageService(cfg, s.reports, s.scoring)
	s.exam = service.NewExamService(api, repos.answers, s.session, s.scoring, s.reports, s.storage, service.ExamSettings{
		PageSize:     cfg.Exam.PageSize,
		ChunkSize:    cfg.Exam.ChunkSize,
		TickInterval: cfg.Exam.TickInterval,
		Sections:     Sections(cfg.Exam.Sections),
	})

	return s, nil
}

func (a *App) initControllers(s *services, repos *repositories) *controllers {
	return &controllers{
		auth:    controller.NewAuthController(s.auth),
		exam:    controller.NewExamController(s.exam),
		attempt: controller.NewAttemptController(s.exam),
		result:  controller.NewResultController(s.exam),
		health:  controller.NewHealthController(repos.cacheStore, repos.cacheBackend),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
	router.Use(security.RateLimiter(a.ctx, cfg.RateLimit.MaxRequests, window))

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// registerReloaders applies the settings that are safe to change while
// attempts are running. Everything else needs a restart.
func (a *App) registerReloaders(s *services) {
	a.RegisterConfigCallback(func(cfg *config.Config) {
		a.Client.SetLimiter(security.OutboundLimiter(cfg.API.RateLimit, cfg.API.Burst))
	})
	a.RegisterConfigCallback(func(cfg *config.Config) {
		s.scoring.SetNegativeMark(cfg.Exam.NegativeMark)
	})
	a.RegisterConfigCallback(func(cfg *config.Config) {
		a.Client.SetBatchMode(client.BatchMode(cfg.Exam.BatchMode))
	})
}

func (a *App) startBackgroundTasks() {
	if a.Config.File == "" {
		return
	}
	go func() {
		err := configwatcher.WatchConfig(a.ctx, a.Config.File, func(cfg *config.Config) {
			for _, cb := range a.configCallbacks {
				cb(cfg)
			}
			logger.Log.Info("Config reloaded",
				zap.Float64("negative_mark", cfg.Exam.NegativeMark),
				zap.String("batch_mode", cfg.Exam.BatchMode))
		})
		if err != nil {
			logger.Log.Error("config watcher stopped", zap.Error(err))
		}
	}()
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	logger.Log.Info("Logger initialized successfully")

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	repos, err := app.initRepositories(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize repositories", zap.Error(err))
	}

	services, err := app.initServices(repos, cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize services", zap.Error(err))
	}
	app.services = services
	controllers := app.initControllers(services, repos)

	monitoring.Init()

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(tracing.ServiceName, cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, services)

	if cfg.Storage.Type == util.StorageLocal {
		router.Static("/api/receipts", cfg.Storage.LocalPath)
	}

	app.registerReloaders(services)
	app.startBackgroundTasks()

	return app
}

// Close stops background work and releases every open attempt. Cached
// answers stay on disk so an interrupted attempt can be resumed.
func (a *App) Close() {
	a.cancel()
	if a.services != nil {
		a.services.exam.Shutdown()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.Log.Warn("Failed to close redis", zap.Error(err))
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}
	a.Close()

	log.Println("Server exiting")
}
