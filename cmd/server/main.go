package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	v1 "github.com/Ronitkothari22/distributed-video-processing/internal/controller/http/v1"
	"github.com/Ronitkothari22/distributed-video-processing/internal/controller/ws"
	"github.com/Ronitkothari22/distributed-video-processing/internal/domain/usecase"
	psqlRepo "github.com/Ronitkothari22/distributed-video-processing/internal/repository/psql"
	"github.com/Ronitkothari22/distributed-video-processing/internal/repository/rabbitmq"
	"github.com/Ronitkothari22/distributed-video-processing/internal/repository/state"
	"github.com/Ronitkothari22/distributed-video-processing/internal/repository/storage"
	"github.com/Ronitkothari22/distributed-video-processing/pkg/client/psql"
	redisClient "github.com/Ronitkothari22/distributed-video-processing/pkg/client/redis"
	s3Client "github.com/Ronitkothari22/distributed-video-processing/pkg/client/s3"
	"github.com/Ronitkothari22/distributed-video-processing/pkg/middleware"
)

type Config struct {
	APIAddr string

	RabbitMQURL       string
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	StateBackend   string
	StateFile      string
	StateRetention time.Duration
	SweepInterval  time.Duration

	StorageBackend string
	UploadDir      string
	MaxFileSizeMB  int64

	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool

	RedisAddr string
	RedisDB   int
	RateLimit int

	PSQLHost     string
	PSQLPort     int
	PSQLUser     string
	PSQLPassword string
	PSQLDBName   string
	PSQLSSLMode  string

	LogLevel string
	LogJSON  bool
}

func loadConfig() Config {
	if err := godotenv.Load("./.env.local"); err != nil {
		logrus.Info("no .env file found, falling back to OS environment variables")
	}

	rabbitURL := os.Getenv("RABBITMQ_URL")
	if rabbitURL == "" {
		user := getEnv("RABBITMQ_USER", "guest")
		pass := getEnv("RABBITMQ_PASSWORD", "guest")
		host := getEnv("RABBITMQ_HOST", "localhost")
		port := getEnv("RABBITMQ_PORT", "5672")
		rabbitURL = "amqp://" + user + ":" + pass + "@" + host + ":" + port + "/"
	}

	return Config{
		APIAddr: getEnv("API_ADDR", ":8000"),

		RabbitMQURL:       rabbitURL,
		ReconnectAttempts: parseInt(os.Getenv("RABBITMQ_RECONNECT_ATTEMPTS"), 10),
		ReconnectDelay:    parseDuration(os.Getenv("RABBITMQ_RECONNECT_DELAY"), 5*time.Second),

		StateBackend:   getEnv("STATE_BACKEND", "file"),
		StateFile:      getEnv("STATE_FILE", "processing_states.json"),
		StateRetention: parseDuration(os.Getenv("STATE_RETENTION"), 7*24*time.Hour),
		SweepInterval:  parseDuration(os.Getenv("SWEEP_INTERVAL"), time.Hour),

		StorageBackend: getEnv("STORAGE_BACKEND", "local"),
		UploadDir:      getEnv("UPLOAD_DIR", "uploads"),
		MaxFileSizeMB:  int64(parseInt(os.Getenv("MAX_FILE_SIZE_MB"), 500)),

		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		S3UseSSL:    os.Getenv("S3_USE_SSL") == "true",

		RedisAddr: os.Getenv("REDIS_ADDR"),
		RedisDB:   parseInt(os.Getenv("REDIS_DB"), 0),
		RateLimit: parseInt(os.Getenv("RATE_LIMIT"), 10),

		PSQLHost:     getEnv("PSQL_HOST", "localhost"),
		PSQLPort:     parseInt(os.Getenv("PSQL_PORT"), 5432),
		PSQLUser:     getEnv("PSQL_USER", "postgres"),
		PSQLPassword: os.Getenv("PSQL_PASSWORD"),
		PSQLDBName:   getEnv("PSQL_DB", "video_processing"),
		PSQLSSLMode:  getEnv("PSQL_SSLMODE", "disable"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogJSON:  os.Getenv("LOG_FORMAT") == "json",
	}
}

func main() {
	cfg := loadConfig()

	log := newLogger(cfg.LogLevel, cfg.LogJSON)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := newStore(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to init state store")
	}

	uploadStorage, err := newStorage(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to init upload storage")
	}

	broker := rabbitmq.NewClient(rabbitmq.Config{
		URL:               cfg.RabbitMQURL,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
	}, log)
	defer broker.Close()

	registry := ws.NewRegistry()
	statusUC := usecase.NewStatusUseCase(store, registry, log)
	uploadUC := usecase.NewUploadUseCase(store, uploadStorage, broker, registry, log)

	if err := broker.Connect(ctx); err != nil {
		log.WithError(err).Fatal("failed to connect to rabbitmq")
	}
	if err := broker.ConsumeStatus(ctx, statusUC.HandleStatus); err != nil {
		log.WithError(err).Fatal("failed to start status consumer")
	}

	go runSweeper(ctx, store, cfg.StateRetention, cfg.SweepInterval, log)

	r := gin.Default()

	if cfg.RedisAddr != "" {
		rc, err := redisClient.NewRedisClient(ctx, redisClient.Config{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err != nil {
			log.WithError(err).Fatal("failed to connect to redis")
		}
		r.Use(middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RedisClient: rc,
			Limit:       cfg.RateLimit,
			Window:      time.Second,
		}))
	}

	handler := v1.NewVideoHandler(uploadUC, statusUC, cfg.MaxFileSizeMB<<20)
	wsHandler := ws.NewHandler(registry, log)

	r.POST("/upload", handler.UploadVideo)
	r.GET("/ws/:client_id", wsHandler.Serve)
	internal := r.Group("/internal")
	{
		internal.GET("/video-enhancement-status/:file_id", handler.VideoEnhancementStatus)
		internal.GET("/metadata-extraction-status/:file_id", handler.MetadataExtractionStatus)
		internal.GET("/state/:file_id", handler.JobState)
	}

	srv := &http.Server{Addr: cfg.APIAddr, Handler: r}
	go func() {
		log.WithField("addr", cfg.APIAddr).Info("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

func newLogger(level string, jsonFormat bool) *logrus.Logger {
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	}
	if jsonFormat {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

func newStore(cfg Config, log *logrus.Logger) (usecase.StateStore, error) {
	if cfg.StateBackend == "postgres" {
		db, err := psql.NewPostgresDB(psql.Config{
			Host:     cfg.PSQLHost,
			Port:     cfg.PSQLPort,
			User:     cfg.PSQLUser,
			Password: cfg.PSQLPassword,
			DBName:   cfg.PSQLDBName,
			SslMode:  cfg.PSQLSSLMode,
		})
		if err != nil {
			return nil, err
		}
		return psqlRepo.NewGormJobStore(db)
	}

	fs := state.NewFileStore(cfg.StateFile, log)
	if err := fs.Load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func newStorage(cfg Config) (usecase.Storage, error) {
	if cfg.StorageBackend == "s3" {
		client, err := s3Client.NewS3Client(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
		if err != nil {
			return nil, err
		}
		return storage.NewS3Storage(client, os.TempDir())
	}
	return storage.NewLocalStorage(cfg.UploadDir)
}

func runSweeper(ctx context.Context, store usecase.StateStore, retention, interval time.Duration, log *logrus.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := store.Sweep(ctx, retention); err != nil {
				log.WithError(err).Error("state sweep failed")
			}
		}
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
