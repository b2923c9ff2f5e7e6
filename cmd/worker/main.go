package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/Ronitkothari22/distributed-video-processing/internal/domain/entity"
	"github.com/Ronitkothari22/distributed-video-processing/internal/repository/rabbitmq"
	"github.com/Ronitkothari22/distributed-video-processing/internal/repository/storage"
	"github.com/Ronitkothari22/distributed-video-processing/internal/worker"
	s3Client "github.com/Ronitkothari22/distributed-video-processing/pkg/client/s3"
)

type Config struct {
	WorkerType string

	RabbitMQURL       string
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	StorageBackend string
	S3Endpoint     string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UseSSL       bool
	TempDir        string

	ProcessedDir      string
	MetadataDir       string
	FFmpegPath        string
	FFprobePath       string
	FFmpegPreset      string
	VideoCRF          int
	ProcessingTimeout time.Duration

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

	tempDir := os.Getenv("WORKER_TMP_DIR")
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	return Config{
		WorkerType: getEnv("WORKER_TYPE", string(entity.ProcessVideoEnhancement)),

		RabbitMQURL:       rabbitURL,
		ReconnectAttempts: parseInt(os.Getenv("RABBITMQ_RECONNECT_ATTEMPTS"), 10),
		ReconnectDelay:    parseDuration(os.Getenv("RABBITMQ_RECONNECT_DELAY"), 5*time.Second),

		StorageBackend: getEnv("STORAGE_BACKEND", "local"),
		S3Endpoint:     os.Getenv("S3_ENDPOINT"),
		S3Bucket:       os.Getenv("S3_BUCKET"),
		S3AccessKey:    os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:    os.Getenv("S3_SECRET_KEY"),
		S3UseSSL:       os.Getenv("S3_USE_SSL") == "true",
		TempDir:        tempDir,

		ProcessedDir:      getEnv("PROCESSED_DIR", "processed_videos"),
		MetadataDir:       getEnv("METADATA_DIR", "processed_videos/metadata"),
		FFmpegPath:        getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:       getEnv("FFPROBE_PATH", "ffprobe"),
		FFmpegPreset:      getEnv("FFMPEG_PRESET", "medium"),
		VideoCRF:          parseInt(os.Getenv("VIDEO_CRF"), 28),
		ProcessingTimeout: parseDuration(os.Getenv("PROCESSING_TIMEOUT"), 5*time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogJSON:  os.Getenv("LOG_FORMAT") == "json",
	}
}

func main() {
	cfg := loadConfig()

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	if cfg.LogJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	processType := entity.ParseProcessType(cfg.WorkerType)
	if cfg.WorkerType != string(processType) {
		log.WithField("worker_type", cfg.WorkerType).Fatal("unknown WORKER_TYPE")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := rabbitmq.NewClient(rabbitmq.Config{
		URL:               cfg.RabbitMQURL,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
	}, log)
	defer broker.Close()

	if err := broker.Connect(ctx); err != nil {
		log.WithError(err).Fatal("failed to connect to rabbitmq")
	}

	fetcher, err := newStorage(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to init storage")
	}

	var process worker.ProcessFunc
	switch processType {
	case entity.ProcessMetadataExtraction:
		process = worker.MetadataExtraction(worker.MetadataConfig{
			FFprobePath: cfg.FFprobePath,
			MetadataDir: cfg.MetadataDir,
		})
	default:
		process = worker.VideoEnhancement(worker.EnhanceConfig{
			FFmpegPath:  cfg.FFmpegPath,
			FFprobePath: cfg.FFprobePath,
			OutputDir:   cfg.ProcessedDir,
			Preset:      cfg.FFmpegPreset,
			CRF:         cfg.VideoCRF,
		})
	}

	w := worker.New(processType, broker, fetcher, process, cfg.ProcessingTimeout, log)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down worker")
		cancel()
	}()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("worker stopped with error")
	}
}

func newStorage(cfg Config) (worker.Storage, error) {
	if cfg.StorageBackend == "s3" {
		client, err := s3Client.NewS3Client(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
		if err != nil {
			return nil, err
		}
		return storage.NewS3Storage(client, cfg.TempDir)
	}
	return &localFetcher{}, nil
}

// localFetcher resolves task locators that are plain filesystem paths shared
// with the server process.
type localFetcher struct{}

func (localFetcher) Fetch(ctx context.Context, locator string) (string, func(), error) {
	if _, err := os.Stat(locator); err != nil {
		return "", nil, err
	}
	return locator, func() {}, nil
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
