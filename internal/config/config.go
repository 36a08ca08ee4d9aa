package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"coral-lat/internal/maskfilter"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel            string
	LogFormat           string
	APIPort             string
	DBPath              string
	ProjectDir          string
	ModelBaseURL        string
	SegmentationBaseURL string
	ModelAPIKey         string
	EmbeddingModel      string
	SegmentationModel   string
	QdrantURL           string // empty disables the image index
	QdrantAPIKey        string
	QdrantCollection    string
	QdrantVectorSize    int
	DefaultThresholds   maskfilter.Thresholds
}

// Load reads configuration from environment variables and returns a Config struct.
// It applies defaults for optional fields and validates numeric fields.
// If a .env file exists in the current directory or up to five parents, it is loaded.
// Environment variables already set take precedence over .env file values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	wd, err := os.Getwd()
	if err == nil {
		dir := wd
		for i := 0; i < 5; i++ {
			envPath := filepath.Join(dir, ".env")
			if _, err := os.Stat(envPath); err == nil {
				_ = godotenv.Load(envPath)
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	modelBaseURL := getEnv("MODEL_BASE_URL", "http://localhost:8090")

	cfg := &Config{
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(getEnv("LOG_FORMAT", "text")),
		APIPort:             getEnv("API_PORT", "9000"),
		DBPath:              getEnv("DB_PATH", "./data/coral-lat.db"),
		ProjectDir:          getEnv("PROJECT_DIR", "./data/projects"),
		ModelBaseURL:        modelBaseURL,
		SegmentationBaseURL: getEnv("SEGMENTATION_BASE_URL", modelBaseURL),
		ModelAPIKey:         getEnv("MODEL_API_KEY", ""),
		EmbeddingModel:      getEnv("EMBEDDING_MODEL", "vit_b"),
		SegmentationModel:   getEnv("SEGMENTATION_MODEL", "vit_b_coralscop"),
		QdrantURL:           getEnv("QDRANT_URL", ""),
		QdrantAPIKey:        getEnv("QDRANT_API_KEY", ""),
		QdrantCollection:    getEnv("QDRANT_COLLECTION", "coral_images"),
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	// Must match the channel count of the embedding model, since pooled embeddings
	// are what gets indexed. Changing it requires recreating the collection.
	vectorSize, err := strconv.Atoi(getEnv("QDRANT_VECTOR_SIZE", "256"))
	if err != nil {
		return nil, fmt.Errorf("QDRANT_VECTOR_SIZE must be a valid integer: %w", err)
	}
	if vectorSize <= 0 {
		return nil, fmt.Errorf("QDRANT_VECTOR_SIZE must be greater than 0")
	}
	cfg.QdrantVectorSize = vectorSize

	if cfg.DefaultThresholds.MinAreaFraction, err = getFloat("DEFAULT_MIN_AREA", 0.001); err != nil {
		return nil, err
	}
	if cfg.DefaultThresholds.MinConfidence, err = getFloat("DEFAULT_MIN_CONFIDENCE", 0.5); err != nil {
		return nil, err
	}
	if cfg.DefaultThresholds.MaxIoU, err = getFloat("DEFAULT_MAX_IOU", 0.5); err != nil {
		return nil, err
	}
	if err := cfg.DefaultThresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default thresholds: %w", err)
	}

	for _, dir := range []string{filepath.Dir(cfg.DBPath), cfg.ProjectDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid number: %w", key, err)
	}
	return v, nil
}
