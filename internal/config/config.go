package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Model weight filenames expected inside ModelsDir.
const (
	DetectorPrototxt = "deploy.prototxt"
	DetectorWeights  = "res10_300x300_ssd_iter_140000_fp16.caffemodel"
	EmbedderWeights  = "nn4.small2.v1.t7"
)

// Config holds everything the commands need to build the pipeline.
type Config struct {
	ModelsDir   string
	DatasetDir  string
	CacheDir    string
	DatabaseURL string // Postgres is used for the classifier when set
	Confidence  float64
	LogLevel    string
	WebAddr     string
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		ModelsDir:  "models",
		DatasetDir: "__datasets__",
		CacheDir:   "__cache__",
		Confidence: 0.5,
		LogLevel:   "info",
		WebAddr:    "127.0.0.1:8080",
	}
}

// FromEnv returns Default() with LOOKOUT_* and POSTGRES_* overrides applied.
func FromEnv() Config {
	c := Default()
	readEnvString("LOOKOUT_MODELS_DIR", &c.ModelsDir)
	readEnvString("LOOKOUT_DATASET_DIR", &c.DatasetDir)
	readEnvString("LOOKOUT_CACHE_DIR", &c.CacheDir)
	readEnvString("LOOKOUT_LOG_LEVEL", &c.LogLevel)
	readEnvString("LOOKOUT_WEB_ADDR", &c.WebAddr)
	readEnvFloat("LOOKOUT_CONFIDENCE", &c.Confidence)
	readEnvString("LOOKOUT_DB", &c.DatabaseURL)

	// Build the connection string from the usual Postgres variables if no URL was given
	if c.DatabaseURL == "" {
		if host := os.Getenv("POSTGRES_HOST"); host != "" {
			user := os.Getenv("POSTGRES_USER")
			pass := os.Getenv("POSTGRES_PASSWORD")
			name := os.Getenv("POSTGRES_DB")
			port := os.Getenv("POSTGRES_PORT")
			if port == "" {
				port = "5432"
			}
			c.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
		}
	}
	return c
}

// Validate rejects values the pipeline cannot work with.
func (c Config) Validate() error {
	if c.Confidence <= 0 || c.Confidence > 1.0 {
		return fmt.Errorf("confidence must be in (0.0, 1.0], got %f", c.Confidence)
	}
	if c.DatasetDir == "" {
		return fmt.Errorf("dataset directory must not be empty")
	}
	if c.ModelsDir == "" {
		return fmt.Errorf("models directory must not be empty")
	}
	return nil
}

// DetectorPaths returns the prototxt and weights of the face detector.
func (c Config) DetectorPaths() (string, string) {
	return filepath.Join(c.ModelsDir, DetectorPrototxt), filepath.Join(c.ModelsDir, DetectorWeights)
}

// EmbedderPath returns the embedding network weights.
func (c Config) EmbedderPath() string {
	return filepath.Join(c.ModelsDir, EmbedderWeights)
}

// ClassifierDir is where the file store keeps the trained classifier.
func (c Config) ClassifierDir() string {
	return filepath.Join(c.CacheDir, "svc")
}

func readEnvString(name string, value *string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	*value = v
}

func readEnvFloat(name string, value *float64) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return
	}
	*value = f
}
