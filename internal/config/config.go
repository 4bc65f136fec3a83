package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"
)

type Config struct {
	ListenAddr          string
	DBPath              string
	GenerationBackend   string
	GoogleAPIKey        string
	GeminiModel         string
	ClaudeAPIKey        string
	ClaudeModel         string
	OllamaHost          string
	OllamaModel         string
	VertexProject       string
	VertexLocation      string
	GenerationTimeout   time.Duration
	AnalysisConcurrency int
	SessionTTL          time.Duration
	ArchiveEnabled      bool
	LogLevel            string
	LogFile             string
	TestMode            bool
}

// LoadEnvFile merges variables from a dotenv file into the process
// environment. Variables already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return goerr.Wrap(err, "failed to load env file", goerr.V("path", path))
	}
	return nil
}

func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		DBPath:            getEnv("DB_PATH", "/data/nutrilog.db"),
		GenerationBackend: getEnv("GENERATION_BACKEND", "gemini"),
		GoogleAPIKey:      getEnv("GOOGLE_API_KEY", ""),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		ClaudeAPIKey:      getEnv("CLAUDE_API_KEY", ""),
		ClaudeModel:       getEnv("CLAUDE_MODEL", "claude-opus-4-6"),
		OllamaHost:        getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OllamaModel:       getEnv("OLLAMA_MODEL", "llava"),
		VertexProject:     getEnv("VERTEX_PROJECT", ""),
		VertexLocation:    getEnv("VERTEX_LOCATION", "us-central1"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFile:           getEnv("LOG_FILE", ""),
		TestMode:          os.Getenv("NUTRILOG_TEST_MODE") == "1",
	}

	var err error
	if cfg.GenerationTimeout, err = getDuration("GENERATION_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 12*time.Hour); err != nil {
		return nil, err
	}
	if cfg.AnalysisConcurrency, err = getInt("ANALYSIS_CONCURRENCY", 1); err != nil {
		return nil, err
	}
	if cfg.ArchiveEnabled, err = getBool("ARCHIVE_ENABLED", true); err != nil {
		return nil, err
	}

	switch cfg.GenerationBackend {
	case "gemini", "claude", "ollama", "vertex":
	default:
		return nil, goerr.New("unknown generation backend", goerr.V("backend", cfg.GenerationBackend))
	}
	if cfg.AnalysisConcurrency < 1 {
		return nil, goerr.New("ANALYSIS_CONCURRENCY must be at least 1", goerr.V("value", cfg.AnalysisConcurrency))
	}

	return cfg, nil
}

// DefaultCredential is the server-side credential for the selected backend.
// When it is non-empty new sessions start connected. Ollama needs no key, so
// its host stands in as the credential.
func (c *Config) DefaultCredential() string {
	switch c.GenerationBackend {
	case "gemini":
		return c.GoogleAPIKey
	case "claude":
		return c.ClaudeAPIKey
	case "vertex":
		return c.VertexProject
	case "ollama":
		return c.OllamaHost
	default:
		return ""
	}
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val, exists := os.LookupEnv(key)
	if !exists || val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, goerr.Wrap(err, "invalid duration", goerr.V("key", key), goerr.V("value", val))
	}
	return d, nil
}

func getInt(key string, defaultVal int) (int, error) {
	val, exists := os.LookupEnv(key)
	if !exists || val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, goerr.Wrap(err, "invalid integer", goerr.V("key", key), goerr.V("value", val))
	}
	return n, nil
}

func getBool(key string, defaultVal bool) (bool, error) {
	val, exists := os.LookupEnv(key)
	if !exists || val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, goerr.Wrap(err, "invalid boolean", goerr.V("key", key), goerr.V("value", val))
	}
	return b, nil
}
