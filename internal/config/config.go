package config

import (
	"os"
	"path/filepath"
)

type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Vector    VectorConfig
	Chunking  ChunkingConfig
	Analysis  AnalysisConfig
	Search    SearchConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	MCP      bool
	APIToken string
}

type LLMConfig struct {
	Provider    string
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64
}

type EmbeddingConfig struct {
	Provider string
	BaseURL  string
	Model    string
	APIKey   string
}

type OllamaConfig struct {
	BaseURL string
}

type StorageConfig struct {
	DataDir string
}

// VectorConfig selects the chunk store: "sqlite" (default) or "postgres".
type VectorConfig struct {
	Backend     string
	PostgresDSN string
}

type ChunkingConfig struct {
	Size    int
	Overlap int
}

type AnalysisConfig struct {
	Workers     int
	PersistRuns bool
}

type SearchConfig struct {
	APIKey   string
	EngineID string
}

type LogConfig struct {
	Level  string
	Format string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			BaseURL:     "https://api.groq.com/openai/v1",
			Model:       "openai/gpt-oss-120b",
			Temperature: 0.7,
		},
		Embedding: EmbeddingConfig{
			Provider: "huggingface",
			BaseURL:  "https://router.huggingface.co/hf-inference/models",
			Model:    "BAAI/bge-small-en-v1.5",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Vector: VectorConfig{
			Backend: "sqlite",
		},
		Chunking: ChunkingConfig{
			Size:    1000,
			Overlap: 200,
		},
		Analysis: AnalysisConfig{
			Workers: 4,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from defaults, the TOML file at
// $XDG_CONFIG_HOME/dealscope/config.toml, DEALSCOPE_* environment variables
// and the secrets file, in increasing order of precedence for each key.
// Secrets come from the environment first and the secrets file second.
//
// Missing model credentials are not an error here; the engine reports them
// when a call is made.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), NewSecretStore())
}

func loadWith(b ConfigBackend, secrets SecretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, secrets)

	return cfg, nil
}

func xdgDir(env string, fallback ...string) string {
	dir := os.Getenv(env)
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(append([]string{home}, fallback...)...)
		} else {
			return "."
		}
	}
	return dir
}

func defaultDataDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "dealscope")
}

func configFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "dealscope", "config.toml")
}

// ConfigPath returns the location of the TOML config file.
func ConfigPath() string {
	return configFilePath()
}
