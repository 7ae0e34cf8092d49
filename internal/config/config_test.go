package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// mockSecrets is a test double for SecretStore.
type mockSecrets struct {
	values map[string]string
}

func (m *mockSecrets) Get(account string) (string, error) {
	v, ok := m.values[account]
	if !ok {
		return "", ErrSecretNotFound
	}
	return v, nil
}

func (m *mockSecrets) Set(account, value string) error {
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[account] = value
	return nil
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func loadFromPath(path string, secrets SecretStore) (Config, error) {
	return loadWith(newFileBackend(path), secrets)
}

// clearEnv blanks every DEALSCOPE_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := loadFromPath(writeTempConfig(t, `# empty`), &mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Server.MCP {
		t.Error("Server.MCP = true, want false")
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.BaseURL != "https://api.groq.com/openai/v1" {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.LLM.Model != "openai/gpt-oss-120b" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.Temperature != 0.7 {
		t.Errorf("LLM.Temperature = %v, want 0.7", cfg.LLM.Temperature)
	}
	if cfg.Embedding.Provider != "huggingface" || cfg.Embedding.Model != "BAAI/bge-small-en-v1.5" {
		t.Errorf("Embedding = %+v", cfg.Embedding)
	}
	if cfg.Vector.Backend != "sqlite" {
		t.Errorf("Vector.Backend = %q, want sqlite", cfg.Vector.Backend)
	}
	if cfg.Chunking.Size != 1000 || cfg.Chunking.Overlap != 200 {
		t.Errorf("Chunking = %+v", cfg.Chunking)
	}
	if cfg.Analysis.Workers != 4 || cfg.Analysis.PersistRuns {
		t.Errorf("Analysis = %+v", cfg.Analysis)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if !strings.HasSuffix(cfg.Storage.DataDir, "dealscope") {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
}

// TestMissingAPIKeyIsNotAnError verifies credentials are optional at load time.
func TestMissingAPIKeyIsNotAnError(t *testing.T) {
	clearEnv(t)
	cfg, err := loadFromPath(writeTempConfig(t, ``), &mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("LLM.APIKey = %q, want empty", cfg.LLM.APIKey)
	}
}

// TestTOMLParsing verifies that fields are read from TOML tables.
func TestTOMLParsing(t *testing.T) {
	clearEnv(t)
	content := `
[server]
port = 5000
mcp = true

[llm]
provider = "ollama"
model = "llama3.1"
temperature = 0.2

[embedding]
provider = "ollama"
model = "nomic-embed-text"

[vector]
backend = "postgres"

[chunking]
size = 800
overlap = 100

[analysis]
workers = 2
persist_runs = true

[search]
engine_id = "cx-123"

[log]
level = "debug"
format = "json"
`
	cfg, err := loadFromPath(writeTempConfig(t, content), &mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 || !cfg.Server.MCP {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.LLM.Provider != "ollama" || cfg.LLM.Model != "llama3.1" || cfg.LLM.Temperature != 0.2 {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.Embedding.Provider != "ollama" || cfg.Embedding.Model != "nomic-embed-text" {
		t.Errorf("Embedding = %+v", cfg.Embedding)
	}
	if cfg.Vector.Backend != "postgres" {
		t.Errorf("Vector.Backend = %q", cfg.Vector.Backend)
	}
	if cfg.Chunking.Size != 800 || cfg.Chunking.Overlap != 100 {
		t.Errorf("Chunking = %+v", cfg.Chunking)
	}
	if cfg.Analysis.Workers != 2 || !cfg.Analysis.PersistRuns {
		t.Errorf("Analysis = %+v", cfg.Analysis)
	}
	if cfg.Search.EngineID != "cx-123" {
		t.Errorf("Search.EngineID = %q", cfg.Search.EngineID)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

// TestSecretsIgnoredInConfigFile verifies credentials in the TOML file are not read.
func TestSecretsIgnoredInConfigFile(t *testing.T) {
	clearEnv(t)
	cfg, err := loadFromPath(writeTempConfig(t, "[llm]\napi_key = \"file-key\"\n"), &mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("LLM.APIKey = %q, want empty", cfg.LLM.APIKey)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "[server]\nport = 5000\n[analysis]\npersist_runs = false\n")

	t.Setenv("DEALSCOPE_SERVER_PORT", "6000")
	t.Setenv("DEALSCOPE_ANALYSIS_PERSIST_RUNS", "true")
	t.Setenv("DEALSCOPE_LLM_TEMPERATURE", "not-a-float")
	t.Setenv("DEALSCOPE_LLM_API_KEY", "env-key")

	cfg, err := loadFromPath(path, &mockSecrets{values: map[string]string{"llm_api_key": "stored-key"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if !cfg.Analysis.PersistRuns {
		t.Error("Analysis.PersistRuns = false, want true")
	}
	if cfg.LLM.Temperature != 0.7 {
		t.Errorf("unparseable env changed temperature to %v", cfg.LLM.Temperature)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("LLM.APIKey = %q, want env-key", cfg.LLM.APIKey)
	}
}

// TestSecretsFallback verifies the secrets store is consulted when env has no value.
func TestSecretsFallback(t *testing.T) {
	clearEnv(t)
	secrets := &mockSecrets{values: map[string]string{
		"llm_api_key":    "stored-llm",
		"search_api_key": "stored-search",
	}}
	cfg, err := loadFromPath(writeTempConfig(t, ``), secrets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "stored-llm" {
		t.Errorf("LLM.APIKey = %q", cfg.LLM.APIKey)
	}
	if cfg.Search.APIKey != "stored-search" {
		t.Errorf("Search.APIKey = %q", cfg.Search.APIKey)
	}
}

// TestInvalidTypeInFile verifies a wrongly typed value is reported.
func TestInvalidTypeInFile(t *testing.T) {
	clearEnv(t)
	_, err := loadFromPath(writeTempConfig(t, "[server]\nport = \"abc\"\n"), &mockSecrets{})
	if err == nil || !strings.Contains(err.Error(), "server.port") {
		t.Errorf("error = %v, want one naming server.port", err)
	}
}

func TestSetKeyRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	secrets := &mockSecrets{}

	if err := setKeyWith(newFileBackend(path), secrets, "chunking.size", "512"); err != nil {
		t.Fatalf("SetKey chunking.size: %v", err)
	}
	if err := setKeyWith(newFileBackend(path), secrets, "server.mcp", "true"); err != nil {
		t.Fatalf("SetKey server.mcp: %v", err)
	}
	if err := setKeyWith(newFileBackend(path), secrets, "llm.api_key", "sk-123"); err != nil {
		t.Fatalf("SetKey llm.api_key: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "[chunking]") || strings.Contains(string(raw), "sk-123") {
		t.Errorf("config file = %s", raw)
	}

	cfg, err := loadFromPath(path, secrets)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Chunking.Size != 512 || !cfg.Server.MCP || cfg.LLM.APIKey != "sk-123" {
		t.Errorf("reloaded cfg: chunking=%d mcp=%v key=%q", cfg.Chunking.Size, cfg.Server.MCP, cfg.LLM.APIKey)
	}
}

func TestSetKeyErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := setKeyWith(newFileBackend(path), &mockSecrets{}, "nope.key", "1"); err == nil {
		t.Error("expected error for unknown key")
	}
	if err := setKeyWith(newFileBackend(path), &mockSecrets{}, "server.port", "many"); err == nil {
		t.Error("expected error for non-integer port")
	}
}

func TestIsSecret(t *testing.T) {
	for key, want := range map[string]bool{
		"llm.api_key":         true,
		"vector.postgres_dsn": true,
		"server.port":         false,
		"nope.key":            false,
	} {
		if got := IsSecret(key); got != want {
			t.Errorf("IsSecret(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.LLM.APIKey = "gsk_abcdefghijkl1234"

	var sawKey, sawPort bool
	for _, info := range ShowAll(cfg) {
		switch info.Key {
		case "llm.api_key":
			sawKey = true
			if info.Value != "********1234" || !info.Secret {
				t.Errorf("llm.api_key shown as %q", info.Value)
			}
		case "search.api_key":
			if info.Value != "(not set)" {
				t.Errorf("unset secret shown as %q", info.Value)
			}
		case "server.port":
			sawPort = true
			if info.Value != "4100" || info.EnvVar != "DEALSCOPE_SERVER_PORT" {
				t.Errorf("server.port info = %+v", info)
			}
		}
	}
	if !sawKey || !sawPort {
		t.Error("ShowAll is missing keys")
	}
	if len(ValidKeys()) != len(specs) {
		t.Errorf("ValidKeys = %d keys, want %d", len(ValidKeys()), len(specs))
	}
}

func TestFileSecretsAndAPIToken(t *testing.T) {
	t.Setenv("DEALSCOPE_SERVER_API_TOKEN", "")
	store := &fileSecrets{path: filepath.Join(t.TempDir(), "secrets.json")}

	if _, err := store.Get("llm_api_key"); err == nil {
		t.Error("Get on missing file should fail")
	}

	tok, err := GetAPIToken(store)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if len(tok) != 64 {
		t.Errorf("token length = %d, want 64", len(tok))
	}
	again, err := GetAPIToken(store)
	if err != nil || again != tok {
		t.Errorf("second GetAPIToken = %q, %v; want stored token", again, err)
	}

	info, err := os.Stat(store.path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets file mode = %v, want 0600", info.Mode().Perm())
	}

	t.Setenv("DEALSCOPE_SERVER_API_TOKEN", "from-env")
	if tok, _ := GetAPIToken(store); tok != "from-env" {
		t.Errorf("GetAPIToken with env = %q", tok)
	}
}

func TestNestFlattenInverse(t *testing.T) {
	flat := map[string]any{"a.b": int64(1), "a.c": "x", "d": true}
	got := flatten(nest(flat), "")
	if len(got) != 3 || got["a.b"] != int64(1) || got["a.c"] != "x" || got["d"] != true {
		t.Errorf("flatten(nest) = %v", got)
	}
}
