package document

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validWeb() *WebConfig {
	return &WebConfig{
		SeedURL:         "https://example.com",
		MaxDepth:        2,
		MaxPages:        100,
		RateLimitMillis: 500,
	}
}

func TestSourceDefinitionValidate(t *testing.T) {
	t.Parallel()

	src := SourceDefinition{ID: "s1", Type: SourceWeb, Web: validWeb()}
	require.NoError(t, src.Validate())

	src.Type = "rss"
	err := src.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognized type")

	src = SourceDefinition{ID: "s2", Type: SourceFolder}
	require.Error(t, src.Validate())
}

func TestWebConfigBounds(t *testing.T) {
	t.Parallel()

	cfg := validWeb()
	require.NoError(t, cfg.Validate())

	cfg = validWeb()
	cfg.SeedURL = "not a url"
	assert.Error(t, cfg.Validate())

	cfg = validWeb()
	cfg.SeedURL = "/relative/only"
	assert.Error(t, cfg.Validate())

	cfg = validWeb()
	cfg.MaxDepth = 11
	assert.Error(t, cfg.Validate())

	cfg = validWeb()
	cfg.MaxPages = 0
	assert.Error(t, cfg.Validate())

	cfg = validWeb()
	cfg.MaxPages = 10001
	assert.Error(t, cfg.Validate())

	cfg = validWeb()
	cfg.RateLimitMillis = 99
	assert.Error(t, cfg.Validate())

	cfg = validWeb()
	cfg.RateLimitMillis = 60001
	assert.Error(t, cfg.Validate())
}

func TestFolderConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := FolderConfig{FolderPath: "/data/docs", FileTypes: []string{".txt", ".MD"}}
	require.NoError(t, cfg.Validate())

	cfg.FileTypes = nil
	assert.Error(t, cfg.Validate())

	cfg.FileTypes = []string{".exe"}
	assert.Error(t, cfg.Validate())

	cfg = FolderConfig{FolderPath: "  ", FileTypes: []string{".txt"}}
	assert.Error(t, cfg.Validate())
}

func TestSQLConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := SQLConfig{
		ConnectionString: "postgres://localhost/db",
		MetadataQuery:    "SELECT count(*) FROM articles",
		DataQuery:        "SELECT id, title, body FROM articles",
	}
	require.NoError(t, cfg.Validate())

	cfg.DataQuery = ""
	assert.Error(t, cfg.Validate())
}

func TestRelayConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := RelayConfig{Relays: []string{"wss://relay.example.com"}}
	require.NoError(t, cfg.Validate())

	cfg.Relays = []string{"https://relay.example.com"}
	assert.Error(t, cfg.Validate())

	cfg = RelayConfig{Relays: nil}
	assert.Error(t, cfg.Validate())

	since := time.Now()
	until := since.Add(-time.Hour)
	cfg = RelayConfig{Relays: []string{"ws://r"}, Since: &since, Until: &until}
	assert.Error(t, cfg.Validate())
}
