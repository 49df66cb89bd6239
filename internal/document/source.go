package document

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// SourceType is the closed set of connector variants.
type SourceType string

// Supported source types.
const (
	SourceWeb    SourceType = "web"
	SourceFolder SourceType = "folder"
	SourceSQL    SourceType = "sql"
	SourceRelay  SourceType = "event-relay"
)

// SourceDefinition describes one configured source. It is owned by the
// administrative layer; the engine only reads it.
type SourceDefinition struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Type      SourceType `json:"type"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	Web    *WebConfig    `json:"web,omitempty"`
	Folder *FolderConfig `json:"folder,omitempty"`
	SQL    *SQLConfig    `json:"sql,omitempty"`
	Relay  *RelayConfig  `json:"relay,omitempty"`
}

// WebConfig configures the crawl connector.
type WebConfig struct {
	SeedURL         string   `json:"seed_url" mapstructure:"seed_url"`
	MaxDepth        int      `json:"max_depth" mapstructure:"max_depth"`
	MaxPages        int      `json:"max_pages" mapstructure:"max_pages"`
	RateLimitMillis int      `json:"rate_limit_ms" mapstructure:"rate_limit_ms"`
	SameDomainOnly  bool     `json:"same_domain_only" mapstructure:"same_domain_only"`
	IncludePatterns []string `json:"include_patterns,omitempty" mapstructure:"include_patterns"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty" mapstructure:"exclude_patterns"`
}

// FolderConfig configures the filesystem connector.
type FolderConfig struct {
	FolderPath      string   `json:"folder_path" mapstructure:"folder_path"`
	FileTypes       []string `json:"file_types" mapstructure:"file_types"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty" mapstructure:"exclude_patterns"`
	Recursive       bool     `json:"recursive" mapstructure:"recursive"`
	WatchForChanges bool     `json:"watch_for_changes" mapstructure:"watch_for_changes"`
}

// SQLConfig configures the relational pull connector. FieldMap maps document
// fields (id, title, content, url, updated_at) to result columns.
type SQLConfig struct {
	ConnectionString string            `json:"connection_string" mapstructure:"connection_string"`
	MetadataQuery    string            `json:"metadata_query" mapstructure:"metadata_query"`
	DataQuery        string            `json:"data_query" mapstructure:"data_query"`
	FieldMap         map[string]string `json:"field_map,omitempty" mapstructure:"field_map"`
	Incremental      bool              `json:"incremental" mapstructure:"incremental"`
}

// RelayConfig configures the event-relay pull connector.
type RelayConfig struct {
	Relays  []string            `json:"relays" mapstructure:"relays"`
	Kinds   []int               `json:"kinds,omitempty" mapstructure:"kinds"`
	Authors []string            `json:"authors,omitempty" mapstructure:"authors"`
	Tags    map[string][]string `json:"tags,omitempty" mapstructure:"tags"`
	Since   *time.Time          `json:"since,omitempty" mapstructure:"since"`
	Until   *time.Time          `json:"until,omitempty" mapstructure:"until"`
	Limit   int                 `json:"limit,omitempty" mapstructure:"limit"`
	Live    bool                `json:"live" mapstructure:"live"`
}

// AllowedFileTypes lists the extensions the folder connector may be configured
// with.
var AllowedFileTypes = map[string]struct{}{
	".txt":  {},
	".md":   {},
	".pdf":  {},
	".docx": {},
	".html": {},
	".htm":  {},
}

// Validate checks the definition's typed configuration before a run may start.
func (s SourceDefinition) Validate() error {
	switch s.Type {
	case SourceWeb:
		if s.Web == nil {
			return fmt.Errorf("source %s: web configuration missing", s.ID)
		}
		return s.Web.Validate()
	case SourceFolder:
		if s.Folder == nil {
			return fmt.Errorf("source %s: folder configuration missing", s.ID)
		}
		return s.Folder.Validate()
	case SourceSQL:
		if s.SQL == nil {
			return fmt.Errorf("source %s: sql configuration missing", s.ID)
		}
		return s.SQL.Validate()
	case SourceRelay:
		if s.Relay == nil {
			return fmt.Errorf("source %s: relay configuration missing", s.ID)
		}
		return s.Relay.Validate()
	default:
		return fmt.Errorf("source %s: unrecognized type %q", s.ID, s.Type)
	}
}

// Validate enforces the web configuration constraints.
func (c WebConfig) Validate() error {
	parsed, err := url.Parse(c.SeedURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("seed_url %q is not a valid absolute URL", c.SeedURL)
	}
	if c.MaxDepth < 0 || c.MaxDepth > 10 {
		return fmt.Errorf("max_depth must be in [0,10], got %d", c.MaxDepth)
	}
	if c.MaxPages < 1 || c.MaxPages > 10000 {
		return fmt.Errorf("max_pages must be in [1,10000], got %d", c.MaxPages)
	}
	if c.RateLimitMillis < 100 || c.RateLimitMillis > 60000 {
		return fmt.Errorf("rate_limit_ms must be in [100,60000], got %d", c.RateLimitMillis)
	}
	return nil
}

// Validate enforces the folder configuration constraints.
func (c FolderConfig) Validate() error {
	if strings.TrimSpace(c.FolderPath) == "" {
		return fmt.Errorf("folder_path is required")
	}
	if len(c.FileTypes) == 0 {
		return fmt.Errorf("file_types must not be empty")
	}
	for _, ft := range c.FileTypes {
		if _, ok := AllowedFileTypes[strings.ToLower(ft)]; !ok {
			return fmt.Errorf("file type %q is not supported", ft)
		}
	}
	return nil
}

// Validate enforces the sql configuration constraints.
func (c SQLConfig) Validate() error {
	if strings.TrimSpace(c.ConnectionString) == "" {
		return fmt.Errorf("connection_string is required")
	}
	if strings.TrimSpace(c.MetadataQuery) == "" {
		return fmt.Errorf("metadata_query is required")
	}
	if strings.TrimSpace(c.DataQuery) == "" {
		return fmt.Errorf("data_query is required")
	}
	return nil
}

// Validate enforces the relay configuration constraints.
func (c RelayConfig) Validate() error {
	if len(c.Relays) == 0 {
		return fmt.Errorf("relay list must not be empty")
	}
	for _, r := range c.Relays {
		parsed, err := url.Parse(r)
		if err != nil || (parsed.Scheme != "ws" && parsed.Scheme != "wss") {
			return fmt.Errorf("relay %q is not a valid ws:// or wss:// URL", r)
		}
	}
	if c.Limit < 0 {
		return fmt.Errorf("limit must be >= 0, got %d", c.Limit)
	}
	if c.Since != nil && c.Until != nil && c.Until.Before(*c.Since) {
		return fmt.Errorf("until must not precede since")
	}
	return nil
}
