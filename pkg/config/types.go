package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

// Default server settings.
const (
	DefaultHost                = "0.0.0.0"
	DefaultPort                = 8080
	DefaultCursorIdleTimeout   = 5 * time.Minute
	DefaultCursorSweepInterval = 30 * time.Second
	DefaultScriptTimeout       = 10 * time.Second
	DefaultContentType         = "application/json"
)

// Cursor store backends.
const (
	CursorStoreMemory = "memory"
	CursorStoreRedis  = "redis"
)

// ServerConfig holds the process-wide settings of the mock server.
type ServerConfig struct {
	// Host is the bind address.
	Host string
	// Port is the HTTP listen port (0 = OS auto-assign).
	Port int
	// ServerURL is the externally visible base URL used in Location headers.
	// Defaults to http://{Host}:{Port}.
	ServerURL string
	// ConfigDirs are the directories scanned for route configuration files.
	ConfigDirs []string

	// CursorStore selects the cursor backend: "memory" (default) or "redis".
	CursorStore string
	// RedisAddr is the address of the redis server for the redis backend.
	RedisAddr string
	// CursorIdleTimeout is how long a cursor may go unaccessed before it is evicted.
	CursorIdleTimeout time.Duration
	// CursorSweepInterval is how often idle cursors are reclaimed from memory.
	CursorSweepInterval time.Duration

	// ScriptTimeout bounds a single script evaluation.
	ScriptTimeout time.Duration
	// ScriptWorkers bounds the number of concurrently running scripts.
	ScriptWorkers int

	// ReadTimeout and WriteTimeout are the HTTP server timeouts.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns the default server settings.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:                DefaultHost,
		Port:                DefaultPort,
		CursorStore:         CursorStoreMemory,
		CursorIdleTimeout:   DefaultCursorIdleTimeout,
		CursorSweepInterval: DefaultCursorSweepInterval,
		ScriptTimeout:       DefaultScriptTimeout,
		ScriptWorkers:       runtime.GOMAXPROCS(0),
		ReadTimeout:         30 * time.Second,
		WriteTimeout:        30 * time.Second,
	}
}

// BaseURL returns ServerURL, or the URL derived from Host and port when unset.
func (c *ServerConfig) BaseURL(port int) string {
	if c.ServerURL != "" {
		return c.ServerURL
	}
	host := c.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

// Validate checks the settings for values the server cannot run with.
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return &ValidationError{Field: "port", Message: fmt.Sprintf("must be between 0 and 65535, got %d", c.Port)}
	}
	if c.CursorIdleTimeout <= 0 {
		return &ValidationError{Field: "cursorIdleTimeout", Message: "must be positive"}
	}
	switch c.CursorStore {
	case CursorStoreMemory:
	case CursorStoreRedis:
		if c.RedisAddr == "" {
			return &ValidationError{Field: "redisAddr", Message: "required for the redis cursor store"}
		}
	default:
		return &ValidationError{Field: "cursorStore", Message: fmt.Sprintf("unknown backend %q", c.CursorStore)}
	}
	if c.ScriptWorkers <= 0 {
		return &ValidationError{Field: "scriptWorkers", Message: "must be positive"}
	}
	return nil
}

// ApplyEnv overrides unset settings from IMPOSTER_* environment variables.
// Only fields still holding their zero or default value are replaced, so
// explicit flags win over the environment.
func (c *ServerConfig) ApplyEnv() {
	if v := os.Getenv("IMPOSTER_SERVER_URL"); v != "" && c.ServerURL == "" {
		c.ServerURL = v
	}
	if v := os.Getenv("IMPOSTER_CONFIG_DIR"); v != "" && len(c.ConfigDirs) == 0 {
		c.ConfigDirs = []string{v}
	}
	if v := os.Getenv("IMPOSTER_PORT"); v != "" && c.Port == DefaultPort {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("IMPOSTER_REDIS_ADDR"); v != "" && c.RedisAddr == "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("IMPOSTER_CURSOR_IDLE_TIMEOUT"); v != "" && c.CursorIdleTimeout == DefaultCursorIdleTimeout {
		if d, err := time.ParseDuration(v); err == nil {
			c.CursorIdleTimeout = d
		}
	}
}

// RouteConfig declares one mocked resource. It is immutable once loaded.
type RouteConfig struct {
	// Plugin is the identifier of the plugin serving this resource.
	Plugin string `json:"plugin" yaml:"plugin"`
	// BasePath prefixes every route of the resource ("" for the root).
	BasePath string `json:"basePath,omitempty" yaml:"basePath,omitempty"`
	// ResourceID names the resource within its base path.
	ResourceID string `json:"resourceId,omitempty" yaml:"resourceId,omitempty"`
	// ResponseFile is the static response or dataset file.
	ResponseFile string `json:"responseFile,omitempty" yaml:"responseFile,omitempty"`
	// ScriptFile is the optional behaviour script.
	ScriptFile string `json:"scriptFile,omitempty" yaml:"scriptFile,omitempty"`
	// FilterPrefix is the row-key prefix scan requests must filter on, if any.
	FilterPrefix *string `json:"filterPrefix,omitempty" yaml:"filterPrefix,omitempty"`
	// ContentType is the content type of static responses.
	ContentType string `json:"contentType,omitempty" yaml:"contentType,omitempty"`

	// TableName is the HBase spelling of ResourceID.
	TableName string `json:"tableName,omitempty" yaml:"tableName,omitempty"`
	// Prefix is the HBase spelling of FilterPrefix.
	Prefix *string `json:"prefix,omitempty" yaml:"prefix,omitempty"`

	// Dir is the directory of the file the route was loaded from.
	Dir string `json:"-" yaml:"-"`
	// Source is the path of the file the route was loaded from.
	Source string `json:"-" yaml:"-"`
}

// Key identifies a route by base path and resource id.
type Key struct {
	BasePath   string
	ResourceID string
}

// Key returns the lookup key of the route.
func (r *RouteConfig) Key() Key {
	return Key{BasePath: r.BasePath, ResourceID: r.ResourceID}
}

// HasScript reports whether the route declares a behaviour script.
func (r *RouteConfig) HasScript() bool {
	return r.ScriptFile != ""
}

// ValidationError describes an invalid configuration value.
type ValidationError struct {
	Source  string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	prefix := ""
	if e.Source != "" {
		prefix = e.Source + ": "
	}
	if e.Field != "" {
		return fmt.Sprintf("%sinvalid %s: %s", prefix, e.Field, e.Message)
	}
	return prefix + e.Message
}
