package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/getmockd/imposter/pkg/config"
	"github.com/getmockd/imposter/pkg/route"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func configDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "hbase/users-config.yaml", `
plugin: hbase
basePath: /hbase
tableName: users
responseFile: users.json
`)
	writeFile(t, dir, "hbase/users.json", `[{"name":"a"}]`)
	writeFile(t, dir, "rest/pets-config.json", `{"plugin":"rest","basePath":"/api","resourceId":"pets"}`)
	return dir
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"IMPOSTER_CONFIG_DIR", "IMPOSTER_PORT", "IMPOSTER_SERVER_URL", "IMPOSTER_REDIS_ADDR", "IMPOSTER_CURSOR_IDLE_TIMEOUT"} {
		t.Setenv(key, "")
	}
}

func setJSONOutput(t *testing.T, v bool) {
	t.Helper()
	prev := jsonOutput
	jsonOutput = v
	t.Cleanup(func() { jsonOutput = prev })
}

func defaultServeFlags(dirs ...string) *serveFlags {
	d := config.DefaultServerConfig()
	return &serveFlags{
		host:                "127.0.0.1",
		port:                0,
		configDirs:          dirs,
		cursorStore:         d.CursorStore,
		cursorIdleTimeout:   d.CursorIdleTimeout,
		cursorSweepInterval: d.CursorSweepInterval,
		scriptTimeout:       d.ScriptTimeout,
		scriptWorkers:       d.ScriptWorkers,
		readTimeout:         d.ReadTimeout,
		writeTimeout:        d.WriteTimeout,
	}
}

func TestWithDefaultCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{name: "no args", args: nil, want: []string{"serve"}},
		{name: "flags only", args: []string{"-c", "cfg"}, want: []string{"serve", "-c", "cfg"}},
		{name: "explicit command", args: []string{"validate", "-c", "cfg"}, want: []string{"validate", "-c", "cfg"}},
		{name: "help", args: []string{"--help"}, want: []string{"--help"}},
		{name: "version", args: []string{"version"}, want: []string{"version"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, withDefaultCommand(tt.args))
		})
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetOut(nil); rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "imposter ")
	assert.Contains(t, out.String(), runtime.Version())
}

func TestBuildVersion(t *testing.T) {
	v := buildVersion()
	assert.NotEmpty(t, v.Version)
	assert.Equal(t, runtime.GOOS, v.OS)
	assert.Equal(t, runtime.GOARCH, v.Arch)
}

func TestRunValidate(t *testing.T) {
	clearEnv(t)
	dir := configDir(t)

	t.Run("table", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runValidate(&out, []string{dir}))
		text := out.String()
		assert.Contains(t, text, "PLUGIN")
		assert.Contains(t, text, "users")
		assert.Contains(t, text, "Warning: ")
		assert.Contains(t, text, "2 route(s) OK")
	})

	t.Run("json", func(t *testing.T) {
		setJSONOutput(t, true)
		var out bytes.Buffer
		require.NoError(t, runValidate(&out, []string{dir}))

		var summaries []RouteSummary
		require.NoError(t, json.Unmarshal(out.Bytes(), &summaries))
		require.Len(t, summaries, 2)
		assert.Equal(t, "rest", summaries[0].Plugin)
		assert.Equal(t, "/api", summaries[0].BasePath)
		assert.Equal(t, "hbase", summaries[1].Plugin)
		assert.Equal(t, filepath.Join(dir, "hbase", "users.json"), summaries[1].ResponseFile)
	})

	t.Run("bundled example", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runValidate(&out, []string{filepath.Join("..", "..", "examples", "with-config-file", "config")}))
		assert.Contains(t, out.String(), "exampleTable")
		assert.Contains(t, out.String(), "2 route(s) OK")
	})

	t.Run("environment directory", func(t *testing.T) {
		t.Setenv("IMPOSTER_CONFIG_DIR", dir)
		require.NoError(t, runValidate(io.Discard, nil))
	})
}

func TestRunValidate_Errors(t *testing.T) {
	clearEnv(t)

	t.Run("no directory", func(t *testing.T) {
		assert.ErrorIs(t, runValidate(io.Discard, nil), errNoConfigDir)
	})

	t.Run("missing directory", func(t *testing.T) {
		err := runValidate(io.Discard, []string{filepath.Join(t.TempDir(), "absent")})
		assert.ErrorIs(t, err, config.ErrFileNotFound)
	})

	t.Run("no routes", func(t *testing.T) {
		assert.ErrorIs(t, runValidate(io.Discard, []string{t.TempDir()}), config.ErrNoRoutes)
	})

	t.Run("unknown plugin", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "soap-config.yaml", "plugin: soap\nresourceId: orders\n")
		assert.ErrorIs(t, runValidate(io.Discard, []string{dir}), route.ErrUnknownPlugin)
	})
}

func TestServeFlags_ServerConfig(t *testing.T) {
	clearEnv(t)
	envDir := t.TempDir()
	t.Setenv("IMPOSTER_CONFIG_DIR", envDir)
	t.Setenv("IMPOSTER_PORT", "7000")
	t.Setenv("IMPOSTER_REDIS_ADDR", "redis:6379")

	t.Run("environment fills unset flags", func(t *testing.T) {
		f := defaultServeFlags()
		f.port = config.DefaultPort
		cfg := f.serverConfig()
		assert.Equal(t, []string{envDir}, cfg.ConfigDirs)
		assert.Equal(t, 7000, cfg.Port)
		assert.Equal(t, "redis:6379", cfg.RedisAddr)
	})

	t.Run("flags win", func(t *testing.T) {
		f := defaultServeFlags("flagdir")
		f.port = 9000
		f.redisAddr = "localhost:6379"
		cfg := f.serverConfig()
		assert.Equal(t, []string{"flagdir"}, cfg.ConfigDirs)
		assert.Equal(t, 9000, cfg.Port)
		assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	})
}

func TestRunServe(t *testing.T) {
	clearEnv(t)

	t.Run("stops when the context ends", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var logs bytes.Buffer
		require.NoError(t, runServe(ctx, defaultServeFlags(configDir(t)), &logs))
		assert.Contains(t, logs.String(), "mock server ready")
		assert.Contains(t, logs.String(), "server stopped")
	})

	t.Run("requires a config directory", func(t *testing.T) {
		assert.ErrorIs(t, runServe(context.Background(), defaultServeFlags(), io.Discard), errNoConfigDir)
	})

	t.Run("invalid settings", func(t *testing.T) {
		f := defaultServeFlags(configDir(t))
		f.cursorStore = "etcd"
		var verr *config.ValidationError
		assert.ErrorAs(t, runServe(context.Background(), f, io.Discard), &verr)
	})
}
