package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	t.Run("parses named path parts", func(t *testing.T) {
		cfg := &Config{
			Path: "main=/var/repos/main:/var/repos/extra",
		}

		parts := cfg.NamedPath()
		require.Len(t, parts, 2)

		assert.Equal(t, "main", parts[0].Name)
		assert.Equal(t, "/var/repos/main", parts[0].Path)

		assert.Equal(t, "", parts[1].Name)
		assert.Equal(t, "/var/repos/extra", parts[1].Path)

		assert.Equal(t, []string{"/var/repos/main", "/var/repos/extra"}, cfg.LoadPath())
	})

	t.Run("loads config from the env named file", func(t *testing.T) {
		dir := t.TempDir()

		data := dir + "/data"
		require.NoError(t, os.MkdirAll(data, 0755))

		path := filepath.Join(dir, "config.json")
		err := os.WriteFile(path, []byte(`{"data-dir": "`+data+`", "profile": "dev"}`), 0644)
		require.NoError(t, err)

		t.Setenv("STELA_CONFIG", path)
		t.Setenv("STELA_PROFILES", filepath.Join(dir, "profiles"))
		t.Setenv("STELA_DATA_DIR", "")
		t.Setenv("STELA_PATH", "")
		t.Setenv("STELA_PROFILE", "")

		cfg, err := LoadConfig()
		require.NoError(t, err)

		assert.Equal(t, data, cfg.DataDir)
		assert.Equal(t, "dev", cfg.Profile)
		assert.Equal(t, filepath.Join(data, "store"), cfg.StorePath())
		assert.Equal(t, filepath.Join(data, "sources"), cfg.SourcesPath())

		// dirs were ensured
		fi, err := os.Stat(cfg.RootsPath())
		require.NoError(t, err)
		assert.True(t, fi.IsDir())

		fi, err = os.Stat(filepath.Join(dir, "profiles", "dev"))
		require.NoError(t, err)
		assert.True(t, fi.IsDir())
	})

	t.Run("env vars override file settings", func(t *testing.T) {
		dir := t.TempDir()

		data := dir + "/data"
		require.NoError(t, os.MkdirAll(data, 0755))

		other := dir + "/other"
		require.NoError(t, os.MkdirAll(other, 0755))

		path := filepath.Join(dir, "config.json")
		err := os.WriteFile(path, []byte(`{"data-dir": "`+data+`"}`), 0644)
		require.NoError(t, err)

		t.Setenv("STELA_CONFIG", path)
		t.Setenv("STELA_PROFILES", filepath.Join(dir, "profiles"))
		t.Setenv("STELA_DATA_DIR", other)
		t.Setenv("STELA_PATH", "main="+dir)
		t.Setenv("STELA_PROFILE", "")

		cfg, err := LoadConfig()
		require.NoError(t, err)

		assert.Equal(t, other, cfg.DataDir)
		assert.Equal(t, "main="+dir, cfg.Path)
	})

	t.Run("creates and reloads the signer key", func(t *testing.T) {
		dir := t.TempDir()

		cfg := &Config{configDir: dir}

		id, err := cfg.SignerId()
		require.NoError(t, err)
		require.NotEmpty(t, id)

		pub := cfg.Public()
		require.NotNil(t, pub)

		// a fresh config over the same dir sees the same key
		again := &Config{configDir: dir}

		id2, err := again.SignerId()
		require.NoError(t, err)

		assert.Equal(t, id, id2)
		assert.Equal(t, pub, again.Public())
	})
}

func TestEnvOptions(t *testing.T) {
	t.Run("parses build knobs from the environment", func(t *testing.T) {
		t.Setenv("STELA_JOBS", "3")
		t.Setenv("STELA_KEEP_FAILED", "true")
		t.Setenv("STELA_LOG_LEVEL", "debug")

		opts, err := LoadEnvOptions()
		require.NoError(t, err)

		assert.Equal(t, 3, opts.Jobs)
		assert.True(t, opts.KeepFailed)
		assert.Equal(t, "debug", opts.LogLevel)
		assert.Equal(t, 3, opts.JobCount())
	})

	t.Run("falls back to the cpu count for jobs", func(t *testing.T) {
		t.Setenv("STELA_JOBS", "0")
		t.Setenv("STELA_KEEP_FAILED", "false")
		t.Setenv("STELA_LOG_LEVEL", "info")

		opts, err := LoadEnvOptions()
		require.NoError(t, err)

		assert.GreaterOrEqual(t, opts.JobCount(), 1)
	})
}
