package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
server:
  addr: ":9000"
  mode: "test"

logger:
  level: "debug"
  directory: ""
  console: false

database:
  type: "sqlite"
  password: ""
  pool:
    maxIdle: 3
  sqlite:
    file: "from-config.db"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_Section(t *testing.T) {
	path := writeConfig(t, "config.yaml", testConfigYAML)

	config := NewDBConfig()
	require.NoError(t, LoadConfig(path, "database", config))

	assert.Equal(t, SQLite, config.Type)
	assert.Equal(t, 3, config.Pool.MaxIdle)
	assert.Equal(t, "from-config.db", config.SQLite.File)
	// 配置文件中没有的字段保持默认值
	assert.Equal(t, defaultDBConfig.Pool.MaxOpen, config.Pool.MaxOpen)
	assert.True(t, config.UTC)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	path := writeConfig(t, "config.yaml", testConfigYAML)
	t.Setenv("MINIBASE_DATABASE_PASSWORD", "secret")
	t.Setenv("MINIBASE_DATABASE_SQLITE_FILE", "from-env.db")
	// 段名只出现一次
	t.Setenv("MINIBASE_DATABASE_DATABASE_TYPE", "postgresql")

	config := NewDBConfig()
	require.NoError(t, LoadConfig(path, "database", config))
	assert.Equal(t, "secret", config.Password)
	assert.Equal(t, "from-env.db", config.SQLite.File)
	assert.Equal(t, SQLite, config.Type)
}

func TestLoadConfig_EnvOverrideWholeFile(t *testing.T) {
	path := writeConfig(t, "config.yaml", testConfigYAML)
	t.Setenv("MINIBASE_SERVER_ADDR", ":7000")

	var config struct {
		Server ServerConfig `mapstructure:"server"`
	}
	require.NoError(t, LoadConfig(path, "", &config))
	assert.Equal(t, ":7000", config.Server.Addr)
	assert.Equal(t, "test", config.Server.Mode)
}

func TestLoadConfig_Errors(t *testing.T) {
	path := writeConfig(t, "config.yaml", testConfigYAML)

	err := LoadConfig(path, "missing", &ServerConfig{})
	assert.ErrorIs(t, err, ErrSectionNotFound)

	err = LoadConfig(writeConfig(t, "config.ini", "a=b"), "", &ServerConfig{})
	assert.Error(t, err)

	err = LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), "", &ServerConfig{})
	assert.Error(t, err)
}

func TestLoadServerConfig(t *testing.T) {
	config, err := LoadServerConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, defaultServerConfig, *config)

	config, err = LoadServerConfig(writeConfig(t, "config.yaml", testConfigYAML))
	require.NoError(t, err)
	assert.Equal(t, ":9000", config.Addr)
	assert.Equal(t, "test", config.Mode)
}

func TestLoadSwaggerConfig_MissingSectionUsesDefaults(t *testing.T) {
	config, err := LoadSwaggerConfig(writeConfig(t, "config.yaml", testConfigYAML))
	require.NoError(t, err)
	assert.Equal(t, defaultSwaggerConfig, *config)
}

func TestFileExists(t *testing.T) {
	assert.False(t, FileExists(""))
	assert.False(t, FileExists(t.TempDir()))
	assert.True(t, FileExists(writeConfig(t, "config.yaml", testConfigYAML)))
}
