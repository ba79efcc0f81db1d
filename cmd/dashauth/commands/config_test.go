package commands

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/florianilch/dashauth/internal/app"
	"github.com/florianilch/dashauth/internal/tokens"
)

const testConfig = `
log_format = "json"

[backend]
base_url = "https://file.example"
timeout = "10s"

[storage]
type = "memory"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func isolateUserConfig(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
}

func TestLoadConfigFileAndEnvironment(t *testing.T) {
	isolateUserConfig(t)
	path := writeConfig(t, testConfig)
	environ := func() []string {
		return []string{
			"DASHAUTH_BACKEND__BASE_URL=https://env.example",
			"DASHAUTH_LOG_LEVEL=debug",
			"DASHAUTH_STORAGE__REDIS__DB=2",
			"UNRELATED=1",
		}
	}

	cfg, err := loadConfig(path, nil, environ)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example", cfg.Backend.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, app.LogFormatJSON, cfg.LogFormat)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, app.TokenStorageTypeMemory, cfg.Storage.Type)
	assert.Equal(t, 2, cfg.Storage.Redis.DB)
	// Defaults fill the rest.
	assert.Equal(t, app.DefaultConfigServerHost, cfg.Server.Host)
	assert.Equal(t, uint16(app.DefaultConfigServerPort), cfg.Server.Port)
}

func TestLoadConfigFlagsOverrideEnvironment(t *testing.T) {
	isolateUserConfig(t)
	path := writeConfig(t, testConfig)
	environ := func() []string { return []string{"DASHAUTH_BACKEND__BASE_URL=https://env.example"} }

	var cfg *app.Config
	cmd := &cli.Command{
		Name: "test",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "backend--base-url"},
			&cli.StringFlag{Name: "log-format", Value: "text"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var err error
			cfg, err = loadConfig(path, cmd, environ)
			return err
		},
	}

	require.NoError(t, cmd.Run(context.Background(), []string{"test", "--backend--base-url", "https://flag.example"}))

	assert.Equal(t, "https://flag.example", cfg.Backend.BaseURL)
	// Unset flags keep values from earlier sources.
	assert.Equal(t, app.LogFormatJSON, cfg.LogFormat)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	isolateUserConfig(t)
	path := writeConfig(t, testConfig+"\n[server]\nhost = \"not a host!\"\n")

	_, err := loadConfig(path, nil, func() []string { return nil })
	assert.ErrorContains(t, err, "invalid config")
}

func TestLoadConfigDiscoversUserConfigFile(t *testing.T) {
	isolateUserConfig(t)
	configDir, err := os.UserConfigDir()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(configDir, "dashauth"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "dashauth", defaultConfigFile), []byte(testConfig), 0o600))

	cfg, err := loadConfig("", nil, func() []string { return nil })
	require.NoError(t, err)
	assert.Equal(t, "https://file.example", cfg.Backend.BaseURL)
}

func TestReadPasswordLine(t *testing.T) {
	password, err := readPasswordLine(strings.NewReader("P@ssw0rd!\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "P@ssw0rd!", password)

	password, err = readPasswordLine(strings.NewReader("no-newline"))
	require.NoError(t, err)
	assert.Equal(t, "no-newline", password)

	_, err = readPasswordLine(strings.NewReader("\n"))
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	now := time.Now()
	authenticated, err := tokens.New(tokens.Params{
		AccessToken: "abc",
		State:       tokens.StateAuthenticated,
		ExpiresAt:   now.Add(time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, "session state unknown", describe(tokens.Initial(now)))
	assert.Equal(t, "not logged in", describe(tokens.Unauthenticated(now)))
	assert.True(t, strings.HasPrefix(describe(authenticated), "logged in"))
}
