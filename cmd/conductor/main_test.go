package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/conductor/ai"
	"github.com/poiesic/conductor/ai/mock"
)

func findCommand(t *testing.T, app *cli.App, name string) *cli.Command {
	t.Helper()
	for _, cmd := range app.Commands {
		if cmd.Name == name {
			return cmd
		}
	}
	t.Fatalf("command %q not found", name)
	return nil
}

func TestReembedCommandFlags(t *testing.T) {
	app := newApp()
	cmd := findCommand(t, app, "reembed")

	t.Run("embedding-model is required", func(t *testing.T) {
		err := app.Run([]string{"conductor", "reembed"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "embedding-model")
	})

	t.Run("embedding-model has no default value", func(t *testing.T) {
		var modelFlag *cli.StringFlag
		for _, flag := range cmd.Flags {
			if f, ok := flag.(*cli.StringFlag); ok && f.Name == "embedding-model" {
				modelFlag = f
				break
			}
		}
		require.NotNil(t, modelFlag)
		assert.Empty(t, modelFlag.Value)
		assert.True(t, modelFlag.Required)
	})

	t.Run("int flag defaults", func(t *testing.T) {
		testCases := []struct {
			name     string
			expected int
		}{
			{"batch-size", 32},
			{"report-interval", 100},
			{"max-retries", 3},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				var found *cli.IntFlag
				for _, flag := range cmd.Flags {
					if f, ok := flag.(*cli.IntFlag); ok && f.Name == tc.name {
						found = f
						break
					}
				}
				require.NotNil(t, found)
				assert.Equal(t, tc.expected, found.Value)
			})
		}
	})
}

func TestParseFilters(t *testing.T) {
	testCases := []struct {
		name     string
		input    []string
		expected map[string]string
		wantErr  bool
	}{
		{name: "none", input: nil, expected: nil},
		{name: "single", input: []string{"team=ops"}, expected: map[string]string{"team": "ops"}},
		{name: "trims", input: []string{" team = ops ", "lang=go"}, expected: map[string]string{"team": "ops", "lang": "go"}},
		{name: "empty value", input: []string{"team="}, expected: map[string]string{"team": ""}},
		{name: "missing equals", input: []string{"team"}, wantErr: true},
		{name: "missing key", input: []string{"=ops"}, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseFilters(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "key=value")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestSetupLogger(t *testing.T) {
	newTestApp := func(action cli.ActionFunc) *cli.App {
		return &cli.App{
			Name: "test",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "log-level",
					Aliases: []string{"l"},
					Value:   "info",
				},
			},
			Before: setupLogger,
			Action: action,
		}
	}
	noop := func(c *cli.Context) error { return nil }

	t.Run("valid log levels", func(t *testing.T) {
		testCases := []struct {
			input    string
			expected slog.Level
		}{
			{"debug", slog.LevelDebug},
			{"info", slog.LevelInfo},
			{"warn", slog.LevelWarn},
			{"error", slog.LevelError},
			{"WaRn", slog.LevelWarn},
		}

		for _, tc := range testCases {
			t.Run(tc.input, func(t *testing.T) {
				level, err := parseLevel(tc.input)
				require.NoError(t, err)
				assert.Equal(t, tc.expected, level)

				err = newTestApp(noop).Run([]string{"test", "--log-level", tc.input})
				require.NoError(t, err)
				assert.True(t, slog.Default().Enabled(t.Context(), tc.expected))
			})
		}
	})

	t.Run("invalid log level returns error", func(t *testing.T) {
		err := newTestApp(noop).Run([]string{"test", "--log-level", "loud"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
		assert.Contains(t, err.Error(), "loud")
	})

	t.Run("default log level is info", func(t *testing.T) {
		err := newTestApp(func(c *cli.Context) error {
			assert.Equal(t, "info", c.String("log-level"))
			return nil
		}).Run([]string{"test"})
		require.NoError(t, err)
	})

	t.Run("log-level flag has alias -l", func(t *testing.T) {
		err := newTestApp(func(c *cli.Context) error {
			assert.Equal(t, "debug", c.String("log-level"))
			return nil
		}).Run([]string{"test", "-l", "debug"})
		require.NoError(t, err)
	})
}

// useMockProvider swaps the AI provider for the in-process mock.
func useMockProvider(t *testing.T) {
	t.Helper()
	orig := newProvider
	newProvider = func(*ai.Config) (ai.AIProvider, error) {
		return mock.NewMockProvider(), nil
	}
	t.Cleanup(func() { newProvider = orig })
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := `log_level: warn
storage:
  backend: badger
  path: ` + filepath.Join(dir, "data") + `
ingestion:
  requests_per_minute: 6000
  base_delay: 1ms
retrieval:
  min_score: 0
`
	path := filepath.Join(dir, "conductor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	err := app.Run(append([]string{"conductor"}, args...))
	return out.String(), err
}

func TestCommands_EndToEnd(t *testing.T) {
	useMockProvider(t)
	dir := t.TempDir()
	configPath := writeConfig(t, dir)

	docs := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(docs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "deploy.md"),
		[]byte("# Deploys\n\nDeploys go out every Tuesday after the release review."), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "ops.md"),
		[]byte("# Compaction\n\nBadger compaction runs on a nightly schedule at 02:00 UTC."), 0o600))

	out, err := run(t, "--config", configPath, "ingest", docs)
	require.NoError(t, err)
	assert.Contains(t, out, "accepted: 2, failed: 0")

	out, err = run(t, "--config", configPath, "search", "--limit", "1", "tuesday", "deploys")
	require.NoError(t, err)
	assert.Contains(t, out, "deploy.md/00000")

	out, err = run(t, "--config", configPath, "ask", "--show-plan", "when", "do", "deploys", "go", "out?")
	require.NoError(t, err)
	assert.Contains(t, out, "retrieve")
	assert.Contains(t, out, "Sources:")

	out, err = run(t, "--config", configPath, "redrive")
	require.NoError(t, err)
	assert.Contains(t, out, "accepted: 0, failed: 0")
}

func TestCommands_Validation(t *testing.T) {
	useMockProvider(t)
	configPath := writeConfig(t, t.TempDir())

	testCases := []struct {
		name string
		args []string
		want string
	}{
		{"ingest without paths", []string{"ingest"}, "at least one file"},
		{"ask without message", []string{"ask"}, "message is required"},
		{"search without query", []string{"search"}, "query is required"},
		{"ask with bad filter", []string{"ask", "--filter", "team", "hello"}, "key=value"},
		{"missing config file", []string{"--config", "does-not-exist.yaml", "redrive"}, "config file"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			args := tc.args
			if tc.name != "missing config file" {
				args = append([]string{"--config", configPath}, args...)
			}
			_, err := run(t, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestMain(m *testing.M) {
	code := m.Run()
	os.Exit(code)
}
