package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/github-traffic/internal/config"
	"github.com/naka-gawa/github-traffic/internal/domain"
	"github.com/naka-gawa/github-traffic/internal/gateway"
	"github.com/naka-gawa/github-traffic/internal/store"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// stubFetcher serves canned windows; repos listed in failing return an error.
type stubFetcher struct {
	failing map[string]error
	repos   []string
}

func (f *stubFetcher) window(repo string) (*domain.TrafficWindow, error) {
	if err := f.failing[repo]; err != nil {
		return nil, err
	}
	ts := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	return &domain.TrafficWindow{Count: 2, Uniques: 1, Items: []domain.TrafficPoint{{Timestamp: ts, Count: 2, Uniques: 1}}}, nil
}

func (f *stubFetcher) FetchClones(_ context.Context, repo string) (*domain.TrafficWindow, error) {
	return f.window(repo)
}

func (f *stubFetcher) FetchViews(_ context.Context, repo string) (*domain.TrafficWindow, error) {
	return f.window(repo)
}

func (f *stubFetcher) ListRepositories(context.Context) ([]string, error) {
	return f.repos, nil
}

func useFetcher(t *testing.T, f gateway.Fetcher) {
	t.Helper()
	orig := newFetcher
	newFetcher = func(*config.Config, *slog.Logger) (gateway.Fetcher, error) { return f, nil }
	t.Cleanup(func() { newFetcher = orig })
}

func newTestCommand() *cobra.Command {
	c := &cobra.Command{Use: "test"}
	c.Flags().String("config", "", "")
	c.Flags().String("db", "", "")
	c.Flags().String("addr", config.DefaultAddr, "")
	addSyncFlags(c)
	return c
}

func TestResolveConfig_Precedence(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("db_file: from-file.json\naddr: 0.0.0.0:1\nrepos: [file/repo]\n"), 0o600))
	env := map[string]string{
		config.EnvRepos:        "env/a:env/b",
		config.EnvSyncDuration: "60",
	}

	c := newTestCommand()
	require.NoError(t, c.Flags().Set("config", cfgPath))
	require.NoError(t, c.Flags().Set("db", "from-flag.json"))
	require.NoError(t, c.Flags().Set("failure-policy", "abort-cycle"))

	cfg, err := resolveConfig(c, func(k string) string { return env[k] })

	require.NoError(t, err)
	assert.Equal(t, "from-flag.json", cfg.DBFile)          // flag beats file
	assert.Equal(t, "0.0.0.0:1", cfg.Addr)                 // file beats default
	assert.Equal(t, []string{"env/a", "env/b"}, cfg.Repos) // env beats file
	assert.Equal(t, time.Minute, cfg.SyncInterval)         // env beats default
	assert.Equal(t, "abort-cycle", cfg.FailurePolicy)
}

func TestResolveConfig_RepoFlag(t *testing.T) {
	c := newTestCommand()
	require.NoError(t, c.Flags().Set("repos", "octo/a,octo/b:octo/c"))

	cfg, err := resolveConfig(c, func(string) string { return "" })

	require.NoError(t, err)
	assert.Equal(t, []string{"octo/a", "octo/b", "octo/c"}, cfg.Repos)
}

func TestResolveConfig_Invalid(t *testing.T) {
	c := newTestCommand()
	require.NoError(t, c.Flags().Set("failure-policy", "sometimes"))

	_, err := resolveConfig(c, func(string) string { return "" })

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	c := &cobra.Command{Use: "test"}
	c.Flags().BoolP("verbose", "v", false, "")
	c.SetErr(&buf)

	newLogger(c).Debug("hidden")
	require.NoError(t, c.Flags().Set("verbose", "true"))
	newLogger(c).Debug("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestRunSync_Once(t *testing.T) {
	ctx := context.Background()
	forbidden := errors.New("403 access forbidden")

	testCases := []struct {
		name          string
		failing       map[string]error
		expectedErr   string
		expectedRepos []string
	}{
		{
			name:          "happy path - every repository saved",
			expectedRepos: []string{"octo/a", "octo/b"},
		},
		{
			name:          "partial failure - successes saved, command fails",
			failing:       map[string]error{"octo/b": forbidden},
			expectedErr:   "1 of 2 repositories failed",
			expectedRepos: []string{"octo/a"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			useFetcher(t, &stubFetcher{failing: tc.failing})
			cfg := config.DefaultConfig()
			cfg.DBFile = filepath.Join(t.TempDir(), "traffics.json")
			cfg.Repos = []string{"octo/a", "octo/b"}

			err := runSync(ctx, cfg, discard, false)

			if tc.expectedErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectedErr)
			} else {
				require.NoError(t, err)
			}
			history, err := store.New(cfg.DBFile).Load(ctx)
			require.NoError(t, err)
			var repos []string
			for repo := range history {
				repos = append(repos, repo)
			}
			assert.ElementsMatch(t, tc.expectedRepos, repos)
		})
	}
}

func TestRunSync_Discovery(t *testing.T) {
	ctx := context.Background()
	useFetcher(t, &stubFetcher{repos: []string{"me/discovered"}})
	cfg := config.DefaultConfig()
	cfg.DBFile = filepath.Join(t.TempDir(), "traffics.json")

	require.NoError(t, runSync(ctx, cfg, discard, false))

	history, err := store.New(cfg.DBFile).Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, history, "me/discovered")
}

func TestNewFetcher_RequiresToken(t *testing.T) {
	_, err := newFetcher(config.DefaultConfig(), discard)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "GITHUB_ACCESS_TOKEN")
}

func TestSyncCommand_DescribesFailurePolicies(t *testing.T) {
	assert.Contains(t, syncCmd.Long, "all-or-nothing")
	assert.Contains(t, syncCmd.Long, "--failure-policy abort-cycle")

	usage := syncCmd.Flags().Lookup("failure-policy").Usage
	assert.Contains(t, usage, "persist-successes (save the others)")
	assert.Contains(t, usage, "abort-cycle (save nothing)")
}
