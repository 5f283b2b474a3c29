package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qianlnk/clocktower/models"
)

func TestParseOptionsDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	opts, err := parseOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, 100, opts.games)
	assert.Equal(t, 7, opts.players)
	assert.Equal(t, 10, opts.maxDays)
	assert.Equal(t, 3, opts.budget)
	assert.Equal(t, 30*time.Second, opts.timeout)
	assert.Zero(t, opts.seed)
	assert.Equal(t, "warn", opts.logLevel)

	opts, err = parseOptions([]string{"--narrate"})
	require.NoError(t, err)
	assert.Equal(t, "info", opts.logLevel)
}

func TestParseOptionsReadsConfigAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sim.yaml")
	require.NoError(t, os.WriteFile(path, []byte("game:\n  max_days: 6\n  seed: 99\n"), 0o600))
	t.Setenv("CLOCKTOWER_GAME_NOMINATION_BUDGET", "2")

	opts, err := parseOptions([]string{"--config", path, "-n", "5", "--log-level", "debug"})
	require.NoError(t, err)
	assert.Equal(t, 5, opts.games)
	assert.Equal(t, 6, opts.maxDays)
	assert.Equal(t, int64(99), opts.seed)
	assert.Equal(t, 2, opts.budget)
	assert.Equal(t, "debug", opts.logLevel)

	opts, err = parseOptions([]string{"--config", path, "--max-days", "4", "--seed", "7"})
	require.NoError(t, err)
	assert.Equal(t, 4, opts.maxDays, "flags override the file")
	assert.Equal(t, int64(7), opts.seed)
}

func TestParseOptionsRejectsBadInput(t *testing.T) {
	chdir(t, t.TempDir())

	_, err := parseOptions([]string{"--standard", "-p", "9"})
	require.Error(t, err)
	_, err = parseOptions([]string{"--max-days", "0"})
	require.Error(t, err)
	_, err = parseOptions([]string{"--no-such-flag"})
	require.Error(t, err)
}

func TestSimulateIsReproducible(t *testing.T) {
	opts := options{games: 6, players: 8, maxDays: 10, budget: 3, timeout: time.Second, workers: 3}

	first, err := simulate(context.Background(), opts, 42)
	require.NoError(t, err)
	require.Len(t, first, 6)
	for _, r := range first {
		assert.Contains(t, []models.Winner{models.WinnerGood, models.WinnerEvil, models.WinnerDraw}, r.winner)
		assert.LessOrEqual(t, r.days, opts.maxDays)
	}

	again, err := simulate(context.Background(), opts, 42)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	opts.standard, opts.players = true, 7
	_, err = simulate(context.Background(), opts, 42)
	require.NoError(t, err)
}

func TestRender(t *testing.T) {
	results := []result{
		{winner: models.WinnerGood, days: 3, deaths: 4},
		{winner: models.WinnerGood, days: 2, deaths: 3},
		{winner: models.WinnerEvil, days: 5, deaths: 6},
		{winner: models.WinnerDraw, days: 10, deaths: 5},
	}
	var out bytes.Buffer
	render(&out, options{players: 7}, 42, results, 1500*time.Millisecond)

	table := out.String()
	assert.Contains(t, table, "4 局 / 7 人 / 种子 42")
	assert.Contains(t, table, "50.0%")
	assert.Contains(t, table, "25.0%")
	assert.Contains(t, table, "5.00")
	assert.Contains(t, table, "4.50")
	assert.Contains(t, table, "1.5s")

	out.Reset()
	render(&out, options{players: 7}, 1, nil, 0)
	assert.Contains(t, out.String(), "-")
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (stand-in for testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(wd)) })
}
