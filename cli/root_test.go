package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fulfillment-engine/cli"
	"github.com/warp/fulfillment-engine/config"
	"github.com/warp/fulfillment-engine/core"
)

func TestRootCommand_Structure(t *testing.T) {
	root := cli.NewRootCommand()

	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	for _, name := range []string{"serve", "replay", "recalc-tax"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	serve, _, _ := root.Find([]string{"serve"})
	assert.NotNil(t, serve.Flags().Lookup("port"))
	recalc, _, _ := root.Find([]string{"recalc-tax"})
	assert.NotNil(t, recalc.Flags().Lookup("contact-mech-changed"))
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("FULFILLMENT_DATABASE_PATH", config.MemoryDatabase)
	t.Setenv("FULFILLMENT_LOG_LEVEL", "error")
	root := cli.NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestReplayCommand_EmptyStore(t *testing.T) {
	out, err := run(t, "replay")
	require.NoError(t, err)

	var rr core.ReplayRun
	require.NoError(t, json.Unmarshal([]byte(out), &rr))
	assert.NotEmpty(t, rr.ID)
	assert.Zero(t, rr.Reserved)
	assert.NotNil(t, rr.FinishedAt)
}

func TestRecalcTaxCommand_UnknownOrder(t *testing.T) {
	_, err := run(t, "recalc-tax", "GHOST")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRecalcTaxCommand_NeedsOrderID(t *testing.T) {
	_, err := run(t, "recalc-tax")
	assert.Error(t, err)
}

func TestNewAppFromConfig_SQLite(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Database.Path = filepath.Join(t.TempDir(), "fulfillment.db")
	cfg.Log.Level = "error"

	app, err := cli.NewAppFromConfig(context.Background(), cfg)
	require.NoError(t, err)

	runs, err := app.Engine.ListReplayRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, app.Close())
}
