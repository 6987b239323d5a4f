package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vndarlan/chegou-autoads/internal/storage"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestRulesImport(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "autoads.db")
	cfgPath := writeFile(t, dir, "application.yaml",
		"database:\n  driver: sqlite\n  sqlite_path: "+dbPath+"\nserver:\n  log_level: error\n")
	rulesPath := writeFile(t, dir, "rules.yaml", `
rules:
  - name: pause expensive
    primary_metric: cpa
    primary_operator: ">"
    primary_value: 25
    action_type: pause_campaign
  - name: nothing to compare
    primary_metric: cpa
    action_type: pause_campaign
`)

	out, errOut, err := execute(t, "--config", cfgPath, "rules", "import", "-f", rulesPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 rules rejected")
	assert.Contains(t, out, "rule 1 (pause expensive): created")
	assert.Contains(t, errOut, "rule 2 (nothing to compare)")

	st, err := storage.NewSQLite(dbPath)
	require.NoError(t, err)
	defer st.Close()
	rules, err := st.ListRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "pause expensive", rules[0].Name)
}

func TestSweep_NoAccountsSucceeds(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "application.yaml",
		"database:\n  driver: sqlite\n  sqlite_path: "+filepath.Join(dir, "autoads.db")+"\nserver:\n  log_level: error\n")

	_, _, err := execute(t, "--config", cfgPath, "sweep")
	assert.NoError(t, err)
}

func TestSweep_SkipsWhileAnotherHoldsLock(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "autoads.db")
	cfgPath := writeFile(t, dir, "application.yaml",
		"database:\n  driver: sqlite\n  sqlite_path: "+dbPath+"\nserver:\n  log_level: error\n")

	st, err := storage.NewSQLite(dbPath)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Migrate(context.Background()))
	release, ok, err := st.TryLockSweep(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	_, _, err = execute(t, "--config", cfgPath, "sweep")
	assert.NoError(t, err)

	// the skipped run must not have released someone else's lock
	_, ok, err = st.TryLockSweep(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	release()
}

func TestImport_RequiresFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "application.yaml", "database:\n  driver: sqlite\n  sqlite_path: "+filepath.Join(dir, "a.db")+"\n")

	_, _, err := execute(t, "--config", cfgPath, "rules", "import")
	assert.Error(t, err)
}

func TestVersion_NeedsNoConfig(t *testing.T) {
	_, _, err := execute(t, "--config", "/does/not/exist.yaml", "version")
	assert.NoError(t, err)
}
