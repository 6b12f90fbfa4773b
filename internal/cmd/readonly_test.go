package cmd

import (
	"context"
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func resetReadOnly(t *testing.T) {
	t.Helper()
	readOnly = false
	viper.Set("readonly", false)
	require.NoError(t, rootCmd.PersistentFlags().Set("readonly", "false"))
}

func TestSubmit_ReadOnly_BlocksExecution(t *testing.T) {
	resetReadOnly(t)

	f, err := os.CreateTemp("", "farmsight-submit-*.yaml")
	require.NoError(t, err)
	defer func() { _ = os.Remove(f.Name()) }()
	defer func() { _ = f.Close() }()

	_, err = f.WriteString(`version: "1.0"
farm: tractor

scenes:
  root: ` + t.TempDir() + `
  includes:
    - "shots/**/*.ma"

render:
  frames: "1-240"

output:
  destination: stdout
`)
	require.NoError(t, err)

	rootCmd.SetArgs([]string{"--readonly", "submit", "--job", f.Name()})
	rootCmd.SetContext(context.Background())

	err = rootCmd.Execute()
	rootCmd.SetArgs(nil)
	resetReadOnly(t)

	require.Error(t, err)
	require.Contains(t, err.Error(), "readonly")
}

func TestJobsCancel_ReadOnly_BlocksExecution(t *testing.T) {
	resetReadOnly(t)

	rootCmd.SetArgs([]string{"--readonly", "jobs", "cancel", "7a4c1e02"})
	rootCmd.SetContext(context.Background())

	err := rootCmd.Execute()
	rootCmd.SetArgs(nil)
	resetReadOnly(t)

	require.Error(t, err)
	require.Contains(t, err.Error(), "readonly")
}

func TestRunsRecord_ReadOnly_BlocksExecution(t *testing.T) {
	resetReadOnly(t)

	rootCmd.SetArgs([]string{"--readonly", "runs", "record", "nightly-20260825"})
	rootCmd.SetContext(context.Background())

	err := rootCmd.Execute()
	rootCmd.SetArgs(nil)
	resetReadOnly(t)

	require.Error(t, err)
	require.Contains(t, err.Error(), "readonly")
}

func TestRunsComplete_ReadOnly_BlocksExecution(t *testing.T) {
	resetReadOnly(t)

	rootCmd.SetArgs([]string{"--readonly", "runs", "complete", "nightly-20260825"})
	rootCmd.SetContext(context.Background())

	err := rootCmd.Execute()
	rootCmd.SetArgs(nil)
	resetReadOnly(t)

	require.Error(t, err)
	require.Contains(t, err.Error(), "readonly")
}
