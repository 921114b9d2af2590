package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/coffer/config"
)

const fixture = "../../config/testdata/coffer.yaml"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{{"serve"}, {"migrate"}, {"config", "validate"}} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}

	flag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
}

func TestConfigValidate(t *testing.T) {
	out, err := execute(t, "config", "validate", "--config", fixture)
	require.NoError(t, err)
	assert.Contains(t, out, "config OK: store=sqlite")
	assert.Contains(t, out, "obsidian-wheel")
	assert.NotContains(t, out, "warning")
}

func TestConfigValidateJSON(t *testing.T) {
	out, err := execute(t, "config", "validate", "-c", fixture, "--json")
	require.NoError(t, err)

	var sum ConfigSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.True(t, sum.Valid)
	assert.Equal(t, []string{"enterprise", "free", "pro"}, sum.Plans)
	assert.Equal(t, 5, sum.Effects)
}

func TestConfigValidateFails(t *testing.T) {
	t.Setenv("COFFER_STORE_DRIVER", "cassandra")
	_, err := execute(t, "config", "validate", "-c", fixture)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestMigrateSQLite(t *testing.T) {
	t.Setenv("COFFER_STORE_DRIVER", "sqlite")
	t.Setenv("COFFER_STORE_DSN", filepath.Join(t.TempDir(), "coffer.db"))

	for range 2 {
		out, err := execute(t, "migrate")
		require.NoError(t, err)
		assert.Contains(t, out, "migrations applied (sqlite)")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.EffectSweepInterval = 0

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cmd := &cobra.Command{}
	cmd.SetErr(io.Discard)

	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, ln, cmd) }()

	url := "http://" + ln.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "go_goroutines")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
