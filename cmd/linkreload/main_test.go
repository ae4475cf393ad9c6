package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"linkreload/internal/config"
	"linkreload/internal/logging"
	"linkreload/internal/registry"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testEnvironment(dir string, values map[string]string) environment {
	return environment{
		getenv: func(key string) string { return values[key] },
		getwd:  func() (string, error) { return dir, nil },
	}
}

func runCommand(t *testing.T, env environment, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCommand(env, &stdout, &stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestAliasesFromFlags(t *testing.T) {
	dir := t.TempDir()
	stdout, _, err := runCommand(t, testEnvironment(dir, nil),
		"aliases", "--package", "ui=packages/ui", "--package", "core=/work/core", "ui", "ghost")
	require.NoError(t, err)

	var aliases map[string]string
	require.NoError(t, json.Unmarshal([]byte(stdout), &aliases))
	assert.Equal(t, map[string]string{
		"ui": filepath.Join(dir, "packages", "ui", "src", "index.ts"),
	}, aliases)
}

func TestAliasesUsesConfigListAndYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "linkreload.yaml"), []byte(`
packages:
  ui: /work/ui
  core: /work/core
aliases:
  packages: [core]
  entry: main.ts
`), 0o644))

	stdout, _, err := runCommand(t, testEnvironment(dir, nil), "aliases", "--format", "yaml")
	require.NoError(t, err)

	var aliases map[string]string
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &aliases))
	assert.Equal(t, map[string]string{"core": "/work/core/src/main.ts"}, aliases)
}

func TestAliasesDefaultsToEveryPackage(t *testing.T) {
	stdout, _, err := runCommand(t, testEnvironment(t.TempDir(), nil),
		"aliases", "-p", "a=/a", "-p", "b=/b", "--entry", "lib.ts")
	require.NoError(t, err)

	var aliases map[string]string
	require.NoError(t, json.Unmarshal([]byte(stdout), &aliases))
	assert.Equal(t, map[string]string{"a": "/a/src/lib.ts", "b": "/b/src/lib.ts"}, aliases)
}

func TestAliasesIsIdempotent(t *testing.T) {
	env := testEnvironment(t.TempDir(), nil)
	first, _, err := runCommand(t, env, "aliases", "-p", "a=/a")
	require.NoError(t, err)
	second, _, err := runCommand(t, env, "aliases", "-p", "a=/a")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAliasesRejectsUnknownFormat(t *testing.T) {
	_, _, err := runCommand(t, testEnvironment(t.TempDir(), nil), "aliases", "-p", "a=/a", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestCommandsRequirePackages(t *testing.T) {
	_, _, err := runCommand(t, testEnvironment(t.TempDir(), nil), "aliases")
	require.ErrorIs(t, err, registry.ErrNoPackages)
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := runCommand(t, testEnvironment(t.TempDir(), nil), "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "linkreload "))

	stdout, _, err = runCommand(t, testEnvironment(t.TempDir(), nil), "version", "--json")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Contains(t, info, "version")
}

func TestExecuteReportsErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := execute([]string{"serve", "--debounce", "soon"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "linkreload:")
}

func TestConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "linkreload.yaml"), []byte(`
packages:
  lib: ./lib
debounce: 100
watch_dir: out
verbose: false
`), 0o644))
	env := testEnvironment(dir, map[string]string{
		"LINKRELOAD_DEBOUNCE_MS": "200",
		"LINKRELOAD_WATCH_DIR":   "build",
	})

	var got config.Config
	flags := &configFlags{}
	cmd := &cobra.Command{
		Use: "load",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := flags.load(cmd, env)
			got = cfg
			return err
		},
	}
	flags.register(cmd)
	flags.registerServe(cmd)
	cmd.SetArgs([]string{"--debounce", "250ms", "--verbose"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, 250*time.Millisecond, got.Debounce)
	assert.Equal(t, config.SourceFlag, got.Sources["debounce"])
	assert.Equal(t, "build", got.WatchDir)
	assert.Equal(t, config.SourceEnv, got.Sources["watch_dir"])
	assert.True(t, got.Verbose)
	require.Len(t, got.Packages, 1)
	assert.Equal(t, filepath.Join(dir, "lib"), got.Packages[0].Root)
}

func TestServeRejectsInvalidDebounce(t *testing.T) {
	_, _, err := runCommand(t, testEnvironment(t.TempDir(), nil), "serve", "-p", "a=/a", "--debounce", "0s")
	require.ErrorIs(t, err, config.ErrInvalidDebounce)
}

func TestLogStartupFlags(t *testing.T) {
	buffer := logging.NewLogBuffer(10)
	logger := logging.NewLoggerWithOutput(buffer, logging.LevelDebug, nil)
	cfg := config.Default()
	cfg.Verbose = true
	cfg.Listen = ":9000"
	cfg.SetFlag("verbose")
	cfg.SetFlag("listen")

	logStartupFlags(logger, cfg)

	entries := buffer.List()
	require.Len(t, entries, 1)
	assert.Equal(t, "--listen :9000 --verbose", entries[0].Context["flags"])
}

func TestServeRunsUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lib", "dist"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib", "dist", "index.js"), []byte("x"), 0o644))

	ready := make(chan string, 1)
	env := testEnvironment(dir, nil)
	env.ready = func(addr string) { ready <- addr }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var stdout, stderr bytes.Buffer
	root := newRootCommand(env, &stdout, &stderr)
	root.SetArgs([]string{"serve", "-p", "lib=lib", "--listen", "127.0.0.1:0", "--rescan", "0s"})
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not start")
	}

	resp, err := http.Get("http://" + addr + "/api/status")
	require.NoError(t, err)
	var status struct {
		Session struct {
			State    string `json:"state"`
			Packages []struct {
				Name    string `json:"name"`
				Watched bool   `json:"watched"`
			} `json:"packages"`
		} `json:"session"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.Equal(t, "watching", status.Session.State)
	require.Len(t, status.Session.Packages, 1)
	assert.True(t, status.Session.Packages[0].Watched)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
	assert.Contains(t, stderr.String(), "linkreload listening")
}
