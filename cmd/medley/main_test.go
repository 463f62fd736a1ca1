package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"medley/internal/config"
	"medley/internal/daemon"
	"medley/internal/dedup"
	"medley/internal/engine/enginetest"
	"medley/internal/feeder"
	"medley/internal/logging"
	"medley/internal/player"
	"medley/internal/pool"
	"medley/internal/rootset"
	"medley/internal/sampler"
	"medley/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	apiAddr    string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	configPath := writeTestConfig(t, cfg)

	logger := logging.NewNop()
	factory := enginetest.NewFactory()
	engines := pool.New(factory, logger, pool.Options{Workers: 2})
	roots := rootset.New(cfg.Library.Roots, cfg.Library.DisabledRoots)
	smp := sampler.New(sampler.Options{Parallelism: 2, Logger: logger})
	supply := feeder.New(cfg, smp, dedup.New(cfg.Supply.DedupCapacity), roots, engines, logger)
	ctl, err := player.New(cfg, supply, nil, logger)
	if err != nil {
		t.Fatalf("new player: %v", err)
	}
	store := testsupport.MustOpenHistory(t, cfg)
	d, err := daemon.New(cfg, roots, engines, supply, ctl, store, logger)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	t.Cleanup(d.Stop)

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		apiAddr:    d.APIAddr(),
		configPath: configPath,
	}
}

func writeTestConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	encoded, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(filepath.Dir(cfg.Paths.DataDir), "config.toml")
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args []string, apiAddr, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--api", apiAddr}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// refusedAddr returns a loopback address that refuses connections.
func refusedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	if err := ln.Close(); err != nil {
		t.Fatalf("close listener: %v", err)
	}
	return addr
}

func TestCLIStatusAndRootsCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	root := testsupport.MediaRoot(env.cfg)

	out, _, err := runCLI(t, []string{"status"}, env.apiAddr, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Running (pid") {
		t.Fatalf("status missing running line: %q", out)
	}
	if !strings.Contains(out, root) {
		t.Fatalf("status missing root path: %q", out)
	}
	if !strings.Contains(out, "Supply") || !strings.Contains(out, "Ready") {
		t.Fatalf("status missing supply section: %q", out)
	}
	if !strings.Contains(out, "Player") {
		t.Fatalf("status missing player section: %q", out)
	}

	out, _, err = runCLI(t, []string{"roots", "list"}, env.apiAddr, env.configPath)
	if err != nil {
		t.Fatalf("roots list: %v", err)
	}
	if !strings.Contains(out, root) || !strings.Contains(out, "yes") {
		t.Fatalf("roots list missing enabled root: %q", out)
	}

	out, _, err = runCLI(t, []string{"roots", "disable", root}, env.apiAddr, env.configPath)
	if err != nil {
		t.Fatalf("roots disable: %v", err)
	}
	if !strings.Contains(out, "Disabled "+root) || !strings.Contains(out, "no") {
		t.Fatalf("unexpected disable output: %q", out)
	}

	out, _, err = runCLI(t, []string{"roots", "enable", root}, env.apiAddr, env.configPath)
	if err != nil {
		t.Fatalf("roots enable: %v", err)
	}
	if !strings.Contains(out, "Enabled "+root) {
		t.Fatalf("unexpected enable output: %q", out)
	}

	_, _, err = runCLI(t, []string{"roots", "enable", filepath.Join(root, "nope")}, env.apiAddr, env.configPath)
	if err == nil {
		t.Fatal("expected error enabling unknown root")
	}
	if !strings.Contains(err.Error(), "http 400") {
		t.Fatalf("expected http 400 in error, got %v", err)
	}
}

func TestCLIStatusOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := writeTestConfig(t, cfg)

	out, _, err := runCLI(t, []string{"status"}, refusedAddr(t), configPath)
	if err != nil {
		t.Fatalf("status offline: %v", err)
	}
	if !strings.Contains(out, "Not running") {
		t.Fatalf("expected not-running status, got %q", out)
	}
	if !strings.Contains(out, testsupport.MediaRoot(cfg)) {
		t.Fatalf("offline status missing local root probe: %q", out)
	}
}

func TestCLINextWithdrawsSeededFile(t *testing.T) {
	env := setupCLITestEnv(t)
	root := testsupport.MediaRoot(env.cfg)
	testsupport.WriteTree(t, root, "one.mp4", "two.mp4", "three.mp4")

	out, _, err := runCLI(t, []string{"next"}, env.apiAddr, env.configPath)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	path := strings.TrimSpace(out)
	if !strings.HasPrefix(path, root) {
		t.Fatalf("withdrawn path %q not under root %q", path, root)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("withdrawn path does not exist: %v", err)
	}
}

func TestCLIHistoryEmpty(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"history"}, env.apiAddr, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "No plays recorded") {
		t.Fatalf("expected empty history message, got %q", out)
	}
}

func TestCLIPlayerPauseWhileStopped(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"player", "pause"}, env.apiAddr, env.configPath)
	if err == nil {
		t.Fatal("expected error pausing a stopped player")
	}
	if !strings.Contains(err.Error(), "http 409") {
		t.Fatalf("expected http 409 in error, got %v", err)
	}

	out, _, err := runCLI(t, []string{"player"}, env.apiAddr, env.configPath)
	if err != nil {
		t.Fatalf("player status: %v", err)
	}
	if !strings.Contains(out, "Stopped") {
		t.Fatalf("expected stopped player, got %q", out)
	}
}

func TestCLIResetCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"reset"}, env.apiAddr, env.configPath)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !strings.Contains(out, "Supply reset") {
		t.Fatalf("unexpected reset output: %q", out)
	}
}

func TestCLIConfigInit(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "config.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "127.0.0.1:0", "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "Wrote sample configuration to "+target) {
		t.Fatalf("unexpected init output: %q", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}

	_, _, err = runCLI(t, []string{"config", "init", "--path", target}, "127.0.0.1:0", "")
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected duplicate-config error, got %v", err)
	}

	out, _, err = runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, "127.0.0.1:0", "")
	if err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
	if !strings.Contains(out, "Wrote sample configuration") {
		t.Fatalf("unexpected overwrite output: %q", out)
	}
}

func TestCLILogsPrintsTrailingLines(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := writeTestConfig(t, cfg)

	logPath := filepath.Join(cfg.Paths.LogDir, "medley.log")
	if err := os.WriteFile(logPath, []byte("first\nsecond\nthird\n"), 0o644); err != nil {
		t.Fatalf("write log file: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "--lines", "2"}, "127.0.0.1:0", configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.Contains(out, "first") || !strings.Contains(out, "second") || !strings.Contains(out, "third") {
		t.Fatalf("unexpected logs output: %q", out)
	}
}

func TestCLIConfigValidate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := writeTestConfig(t, cfg)

	out, _, err := runCLI(t, []string{"config", "validate"}, "127.0.0.1:0", configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Fatalf("unexpected validate output: %q", out)
	}
	if !strings.Contains(out, configPath) {
		t.Fatalf("validate output missing config path: %q", out)
	}
}
