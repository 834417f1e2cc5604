// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeEngine stands in for opp_run: it records its invocation and
// environment on stdout (which the runner tees into the session log),
// drops a result file where the real engine would, and exits with
// FAKE_ENGINE_EXIT.
const fakeEngine = `echo "engine args: $@"
echo "engine display: ${DISPLAY:-unset}"
if [ -n "${ROUTES_FILE:-}" ]; then
	echo "routes during run:"
	cat "$ROUTES_FILE"
fi
mkdir -p results
echo "0.1 0.2 0.3" > results/run0.vec
exit "${FAKE_ENGINE_EXIT:-0}"
`

// sessionEnv is the on-disk layout for one end-to-end run: the session
// mounts, a bin directory of fake tools, and a reserved loopback port
// standing in for the transport bridge's listener.
type sessionEnv struct {
	project    string
	results    string
	bin        string
	bridgePort int
}

func newSessionEnv(t *testing.T) *sessionEnv {
	t.Helper()
	env := &sessionEnv{
		project: t.TempDir(),
		results: t.TempDir(),
		bin:     t.TempDir(),
	}
	env.bridgePort = reservePort(t)
	writeTool(t, env.bin, "veins_launchd", "exec sleep 30\n")
	writeTool(t, env.bin, "opp_run", fakeEngine)
	return env
}

// reservePort binds an ephemeral loopback port and holds it for the
// duration of the test, so a socket readiness probe has something to
// connect to while the fake process behind it just sleeps.
func reservePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	return listener.Addr().(*net.TCPAddr).Port
}

func writeTool(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("writing tool %s: %v", name, err)
	}
}

// installConfig writes a session config and points the config
// environment variable at it.
func installConfig(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("VEINS_SESSION_CONFIG", path)
}

func (e *sessionEnv) headlessConfig() string {
	return fmt.Sprintf(`paths:
  project: %s
  results: %s
  bin: %s
bridge:
  port: %d
supervisor:
  ready_timeout: 5s
  stop_grace: 500ms
`, e.project, e.results, e.bin, e.bridgePort)
}

func (e *sessionEnv) sessionLog(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(e.results, "simulation.log"))
	if err != nil {
		t.Fatalf("reading session log: %v", err)
	}
	return string(data)
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		raw     string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"WARN", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", 0, true},
	}
	for _, tt := range tests {
		level, err := logLevel(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("logLevel(%q) succeeded, want error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("logLevel(%q): %v", tt.raw, err)
			continue
		}
		if level != tt.want {
			t.Errorf("logLevel(%q) = %v, want %v", tt.raw, level, tt.want)
		}
	}
}

func TestRunHelp(t *testing.T) {
	if code := run([]string{"--help"}, slog.LevelInfo); code != 0 {
		t.Fatalf("run(--help) = %d, want 0", code)
	}
	// Help wins regardless of whatever else is on the line, including
	// arguments that would otherwise be rejected.
	if code := run([]string{"--gui-mode", "-h", "omnetpp.ini"}, slog.LevelInfo); code != 0 {
		t.Fatalf("run(--gui-mode -h) = %d, want 0", code)
	}
}

func TestRunUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"interactive without token", []string{"--gui-mode", "omnetpp.ini"}},
		{"token without interactive", []string{"--vnc-uuid", "tok", "omnetpp.ini"}},
		{"malformed token", []string{"--gui-mode", "--vnc-uuid", "not a token!", "omnetpp.ini"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := run(tt.args, slog.LevelInfo); code != 1 {
				t.Fatalf("run(%v) = %d, want 1", tt.args, code)
			}
		})
	}
}

func TestRunConfigLoadFailure(t *testing.T) {
	t.Setenv("VEINS_SESSION_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	if code := run([]string{"omnetpp.ini"}, slog.LevelInfo); code != 1 {
		t.Fatalf("run with missing config = %d, want 1", code)
	}
}

func TestRunMissingEngineBinary(t *testing.T) {
	env := newSessionEnv(t)
	installConfig(t, env.headlessConfig()+"engine:\n  binary: opp_run_absent\n")

	// Preflight aborts before the bridge launches, so no session log
	// is ever opened.
	if code := run([]string{"omnetpp.ini"}, slog.LevelInfo); code != 1 {
		t.Fatalf("run without an engine binary = %d, want 1", code)
	}
	if _, err := os.Stat(filepath.Join(env.results, "simulation.log")); !os.IsNotExist(err) {
		t.Errorf("session log created despite preflight failure: %v", err)
	}
}

func TestRunHeadlessSession(t *testing.T) {
	env := newSessionEnv(t)
	installConfig(t, env.headlessConfig())
	t.Setenv("DISPLAY", "")

	code := run([]string{"-u", "Cmdenv", "--config-name", "Default", "omnetpp.ini"}, slog.LevelInfo)
	if code != 0 {
		t.Fatalf("run = %d, want 0", code)
	}

	log := env.sessionLog(t)
	if !strings.Contains(log, "engine args: -u Cmdenv omnetpp.ini") {
		t.Errorf("session log missing engine invocation:\n%s", log)
	}
	if !strings.Contains(log, "engine display: unset") {
		t.Errorf("headless engine saw a DISPLAY:\n%s", log)
	}

	if _, err := os.Stat(filepath.Join(env.results, "run0.vec")); err != nil {
		t.Errorf("result file not staged: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.results, "simulation.log.zst")); err != nil {
		t.Errorf("archived session log missing: %v", err)
	}
	manifest, err := os.ReadFile(filepath.Join(env.results, "manifest.yaml"))
	if err != nil {
		t.Fatalf("reading manifest: %v", err)
	}
	if !strings.Contains(string(manifest), "config_name: Default") {
		t.Errorf("manifest missing config label:\n%s", manifest)
	}
	if !strings.Contains(string(manifest), "exit_code: 0") {
		t.Errorf("manifest missing exit code:\n%s", manifest)
	}
	if _, err := os.Stat(filepath.Join(env.project, "results")); !os.IsNotExist(err) {
		t.Errorf("project results directory should be gone after staging, stat err = %v", err)
	}
}

func TestRunPropagatesEngineExit(t *testing.T) {
	env := newSessionEnv(t)
	installConfig(t, env.headlessConfig())
	t.Setenv("FAKE_ENGINE_EXIT", "7")

	if code := run([]string{"omnetpp.ini"}, slog.LevelInfo); code != 7 {
		t.Fatalf("run = %d, want engine's 7", code)
	}

	// The session still stages whatever the failed run produced.
	manifest, err := os.ReadFile(filepath.Join(env.results, "manifest.yaml"))
	if err != nil {
		t.Fatalf("reading manifest: %v", err)
	}
	if !strings.Contains(string(manifest), "exit_code: 7") {
		t.Errorf("manifest should record the engine's exit code:\n%s", manifest)
	}
}

func TestRunCompileFailure(t *testing.T) {
	env := newSessionEnv(t)
	installConfig(t, env.headlessConfig())
	if err := os.Mkdir(filepath.Join(env.project, "src"), 0o755); err != nil {
		t.Fatalf("creating src: %v", err)
	}
	writeTool(t, env.bin, "opp_makemake", "echo makefile generated\n")
	writeTool(t, env.bin, "make", "echo build boom >&2\nexit 2\n")

	if code := run([]string{"omnetpp.ini"}, slog.LevelInfo); code != 1 {
		t.Fatalf("run = %d, want 1 on compile failure", code)
	}

	log := env.sessionLog(t)
	if !strings.Contains(log, "build boom") {
		t.Errorf("session log missing build output:\n%s", log)
	}
	if strings.Contains(log, "engine args:") {
		t.Errorf("engine ran despite failed build:\n%s", log)
	}
	if _, err := os.Stat(filepath.Join(env.results, "manifest.yaml")); !os.IsNotExist(err) {
		t.Errorf("no manifest expected for an aborted session, stat err = %v", err)
	}
}

func TestRunDurationLimit(t *testing.T) {
	env := newSessionEnv(t)
	writeTool(t, env.bin, "opp_run", "exec sleep 30\n")
	installConfig(t, env.headlessConfig()+`engine:
  max_duration: 200ms
`)

	start := time.Now()
	code := run([]string{"omnetpp.ini"}, slog.LevelInfo)
	if code != 124 {
		t.Fatalf("run = %d, want 124 on duration expiry", code)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("expiry took %v, engine was not cut off", elapsed)
	}
}

func TestRunInterruptTearsDown(t *testing.T) {
	env := newSessionEnv(t)
	// The engine interrupts the session itself once it is running, so
	// the signal can only arrive after every stage is up.
	writeTool(t, env.bin, "opp_run", "kill -INT $PPID\nexec sleep 30\n")
	installConfig(t, env.headlessConfig())

	start := time.Now()
	code := run([]string{"omnetpp.ini"}, slog.LevelInfo)
	if code != 143 {
		t.Fatalf("run = %d, want 143 for an interrupted engine", code)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("teardown took %v after interrupt", elapsed)
	}
	if !strings.Contains(env.sessionLog(t), "session cancelled") {
		t.Errorf("session log missing cancellation note:\n%s", env.sessionLog(t))
	}
}

func TestRunInteractiveSession(t *testing.T) {
	env := newSessionEnv(t)
	vncPort := reservePort(t)
	webPort := reservePort(t)

	const displayNumber = 7432
	socketPath := fmt.Sprintf("/tmp/.X11-unix/X%d", displayNumber)
	os.Remove(socketPath)
	t.Cleanup(func() { os.Remove(socketPath) })

	writeTool(t, env.bin, "Xvfb", "touch "+socketPath+"\nexec sleep 30\n")
	writeTool(t, env.bin, "x11vnc", "exec sleep 30\n")
	writeTool(t, env.bin, "websockify", "exec sleep 30\n")
	writeTool(t, env.bin, "nginx", "exit 0\n")

	routesFile := filepath.Join(t.TempDir(), "veins-sessions.conf")
	t.Setenv("ROUTES_FILE", routesFile)

	installConfig(t, fmt.Sprintf(`paths:
  project: %s
  results: %s
  bin: %s
display:
  number: %d
  vnc_port: %d
  bridge_port: %d
  web_root: %s
proxy:
  routes_file: %s
  validate_binary: nginx
  control_socket: %s
bridge:
  port: %d
supervisor:
  ready_timeout: 5s
  stop_grace: 500ms
`, env.project, env.results, env.bin,
		displayNumber, vncPort, webPort, t.TempDir(),
		routesFile, filepath.Join(t.TempDir(), "absent.sock"),
		env.bridgePort))

	code := run([]string{"--gui-mode", "--vnc-uuid", "tok-e2e", "-u", "Qtenv", "omnetpp.ini"}, slog.LevelInfo)
	if code != 0 {
		t.Fatalf("run = %d, want 0", code)
	}

	log := env.sessionLog(t)
	if !strings.Contains(log, "engine args: -u Qtenv omnetpp.ini") {
		t.Errorf("session log missing engine invocation:\n%s", log)
	}
	if !strings.Contains(log, fmt.Sprintf("engine display: :%d", displayNumber)) {
		t.Errorf("engine did not get the session display:\n%s", log)
	}

	// The engine dumped the routes file while it ran: the session's
	// route was live exactly then, pointing at the protocol bridge.
	if !strings.Contains(log, "# BEGIN veins-session tok-e2e") {
		t.Errorf("route block was not live during the run:\n%s", log)
	}
	if !strings.Contains(log, fmt.Sprintf("proxy_pass http://127.0.0.1:%d/;", webPort)) {
		t.Errorf("route did not target the protocol bridge:\n%s", log)
	}

	// Teardown deregistered the route.
	routes, err := os.ReadFile(routesFile)
	if err != nil {
		t.Fatalf("reading routes file: %v", err)
	}
	if strings.Contains(string(routes), "tok-e2e") {
		t.Errorf("route survived session teardown:\n%s", routes)
	}

	if _, err := os.Stat(filepath.Join(env.results, "manifest.yaml")); err != nil {
		t.Errorf("manifest not written: %v", err)
	}
}
