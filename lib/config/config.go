// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for one orchestrated session.
type Config struct {
	// Paths configures the job's mount locations and tool directory.
	Paths PathsConfig `yaml:"paths"`

	// Display configures the virtual framebuffer and its export chain.
	Display DisplayConfig `yaml:"display"`

	// Proxy configures the session-scoped reverse-proxy route.
	Proxy ProxyConfig `yaml:"proxy"`

	// Bridge configures the transport bridge to the traffic simulator.
	Bridge BridgeConfig `yaml:"bridge"`

	// Engine configures the simulation engine invocation.
	Engine EngineConfig `yaml:"engine"`

	// Supervisor configures readiness and termination windows for
	// managed processes.
	Supervisor SupervisorConfig `yaml:"supervisor"`

	// Results configures session log capture and archiving.
	Results ResultsConfig `yaml:"results"`
}

// PathsConfig configures filesystem locations. Project and Results are
// bind mounts provisioned by the job platform; Bin optionally pins tool
// binaries to a hermetic directory independent of PATH.
type PathsConfig struct {
	Project string `yaml:"project"`
	Results string `yaml:"results"`
	Bin     string `yaml:"bin"`
}

// DisplayConfig configures the interactive display chain.
type DisplayConfig struct {
	// Number is the X display number (DISPLAY=:<number>).
	Number int `yaml:"number"`

	// Width, Height, Depth describe the framebuffer geometry.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	Depth  int `yaml:"depth"`

	// VNCPort is the loopback port of the remote-desktop server.
	VNCPort int `yaml:"vnc_port"`

	// BridgePort is the loopback port of the protocol bridge that
	// serves browser clients.
	BridgePort int `yaml:"bridge_port"`

	// WebRoot is the directory of browser client assets served by the
	// protocol bridge.
	WebRoot string `yaml:"web_root"`
}

// ProxyConfig configures the reverse-proxy route for interactive
// sessions.
type ProxyConfig struct {
	// RoutesFile is the shared per-session route file included by the
	// proxy's main configuration. Singleton across sessions; all
	// writes are validate-then-atomic-swap under an exclusive lock.
	RoutesFile string `yaml:"routes_file"`

	// ListenPort is the container-side port the proxy listens on. Its
	// host-side mapping is what link discovery looks up.
	ListenPort int `yaml:"listen_port"`

	// ValidateBinary is the proxy binary used for configuration
	// validation and reload signaling.
	ValidateBinary string `yaml:"validate_binary"`

	// ControlSocket is the container platform's local API socket used
	// for best-effort published-port discovery.
	ControlSocket string `yaml:"control_socket"`

	// IdleTimeout is the proxied connection idle timeout. Interactive
	// sessions idle for hours; must be at least 24h.
	IdleTimeout string `yaml:"idle_timeout"`
}

// BridgeConfig configures the transport bridge process.
type BridgeConfig struct {
	// Binary is the bridge binary name or absolute path.
	Binary string `yaml:"binary"`

	// Port is the fixed local port the simulation engine connects to.
	Port int `yaml:"port"`
}

// EngineConfig configures the simulation engine invocation.
type EngineConfig struct {
	// Binary is the engine binary name or absolute path.
	Binary string `yaml:"binary"`

	// MaxDuration bounds one session's EXECUTE phase. The job
	// platform enforces the same bound from outside; this is the
	// in-container backstop.
	MaxDuration string `yaml:"max_duration"`
}

// SupervisorConfig configures managed-process lifecycle windows.
type SupervisorConfig struct {
	// ReadyTimeout bounds each readiness probe after a start.
	ReadyTimeout string `yaml:"ready_timeout"`

	// StopGrace is how long a stopped process gets to exit after the
	// graceful termination signal before escalation.
	StopGrace string `yaml:"stop_grace"`

	// StopEscalation enables the forced-kill escalation after
	// StopGrace expires.
	StopEscalation bool `yaml:"stop_escalation"`
}

// ResultsConfig configures session log capture and archiving.
type ResultsConfig struct {
	// LogName is the session log filename within the results mount.
	LogName string `yaml:"log_name"`

	// Compression selects the archive codec: zstd, lz4, or none.
	Compression string `yaml:"compression"`
}

// Default returns the compiled configuration matching the canonical job
// container layout.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			Project: "/simulation/project",
			Results: "/simulation/results",
		},
		Display: DisplayConfig{
			Number:     99,
			Width:      1280,
			Height:     800,
			Depth:      24,
			VNCPort:    5900,
			BridgePort: 6080,
			WebRoot:    "/usr/share/novnc",
		},
		Proxy: ProxyConfig{
			RoutesFile:     "/etc/nginx/conf.d/veins-sessions.conf",
			ListenPort:     8080,
			ValidateBinary: "nginx",
			ControlSocket:  "/var/run/docker.sock",
			IdleTimeout:    "24h",
		},
		Bridge: BridgeConfig{
			Binary: "veins_launchd",
			Port:   9999,
		},
		Engine: EngineConfig{
			Binary:      "opp_run",
			MaxDuration: "4h",
		},
		Supervisor: SupervisorConfig{
			ReadyTimeout:   "10s",
			StopGrace:      "5s",
			StopEscalation: true,
		},
		Results: ResultsConfig{
			LogName:     "simulation.log",
			Compression: "zstd",
		},
	}
}

// Load loads configuration from the VEINS_SESSION_CONFIG environment
// variable when set, and the compiled defaults otherwise.
func Load() (*Config, error) {
	configPath := os.Getenv("VEINS_SESSION_CONFIG")
	if configPath == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merged over
// the compiled defaults. The config file is the single source of truth;
// individual environment variables do not override values. The only
// expansion performed is ${VAR} substitution in path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} patterns in path-valued fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Paths.Project = expandVars(c.Paths.Project, vars)
	c.Paths.Results = expandVars(c.Paths.Results, vars)
	c.Paths.Bin = expandVars(c.Paths.Bin, vars)
	c.Display.WebRoot = expandVars(c.Display.WebRoot, vars)
	c.Proxy.RoutesFile = expandVars(c.Proxy.RoutesFile, vars)
	c.Proxy.ControlSocket = expandVars(c.Proxy.ControlSocket, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All faults are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Project == "" {
		errs = append(errs, fmt.Errorf("paths.project is required"))
	}
	if c.Paths.Results == "" {
		errs = append(errs, fmt.Errorf("paths.results is required"))
	}

	if c.Display.Number < 0 {
		errs = append(errs, fmt.Errorf("display.number must be non-negative, got %d", c.Display.Number))
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 || c.Display.Depth <= 0 {
		errs = append(errs, fmt.Errorf("display geometry must be positive, got %dx%dx%d",
			c.Display.Width, c.Display.Height, c.Display.Depth))
	}

	ports := map[string]int{
		"display.vnc_port":    c.Display.VNCPort,
		"display.bridge_port": c.Display.BridgePort,
		"proxy.listen_port":   c.Proxy.ListenPort,
		"bridge.port":         c.Bridge.Port,
	}
	seen := map[int]string{}
	for name, port := range ports {
		if port <= 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s must be in 1..65535, got %d", name, port))
			continue
		}
		if other, ok := seen[port]; ok {
			errs = append(errs, fmt.Errorf("%s and %s both use port %d", name, other, port))
		}
		seen[port] = name
	}

	if c.Proxy.RoutesFile == "" {
		errs = append(errs, fmt.Errorf("proxy.routes_file is required"))
	}
	if d, err := time.ParseDuration(c.Proxy.IdleTimeout); err != nil {
		errs = append(errs, fmt.Errorf("proxy.idle_timeout: %w", err))
	} else if d < 24*time.Hour {
		// Interactive sessions idle for hours between interactions;
		// anything shorter silently severs live views.
		errs = append(errs, fmt.Errorf("proxy.idle_timeout must be at least 24h, got %s", c.Proxy.IdleTimeout))
	}

	if c.Bridge.Binary == "" {
		errs = append(errs, fmt.Errorf("bridge.binary is required"))
	}
	if c.Engine.Binary == "" {
		errs = append(errs, fmt.Errorf("engine.binary is required"))
	}

	for name, value := range map[string]string{
		"engine.max_duration":      c.Engine.MaxDuration,
		"supervisor.ready_timeout": c.Supervisor.ReadyTimeout,
		"supervisor.stop_grace":    c.Supervisor.StopGrace,
	} {
		if d, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, value))
		}
	}

	switch c.Results.Compression {
	case "zstd", "lz4", "none":
	default:
		errs = append(errs, fmt.Errorf("results.compression must be zstd, lz4, or none, got %q", c.Results.Compression))
	}
	if c.Results.LogName == "" {
		errs = append(errs, fmt.Errorf("results.log_name is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the writable directories the session needs. The
// project mount is the job platform's to provision and is not created
// here.
func (c *Config) EnsurePaths() error {
	if err := os.MkdirAll(c.Paths.Results, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", c.Paths.Results, err)
	}
	return nil
}

// MaxDurationValue returns the parsed engine.max_duration. Call only
// after Validate.
func (c *Config) MaxDurationValue() time.Duration {
	d, err := time.ParseDuration(c.Engine.MaxDuration)
	if err != nil {
		return 4 * time.Hour
	}
	return d
}

// ReadyTimeoutValue returns the parsed supervisor.ready_timeout. Call
// only after Validate.
func (c *Config) ReadyTimeoutValue() time.Duration {
	d, err := time.ParseDuration(c.Supervisor.ReadyTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// StopGraceValue returns the parsed supervisor.stop_grace. Call only
// after Validate.
func (c *Config) StopGraceValue() time.Duration {
	d, err := time.ParseDuration(c.Supervisor.StopGrace)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// IdleTimeoutValue returns the parsed proxy.idle_timeout. Call only
// after Validate.
func (c *Config) IdleTimeoutValue() time.Duration {
	d, err := time.ParseDuration(c.Proxy.IdleTimeout)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// BinaryPath returns the full path to a tool binary. It looks in
// Paths.Bin first, then falls back to exec.LookPath. This provides
// hermetic binary resolution when Bin is configured.
func (c *Config) BinaryPath(name string) (string, error) {
	if filepath.IsAbs(name) {
		return name, nil
	}

	if c.Paths.Bin != "" {
		binPath := filepath.Join(c.Paths.Bin, name)
		if _, err := os.Stat(binPath); err == nil {
			return binPath, nil
		}
	}

	path, err := exec.LookPath(name)
	if err != nil {
		if c.Paths.Bin != "" {
			return "", fmt.Errorf("%s not found in %s or PATH", name, c.Paths.Bin)
		}
		return "", fmt.Errorf("%s not found in PATH", name)
	}
	return path, nil
}

// VerifyExecutable checks that path names a regular file with an
// executable bit set. The error omits the path; callers wrap it with
// the location they expected the tool at.
func VerifyExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return errors.New("not a regular file")
	}
	if info.Mode().Perm()&0o111 == 0 {
		return errors.New("not executable")
	}
	return nil
}
