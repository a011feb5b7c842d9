package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type RuntimeConfig struct {
	Bind          string
	Port          string
	Token         string
	DataDir       string
	ConfigPath    string
	CoreBinary    string
	SSHBinary     string
	PlinkBinary   string
	ChromeBinary  string
	ChromeVersion string
	ExtensionsDir string
	Headless      bool
	// DebugPort enables the remote-debugging port when non-zero. It is
	// reserved so no tunnel or proxy-core listener can take it.
	DebugPort int
	PortStart int
	PortEnd   int
	ProbeURL  string

	CoreWarmup      time.Duration
	ProbeWarmup     time.Duration
	ProbeTimeout    time.Duration
	TunnelTimeout   time.Duration
	DecisionTimeout time.Duration
	SettleDelay     time.Duration
	ShutdownTimeout time.Duration
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func envBoolOr(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func homeDir() string {
	h, _ := os.UserHomeDir()
	return h
}

func (c *RuntimeConfig) ListenAddr() string {
	return c.Bind + ":" + c.Port
}

// ProfileDir is the per-profile root holding browser data, logs and known_hosts.
func (c *RuntimeConfig) ProfileDir(profileID string) string {
	return filepath.Join(c.DataDir, "profiles", profileID)
}

func (c *RuntimeConfig) ProfilesFile() string { return filepath.Join(c.DataDir, "profiles.yaml") }
func (c *RuntimeConfig) SettingsFile() string { return filepath.Join(c.DataDir, "settings.yaml") }
func (c *RuntimeConfig) JournalFile() string  { return filepath.Join(c.DataDir, "sessions.db") }
func (c *RuntimeConfig) TempDir() string      { return filepath.Join(c.DataDir, "tmp") }

type FileConfig struct {
	Port          string `json:"port"`
	Token         string `json:"token,omitempty"`
	DataDir       string `json:"dataDir"`
	CoreBinary    string `json:"coreBinary,omitempty"`
	SSHBinary     string `json:"sshBinary,omitempty"`
	PlinkBinary   string `json:"plinkBinary,omitempty"`
	ChromeBinary  string `json:"chromeBinary,omitempty"`
	ChromeVersion string `json:"chromeVersion,omitempty"`
	ExtensionsDir string `json:"extensionsDir,omitempty"`
	Headless      *bool  `json:"headless,omitempty"`
	DebugPort     int    `json:"debugPort,omitempty"`
	PortStart     int    `json:"portStart,omitempty"`
	PortEnd       int    `json:"portEnd,omitempty"`
	ProbeURL      string `json:"probeUrl,omitempty"`
	TunnelSec     int    `json:"tunnelTimeoutSec,omitempty"`
}

func defaultPath() string {
	return filepath.Join(homeDir(), ".veilgate", "config.json")
}

func Load() *RuntimeConfig {
	cfg := &RuntimeConfig{
		Bind:            envOr("VEILGATE_BIND", "127.0.0.1"),
		Port:            envOr("VEILGATE_PORT", "9870"),
		Token:           os.Getenv("VEILGATE_TOKEN"),
		DataDir:         envOr("VEILGATE_DATA_DIR", filepath.Join(homeDir(), ".veilgate")),
		CoreBinary:      envOr("VEILGATE_CORE_BINARY", "xray"),
		SSHBinary:       envOr("VEILGATE_SSH_BINARY", "ssh"),
		PlinkBinary:     os.Getenv("VEILGATE_PLINK_BINARY"),
		ChromeBinary:    os.Getenv("CHROME_BINARY"),
		ChromeVersion:   os.Getenv("VEILGATE_CHROME_VERSION"),
		ExtensionsDir:   os.Getenv("VEILGATE_EXTENSIONS_DIR"),
		Headless:        envBoolOr("VEILGATE_HEADLESS", false),
		DebugPort:       envIntOr("VEILGATE_DEBUG_PORT", 0),
		PortStart:       envIntOr("VEILGATE_PORT_START", 20000),
		PortEnd:         envIntOr("VEILGATE_PORT_END", 20999),
		ProbeURL:        envOr("VEILGATE_PROBE_URL", "http://cp.cloudflare.com/generate_204"),
		CoreWarmup:      envDurationOr("VEILGATE_CORE_WARMUP", 500*time.Millisecond),
		ProbeWarmup:     envDurationOr("VEILGATE_PROBE_WARMUP", 800*time.Millisecond),
		ProbeTimeout:    5 * time.Second,
		TunnelTimeout:   envDurationOr("VEILGATE_TUNNEL_TIMEOUT", 15*time.Second),
		DecisionTimeout: 5 * time.Minute,
		SettleDelay:     envDurationOr("VEILGATE_SETTLE_DELAY", 500*time.Millisecond),
		ShutdownTimeout: 10 * time.Second,
	}

	cfg.ConfigPath = envOr("VEILGATE_CONFIG", defaultPath())

	data, err := os.ReadFile(cfg.ConfigPath)
	if err != nil {
		return cfg
	}

	var fc FileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return cfg
	}
	applyFileConfig(cfg, fc)
	return cfg
}

func applyFileConfig(cfg *RuntimeConfig, fc FileConfig) {
	if fc.Port != "" && os.Getenv("VEILGATE_PORT") == "" {
		cfg.Port = fc.Port
	}
	if fc.Token != "" && os.Getenv("VEILGATE_TOKEN") == "" {
		cfg.Token = fc.Token
	}
	if fc.DataDir != "" && os.Getenv("VEILGATE_DATA_DIR") == "" {
		cfg.DataDir = fc.DataDir
	}
	if fc.CoreBinary != "" && os.Getenv("VEILGATE_CORE_BINARY") == "" {
		cfg.CoreBinary = fc.CoreBinary
	}
	if fc.SSHBinary != "" && os.Getenv("VEILGATE_SSH_BINARY") == "" {
		cfg.SSHBinary = fc.SSHBinary
	}
	if fc.PlinkBinary != "" && os.Getenv("VEILGATE_PLINK_BINARY") == "" {
		cfg.PlinkBinary = fc.PlinkBinary
	}
	if fc.ChromeBinary != "" && os.Getenv("CHROME_BINARY") == "" {
		cfg.ChromeBinary = fc.ChromeBinary
	}
	if fc.ChromeVersion != "" && os.Getenv("VEILGATE_CHROME_VERSION") == "" {
		cfg.ChromeVersion = fc.ChromeVersion
	}
	if fc.ExtensionsDir != "" && os.Getenv("VEILGATE_EXTENSIONS_DIR") == "" {
		cfg.ExtensionsDir = fc.ExtensionsDir
	}
	if fc.Headless != nil && os.Getenv("VEILGATE_HEADLESS") == "" {
		cfg.Headless = *fc.Headless
	}
	if fc.DebugPort > 0 && os.Getenv("VEILGATE_DEBUG_PORT") == "" {
		cfg.DebugPort = fc.DebugPort
	}
	if fc.PortStart > 0 && os.Getenv("VEILGATE_PORT_START") == "" {
		cfg.PortStart = fc.PortStart
	}
	if fc.PortEnd > 0 && os.Getenv("VEILGATE_PORT_END") == "" {
		cfg.PortEnd = fc.PortEnd
	}
	if fc.ProbeURL != "" && os.Getenv("VEILGATE_PROBE_URL") == "" {
		cfg.ProbeURL = fc.ProbeURL
	}
	if fc.TunnelSec > 0 && os.Getenv("VEILGATE_TUNNEL_TIMEOUT") == "" {
		cfg.TunnelTimeout = time.Duration(fc.TunnelSec) * time.Second
	}
}

func DefaultFileConfig() FileConfig {
	h := false
	return FileConfig{
		Port:       "9870",
		DataDir:    filepath.Join(homeDir(), ".veilgate"),
		CoreBinary: "xray",
		SSHBinary:  "ssh",
		Headless:   &h,
		PortStart:  20000,
		PortEnd:    20999,
		ProbeURL:   "http://cp.cloudflare.com/generate_204",
		TunnelSec:  15,
	}
}

func HandleConfigCommand(cfg *RuntimeConfig, args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: veilgate config <command>")
		fmt.Println("Commands:")
		fmt.Println("  init    - Create default config file")
		fmt.Println("  show    - Show current configuration")
		return
	}

	switch args[0] {
	case "init":
		configPath := cfg.ConfigPath

		if _, err := os.Stat(configPath); err == nil {
			fmt.Printf("Config file already exists at %s\n", configPath)
			fmt.Print("Overwrite? (y/N): ")
			var response string
			_, _ = fmt.Scanln(&response)
			if response != "y" && response != "Y" {
				return
			}
		}

		if err := WriteDefault(configPath); err != nil {
			fmt.Printf("Error writing config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Config file created at %s\n", configPath)

	case "show":
		fmt.Println("Current configuration:")
		fmt.Printf("  Listen:     %s\n", cfg.ListenAddr())
		fmt.Printf("  Token:      %s\n", MaskToken(cfg.Token))
		fmt.Printf("  Data Dir:   %s\n", cfg.DataDir)
		fmt.Printf("  Core:       %s\n", cfg.CoreBinary)
		fmt.Printf("  SSH:        %s\n", cfg.SSHBinary)
		fmt.Printf("  Plink:      %s\n", orNone(cfg.PlinkBinary))
		fmt.Printf("  Chrome:     %s\n", orNone(cfg.ChromeBinary))
		fmt.Printf("  Headless:   %v\n", cfg.Headless)
		fmt.Printf("  Ports:      %d-%d (debug %d)\n", cfg.PortStart, cfg.PortEnd, cfg.DebugPort)
		fmt.Printf("  Probe:      %s\n", cfg.ProbeURL)
		fmt.Printf("  Timeouts:   tunnel=%v decision=%v\n", cfg.TunnelTimeout, cfg.DecisionTimeout)

	default:
		fmt.Printf("Unknown command: %s\n", args[0])
		os.Exit(1)
	}
}

// WriteDefault writes DefaultFileConfig to path, creating parent directories.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, _ := json.MarshalIndent(DefaultFileConfig(), "", "  ")
	return os.WriteFile(path, data, 0644)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func MaskToken(t string) string {
	if t == "" {
		return "(none)"
	}
	if len(t) <= 8 {
		return "***"
	}
	return t[:4] + "..." + t[len(t)-4:]
}
