package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level Smart Answer config.
	WorkspaceDirName = ".smartanswer"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// Operating modes of the engine.
const (
	ModeInteractive = "interactive"
	ModeAutonomous  = "autonomous"
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the Smart Answer agent.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Browser BrowserConfig `yaml:"browser"`
	Engine  EngineConfig  `yaml:"engine"`
	Solver  SolverConfig  `yaml:"solver"`
	MCP     MCPConfig     `yaml:"mcp"`
	Mangle  MangleConfig  `yaml:"mangle"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
	// Directory for JSONL pipeline traces; empty disables the recorder.
	TraceDir string `yaml:"trace_dir"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). When both this and
	// launch are empty, Rod finds or downloads a browser itself.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Stealth opens pages with go-rod/stealth evasions applied.
	Stealth bool `yaml:"stealth"`
	// StartURL is the page the engine watches.
	StartURL string `yaml:"start_url"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Viewport width for new pages (default: 1920).
	ViewportWidth int `yaml:"viewport_width"`
	// Viewport height for new pages (default: 1080).
	ViewportHeight int `yaml:"viewport_height"`
}

// EngineConfig describes the markup the engine looks for and how it acts.
// The autonomous confidence gate is a fixed policy and deliberately absent.
type EngineConfig struct {
	// Mode is "interactive" (render + highlight) or "autonomous" (select silently).
	Mode string `yaml:"mode"`
	// ContainerSelectors identify question containers.
	ContainerSelectors []string `yaml:"container_selectors"`
	// QuestionSelectors identify the prompt text node inside a container.
	QuestionSelectors []string `yaml:"question_selectors"`
	LabelSelector     string   `yaml:"label_selector"`
	ControlSelector   string   `yaml:"control_selector"`
	// MarkerAttribute is written on a container when it is claimed.
	MarkerAttribute string `yaml:"marker_attribute"`
	HighlightClass  string `yaml:"highlight_class"`
}

// SolverConfig points at the remote solve endpoint.
type SolverConfig struct {
	Endpoint string `yaml:"endpoint"`
	// Request timeout (e.g., "60s").
	Timeout string `yaml:"timeout"`
}

type MCPConfig struct {
	// Enable exposes engine tools over MCP.
	Enable bool `yaml:"enable"`
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// MangleConfig controls the embedded fact store.
type MangleConfig struct {
	Enable bool `yaml:"enable"`
	// SchemaPath overrides the built-in schema when set.
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "smartanswer",
			Version: "0.1.0",
			LogFile: "smartanswer.log",
		},
		Browser: BrowserConfig{
			DefaultNavigationTimeout: "15s",
			ViewportWidth:            1920,
			ViewportHeight:           1080,
		},
		Engine: DefaultEngineConfig(),
		Solver: SolverConfig{
			Endpoint: "http://localhost:8000/solve",
			Timeout:  "60s",
		},
		MCP: MCPConfig{
			Enable:  false,
			SSEPort: 0,
		},
		Mangle: MangleConfig{
			Enable:          true,
			FactBufferLimit: 2048,
		},
	}
}

// DefaultEngineConfig targets Blackboard-style quiz markup.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Mode:               ModeInteractive,
		ContainerSelectors: []string{".takeQuestionDiv", ".stepcontent"},
		QuestionSelectors:  []string{".vtbegenerated", ".legend-visible", ".questionText"},
		LabelSelector:      "label",
		ControlSelector:    `input[type="radio"], input[type="checkbox"]`,
		MarkerAttribute:    "data-smart-answer-processed",
		HighlightClass:     "smart-answer-highlight",
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .smartanswer/config.yaml file.
// Returns the workspace root directory (parent of .smartanswer/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .smartanswer/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .smartanswer/ directory with a template config at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	for _, d := range []string{wsDir, filepath.Join(wsDir, "data")} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# Smart Answer project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# engine:
#   mode: autonomous
#   container_selectors: [".takeQuestionDiv", ".stepcontent"]

# solver:
#   endpoint: "http://localhost:8000/solve"
#   timeout: "60s"

# browser:
#   start_url: "https://example.edu/quiz"
#   headless: false

# server:
#   trace_dir: "data/traces"
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignoreContent := "# Runtime data (logs, traces) - do not version control\ndata/\n"
	if err := os.WriteFile(filepath.Join(wsDir, ".gitignore"), []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Server.TraceDir = resolve(cfg.Server.TraceDir)
	cfg.Mangle.SchemaPath = resolve(cfg.Mangle.SchemaPath)
	return cfg
}

// Validate ensures required fields exist so the agent can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Solver.Endpoint == "" {
		return errors.New("solver.endpoint is required")
	}
	return c.Engine.Validate()
}

// Validate checks the engine's mode and selectors.
func (e EngineConfig) Validate() error {
	switch e.Mode {
	case ModeInteractive, ModeAutonomous:
	default:
		return fmt.Errorf("engine.mode must be %q or %q, got %q", ModeInteractive, ModeAutonomous, e.Mode)
	}
	if len(e.ContainerSelectors) == 0 {
		return errors.New("engine.container_selectors is required")
	}
	if e.LabelSelector == "" || e.ControlSelector == "" {
		return errors.New("engine.label_selector and engine.control_selector are required")
	}
	if e.MarkerAttribute == "" {
		return errors.New("engine.marker_attribute is required")
	}
	return nil
}

// Autonomous reports whether the engine selects answers without a user.
func (e EngineConfig) Autonomous() bool {
	return e.Mode == ModeAutonomous
}

// QuestionSelector joins the question selectors into one selector list.
func (e EngineConfig) QuestionSelector() string {
	return strings.Join(e.QuestionSelectors, ", ")
}

// UnclaimedSelector matches containers that do not yet carry the marker.
func (e EngineConfig) UnclaimedSelector() string {
	parts := make([]string, 0, len(e.ContainerSelectors))
	for _, s := range e.ContainerSelectors {
		parts = append(parts, fmt.Sprintf(`%s:not([%s="true"])`, s, e.MarkerAttribute))
	}
	return strings.Join(parts, ", ")
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	if b.DefaultNavigationTimeout == "" {
		return 15 * time.Second
	}
	d, err := time.ParseDuration(b.DefaultNavigationTimeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1920
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 1080
	}
	return b.ViewportHeight
}

// RequestTimeout returns the parsed solver timeout with a sane default.
func (s SolverConfig) RequestTimeout() time.Duration {
	if s.Timeout == "" {
		return 60 * time.Second
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}
