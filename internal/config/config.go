package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// LocalConfigName is the per-project config file searched for upwards from the working directory
const LocalConfigName = "regress.toml"

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Build         BuildConfig         `toml:"build"`
	Coverage      CoverageConfig      `toml:"coverage"`
	Discovery     DiscoveryConfig     `toml:"discovery"`
	Notifications NotificationsConfig `toml:"notifications"`
	Batches       []BatchConfig       `toml:"batch"`
}

// GeneralConfig holds locations and pipeline defaults
type GeneralConfig struct {
	TestsRoot        string `toml:"tests_root"`
	ArtifactDir      string `toml:"artifact_dir"`
	CumulativeDB     string `toml:"cumulative_db"`
	MasterLog        string `toml:"master_log"`
	ReportFile       string `toml:"report_file"`
	HistoryDB        string `toml:"history_db"`
	Runs             int    `toml:"runs"`
	Width            int    `toml:"width"`
	FailOnRunFailure bool   `toml:"fail_on_run_failure"`
	Debug            bool   `toml:"debug"`
}

// BuildConfig describes how a test unit is invoked
type BuildConfig struct {
	Command  []string          `toml:"command"`
	SeedVar  string            `toml:"seed_var"`
	TraceVar string            `toml:"trace_var"`
	Timeout  string            `toml:"timeout"`
	Env      map[string]string `toml:"env"`
}

// CoverageConfig holds settings for the external coverage tool
type CoverageConfig struct {
	Tool          string   `toml:"tool"`
	Sources       []string `toml:"sources"`
	Top           string   `toml:"top"`
	Scope         string   `toml:"scope"`
	VerboseReport bool     `toml:"verbose_report"`
}

// DiscoveryConfig controls test unit discovery
type DiscoveryConfig struct {
	Exclude []string `toml:"exclude"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// BatchConfig represents a cron-scheduled regression batch
type BatchConfig struct {
	Name    string `toml:"name"`
	Cron    string `toml:"cron"`
	Runs    int    `toml:"runs"`
	Width   int    `toml:"width"`
	Verbose bool   `toml:"verbose"`
	Clean   bool   `toml:"clean"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			TestsRoot:    ".",
			ArtifactDir:  "cov",
			CumulativeDB: "merged.cdd",
			MasterLog:    "latest_regress.log",
			ReportFile:   "coverage.log",
			HistoryDB:    filepath.Join(".regress", "history.db"),
			Runs:         1,
			Width:        4,
		},
		Build: BuildConfig{
			Command:  []string{"make"},
			SeedVar:  "RANDOM_SEED",
			TraceVar: "VCD_PATH",
		},
		Coverage: CoverageConfig{
			Tool: "covered",
			Sources: []string{
				filepath.Join("..", "src", "FPGA_NESReciever.v"),
				filepath.Join("..", "src", "peripheral.v"),
			},
			Top:   "tqvp_nes_snes_controller",
			Scope: "tb.test_harness.user_peripheral",
		},
	}
}

// Load reads a project configuration from a TOML file, falling back to
// defaults. Relative paths are resolved against the directory holding the file.
func Load(path string) (*Config, error) {
	return load(path, filepath.Dir(path))
}

// LoadGlobal reads the user-level configuration. It is not tied to a
// project, so relative paths are resolved against the working directory.
func LoadGlobal(path string) (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return load(path, wd)
}

func load(path, base string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.Resolve(base)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Resolve expands ~ and anchors relative paths at base
func (c *Config) Resolve(base string) {
	anchor := func(p string) string {
		p = ExpandPath(p)
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	c.General.TestsRoot = anchor(c.General.TestsRoot)
	c.General.ArtifactDir = anchor(c.General.ArtifactDir)
	c.General.MasterLog = anchor(c.General.MasterLog)
	c.General.ReportFile = anchor(c.General.ReportFile)
	c.General.HistoryDB = anchor(c.General.HistoryDB)
	for i, src := range c.Coverage.Sources {
		c.Coverage.Sources[i] = anchor(src)
	}
}

// Validate checks the values the pipeline depends on
func (c *Config) Validate() error {
	if c.General.Runs < 1 {
		return fmt.Errorf("general.runs must be >= 1, got %d", c.General.Runs)
	}
	if c.General.Width < 1 {
		return fmt.Errorf("general.width must be >= 1, got %d", c.General.Width)
	}
	if c.General.CumulativeDB == "" || strings.ContainsRune(c.General.CumulativeDB, filepath.Separator) {
		return fmt.Errorf("general.cumulative_db must be a plain file name, got %q", c.General.CumulativeDB)
	}
	if len(c.Build.Command) == 0 || c.Build.Command[0] == "" {
		return fmt.Errorf("build.command is required")
	}
	if _, err := c.BuildTimeout(); err != nil {
		return err
	}
	if c.Coverage.Tool == "" {
		return fmt.Errorf("coverage.tool is required")
	}
	if len(c.Coverage.Sources) == 0 {
		return fmt.Errorf("coverage.sources must list at least one design file")
	}
	for i := range c.Batches {
		if err := c.Batches[i].Validate(); err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
	}
	return nil
}

// BuildTimeout returns the per-task timeout; zero means none
func (c *Config) BuildTimeout() (time.Duration, error) {
	if c.Build.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Build.Timeout)
	if err != nil {
		return 0, fmt.Errorf("build.timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("build.timeout must not be negative")
	}
	return d, nil
}

// Validate checks if the batch is usable and fills defaults
func (b *BatchConfig) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("batch name is required")
	}
	if b.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(b.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if b.Runs <= 0 {
		b.Runs = 1
	}
	if b.Width < 0 {
		return fmt.Errorf("batch width must not be negative")
	}
	return nil
}

// ParseCron parses a standard five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// Save writes the configuration as TOML
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "hdl-regress", "config.toml")
}

// FindLocalConfig walks up from the working directory looking for regress.toml.
// Returns "" when none is found.
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
