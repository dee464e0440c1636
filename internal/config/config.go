package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	boterrors "github.com/hpungsan/namecall/internal/errors"
)

// Pipeline modes.
const (
	ModePassthrough = "passthrough"
	ModeHeuristic   = "heuristic"
)

// Storage backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Transport kinds.
const (
	TransportConsole = "console"
	TransportBridge  = "bridge"
)

// Oracle kinds.
const (
	OracleAniList = "anilist"
	OracleJikan   = "jikan"
	OracleKitsu   = "kitsu"
)

// Config holds application configuration.
type Config struct {
	// Owners is the allow-list of sender ids permitted to issue control commands.
	// Ids are compared after stripping any "@server" suffix.
	Owners []string `json:"owners,omitempty" yaml:"owners,omitempty"`

	Commands  CommandsConfig  `json:"commands" yaml:"commands"`
	Pipeline  PipelineConfig  `json:"pipeline" yaml:"pipeline"`
	Dedup     DedupConfig     `json:"dedup" yaml:"dedup"`
	Oracles   []OracleConfig  `json:"oracles,omitempty" yaml:"oracles,omitempty"`
	Delivery  DeliveryConfig  `json:"delivery" yaml:"delivery"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Transport TransportConfig `json:"transport" yaml:"transport"`
	HTTP      HTTPConfig      `json:"http" yaml:"http"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`

	// AllowedPaths are extra directories export/import may use besides
	// ~/.namecall/exports. Only absolute paths are honored.
	AllowedPaths []string `json:"allowed_paths,omitempty" yaml:"allowed_paths,omitempty"`

	// AllowUnsafePaths lifts the directory restriction on export/import.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty" yaml:"allow_unsafe_paths,omitempty"`

	// DisabledTools names MCP tools that are not registered.
	DisabledTools []string `json:"disabled_tools,omitempty" yaml:"disabled_tools,omitempty"`
}

// CommandsConfig lists the exact-match tokens for each control command.
type CommandsConfig struct {
	List       []string `json:"list,omitempty" yaml:"list,omitempty"`
	Deactivate []string `json:"deactivate,omitempty" yaml:"deactivate,omitempty"`
	Status     []string `json:"status,omitempty" yaml:"status,omitempty"`
}

// PipelineConfig controls candidate filtering and learning.
type PipelineConfig struct {
	// Mode is "passthrough" (every token is a candidate) or "heuristic".
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`

	// Learn resolves candidates in the background and remembers oracle hits.
	Learn bool `json:"learn,omitempty" yaml:"learn,omitempty"`
}

// DedupConfig bounds the processed-event set.
type DedupConfig struct {
	Capacity int `json:"capacity,omitempty" yaml:"capacity,omitempty"`

	// StaleAfterSeconds drops events older than this unless they are newer than
	// the last admitted event. Negative disables the check.
	StaleAfterSeconds int `json:"stale_after_seconds,omitempty" yaml:"stale_after_seconds,omitempty"`
}

// OracleConfig describes one remote name-lookup endpoint.
type OracleConfig struct {
	Name      string  `json:"name" yaml:"name"`
	Kind      string  `json:"kind" yaml:"kind"`
	URL       string  `json:"url" yaml:"url"`
	TimeoutMS int     `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	RPS       float64 `json:"rps,omitempty" yaml:"rps,omitempty"`
	Burst     int     `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// DeliveryConfig holds outbound pacing constants. Jitter fields use 0 to
// inherit and a negative value to disable.
type DeliveryConfig struct {
	BaseDelayMS     int            `json:"base_delay_ms,omitempty" yaml:"base_delay_ms,omitempty"`
	PerUnitDelayMS  int            `json:"per_unit_delay_ms,omitempty" yaml:"per_unit_delay_ms,omitempty"`
	JitterMS        int            `json:"jitter_ms,omitempty" yaml:"jitter_ms,omitempty"`
	DelayScale      float64        `json:"delay_scale,omitempty" yaml:"delay_scale,omitempty"`
	BackoffBaseMS   int            `json:"backoff_base_ms,omitempty" yaml:"backoff_base_ms,omitempty"`
	BackoffCapMS    int            `json:"backoff_cap_ms,omitempty" yaml:"backoff_cap_ms,omitempty"`
	BackoffJitterMS int            `json:"backoff_jitter_ms,omitempty" yaml:"backoff_jitter_ms,omitempty"`
	Mistakes        MistakesConfig `json:"mistakes" yaml:"mistakes"`
}

// MistakesConfig controls deliberate imperfect responses.
type MistakesConfig struct {
	Enabled               bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Probability           float64 `json:"probability,omitempty" yaml:"probability,omitempty"`
	CorrectionProbability float64 `json:"correction_probability,omitempty" yaml:"correction_probability,omitempty"`
	CorrectionDelayMS     int     `json:"correction_delay_ms,omitempty" yaml:"correction_delay_ms,omitempty"`

	// Kinds restricts the mistake kinds (typo, partial_response, reorder,
	// delay_mistake). Empty allows all.
	Kinds []string `json:"kinds,omitempty" yaml:"kinds,omitempty"`
}

// StorageConfig selects the mapping persistence backend.
type StorageConfig struct {
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`

	// Path overrides the default file location inside the base directory.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Watch reloads the JSON document when it is edited on disk, so CLI and
	// MCP edits reach a running bot. Unset means on.
	Watch *bool `json:"watch,omitempty" yaml:"watch,omitempty"`

	// SnapshotSchedule is a cron spec for periodic persistence. Empty disables.
	SnapshotSchedule string `json:"snapshot_schedule,omitempty" yaml:"snapshot_schedule,omitempty"`

	// StaticNames seeds the static table on first run.
	StaticNames map[string]string `json:"static_names,omitempty" yaml:"static_names,omitempty"`
}

// TransportConfig selects the chat transport adapter.
type TransportConfig struct {
	Kind string `json:"kind,omitempty" yaml:"kind,omitempty"`

	// URL is the websocket endpoint of the bridge transport.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// ConsoleGroup is the group id the console transport reports.
	ConsoleGroup string `json:"console_group,omitempty" yaml:"console_group,omitempty"`
}

// HTTPConfig controls the status server. Port 0 disables it.
type HTTPConfig struct {
	Bind string `json:"bind,omitempty" yaml:"bind,omitempty"`
	Port int    `json:"port,omitempty" yaml:"port,omitempty"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Commands: CommandsConfig{
			List:       []string{"activate-list", ".a", ".ابدا"},
			Deactivate: []string{"deactivate", ".x", ".وقف"},
			Status:     []string{"status", ".status", ".حالة"},
		},
		Pipeline: PipelineConfig{
			Mode: ModePassthrough,
		},
		Dedup: DedupConfig{
			Capacity:          200,
			StaleAfterSeconds: 30,
		},
		Oracles: []OracleConfig{
			{Name: "anilist", Kind: OracleAniList, URL: "https://graphql.anilist.co/", TimeoutMS: 660, RPS: 1.5, Burst: 3},
			{Name: "jikan", Kind: OracleJikan, URL: "https://api.jikan.moe/v4/characters", TimeoutMS: 660, RPS: 1, Burst: 3},
			{Name: "kitsu", Kind: OracleKitsu, URL: "https://kitsu.io/api/edge/characters", TimeoutMS: 660, RPS: 2, Burst: 4},
		},
		Delivery: DeliveryConfig{
			BaseDelayMS:     800,
			PerUnitDelayMS:  300,
			JitterMS:        1000,
			DelayScale:      0.3,
			BackoffBaseMS:   1000,
			BackoffCapMS:    30000,
			BackoffJitterMS: 1000,
			Mistakes: MistakesConfig{
				Probability:           0.1,
				CorrectionProbability: 0.7,
				CorrectionDelayMS:     2500,
			},
		},
		Storage: StorageConfig{
			Backend:          BackendJSON,
			SnapshotSchedule: "@every 5m",
		},
		Transport: TransportConfig{
			Kind:         TransportConsole,
			ConsoleGroup: "console@g.us",
		},
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from baseDir/config.json, falling back to
// baseDir/config.yaml. Returns default config if neither file exists.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.namecall.
func Load(baseDir string) (*Config, error) {
	for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
		path := filepath.Join(baseDir, name)
		if _, err := os.Stat(path); err == nil {
			return loadFile(path)
		}
	}
	return DefaultConfig(), nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// ApplyEnv overrides selected fields from NAMECALL_* environment variables.
func ApplyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("NAMECALL_OWNERS")); v != "" {
		cfg.Owners = mergeStringSlice(nil, strings.Split(v, ","))
	}
	if v := strings.TrimSpace(os.Getenv("NAMECALL_BRIDGE_URL")); v != "" {
		cfg.Transport.Kind = TransportBridge
		cfg.Transport.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("NAMECALL_STORAGE")); v != "" {
		cfg.Storage.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("NAMECALL_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks enumerations and ranges.
func (c *Config) Validate() error {
	switch c.Pipeline.Mode {
	case ModePassthrough, ModeHeuristic:
	default:
		return boterrors.NewInvalidRequest(fmt.Sprintf("pipeline.mode must be one of: %s, %s", ModePassthrough, ModeHeuristic))
	}
	switch c.Storage.Backend {
	case BackendJSON, BackendSQLite:
	default:
		return boterrors.NewInvalidRequest(fmt.Sprintf("storage.backend must be one of: %s, %s", BackendJSON, BackendSQLite))
	}
	switch c.Transport.Kind {
	case TransportConsole:
	case TransportBridge:
		if strings.TrimSpace(c.Transport.URL) == "" {
			return boterrors.NewInvalidRequest("transport.url is required for the bridge transport")
		}
	default:
		return boterrors.NewInvalidRequest(fmt.Sprintf("transport.kind must be one of: %s, %s", TransportConsole, TransportBridge))
	}
	if c.Dedup.Capacity <= 0 {
		return boterrors.NewInvalidRequest("dedup.capacity must be positive")
	}
	for _, o := range c.Oracles {
		switch o.Kind {
		case OracleAniList, OracleJikan, OracleKitsu:
		default:
			return boterrors.NewInvalidRequest(fmt.Sprintf("oracle %q has unknown kind %q", o.Name, o.Kind))
		}
		if strings.TrimSpace(o.URL) == "" {
			return boterrors.NewInvalidRequest(fmt.Sprintf("oracle %q has no url", o.Name))
		}
	}
	m := c.Delivery.Mistakes
	if m.Probability < 0 || m.Probability > 1 || m.CorrectionProbability < 0 || m.CorrectionProbability > 1 {
		return boterrors.NewInvalidRequest("mistake probabilities must be within [0,1]")
	}
	for _, k := range m.Kinds {
		switch k {
		case "typo", "partial_response", "reorder", "delay_mistake":
		default:
			return boterrors.NewInvalidRequest(fmt.Sprintf("unknown mistake kind %q", k))
		}
	}
	return nil
}

// StoragePath returns the mapping file location for the configured backend.
func (c *Config) StoragePath(baseDir string) string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	if c.Storage.Backend == BackendSQLite {
		return baseDir
	}
	return filepath.Join(baseDir, "character-mappings.json")
}

// WatchEnabled reports whether the JSON document is watched for edits.
func (s StorageConfig) WatchEnabled() bool {
	return s.Watch == nil || *s.Watch
}

// StaleAfter returns the dedup staleness window, zero when disabled.
func (d DedupConfig) StaleAfter() time.Duration {
	if d.StaleAfterSeconds <= 0 {
		return 0
	}
	return time.Duration(d.StaleAfterSeconds) * time.Second
}

// Timeout returns the per-call timeout, defaulting to 660ms.
func (o OracleConfig) Timeout() time.Duration {
	if o.TimeoutMS <= 0 {
		return 660 * time.Millisecond
	}
	return time.Duration(o.TimeoutMS) * time.Millisecond
}

// Ms converts a millisecond config value; negative values mean zero.
func Ms(v int) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v) * time.Millisecond
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
// Oracles and static names from the overlay replace the base set when present.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.Owners = mergeStringSlice(base.Owners, overlay.Owners)
	result.Commands.List = mergeStringSlice(base.Commands.List, overlay.Commands.List)
	result.Commands.Deactivate = mergeStringSlice(base.Commands.Deactivate, overlay.Commands.Deactivate)
	result.Commands.Status = mergeStringSlice(base.Commands.Status, overlay.Commands.Status)

	result.Pipeline.Mode = pickString(overlay.Pipeline.Mode, base.Pipeline.Mode)
	result.Pipeline.Learn = base.Pipeline.Learn || overlay.Pipeline.Learn

	result.Dedup.Capacity = pickInt(overlay.Dedup.Capacity, base.Dedup.Capacity)
	result.Dedup.StaleAfterSeconds = pickInt(overlay.Dedup.StaleAfterSeconds, base.Dedup.StaleAfterSeconds)

	result.Oracles = base.Oracles
	if len(overlay.Oracles) > 0 {
		result.Oracles = overlay.Oracles
	}

	bd, od := base.Delivery, overlay.Delivery
	result.Delivery = DeliveryConfig{
		BaseDelayMS:     pickInt(od.BaseDelayMS, bd.BaseDelayMS),
		PerUnitDelayMS:  pickInt(od.PerUnitDelayMS, bd.PerUnitDelayMS),
		JitterMS:        pickInt(od.JitterMS, bd.JitterMS),
		DelayScale:      pickFloat(od.DelayScale, bd.DelayScale),
		BackoffBaseMS:   pickInt(od.BackoffBaseMS, bd.BackoffBaseMS),
		BackoffCapMS:    pickInt(od.BackoffCapMS, bd.BackoffCapMS),
		BackoffJitterMS: pickInt(od.BackoffJitterMS, bd.BackoffJitterMS),
		Mistakes: MistakesConfig{
			Enabled:               bd.Mistakes.Enabled || od.Mistakes.Enabled,
			Probability:           pickFloat(od.Mistakes.Probability, bd.Mistakes.Probability),
			CorrectionProbability: pickFloat(od.Mistakes.CorrectionProbability, bd.Mistakes.CorrectionProbability),
			CorrectionDelayMS:     pickInt(od.Mistakes.CorrectionDelayMS, bd.Mistakes.CorrectionDelayMS),
			Kinds:                 bd.Mistakes.Kinds,
		},
	}
	if len(od.Mistakes.Kinds) > 0 {
		result.Delivery.Mistakes.Kinds = od.Mistakes.Kinds
	}

	result.Storage = StorageConfig{
		Backend:          pickString(overlay.Storage.Backend, base.Storage.Backend),
		Path:             pickString(overlay.Storage.Path, base.Storage.Path),
		Watch:            base.Storage.Watch,
		SnapshotSchedule: pickString(overlay.Storage.SnapshotSchedule, base.Storage.SnapshotSchedule),
		StaticNames:      base.Storage.StaticNames,
	}
	if overlay.Storage.Watch != nil {
		result.Storage.Watch = overlay.Storage.Watch
	}
	if len(overlay.Storage.StaticNames) > 0 {
		result.Storage.StaticNames = overlay.Storage.StaticNames
	}

	result.Transport = TransportConfig{
		Kind:         pickString(overlay.Transport.Kind, base.Transport.Kind),
		URL:          pickString(overlay.Transport.URL, base.Transport.URL),
		ConsoleGroup: pickString(overlay.Transport.ConsoleGroup, base.Transport.ConsoleGroup),
	}
	result.HTTP = HTTPConfig{
		Bind: pickString(overlay.HTTP.Bind, base.HTTP.Bind),
		Port: pickInt(overlay.HTTP.Port, base.HTTP.Port),
	}
	result.Logging = LoggingConfig{
		Level:  pickString(overlay.Logging.Level, base.Logging.Level),
		Format: pickString(overlay.Logging.Format, base.Logging.Format),
	}

	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickFloat(overlay, base float64) float64 {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
