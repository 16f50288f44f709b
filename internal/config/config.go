package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/audiolibrelab/trialsync/internal/audio"
	"github.com/audiolibrelab/trialsync/internal/routing"
	"github.com/audiolibrelab/trialsync/internal/sensor"
)

type GlobalsConfig struct {
	RecordingsDirectory string `mapstructure:"recordings_directory" yaml:"recordings_directory"`
	StimuliDirectory    string `mapstructure:"stimuli_directory" yaml:"stimuli_directory"`
}

type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig            `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Configs      map[string]*ConfigProfile `mapstructure:"configs" yaml:"configs"`
}

type SensorConfig struct {
	Port        string        `mapstructure:"port" yaml:"port"`
	BaudRate    int           `mapstructure:"baud_rate" yaml:"baud_rate"`
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	Mode        string        `mapstructure:"mode" yaml:"mode"` // "count" or "duration"
	SampleCount int           `mapstructure:"sample_count" yaml:"sample_count"`
	Window      time.Duration `mapstructure:"window" yaml:"window"`
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	ZeroCommand string        `mapstructure:"zero_command" yaml:"zero_command"`
}

type AudioConfig struct {
	Backend        string           `mapstructure:"backend" yaml:"backend"` // "portaudio", "simulated", "auto"
	SampleRate     int              `mapstructure:"sample_rate" yaml:"sample_rate"`
	ChunkSize      int              `mapstructure:"chunk_size" yaml:"chunk_size"`
	RecordChannels int              `mapstructure:"record_channels" yaml:"record_channels"`
	DurationOffset time.Duration    `mapstructure:"duration_offset" yaml:"duration_offset"`
	PreRoll        time.Duration    `mapstructure:"pre_roll" yaml:"pre_roll"`
	InputDevice    string           `mapstructure:"input_device" yaml:"input_device"` // name substring, empty = host default
	Candidates     routing.Criteria `mapstructure:"candidates" yaml:"candidates"`
}

// StimulusType is a named stimulus file, e.g. {name: pink, file: pink.wav}.
type StimulusType struct {
	Name string `mapstructure:"name" yaml:"name"`
	File string `mapstructure:"file" yaml:"file"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

type Config struct {
	Simulate bool            `mapstructure:"simulate" yaml:"simulate"`
	Sensor   SensorConfig    `mapstructure:"sensor" yaml:"sensor"`
	Audio    AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Lines    []routing.Entry `mapstructure:"lines" yaml:"lines"`
	Stimuli  []StimulusType  `mapstructure:"stimuli" yaml:"stimuli"`
	Output   OutputConfig    `mapstructure:"output" yaml:"output"`

	StimuliDirectory string `mapstructure:"-" yaml:"stimuli_directory,omitempty"`

	// Internal field to track inheritance information for info command
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

// ConfigProfile is a profile as written in the file. Scalars are pointers
// so an explicit zero ("0s", 0, "") is told apart from a key the profile
// leaves to the default profile.
type ConfigProfile struct {
	Simulate *bool           `mapstructure:"simulate" yaml:"simulate,omitempty"`
	Sensor   SensorProfile   `mapstructure:"sensor" yaml:"sensor"`
	Audio    AudioProfile    `mapstructure:"audio" yaml:"audio"`
	Lines    []routing.Entry `mapstructure:"lines" yaml:"lines"`
	Stimuli  []StimulusType  `mapstructure:"stimuli" yaml:"stimuli"`
	Output   OutputProfile   `mapstructure:"output" yaml:"output"`
}

type SensorProfile struct {
	Port        *string        `mapstructure:"port" yaml:"port,omitempty"`
	BaudRate    *int           `mapstructure:"baud_rate" yaml:"baud_rate,omitempty"`
	SettleDelay *time.Duration `mapstructure:"settle_delay" yaml:"settle_delay,omitempty"`
	Mode        *string        `mapstructure:"mode" yaml:"mode,omitempty"`
	SampleCount *int           `mapstructure:"sample_count" yaml:"sample_count,omitempty"`
	Window      *time.Duration `mapstructure:"window" yaml:"window,omitempty"`
	ReadTimeout *time.Duration `mapstructure:"read_timeout" yaml:"read_timeout,omitempty"`
	ZeroCommand *string        `mapstructure:"zero_command" yaml:"zero_command,omitempty"`
}

type AudioProfile struct {
	Backend        *string           `mapstructure:"backend" yaml:"backend,omitempty"`
	SampleRate     *int              `mapstructure:"sample_rate" yaml:"sample_rate,omitempty"`
	ChunkSize      *int              `mapstructure:"chunk_size" yaml:"chunk_size,omitempty"`
	RecordChannels *int              `mapstructure:"record_channels" yaml:"record_channels,omitempty"`
	DurationOffset *time.Duration    `mapstructure:"duration_offset" yaml:"duration_offset,omitempty"`
	PreRoll        *time.Duration    `mapstructure:"pre_roll" yaml:"pre_roll,omitempty"`
	InputDevice    *string           `mapstructure:"input_device" yaml:"input_device,omitempty"`
	Candidates     CandidatesProfile `mapstructure:"candidates" yaml:"candidates"`
}

type CandidatesProfile struct {
	MinOutputChannels *int    `mapstructure:"min_output_channels" yaml:"min_output_channels,omitempty"`
	NameContains      *string `mapstructure:"name_contains" yaml:"name_contains,omitempty"`
	ExcludeContains   *string `mapstructure:"exclude_contains" yaml:"exclude_contains,omitempty"`
}

type OutputProfile struct {
	Directory *string `mapstructure:"directory" yaml:"directory,omitempty"`
}

// InheritanceInfo records, per dotted field name, whether the value came
// from the selected profile ("profile-specific"), the default profile
// ("inherited") or the built-in defaults ("builtin").
type InheritanceInfo struct {
	Profile string
	Fields  map[string]string
}

func newInheritance(profile string) *InheritanceInfo {
	return &InheritanceInfo{Profile: profile, Fields: make(map[string]string)}
}

var defaultConfig = Config{
	Sensor: SensorConfig{
		BaudRate:    9600,
		SettleDelay: 2 * time.Second,
		Mode:        string(sensor.ModeCount),
		SampleCount: 100,
		Window:      2 * time.Second,
		ReadTimeout: 10 * time.Second,
		ZeroCommand: "A",
	},
	Audio: AudioConfig{
		Backend:        string(audio.BackendTypeAuto),
		SampleRate:     44100,
		ChunkSize:      1024,
		RecordChannels: 2,
		DurationOffset: 100 * time.Millisecond,
		PreRoll:        2 * time.Second,
		Candidates: routing.Criteria{
			MinOutputChannels: 2,
			NameContains:      "Fireface Analog",
			ExcludeContains:   "(11+12)",
		},
	},
	Output: OutputConfig{
		Directory: filepath.Join(os.Getenv("HOME"), "Audio", "TrialSync"),
	},
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	c := defaultConfig
	c.Inheritance = newInheritance("builtin")
	return &c
}

// DefaultConfigPath is where the CLI looks when --config is not given.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".config", "trialsync.yaml")
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	// Merge with default profile if it exists and we're not already using default
	base := Default()
	if configName != "default" {
		if defaultProfile, exists := rootConfig.Configs["default"]; exists {
			base = mergeConfigs(base, defaultProfile, "default")
			for field, origin := range base.Inheritance.Fields {
				if origin == "profile-specific" {
					base.Inheritance.Fields[field] = "inherited"
				}
			}
		}
	}
	selectedConfig := mergeConfigs(base, selectedProfile, configName)

	// Global directories take precedence over any profile
	if g := rootConfig.Globals; g != nil {
		if g.RecordingsDirectory != "" {
			selectedConfig.Output.Directory = g.RecordingsDirectory
			selectedConfig.Inheritance.Fields["output.directory"] = "global"
		}
		if g.StimuliDirectory != "" {
			selectedConfig.StimuliDirectory = g.StimuliDirectory
		}
	}

	selectedConfig.Output.Directory = expandPath(selectedConfig.Output.Directory)
	selectedConfig.StimuliDirectory = expandPath(selectedConfig.StimuliDirectory)
	for i, st := range selectedConfig.Stimuli {
		selectedConfig.Stimuli[i].File = resolveStimulusFile(selectedConfig.StimuliDirectory, st.File)
	}

	if err := Validate(selectedConfig); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return selectedConfig, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	if _, ok := rootConfig.Configs[newActiveConfig]; !ok {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// mergeConfigs implements the "Selection & Fallback" inheritance model:
// scalar fields use the profile value when present, zero included, and
// fall back to base;
// the line table and stimulus list are replaced as a whole when the
// profile lists any entries.
func mergeConfigs(base *Config, profile *ConfigProfile, name string) *Config {
	result := &Config{}
	if base != nil {
		*result = *base
	}
	result.Inheritance = newInheritance(name)
	if base != nil && base.Inheritance != nil {
		for field, origin := range base.Inheritance.Fields {
			result.Inheritance.Fields[field] = origin
		}
	}
	if profile == nil {
		return result
	}

	track := result.Inheritance.Fields
	if profile.Simulate != nil {
		result.Simulate = *profile.Simulate
		track["simulate"] = "profile-specific"
	} else if _, ok := track["simulate"]; !ok {
		track["simulate"] = "builtin"
	}

	s, ps := &result.Sensor, profile.Sensor
	s.Port = pick(track, "sensor.port", s.Port, ps.Port)
	s.BaudRate = pick(track, "sensor.baud_rate", s.BaudRate, ps.BaudRate)
	s.SettleDelay = pick(track, "sensor.settle_delay", s.SettleDelay, ps.SettleDelay)
	s.Mode = pick(track, "sensor.mode", s.Mode, ps.Mode)
	s.SampleCount = pick(track, "sensor.sample_count", s.SampleCount, ps.SampleCount)
	s.Window = pick(track, "sensor.window", s.Window, ps.Window)
	s.ReadTimeout = pick(track, "sensor.read_timeout", s.ReadTimeout, ps.ReadTimeout)
	s.ZeroCommand = pick(track, "sensor.zero_command", s.ZeroCommand, ps.ZeroCommand)

	a, pa := &result.Audio, profile.Audio
	a.Backend = pick(track, "audio.backend", a.Backend, pa.Backend)
	a.SampleRate = pick(track, "audio.sample_rate", a.SampleRate, pa.SampleRate)
	a.ChunkSize = pick(track, "audio.chunk_size", a.ChunkSize, pa.ChunkSize)
	a.RecordChannels = pick(track, "audio.record_channels", a.RecordChannels, pa.RecordChannels)
	a.DurationOffset = pick(track, "audio.duration_offset", a.DurationOffset, pa.DurationOffset)
	a.PreRoll = pick(track, "audio.pre_roll", a.PreRoll, pa.PreRoll)
	a.InputDevice = pick(track, "audio.input_device", a.InputDevice, pa.InputDevice)
	a.Candidates.MinOutputChannels = pick(track, "audio.candidates.min_output_channels", a.Candidates.MinOutputChannels, pa.Candidates.MinOutputChannels)
	a.Candidates.NameContains = pick(track, "audio.candidates.name_contains", a.Candidates.NameContains, pa.Candidates.NameContains)
	a.Candidates.ExcludeContains = pick(track, "audio.candidates.exclude_contains", a.Candidates.ExcludeContains, pa.Candidates.ExcludeContains)

	result.Output.Directory = pick(track, "output.directory", result.Output.Directory, profile.Output.Directory)

	if len(profile.Lines) > 0 {
		result.Lines = append([]routing.Entry(nil), profile.Lines...)
		track["lines"] = "profile-specific"
	} else {
		result.Lines = append([]routing.Entry(nil), result.Lines...)
		markInherited(track, "lines")
	}
	if len(profile.Stimuli) > 0 {
		result.Stimuli = append([]StimulusType(nil), profile.Stimuli...)
		track["stimuli"] = "profile-specific"
	} else {
		result.Stimuli = append([]StimulusType(nil), result.Stimuli...)
		markInherited(track, "stimuli")
	}

	return result
}

// pick returns the profile value when the key is present and base
// otherwise, recording where the value came from.
func pick[T any](track map[string]string, field string, base T, profile *T) T {
	if profile != nil {
		track[field] = "profile-specific"
		return *profile
	}
	markInherited(track, field)
	return base
}

func markInherited(track map[string]string, field string) {
	if _, ok := track[field]; !ok {
		track[field] = "builtin"
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

func resolveStimulusFile(dir, file string) string {
	file = expandPath(file)
	if file == "" || filepath.IsAbs(file) || dir == "" {
		return file
	}
	return filepath.Join(dir, file)
}

// ValidateConfigurationFormat reads the configuration file and checks every
// profile in it.
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetEnvPrefix("TRIALSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section is required and cannot be empty")
	}
	if rootConfig.ActiveConfig != "" {
		if _, ok := rootConfig.Configs[rootConfig.ActiveConfig]; !ok {
			return nil, fmt.Errorf("active_config '%s' does not name a profile", rootConfig.ActiveConfig)
		}
	}

	for configName, configProfile := range rootConfig.Configs {
		if configProfile == nil {
			return nil, fmt.Errorf("invalid config '%s': profile is empty", configName)
		}
		if err := validateProfile(configProfile); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", configName, err)
		}
	}

	return &rootConfig, nil
}

// validateProfile checks the fields a profile sets. Unset fields are
// checked after merging.
func validateProfile(p *ConfigProfile) error {
	ps, pa := p.Sensor, p.Audio
	if ps.Mode != nil && *ps.Mode != string(sensor.ModeCount) && *ps.Mode != string(sensor.ModeDuration) {
		return fmt.Errorf("sensor.mode must be 'count' or 'duration', got: %s", *ps.Mode)
	}
	if ps.BaudRate != nil && *ps.BaudRate <= 0 {
		return fmt.Errorf("sensor.baud_rate must be > 0, got: %d", *ps.BaudRate)
	}
	if ps.SampleCount != nil && *ps.SampleCount < 0 {
		return fmt.Errorf("sensor.sample_count must be >= 0, got: %d", *ps.SampleCount)
	}
	for name, d := range map[string]*time.Duration{
		"sensor.settle_delay":   ps.SettleDelay,
		"sensor.read_timeout":   ps.ReadTimeout,
		"audio.duration_offset": pa.DurationOffset,
		"audio.pre_roll":        pa.PreRoll,
	} {
		if d != nil && *d < 0 {
			return fmt.Errorf("%s must be >= 0, got: %s", name, *d)
		}
	}
	if ps.ZeroCommand != nil && len(*ps.ZeroCommand) != 1 {
		return fmt.Errorf("sensor.zero_command must be a single byte, got: %q", *ps.ZeroCommand)
	}
	if pa.Backend != nil {
		if _, err := audio.ParseBackendType(*pa.Backend); err != nil {
			return fmt.Errorf("audio.backend: %w", err)
		}
	}
	if pa.SampleRate != nil && *pa.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be > 0, got: %d", *pa.SampleRate)
	}
	if pa.ChunkSize != nil && *pa.ChunkSize <= 0 {
		return fmt.Errorf("audio.chunk_size must be > 0, got: %d", *pa.ChunkSize)
	}
	if len(p.Lines) > 0 {
		if _, err := routing.NewMapping(p.Lines); err != nil {
			return fmt.Errorf("lines: %w", err)
		}
	}
	return validateStimuli(p.Stimuli)
}

// Validate checks a fully merged configuration.
func Validate(c *Config) error {
	s := c.Sensor
	if s.Mode != string(sensor.ModeCount) && s.Mode != string(sensor.ModeDuration) {
		return fmt.Errorf("sensor.mode must be 'count' or 'duration', got: %s", s.Mode)
	}
	if s.BaudRate <= 0 {
		return fmt.Errorf("sensor.baud_rate must be > 0, got: %d", s.BaudRate)
	}
	if s.Mode == string(sensor.ModeCount) && s.SampleCount < 1 {
		return fmt.Errorf("sensor.sample_count must be >= 1, got: %d", s.SampleCount)
	}
	if s.Mode == string(sensor.ModeDuration) && s.Window <= 0 {
		return fmt.Errorf("sensor.window must be > 0, got: %s", s.Window)
	}
	if s.SettleDelay < 0 || s.ReadTimeout < 0 {
		return fmt.Errorf("sensor delays must be >= 0")
	}
	if len(s.ZeroCommand) != 1 {
		return fmt.Errorf("sensor.zero_command must be a single byte, got: %q", s.ZeroCommand)
	}

	a := c.Audio
	if _, err := audio.ParseBackendType(a.Backend); err != nil {
		return fmt.Errorf("audio.backend: %w", err)
	}
	if a.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be > 0, got: %d", a.SampleRate)
	}
	if a.ChunkSize <= 0 {
		return fmt.Errorf("audio.chunk_size must be > 0, got: %d", a.ChunkSize)
	}
	if a.RecordChannels < 1 || a.RecordChannels > 2 {
		return fmt.Errorf("audio.record_channels must be 1 or 2, got: %d", a.RecordChannels)
	}
	if a.DurationOffset < 0 || a.PreRoll < 0 {
		return fmt.Errorf("audio.duration_offset and audio.pre_roll must be >= 0")
	}

	if len(c.Lines) > 0 {
		if _, err := routing.NewMapping(c.Lines); err != nil {
			return fmt.Errorf("lines: %w", err)
		}
	}
	if err := validateStimuli(c.Stimuli); err != nil {
		return err
	}
	if c.Output.Directory == "" {
		return fmt.Errorf("output.directory is required")
	}
	return nil
}

func validateStimuli(stimuli []StimulusType) error {
	seen := make(map[string]bool)
	for i, st := range stimuli {
		if st.Name == "" {
			return fmt.Errorf("stimuli[%d]: 'name' is required", i)
		}
		if st.File == "" {
			return fmt.Errorf("stimuli[%d] '%s': 'file' is required", i, st.Name)
		}
		if seen[st.Name] {
			return fmt.Errorf("stimuli[%d]: duplicate name '%s'", i, st.Name)
		}
		seen[st.Name] = true
	}
	return nil
}

// SensorOptions converts the sensor section for sensor.Open.
func (c *Config) SensorOptions() sensor.Options {
	opts := sensor.Options{
		Mode:        sensor.Mode(c.Sensor.Mode),
		SampleCount: c.Sensor.SampleCount,
		Window:      c.Sensor.Window,
		SettleDelay: c.Sensor.SettleDelay,
		ReadTimeout: c.Sensor.ReadTimeout,
		ZeroCommand: 'A',
	}
	if len(c.Sensor.ZeroCommand) == 1 {
		opts.ZeroCommand = c.Sensor.ZeroCommand[0]
	}
	return opts
}

// Stimulus looks up a stimulus type by name.
func (c *Config) Stimulus(name string) (StimulusType, error) {
	for _, st := range c.Stimuli {
		if st.Name == name {
			return st, nil
		}
	}
	names := make([]string, len(c.Stimuli))
	for i, st := range c.Stimuli {
		names[i] = st.Name
	}
	return StimulusType{}, fmt.Errorf("unknown stimulus type '%s' (configured: %s)", name, strings.Join(names, ", "))
}
