package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/audiolibrelab/trialsync/internal/routing"
)

func ptr[T any](v T) *T { return &v }

func TestMergeConfigs_SelectionAndFallback(t *testing.T) {
	base := Default()
	base.Sensor.Port = "COM3"
	base.Lines = []routing.Entry{
		{Line: 0, Device: 208, Channel: 1},
		{Line: 1, Device: 208, Channel: 2},
	}
	base.Stimuli = []StimulusType{{Name: "pink", File: "pink.wav"}}

	profile := &ConfigProfile{
		Simulate: ptr(true),
		Sensor: SensorProfile{
			SampleCount: ptr(10),
		},
		Audio: AudioProfile{
			SampleRate:     ptr(48000),
			DurationOffset: ptr(250 * time.Millisecond),
		},
		Stimuli: []StimulusType{{Name: "white", File: "white.wav"}},
	}

	result := mergeConfigs(base, profile, "lab")

	if !result.Simulate {
		t.Errorf("Expected simulate to be true")
	}
	if result.Sensor.Port != "COM3" {
		t.Errorf("Expected port 'COM3' from base, got %s", result.Sensor.Port)
	}
	if result.Sensor.SampleCount != 10 {
		t.Errorf("Expected sample count 10, got %d", result.Sensor.SampleCount)
	}
	if result.Sensor.BaudRate != 9600 {
		t.Errorf("Expected baud rate 9600, got %d", result.Sensor.BaudRate)
	}
	if result.Audio.SampleRate != 48000 {
		t.Errorf("Expected sample rate 48000, got %d", result.Audio.SampleRate)
	}
	if result.Audio.ChunkSize != 1024 {
		t.Errorf("Expected chunk size 1024, got %d", result.Audio.ChunkSize)
	}
	if result.Audio.DurationOffset != 250*time.Millisecond {
		t.Errorf("Expected duration offset 250ms, got %s", result.Audio.DurationOffset)
	}

	// Lists are replaced as a whole, or inherited as a whole
	if len(result.Lines) != 2 {
		t.Errorf("Expected 2 inherited lines, got %d", len(result.Lines))
	}
	if len(result.Stimuli) != 1 || result.Stimuli[0].Name != "white" {
		t.Errorf("Expected profile stimuli only, got %+v", result.Stimuli)
	}

	if result.Inheritance == nil {
		t.Fatal("Inheritance tracking not initialized")
	}
	if result.Inheritance.Profile != "lab" {
		t.Errorf("Expected profile name 'lab', got %s", result.Inheritance.Profile)
	}
	want := map[string]string{
		"simulate":            "profile-specific",
		"sensor.sample_count": "profile-specific",
		"audio.sample_rate":   "profile-specific",
		"stimuli":             "profile-specific",
		"audio.chunk_size":    "builtin",
	}
	for field, origin := range want {
		if got := result.Inheritance.Fields[field]; got != origin {
			t.Errorf("Expected %s to be %s, got %s", field, origin, got)
		}
	}
}

func TestMergeConfigs_ExplicitZeroOverrides(t *testing.T) {
	base := Default()
	profile := &ConfigProfile{
		Sensor: SensorProfile{SettleDelay: ptr(time.Duration(0))},
		Audio: AudioProfile{
			DurationOffset: ptr(time.Duration(0)),
			PreRoll:        ptr(time.Duration(0)),
			Candidates:     CandidatesProfile{MinOutputChannels: ptr(0), ExcludeContains: ptr("")},
		},
	}

	result := mergeConfigs(base, profile, "bench")
	if result.Sensor.SettleDelay != 0 || result.Audio.DurationOffset != 0 || result.Audio.PreRoll != 0 {
		t.Errorf("Expected explicit zero durations, got settle=%s offset=%s preroll=%s",
			result.Sensor.SettleDelay, result.Audio.DurationOffset, result.Audio.PreRoll)
	}
	if result.Audio.Candidates.MinOutputChannels != 0 || result.Audio.Candidates.ExcludeContains != "" {
		t.Errorf("Expected explicit zero criteria, got %+v", result.Audio.Candidates)
	}
	if result.Audio.Candidates.NameContains != "Fireface Analog" {
		t.Errorf("Expected name filter from defaults, got %q", result.Audio.Candidates.NameContains)
	}
	if got := result.Inheritance.Fields["audio.pre_roll"]; got != "profile-specific" {
		t.Errorf("Expected audio.pre_roll profile-specific, got %s", got)
	}
}

func TestLoadWithProfile_ZeroDurationsFromFile(t *testing.T) {
	content := `
active_config: bench
configs:
  default:
    audio:
      pre_roll: 3s
    output:
      directory: /tmp/trialsync
  bench:
    sensor:
      settle_delay: 0s
    audio:
      duration_offset: 0s
      pre_roll: 0s
`
	configFile := createTempConfig(t, content)
	defer os.Remove(configFile)

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.Sensor.SettleDelay != 0 {
		t.Errorf("Expected settle delay 0, got %s", cfg.Sensor.SettleDelay)
	}
	if cfg.Audio.DurationOffset != 0 {
		t.Errorf("Expected duration offset 0, got %s", cfg.Audio.DurationOffset)
	}
	if cfg.Audio.PreRoll != 0 {
		t.Errorf("Expected pre-roll 0 over the default profile's 3s, got %s", cfg.Audio.PreRoll)
	}

	def, err := LoadWithProfile(configFile, "default")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if def.Audio.PreRoll != 3*time.Second || def.Audio.DurationOffset != 100*time.Millisecond {
		t.Errorf("Expected default profile untouched, got preroll=%s offset=%s", def.Audio.PreRoll, def.Audio.DurationOffset)
	}
}

func TestMergeConfigs_DoesNotAliasBase(t *testing.T) {
	base := Default()
	base.Lines = []routing.Entry{{Line: 0, Device: 1, Channel: 1}}

	result := mergeConfigs(base, &ConfigProfile{}, "other")
	result.Lines[0].Device = 99

	if base.Lines[0].Device != 1 {
		t.Errorf("Merged config must not share the base line table")
	}
}

func TestMergeConfigs_NilProfile(t *testing.T) {
	result := mergeConfigs(Default(), nil, "empty")
	if result.Sensor.BaudRate != 9600 || result.Audio.SampleRate != 44100 {
		t.Errorf("Expected built-in defaults, got %+v", result)
	}
}

func TestLoadWithProfile_InheritsFromDefault(t *testing.T) {
	dir := t.TempDir()
	content := `
active_config: lab

globals:
  recordings_directory: ` + filepath.Join(dir, "recordings") + `
  stimuli_directory: ` + filepath.Join(dir, "stimuli") + `

configs:
  default:
    sensor:
      port: /dev/ttyACM0
      settle_delay: 1s
    audio:
      backend: portaudio
    lines:
      - {line: 0, device: 208, channel: 1}
      - {line: 1, device: 208, channel: 2}
      - {line: 2, device: 214, channel: 1}
      - {line: 3, device: 214, channel: 2}
    stimuli:
      - {name: pink, file: pink.wav}
      - {name: click, file: /abs/click.wav}

  lab:
    simulate: true
    sensor:
      mode: duration
      window: 3s
`
	configFile := createTempConfig(t, content)
	defer os.Remove(configFile)

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !cfg.Simulate {
		t.Errorf("Expected lab profile to enable simulation")
	}
	if cfg.Sensor.Port != "/dev/ttyACM0" {
		t.Errorf("Expected port inherited from default, got %s", cfg.Sensor.Port)
	}
	if cfg.Sensor.SettleDelay != time.Second {
		t.Errorf("Expected settle delay 1s, got %s", cfg.Sensor.SettleDelay)
	}
	if cfg.Sensor.Mode != "duration" || cfg.Sensor.Window != 3*time.Second {
		t.Errorf("Expected duration mode with 3s window, got %s/%s", cfg.Sensor.Mode, cfg.Sensor.Window)
	}
	if cfg.Audio.Backend != "portaudio" {
		t.Errorf("Expected backend portaudio, got %s", cfg.Audio.Backend)
	}
	if len(cfg.Lines) != 4 {
		t.Errorf("Expected 4 lines, got %d", len(cfg.Lines))
	}
	if cfg.Output.Directory != filepath.Join(dir, "recordings") {
		t.Errorf("Expected global recordings directory, got %s", cfg.Output.Directory)
	}

	pink, err := cfg.Stimulus("pink")
	if err != nil {
		t.Fatalf("Expected pink stimulus, got: %v", err)
	}
	if pink.File != filepath.Join(dir, "stimuli", "pink.wav") {
		t.Errorf("Expected relative stimulus resolved against stimuli dir, got %s", pink.File)
	}
	click, _ := cfg.Stimulus("click")
	if click.File != "/abs/click.wav" {
		t.Errorf("Expected absolute stimulus path untouched, got %s", click.File)
	}
	if _, err := cfg.Stimulus("brown"); err == nil {
		t.Errorf("Expected error for unknown stimulus")
	}

	fields := cfg.Inheritance.Fields
	if fields["sensor.port"] != "inherited" {
		t.Errorf("Expected sensor.port inherited, got %s", fields["sensor.port"])
	}
	if fields["sensor.mode"] != "profile-specific" {
		t.Errorf("Expected sensor.mode profile-specific, got %s", fields["sensor.mode"])
	}
	if fields["output.directory"] != "global" {
		t.Errorf("Expected output.directory global, got %s", fields["output.directory"])
	}
}

func TestLoadWithProfile_ExplicitProfileOverridesActive(t *testing.T) {
	content := `
active_config: lab
configs:
  default:
    output:
      directory: /tmp/default
  lab:
    simulate: true
`
	configFile := createTempConfig(t, content)
	defer os.Remove(configFile)

	cfg, err := LoadWithProfile(configFile, "default")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.Simulate {
		t.Errorf("Expected default profile without simulation")
	}
	if cfg.Output.Directory != "/tmp/default" {
		t.Errorf("Expected /tmp/default, got %s", cfg.Output.Directory)
	}
	if cfg.Inheritance.Fields["output.directory"] != "profile-specific" {
		t.Errorf("Expected output.directory profile-specific, got %s", cfg.Inheritance.Fields["output.directory"])
	}

	if _, err := LoadWithProfile(configFile, "missing"); err == nil {
		t.Errorf("Expected error for missing profile")
	}
}

func TestLoadWithProfile_NoConfigFile(t *testing.T) {
	if _, err := LoadWithProfile("", ""); err == nil {
		t.Errorf("Expected error without config file")
	}
}

func TestUpdateActiveConfig(t *testing.T) {
	content := `
active_config: default
configs:
  default:
    simulate: false
  bench:
    simulate: true
`
	configFile := createTempConfig(t, content)
	defer os.Remove(configFile)

	if err := UpdateActiveConfig(configFile, "bench"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	root, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		t.Fatalf("Expected valid config after update, got: %v", err)
	}
	if root.ActiveConfig != "bench" {
		t.Errorf("Expected active_config 'bench', got %s", root.ActiveConfig)
	}

	if err := UpdateActiveConfig(configFile, "nope"); err == nil {
		t.Errorf("Expected error for unknown profile")
	}
}

func TestSensorOptions(t *testing.T) {
	cfg := Default()
	cfg.Sensor.ZeroCommand = "Z"
	cfg.Sensor.SampleCount = 5

	opts := cfg.SensorOptions()
	if opts.ZeroCommand != 'Z' {
		t.Errorf("Expected zero command 'Z', got %q", opts.ZeroCommand)
	}
	if opts.SampleCount != 5 || opts.SettleDelay != 2*time.Second {
		t.Errorf("Unexpected options: %+v", opts)
	}
	if err := opts.Validate(); err != nil {
		t.Errorf("Expected valid options, got: %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		input    string
		expected string
	}{
		{"~/Audio/TrialSync", filepath.Join(homeDir, "Audio", "TrialSync")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"~", "~"}, // Should not expand bare tilde
	}

	for _, test := range tests {
		result := expandPath(test.input)
		if result != test.expected {
			t.Errorf("expandPath(%q) = %q, expected %q", test.input, result, test.expected)
		}
	}
}

func TestResolveStimulusFile(t *testing.T) {
	tests := []struct {
		dir, file, expected string
	}{
		{"/stimuli", "pink.wav", "/stimuli/pink.wav"},
		{"/stimuli", "/abs/pink.wav", "/abs/pink.wav"},
		{"", "pink.wav", "pink.wav"},
		{"/stimuli", "", ""},
	}
	for _, test := range tests {
		if got := resolveStimulusFile(test.dir, test.file); got != test.expected {
			t.Errorf("resolveStimulusFile(%q, %q) = %q, expected %q", test.dir, test.file, got, test.expected)
		}
	}
}
