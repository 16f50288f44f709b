package routing

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/audiolibrelab/trialsync/internal/faults"
)

// DeviceInfo describes a host audio device.
type DeviceInfo struct {
	Index             int     `json:"index"`
	Name              string  `json:"name"`
	HostAPI           string  `json:"host_api,omitempty"`
	MaxInputChannels  int     `json:"max_input_channels"`
	MaxOutputChannels int     `json:"max_output_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate"`
}

// DeviceLister enumerates host audio devices.
type DeviceLister interface {
	Devices() ([]DeviceInfo, error)
}

// Predicate selects devices.
type Predicate func(DeviceInfo) bool

// Criteria is the configured capability filter for usable output pairs.
type Criteria struct {
	MinOutputChannels int    `mapstructure:"min_output_channels" yaml:"min_output_channels"`
	NameContains      string `mapstructure:"name_contains" yaml:"name_contains"`
	ExcludeContains   string `mapstructure:"exclude_contains" yaml:"exclude_contains"`
}

// Match reports whether d has enough outputs, contains NameContains and does
// not contain ExcludeContains. Empty strings disable the name checks.
func (c Criteria) Match(d DeviceInfo) bool {
	if d.MaxOutputChannels < c.MinOutputChannels {
		return false
	}
	if c.NameContains != "" && !strings.Contains(d.Name, c.NameContains) {
		return false
	}
	if c.ExcludeContains != "" && strings.Contains(d.Name, c.ExcludeContains) {
		return false
	}
	return true
}

// Router resolves lines against a fixed Mapping and exposes the host device
// list. It is read-only after construction and safe for concurrent use.
type Router struct {
	lister   DeviceLister
	mapping  *Mapping
	criteria Criteria
}

// NewRouter uses the static entries when present. With no entries it falls
// back to AutoMapping over the devices matching criteria.
func NewRouter(lister DeviceLister, entries []Entry, criteria Criteria) (*Router, error) {
	r := &Router{lister: lister, criteria: criteria}

	if len(entries) > 0 {
		m, err := NewMapping(entries)
		if err != nil {
			return nil, fmt.Errorf("invalid line mapping: %w", err)
		}
		r.mapping = m
		slog.Debug("Static line mapping loaded", "lines", m.Lines())
		return r, nil
	}

	candidates, err := r.FilterCandidates(criteria.Match)
	if err != nil {
		return nil, err
	}
	m, err := AutoMapping(candidates, 2)
	if err != nil {
		return nil, err
	}
	slog.Warn("No static line mapping configured, derived one from device enumeration",
		"lines", m.Lines(), "candidates", len(candidates))
	r.mapping = m
	return r, nil
}

// NewLister builds a Router with no line table. It only enumerates and
// filters devices; Resolve always reports an unmapped line.
func NewLister(lister DeviceLister, criteria Criteria) *Router {
	return &Router{lister: lister, criteria: criteria}
}

// EnumerateDevices lists every host device.
func (r *Router) EnumerateDevices() ([]DeviceInfo, error) {
	if r.lister == nil {
		return nil, faults.New(faults.KindDeviceUnavailable, "routing.enumerate", "", fmt.Errorf("no audio backend"))
	}
	devices, err := r.lister.Devices()
	if err != nil {
		return nil, faults.New(faults.KindDeviceUnavailable, "routing.enumerate", "", err)
	}
	return devices, nil
}

// FilterCandidates returns the enumerated devices matching pred, in
// enumeration order.
func (r *Router) FilterCandidates(pred Predicate) ([]DeviceInfo, error) {
	devices, err := r.EnumerateDevices()
	if err != nil {
		return nil, err
	}
	var out []DeviceInfo
	for _, d := range devices {
		if pred(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

// Candidates filters with the configured Criteria.
func (r *Router) Candidates() ([]DeviceInfo, error) {
	return r.FilterCandidates(r.criteria.Match)
}

// Resolve maps a line to its endpoint.
func (r *Router) Resolve(line int) (Endpoint, error) {
	if r.mapping == nil {
		return Endpoint{}, faults.New(faults.KindUnmappedLine, "routing.resolve", strconv.Itoa(line),
			fmt.Errorf("no line table loaded"))
	}
	return r.mapping.Resolve(line)
}

// Mapping returns the active table, nil for a Router built by NewLister.
func (r *Router) Mapping() *Mapping {
	return r.mapping
}
