// Package routing maps abstract speaker lines to physical audio
// device/channel pairs and selects usable output devices.
package routing

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/audiolibrelab/trialsync/internal/faults"
)

// Endpoint is a physical output: a host device index and a 1-based output
// channel on that device.
type Endpoint struct {
	Device  int `json:"device" yaml:"device"`
	Channel int `json:"channel" yaml:"channel"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("device %d channel %d", e.Device, e.Channel)
}

// Entry is one row of the line table.
type Entry struct {
	Line    int `json:"line" yaml:"line"`
	Device  int `json:"device" yaml:"device"`
	Channel int `json:"channel" yaml:"channel"`
}

// Mapping is an immutable line -> endpoint table, total over 0..K-1 and
// injective.
type Mapping struct {
	endpoints []Endpoint
	source    string
}

// NewMapping validates entries and builds the table. Entry order does not
// matter; lines must cover 0..len(entries)-1 exactly once.
func NewMapping(entries []Entry) (*Mapping, error) {
	return newMapping(entries, "static")
}

func newMapping(entries []Entry, source string) (*Mapping, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("line mapping is empty")
	}

	endpoints := make([]Endpoint, len(entries))
	seenLine := make([]bool, len(entries))
	seenEndpoint := make(map[Endpoint]int, len(entries))

	for i, e := range entries {
		if e.Line < 0 || e.Line >= len(entries) {
			return nil, fmt.Errorf("lines[%d]: line %d outside 0..%d", i, e.Line, len(entries)-1)
		}
		if seenLine[e.Line] {
			return nil, fmt.Errorf("lines[%d]: line %d mapped twice", i, e.Line)
		}
		if e.Device < 0 {
			return nil, fmt.Errorf("lines[%d]: device must be >= 0, got %d", i, e.Device)
		}
		if e.Channel < 1 {
			return nil, fmt.Errorf("lines[%d]: channel must be >= 1, got %d", i, e.Channel)
		}
		ep := Endpoint{Device: e.Device, Channel: e.Channel}
		if other, dup := seenEndpoint[ep]; dup {
			return nil, fmt.Errorf("lines[%d]: %s already used by line %d", i, ep, other)
		}
		seenEndpoint[ep] = e.Line
		seenLine[e.Line] = true
		endpoints[e.Line] = ep
	}

	return &Mapping{endpoints: endpoints, source: source}, nil
}

// Resolve looks up a line.
func (m *Mapping) Resolve(line int) (Endpoint, error) {
	if line < 0 || line >= len(m.endpoints) {
		return Endpoint{}, faults.New(faults.KindUnmappedLine, "routing.resolve", strconv.Itoa(line),
			fmt.Errorf("configured lines are 0..%d", len(m.endpoints)-1))
	}
	return m.endpoints[line], nil
}

// Lines is the size K of the line domain.
func (m *Mapping) Lines() int {
	return len(m.endpoints)
}

// Source reports "static" for an operator table and "auto" for a derived one.
func (m *Mapping) Source() string {
	return m.source
}

// Entries returns a copy of the table ordered by line.
func (m *Mapping) Entries() []Entry {
	out := make([]Entry, len(m.endpoints))
	for line, ep := range m.endpoints {
		out[line] = Entry{Line: line, Device: ep.Device, Channel: ep.Channel}
	}
	return out
}

// AutoMapping derives a table from candidate devices when no static table is
// configured. Candidates are taken in ascending device index and each
// contributes channelsPerDevice consecutive lines: line n maps to candidate
// n/channelsPerDevice, channel n%channelsPerDevice+1.
//
// Enumeration order is host dependent, so this is a fallback only.
func AutoMapping(candidates []DeviceInfo, channelsPerDevice int) (*Mapping, error) {
	if channelsPerDevice < 1 {
		return nil, fmt.Errorf("channels per device must be >= 1, got %d", channelsPerDevice)
	}
	if len(candidates) == 0 {
		return nil, faults.New(faults.KindDeviceUnavailable, "routing.auto", "",
			fmt.Errorf("no candidate output devices"))
	}

	sorted := append([]DeviceInfo(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	entries := make([]Entry, 0, len(sorted)*channelsPerDevice)
	for _, dev := range sorted {
		if dev.MaxOutputChannels < channelsPerDevice {
			continue
		}
		for ch := 1; ch <= channelsPerDevice; ch++ {
			entries = append(entries, Entry{Line: len(entries), Device: dev.Index, Channel: ch})
		}
	}
	if len(entries) == 0 {
		return nil, faults.New(faults.KindDeviceUnavailable, "routing.auto", "",
			fmt.Errorf("no candidate has %d output channels", channelsPerDevice))
	}
	return newMapping(entries, "auto")
}
