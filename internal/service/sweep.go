package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/audiolibrelab/trialsync/internal/config"
	"github.com/audiolibrelab/trialsync/internal/faults"
)

// SweepRequest describes a balanced recording run over every line and
// stimulus type.
type SweepRequest struct {
	ParticipantID string
	// Stimuli defaults to every configured stimulus type.
	Stimuli []config.StimulusType
	// Lines defaults to every mapped line.
	Lines int
	// Repetitions of the full cross product, at least 1.
	Repetitions int
	Offset      time.Duration
	// OutputDir defaults to the configured output directory.
	OutputDir string
	// Progress is called after each saved trial.
	Progress func(SweepResult, int)
}

// SweepResult is one recorded trial.
type SweepResult struct {
	Trial    int    `json:"trial"`
	Line     int    `json:"line"`
	Stimulus string `json:"stimulus"`
	Path     string `json:"path"`
}

// RunSweep records every (line, stimulus) combination in balanced random
// order. Files land in <out>/participant_<id>/; with more than one
// repetition each name carries a rep<k> suffix.
func (s *TrialService) RunSweep(ctx context.Context, req SweepRequest) ([]SweepResult, error) {
	participant := cleanFileName(req.ParticipantID)
	if participant == "" {
		return nil, fmt.Errorf("participant id %q has no usable characters", req.ParticipantID)
	}

	stimuli := req.Stimuli
	if len(stimuli) == 0 {
		stimuli = s.cfg.Stimuli
	}
	if len(stimuli) == 0 {
		return nil, fmt.Errorf("no stimulus types configured")
	}

	mapping, err := s.Lines()
	if err != nil {
		return nil, s.fail(err)
	}
	lines := req.Lines
	if lines <= 0 {
		lines = mapping.Lines()
	}
	if lines > mapping.Lines() {
		return nil, s.fail(faults.New(faults.KindUnmappedLine, "service.sweep", strconv.Itoa(lines-1),
			fmt.Errorf("sweep asks for %d lines, only %d mapped", lines, mapping.Lines())))
	}
	reps := req.Repetitions
	if reps <= 0 {
		reps = 1
	}

	block, err := s.BalancedBlock(lines, len(stimuli), lines*len(stimuli)*reps)
	if err != nil {
		return nil, err
	}

	outDir := req.OutputDir
	if outDir == "" {
		outDir = s.cfg.Output.Directory
	}
	dir := filepath.Join(outDir, "participant_"+participant)

	trials := block.Trials()
	slog.Info("Starting sweep", "participant", participant, "lines", lines, "stimuli", len(stimuli), "trials", len(trials), "directory", dir)

	results := make([]SweepResult, 0, len(trials))
	seen := make(map[[2]int]int, lines*len(stimuli))
	for i, a := range trials {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		stim := stimuli[a.Condition]
		name := fmt.Sprintf("userid_%s_speakerNum_%d_soundType_%s_", participant, a.Location, cleanFileName(stim.Name))
		// Repeated combinations get their own file.
		key := [2]int{a.Location, a.Condition}
		seen[key]++
		if reps > 1 {
			name += fmt.Sprintf("rep%d_", seen[key])
		}

		path, err := s.RecordSynced(ctx, stim.File, a.Location, req.Offset, filepath.Join(dir, name))
		if err != nil {
			return results, fmt.Errorf("trial %d (line %d, %s): %w", i+1, a.Location, stim.Name, err)
		}

		res := SweepResult{Trial: i + 1, Line: a.Location, Stimulus: stim.Name, Path: path}
		results = append(results, res)
		if req.Progress != nil {
			req.Progress(res, len(trials))
		}
	}
	slog.Info("Sweep complete", "participant", participant, "recordings", len(results))
	return results, nil
}

func cleanFileName(name string) string {
	// Keep letters, digits and spaces; spaces become underscores
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}
