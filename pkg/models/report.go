package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Phase identifiers, in execution order.
const (
	PhaseUniverseRefresh = "universe_refresh"
	PhasePrimarySync     = "primary_sync"
	PhaseExtendedSync    = "extended_sync"
	PhaseGapRepair       = "gap_repair"
	PhaseValidation      = "validation"
)

// PhaseOrder lists phases in the order the orchestrator runs them.
var PhaseOrder = []string{
	PhaseUniverseRefresh,
	PhasePrimarySync,
	PhaseExtendedSync,
	PhaseGapRepair,
	PhaseValidation,
}

// PhaseResult records the outcome of one orchestrator phase.
type PhaseResult struct {
	Status  string                 `json:"status"` // completed/failed/skipped
	Error   string                 `json:"error,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Report is the structured result of one full-sync invocation, returned
// to the CLI and REST front ends.
type Report struct {
	TargetDate time.Time              `json:"target_date"`
	SessionID  string                 `json:"session_id"`
	StartTime  time.Time              `json:"start_time"`
	EndTime    time.Time              `json:"end_time"`
	Resumed    bool                   `json:"resumed"`
	Phases     map[string]PhaseResult `json:"phases"`
	Summary    ReportSummary          `json:"summary"`
}

// ReportSummary aggregates phase outcomes. A run is user-visibly failed
// iff FailedPhases > 0.
type ReportSummary struct {
	TotalPhases      int `json:"total_phases"`
	SuccessfulPhases int `json:"successful_phases"`
	FailedPhases     int `json:"failed_phases"`
}

// Succeeded reports whether every attempted phase completed.
func (r *Report) Succeeded() bool {
	return r.Summary.FailedPhases == 0
}

// RecordPhase stores a phase result and updates the summary counters.
func (r *Report) RecordPhase(phase string, res PhaseResult) {
	if r.Phases == nil {
		r.Phases = make(map[string]PhaseResult)
	}
	r.Phases[phase] = res
	r.Summary.TotalPhases++
	if res.Status == "failed" {
		r.Summary.FailedPhases++
	} else {
		r.Summary.SuccessfulPhases++
	}
}

// Text renders a human-readable report for the CLI.
func (r *Report) Text() string {
	var b strings.Builder
	b.WriteString(strings.Repeat("=", 60) + "\n")
	b.WriteString("Sync Report\n")
	b.WriteString(strings.Repeat("=", 60) + "\n")
	fmt.Fprintf(&b, "Target date: %s\n", r.TargetDate.Format(DateFormat))
	fmt.Fprintf(&b, "Session:     %s\n", r.SessionID)
	fmt.Fprintf(&b, "Duration:    %s\n", r.EndTime.Sub(r.StartTime).Round(time.Millisecond))
	if r.Resumed {
		b.WriteString("Resumed from a previous interrupted run\n")
	}
	b.WriteString("\nPhases:\n")

	names := make([]string, 0, len(r.Phases))
	for name := range r.Phases {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return phaseRank(names[i]) < phaseRank(names[j]) })

	for _, name := range names {
		res := r.Phases[name]
		fmt.Fprintf(&b, "  %-18s %s", name, res.Status)
		if res.Error != "" {
			fmt.Fprintf(&b, " (%s)", res.Error)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\nSummary: %d phases, %d successful, %d failed\n",
		r.Summary.TotalPhases, r.Summary.SuccessfulPhases, r.Summary.FailedPhases)
	return b.String()
}

func phaseRank(name string) int {
	for i, p := range PhaseOrder {
		if p == name {
			return i
		}
	}
	return len(PhaseOrder)
}
