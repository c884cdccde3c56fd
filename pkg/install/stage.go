package install

import (
	"fmt"
	"strings"
	"time"
)

// Stage is a step of the per-package install state machine:
//
//	Pending -> IndexResolved -> Downloaded -> Verified -> Unpacked -> Registered
//
// Any transition may end in Failed; Skipped marks packages that needed no
// work (already installed, or local-path leaves).
type Stage string

const (
	Pending       Stage = "pending"
	IndexResolved Stage = "index-resolved"
	Downloaded    Stage = "downloaded"
	Verified      Stage = "verified"
	Unpacked      Stage = "unpacked"
	Registered    Stage = "registered"
	Skipped       Stage = "skipped"
	Failed        Stage = "failed"
)

// Outcome is the final state of one package.
type Outcome struct {
	Name    string
	Version string
	Stage   Stage

	// FailedAt and Err are set when Stage is Failed: the stage the
	// package was in when the transition out of it failed.
	FailedAt Stage
	Err      error

	Cached bool   // artifact came from the local store
	Local  bool   // local-path requirement, never fetched
	Path   string // install directory
	Reason string // why the package was skipped
}

func (o Outcome) String() string {
	switch o.Stage {
	case Failed:
		return fmt.Sprintf("%s@%s failed at %s: %v", o.Name, o.Version, o.FailedAt, o.Err)
	case Skipped:
		return fmt.Sprintf("%s@%s skipped (%s)", o.Name, o.Version, o.Reason)
	}
	return fmt.Sprintf("%s@%s %s", o.Name, o.Version, o.Stage)
}

// Report summarizes an install run in resolution order.
type Report struct {
	Packages []Outcome
	Duration time.Duration
}

// Count returns how many packages ended in stage.
func (r *Report) Count(stage Stage) int {
	n := 0
	for _, o := range r.Packages {
		if o.Stage == stage {
			n++
		}
	}
	return n
}

// Outcome returns the outcome of name.
func (r *Report) Outcome(name string) (Outcome, bool) {
	for _, o := range r.Packages {
		if o.Name == name {
			return o, true
		}
	}
	return Outcome{}, false
}

func (r *Report) String() string {
	lines := make([]string, len(r.Packages))
	for i, o := range r.Packages {
		lines[i] = o.String()
	}
	return strings.Join(lines, "\n")
}
