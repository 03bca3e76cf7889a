// Package export holds the shared model of a search export run: formats,
// output files, consolidation jobs, run state and the error taxonomy.
package export

import (
	"fmt"
	"strings"
)

// OwnerScope restricts which records a query may see.
type OwnerScope string

const (
	OwnerPublic  OwnerScope = "public"
	OwnerVisible OwnerScope = "visible"
	OwnerShared  OwnerScope = "shared"
	OwnerUser    OwnerScope = "user"
	OwnerStaging OwnerScope = "staging"
)

// ParseOwnerScope validates an owner scope; an empty value defaults to visible.
func ParseOwnerScope(s string) (OwnerScope, error) {
	switch scope := OwnerScope(strings.ToLower(strings.TrimSpace(s))); scope {
	case "":
		return OwnerVisible, nil
	case OwnerPublic, OwnerVisible, OwnerShared, OwnerUser, OwnerStaging:
		return scope, nil
	default:
		return "", Errorf(CodeInvalidInput, false, "unknown owner scope %q", s)
	}
}

// Input is what a caller submits to start a run.
type Input struct {
	RunID           string         `json:"runId,omitempty"`
	UserID          string         `json:"userId"`
	Owner           OwnerScope     `json:"owner"`
	Query           map[string]any `json:"query"`
	RequiredFields  map[string]any `json:"requiredFields,omitempty"`
	OutputFormat    string         `json:"outputFormat"`
	OutputDirectory string         `json:"outputDirectory"`
	Policies        *Policies      `json:"policies,omitempty"`
	// Publish uploads the consolidated output once it is written.
	Publish bool `json:"publish,omitempty"`
}

// Validate checks the input before any step runs and returns the resolved
// format. Format errors surface as ErrUnsupportedFormat.
func (in Input) Validate() (Format, error) {
	format, err := ParseFormat(in.OutputFormat)
	if err != nil {
		return 0, err
	}
	if _, err := ParseOwnerScope(string(in.Owner)); err != nil {
		return 0, err
	}
	if strings.TrimSpace(in.OutputDirectory) == "" {
		return 0, Errorf(CodeInvalidInput, false, "output directory is required")
	}
	return format, nil
}

// OutputFile is one written page.
type OutputFile struct {
	Path    string `json:"path"`
	Format  Format `json:"format"`
	Page    int    `json:"page"`
	Records int    `json:"records"`
}

// ConsolidationJob merges same-format page files, in order, into Destination.
type ConsolidationJob struct {
	Inputs      []OutputFile `json:"inputs"`
	Destination string       `json:"destination"`
}

// Paths returns the input paths in job order.
func (j ConsolidationJob) Paths() []string {
	paths := make([]string, 0, len(j.Inputs))
	for _, in := range j.Inputs {
		paths = append(paths, in.Path)
	}
	return paths
}

// TotalRecords sums the recorded per-page counts.
func (j ConsolidationJob) TotalRecords() int {
	total := 0
	for _, in := range j.Inputs {
		total += in.Records
	}
	return total
}

// RunState is a step of the run state machine.
type RunState string

const (
	StateDirectoryPending RunState = "DirectoryPending"
	StatePaginating       RunState = "Paginating"
	StateConsolidating    RunState = "Consolidating"
	StatePublishing       RunState = "Publishing"
	StateDone             RunState = "Done"
	StateFailed           RunState = "Failed"
)

// Terminal reports whether no further transition is possible.
func (s RunState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

var transitions = map[RunState][]RunState{
	StateDirectoryPending: {StatePaginating},
	StatePaginating:       {StateConsolidating},
	StateConsolidating:    {StatePublishing, StateDone},
	StatePublishing:       {StateDone},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to RunState) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Run correlates one request's pagination with its consolidation.
type Run struct {
	ID         string       `json:"id"`
	Input      Input        `json:"input"`
	Format     Format       `json:"format"`
	State      RunState     `json:"state"`
	Pages      []OutputFile `json:"pages,omitempty"`
	ResultPath string       `json:"resultPath,omitempty"`
	Published  string       `json:"published,omitempty"`
	Err        error        `json:"-"`
}

// NewRun starts a run in DirectoryPending.
func NewRun(id string, in Input, format Format) *Run {
	return &Run{ID: id, Input: in, Format: format, State: StateDirectoryPending}
}

// Transition moves the run to the given state.
func (r *Run) Transition(to RunState) error {
	if !CanTransition(r.State, to) {
		return fmt.Errorf("illegal run transition %s -> %s", r.State, to)
	}
	r.State = to
	return nil
}

// Fail drives the run to Failed, wrapping cause as a RunFailed error that keeps
// the originating classification in its chain.
func (r *Run) Fail(cause error) error {
	failedIn := r.State
	if !r.State.Terminal() {
		r.State = StateFailed
	}
	r.Err = &RunError{RunID: r.ID, State: failedIn, Code: CodeOf(cause), Err: cause}
	return r.Err
}

// RecordsWritten sums the records across written pages.
func (r *Run) RecordsWritten() int {
	total := 0
	for _, p := range r.Pages {
		total += p.Records
	}
	return total
}

// RunError is the terminal failure of a run.
type RunError struct {
	RunID string
	State RunState
	Code  string
	Err   error
}

func (e *RunError) Error() string {
	code := e.Code
	if code == "" {
		code = CodeUnclassified
	}
	return fmt.Sprintf("%s: run %s failed in %s (%s): %v", CodeRunFailed, e.RunID, e.State, code, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Is matches ErrRunFailed so callers can test for terminal failure.
func (e *RunError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == CodeRunFailed
}
