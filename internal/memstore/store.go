package memstore

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/infinity-templates/composer/internal/faults"
)

const (
	systemStateFile  = "system_state.json"
	decisionLogFile  = "decision_log.json"
	architectureFile = "architecture_map.json"
	telemetryFile    = "telemetry.json"
)

// Store is a directory of append-only and singleton JSON state files, one
// per composed system. It is safe for concurrent use from multiple
// goroutines and multiple processes sharing the same directory.
type Store struct {
	dir string
	now func() time.Time
}

// New returns a Store rooted at dir. dir is created lazily on first write.
func New(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// RehydrateResult is the consolidated context returned by Rehydrate. Every
// field is nil if its file did not exist; Warnings accumulates missing-file
// and malformed-file notices but never causes Rehydrate itself to fail.
type RehydrateResult struct {
	SystemState     *SystemState     `json:"system_state"`
	DecisionLog     []DecisionEntry  `json:"decision_log"`
	ArchitectureMap *ArchitectureMap `json:"architecture_map"`
	Telemetry       []TelemetryEvent `json:"telemetry"`
	Warnings        []string         `json:"warnings"`
}

// Rehydrate loads every state file in the store's directory, validating
// each one it can parse. Per spec, rehydration always succeeds: a missing
// or malformed file becomes a warning, never an error.
func (s *Store) Rehydrate() (*RehydrateResult, error) {
	res := &RehydrateResult{Warnings: []string{}}

	var state SystemState
	ok, err := readJSONIfExists(s.path(systemStateFile), &state)
	switch {
	case err != nil:
		res.Warnings = append(res.Warnings, err.Error())
	case !ok:
		res.Warnings = append(res.Warnings, "missing state file: "+systemStateFile)
	default:
		if problems := state.Validate(); len(problems) > 0 {
			res.Warnings = append(res.Warnings, prefixEach("system_state: ", problems)...)
		}
		res.SystemState = &state
	}

	var decisions []DecisionEntry
	ok, err = readJSONIfExists(s.path(decisionLogFile), &decisions)
	switch {
	case err != nil:
		res.Warnings = append(res.Warnings, err.Error())
	case !ok:
		res.Warnings = append(res.Warnings, "missing state file: "+decisionLogFile)
	default:
		for _, d := range decisions {
			if problems := d.Validate(); len(problems) > 0 {
				res.Warnings = append(res.Warnings, prefixEach(fmt.Sprintf("decision_log[%s]: ", d.ID), problems)...)
			}
		}
		res.DecisionLog = decisions
	}

	var arch ArchitectureMap
	ok, err = readJSONIfExists(s.path(architectureFile), &arch)
	switch {
	case err != nil:
		res.Warnings = append(res.Warnings, err.Error())
	case !ok:
		res.Warnings = append(res.Warnings, "missing state file: "+architectureFile)
	default:
		res.ArchitectureMap = &arch
	}

	var telemetry []TelemetryEvent
	ok, err = readJSONIfExists(s.path(telemetryFile), &telemetry)
	switch {
	case err != nil:
		res.Warnings = append(res.Warnings, err.Error())
	case !ok:
		res.Warnings = append(res.Warnings, "missing state file: "+telemetryFile)
	default:
		for _, e := range telemetry {
			if problems := e.Validate(); len(problems) > 0 {
				res.Warnings = append(res.Warnings, prefixEach(fmt.Sprintf("telemetry[%s]: ", e.ID), problems)...)
			}
		}
		res.Telemetry = telemetry
	}

	return res, nil
}

// WriteStateUpdate carries the subset of SystemState fields a caller wants
// to change; zero-value fields are left untouched, mirroring the original
// tool's optional --flag semantics.
type WriteStateUpdate struct {
	SystemName      *string
	Phase           *string
	Component       *string
	ComponentStatus *string
	Action          *string
	HealthScore     *int
}

// WriteState loads the current system_state.json (or a fresh default),
// applies update, validates the result, and writes it back atomically.
func (s *Store) WriteState(update WriteStateUpdate) (*SystemState, error) {
	var result *SystemState
	err := withFileLock(s.path(systemStateFile), func() error {
		state := defaultSystemState()
		state.LastActionAt = s.now().UTC().Format(time.RFC3339)
		_, err := readJSONIfExists(s.path(systemStateFile), &state)
		if err != nil {
			return faults.New(faults.MemoryFileInvalid, err.Error()).WithField(systemStateFile)
		}

		if update.SystemName != nil {
			state.SystemName = *update.SystemName
		}
		if update.Phase != nil {
			state.Phase = *update.Phase
		}
		if update.Component != nil && update.ComponentStatus != nil {
			if state.ComponentsStatus == nil {
				state.ComponentsStatus = map[string]string{}
			}
			state.ComponentsStatus[*update.Component] = *update.ComponentStatus
		}
		if update.Action != nil {
			state.LastAction = *update.Action
		}
		if update.HealthScore != nil {
			state.HealthScore = *update.HealthScore
		}
		state.LastActionAt = s.now().UTC().Format(time.RFC3339)

		if problems := state.Validate(); len(problems) > 0 {
			return faultFromProblems(faults.MemoryFileInvalid, "system_state", problems)
		}

		if err := atomicWriteJSON(s.path(systemStateFile), state); err != nil {
			return faults.New(faults.FilesystemFault, err.Error())
		}
		result = &state
		return nil
	})
	return result, err
}

// AppendDecision validates entry, assigns it an id and timestamp if unset,
// and appends it to decision_log.json atomically. The returned warnings
// slice carries a clock-skew notice when entry's timestamp is not
// monotonically after the last recorded entry; the append still succeeds.
func (s *Store) AppendDecision(entry DecisionEntry) (DecisionEntry, []string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp == "" {
		entry.Timestamp = s.now().UTC().Format(time.RFC3339)
	}
	if problems := entry.Validate(); len(problems) > 0 {
		return entry, nil, faultFromProblems(faults.MemoryFileInvalid, "decision_log", problems)
	}

	var warnings []string
	err := withFileLock(s.path(decisionLogFile), func() error {
		var log []DecisionEntry
		if _, err := readJSONIfExists(s.path(decisionLogFile), &log); err != nil {
			return faults.New(faults.MemoryFileInvalid, err.Error()).WithField(decisionLogFile)
		}
		if err := checkMonotonic(log, func(d DecisionEntry) string { return d.Timestamp }, entry.Timestamp); err != nil {
			warnings = append(warnings, err.Error())
		}
		log = append(log, entry)
		if err := atomicWriteJSON(s.path(decisionLogFile), log); err != nil {
			return faults.New(faults.FilesystemFault, err.Error())
		}
		return nil
	})
	return entry, warnings, err
}

// AppendTelemetry validates event, assigns it an id and timestamp if unset,
// and appends it to telemetry.json atomically. See AppendDecision for the
// monotonicity warning contract.
func (s *Store) AppendTelemetry(event TelemetryEvent) (TelemetryEvent, []string, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp == "" {
		event.Timestamp = s.now().UTC().Format(time.RFC3339)
	}
	if problems := event.Validate(); len(problems) > 0 {
		return event, nil, faultFromProblems(faults.MemoryFileInvalid, "telemetry", problems)
	}

	var warnings []string
	err := withFileLock(s.path(telemetryFile), func() error {
		var log []TelemetryEvent
		if _, err := readJSONIfExists(s.path(telemetryFile), &log); err != nil {
			return faults.New(faults.MemoryFileInvalid, err.Error()).WithField(telemetryFile)
		}
		if err := checkMonotonic(log, func(e TelemetryEvent) string { return e.Timestamp }, event.Timestamp); err != nil {
			warnings = append(warnings, err.Error())
		}
		log = append(log, event)
		if err := atomicWriteJSON(s.path(telemetryFile), log); err != nil {
			return faults.New(faults.FilesystemFault, err.Error())
		}
		return nil
	})
	return event, warnings, err
}

// WriteArchitectureMap overwrites architecture_map.json wholesale; unlike
// the append-only logs, the architecture snapshot always represents the
// composer's most recent view of the system graph.
func (s *Store) WriteArchitectureMap(m ArchitectureMap) error {
	return withFileLock(s.path(architectureFile), func() error {
		if err := atomicWriteJSON(s.path(architectureFile), m); err != nil {
			return faults.New(faults.FilesystemFault, err.Error())
		}
		return nil
	})
}

func prefixEach(prefix string, items []string) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = prefix + it
	}
	return out
}

// checkMonotonic warns when a new entry's timestamp sorts before the most
// recent existing entry's, which signals a clock skew or out-of-order
// writer rather than failing the append outright.
func checkMonotonic[T any](existing []T, ts func(T) string, next string) error {
	if len(existing) == 0 {
		return nil
	}
	last := ts(existing[len(existing)-1])
	lastTime, err1 := time.Parse(time.RFC3339, last)
	nextTime, err2 := time.Parse(time.RFC3339, next)
	if err1 != nil || err2 != nil {
		return nil
	}
	if nextTime.Before(lastTime) {
		return fmt.Errorf("out-of-order write: timestamp %s precedes last recorded %s", next, last)
	}
	return nil
}
