package migration

import "fmt"

// Phase is a state of the migration state machine.
type Phase int

const (
	Init Phase = iota
	Validated
	ShadowCreated
	ShadowAltered
	KeyChosen
	TriggersInstalled
	RangeSnapshotted
	Copying
	Reconciling
	Renamed
	Done
	Failed
	CleanupOnly
)

var phaseNames = map[Phase]string{
	Init:              "init",
	Validated:         "validated",
	ShadowCreated:     "shadow-created",
	ShadowAltered:     "shadow-altered",
	KeyChosen:         "key-chosen",
	TriggersInstalled: "triggers-installed",
	RangeSnapshotted:  "range-snapshotted",
	Copying:           "copying",
	Reconciling:       "reconciling",
	Renamed:           "renamed",
	Done:              "done",
	Failed:            "failed",
	CleanupOnly:       "cleanup-only",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// MarshalText renders the phase name in reports.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Terminal reports whether no transition leaves p.
func (p Phase) Terminal() bool {
	return len(transitions[p]) == 0
}

// transitions lists the legal successors of every phase. Failed is reachable
// from every non-terminal phase.
var transitions = map[Phase][]Phase{
	Init:              {Validated, CleanupOnly, Failed},
	Validated:         {ShadowCreated, Failed},
	ShadowCreated:     {ShadowAltered, Failed},
	ShadowAltered:     {KeyChosen, Failed},
	KeyChosen:         {TriggersInstalled, Failed},
	TriggersInstalled: {RangeSnapshotted, Failed},
	RangeSnapshotted:  {Copying, Failed},
	Copying:           {Reconciling, Failed},
	// Reconciling goes straight to Done when the shadow table is kept.
	Reconciling: {Renamed, Done, Failed},
	Renamed:     {Done, Failed},
}

func canTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}
