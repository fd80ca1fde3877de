package migration

import (
	"time"

	"github.com/nethalo/dbalter/internal/copier"
)

// Report is the run-scoped record of a migration, handed to the renderers.
type Report struct {
	RunID    string
	Database string
	Table    string
	Ghost    string
	Archive  string
	Alter    string
	Engine   string

	Phases []Phase
	Phase  Phase

	Key           string
	SharedColumns []string
	RangeMin      string
	RangeMax      string
	Empty         bool
	LockAttempts  int

	RenameAttempts int

	Copy   copier.Stats
	Delete *copier.Stats

	VerifiedRows *int64
	Swapped      bool
	ArchiveKept  bool
	TriggersKept bool
	CleanupOnly  bool

	Warnings []string
	Cleanup  []string
	Error    string

	StartedAt time.Time
	Duration  time.Duration
}

// Succeeded reports whether the run reached Done.
func (r *Report) Succeeded() bool { return r.Phase == Done }

func (r *Report) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}
