package load

import "github.com/sahapasci/pgloader/internal/database"

// Selection names the source schemas whose catalog gets materialized.
type Selection struct {
	Schemas []string `json:"schemas"`
}

// Options is the recognized configuration surface of a load run.
type Options struct {
	// IfNotExists makes create statements no-ops when the object exists.
	IfNotExists bool `json:"ifNotExists"`
	// IncludeDrop emits a cascading drop before every create.
	IncludeDrop bool `json:"includeDrop"`
	// DropIndexes gates whether indexes are dropped pre-load and rebuilt
	// post-load at all. When false and indexes exist on the target, only a
	// warning is produced.
	DropIndexes bool `json:"dropIndexes"`
	// MaxParallelCreateIndex caps the index-build worker pool. Zero means
	// one worker per index.
	MaxParallelCreateIndex int `json:"maxParallelCreateIndex"`
	// PreserveIndexNames suppresses OID-based index renaming.
	PreserveIndexNames bool `json:"preserveIndexNames"`
	// DowncaseIdentifiers lowercases identifiers before quoting.
	DowncaseIdentifiers bool `json:"downcaseIdentifiers"`
	// ClientMinMessages is handed to the connection verbatim.
	ClientMinMessages string `json:"clientMinMessages,omitempty"`
	// DisableTriggers brackets each table's bulk insert with trigger
	// disable/enable statements.
	DisableTriggers bool `json:"disableTriggers"`

	BatchSize int `json:"batchSize"`
	Workers   int `json:"workers"`
}

type Request struct {
	Source      database.ConnInfo `json:"source"`
	Destination database.ConnInfo `json:"destination"`
	Selection   Selection         `json:"selection"`
	Options     Options           `json:"options"`
}

type FailedTable struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
	Error  string `json:"error"`
}

// PhaseTiming is one named phase's duration and unit count, e.g.
// {"Create Indexes", 12.3, 42}.
type PhaseTiming struct {
	Name    string  `json:"name"`
	Seconds float64 `json:"seconds"`
	Units   int     `json:"units"`
}

type Status struct {
	Running       bool          `json:"running"`
	Overall       int           `json:"overallPercent"`
	ElapsedSec    int64         `json:"elapsedSeconds"`
	CurrentPhase  string        `json:"currentPhase"`
	LogMessage    string        `json:"logMessage"`
	Phases        []PhaseTiming `json:"phases,omitempty"`
	TableProgress []TableStatus `json:"tables"`
	FailedTables  []FailedTable `json:"failedTables,omitempty"`
}

type TableStatus struct {
	Schema       string `json:"schema"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	TotalRows    int64  `json:"totalRows"`
	MigratedRows int64  `json:"migratedRows"`
	Percent      int    `json:"percent"`
}
