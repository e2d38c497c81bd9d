package load

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type Broadcaster interface {
	Broadcast([]byte)
}

// Progress is the statistics and timing collector for a run. DDL phases
// report a duration and a unit count under a stable name ("Create Indexes",
// "Reset Sequences", "Comments", ...); every update is broadcast to the
// sink as JSON.
type Progress struct {
	mu         sync.Mutex
	startedAt  time.Time
	phaseStart time.Time
	status     Status
	sink       Broadcaster
}

type wsMessage struct {
	Type string `json:"type"`
	Data Status `json:"data"`
}

func NewProgress(sink Broadcaster, tables []TableStatus) *Progress {
	return &Progress{
		startedAt: time.Now(),
		status: Status{
			Running:       true,
			CurrentPhase:  "init",
			TableProgress: tables,
		},
		sink: sink,
	}
}

// clone detaches the slice-backed fields so a snapshot can be read or
// marshaled outside the lock while updates keep mutating the originals
// in place.
func (s Status) clone() Status {
	s.Phases = append([]PhaseTiming(nil), s.Phases...)
	s.TableProgress = append([]TableStatus(nil), s.TableProgress...)
	s.FailedTables = append([]FailedTable(nil), s.FailedTables...)
	return s
}

func (p *Progress) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.clone()
}

// StartPhase opens a named, timed phase.
func (p *Progress) StartPhase(name string) {
	p.mu.Lock()
	p.status.CurrentPhase = name
	p.phaseStart = time.Now()
	p.status.ElapsedSec = int64(time.Since(p.startedAt).Seconds())
	p.mu.Unlock()
	p.emit()
}

// EndPhase closes the current phase, recording its duration and how many
// units (statements, tables, sequences) it covered.
func (p *Progress) EndPhase(name string, units int) {
	p.mu.Lock()
	p.status.Phases = append(p.status.Phases, PhaseTiming{
		Name:    name,
		Seconds: time.Since(p.phaseStart).Seconds(),
		Units:   units,
	})
	p.status.ElapsedSec = int64(time.Since(p.startedAt).Seconds())
	p.mu.Unlock()
	p.emit()
}

func (p *Progress) Log(msg string) {
	p.mu.Lock()
	p.status.LogMessage = msg
	p.status.ElapsedSec = int64(time.Since(p.startedAt).Seconds())
	p.mu.Unlock()
	p.emit()
}

func (p *Progress) UpdateOverall(percent int) {
	p.mu.Lock()
	p.status.Overall = percent
	p.status.ElapsedSec = int64(time.Since(p.startedAt).Seconds())
	p.mu.Unlock()
	p.emit()
}

func (p *Progress) UpdateTable(schema, name, status string, total, migrated int64) {
	p.mu.Lock()
	for i := range p.status.TableProgress {
		t := &p.status.TableProgress[i]
		if t.Schema == schema && t.Name == name {
			t.Status = status
			t.TotalRows = total
			t.MigratedRows = migrated
			if total > 0 {
				t.Percent = int(float64(migrated) / float64(total) * 100.0)
			} else {
				t.Percent = 0
			}
			break
		}
	}
	p.status.ElapsedSec = int64(time.Since(p.startedAt).Seconds())
	p.mu.Unlock()
	p.emit()
}

func (p *Progress) AddFailedTable(schema, name, errMsg string) {
	p.mu.Lock()
	p.status.FailedTables = append(p.status.FailedTables, FailedTable{
		Schema: schema,
		Name:   name,
		Error:  errMsg,
	})
	p.status.ElapsedSec = int64(time.Since(p.startedAt).Seconds())
	p.mu.Unlock()
	p.emit()
}

func (p *Progress) FinishWithError(errMsg string) {
	p.mu.Lock()
	p.status.Running = false
	p.status.ElapsedSec = int64(time.Since(p.startedAt).Seconds())
	p.status.LogMessage = fmt.Sprintf("load failed: %s (elapsed %ds)", errMsg, p.status.ElapsedSec)
	p.mu.Unlock()
	p.emit()
}

func (p *Progress) Finish() {
	p.mu.Lock()
	p.status.Running = false
	p.status.Overall = 100
	p.status.ElapsedSec = int64(time.Since(p.startedAt).Seconds())
	p.status.LogMessage = fmt.Sprintf("load completed (elapsed %ds)", p.status.ElapsedSec)
	p.mu.Unlock()
	p.emit()
}

func (p *Progress) emit() {
	if p.sink == nil {
		return
	}
	p.mu.Lock()
	status := p.status.clone()
	p.mu.Unlock()

	payload, err := json.Marshal(wsMessage{
		Type: "progress",
		Data: status,
	})
	if err != nil {
		return
	}
	p.sink.Broadcast(payload)
}
