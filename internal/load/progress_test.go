package load

import (
	"encoding/json"
	"sync"
	"testing"
)

type captureSink struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (c *captureSink) Broadcast(b []byte) {
	c.mu.Lock()
	c.payloads = append(c.payloads, b)
	c.mu.Unlock()
}

func (c *captureSink) last() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.payloads) == 0 {
		return nil
	}
	return c.payloads[len(c.payloads)-1]
}

func (c *captureSink) all() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.payloads...)
}

func TestProgressPhases(t *testing.T) {
	p := NewProgress(nil, nil)

	p.StartPhase("Create Indexes")
	p.EndPhase("Create Indexes", 42)
	p.StartPhase("Comments")
	p.EndPhase("Comments", 3)

	st := p.Snapshot()
	if len(st.Phases) != 2 {
		t.Fatalf("phases = %v", st.Phases)
	}
	if st.Phases[0].Name != "Create Indexes" || st.Phases[0].Units != 42 {
		t.Errorf("phase 0 = %+v", st.Phases[0])
	}
	if st.Phases[1].Name != "Comments" || st.Phases[1].Units != 3 {
		t.Errorf("phase 1 = %+v", st.Phases[1])
	}
}

func TestProgressUpdateTable(t *testing.T) {
	p := NewProgress(nil, []TableStatus{
		{Schema: "public", Name: "orders", Status: "pending"},
	})

	p.UpdateTable("public", "orders", "copying", 200, 50)
	st := p.Snapshot()
	got := st.TableProgress[0]
	if got.Status != "copying" || got.Percent != 25 {
		t.Errorf("table progress = %+v", got)
	}

	// Unknown rowcount never divides by zero.
	p.UpdateTable("public", "orders", "copying", 0, 10)
	if got := p.Snapshot().TableProgress[0].Percent; got != 0 {
		t.Errorf("percent with zero total = %d", got)
	}
}

func TestSnapshotDetachedFromUpdates(t *testing.T) {
	p := NewProgress(nil, []TableStatus{
		{Schema: "public", Name: "orders", Status: "pending"},
	})

	st := p.Snapshot()
	p.UpdateTable("public", "orders", "copying", 100, 50)
	p.StartPhase("Copy Data")
	p.EndPhase("Copy Data", 1)

	// The snapshot must not see mutations made after it was taken; a
	// shared backing array here means broadcast marshaling races with
	// worker updates.
	if st.TableProgress[0].Status != "pending" {
		t.Errorf("snapshot mutated in place: %+v", st.TableProgress[0])
	}
	if len(st.Phases) != 0 {
		t.Errorf("snapshot grew phases after the fact: %v", st.Phases)
	}
}

func TestProgressConcurrentTableUpdates(t *testing.T) {
	sink := &captureSink{}
	p := NewProgress(sink, []TableStatus{
		{Schema: "public", Name: "orders", Status: "pending"},
		{Schema: "public", Name: "customers", Status: "pending"},
	})

	// Copy workers update table rows and the overall percentage
	// concurrently while every update is marshaled for broadcast.
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			name := "orders"
			if w%2 == 1 {
				name = "customers"
			}
			for i := 0; i < 50; i++ {
				p.UpdateTable("public", name, "copying", 100, int64(i))
				p.UpdateOverall(i)
			}
		}(w)
	}
	wg.Wait()

	for _, payload := range sink.all() {
		var msg wsMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("broadcast payload corrupted: %v", err)
		}
	}
}

func TestProgressBroadcastsJSON(t *testing.T) {
	sink := &captureSink{}
	p := NewProgress(sink, nil)

	p.Log("create table public.orders")
	p.Finish()

	payload := sink.last()
	if payload == nil {
		t.Fatal("nothing broadcast")
	}
	var msg struct {
		Type string `json:"type"`
		Data Status `json:"data"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "progress" {
		t.Errorf("message type = %q", msg.Type)
	}
	if msg.Data.Running {
		t.Errorf("still running after Finish")
	}
	if msg.Data.Overall != 100 {
		t.Errorf("overall = %d, want 100", msg.Data.Overall)
	}
}
