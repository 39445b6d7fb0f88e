package store

import (
	"context"
	"maps"
	"sync"

	"github.com/HendryAvila/kmad/internal/arbiter"
	"github.com/HendryAvila/kmad/internal/schedule"
)

// Memory is an in-process store. Commits apply to a copy of the state and
// swap it in only when every claim succeeded.
type Memory struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	version   int64
	nextTask  int64
	slots     map[string]schedule.TimeSlot
	templates map[string]schedule.Template
	tasks     map[int64]schedule.Task
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{state: memState{
		nextTask:  1,
		slots:     make(map[string]schedule.TimeSlot),
		templates: make(map[string]schedule.Template),
		tasks:     make(map[int64]schedule.Task),
	}}
}

// Snapshot returns the current state.
func (m *Memory) Snapshot(_ context.Context) (schedule.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.snapshot(), nil
}

// Commit applies the token's claims atomically.
func (m *Memory) Commit(_ context.Context, tok arbiter.CommitToken) (arbiter.CommitResult, error) {
	if err := tok.Redeem(); err != nil {
		return arbiter.CommitResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if tok.BaseVersion() != m.state.version {
		return arbiter.CommitResult{}, &StaleStateError{Base: tok.BaseVersion(), Current: m.state.version}
	}

	work := m.state.clone()
	var res arbiter.CommitResult
	for _, c := range tok.Claims() {
		id, err := work.apply(c)
		if err != nil {
			return arbiter.CommitResult{}, err
		}
		if id > 0 {
			res.TaskIDs = append(res.TaskIDs, id)
		}
	}
	work.version++
	m.state = work
	res.Version = work.version
	return res, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func (s memState) clone() memState {
	return memState{
		version:   s.version,
		nextTask:  s.nextTask,
		slots:     maps.Clone(s.slots),
		templates: maps.Clone(s.templates),
		tasks:     maps.Clone(s.tasks),
	}
}

func (s memState) snapshot() schedule.Snapshot {
	slots := make([]schedule.TimeSlot, 0, len(s.slots))
	for _, v := range s.slots {
		slots = append(slots, v)
	}
	templates := make([]schedule.Template, 0, len(s.templates))
	for _, v := range s.templates {
		templates = append(templates, v)
	}
	tasks := make([]schedule.Task, 0, len(s.tasks))
	for _, v := range s.tasks {
		tasks = append(tasks, v)
	}
	return schedule.NewSnapshot(s.version, slots, templates, tasks)
}

func (s *memState) used(slot string) int {
	total := 0
	for _, t := range s.tasks {
		if t.Slot == slot {
			total += t.Weight
		}
	}
	return total
}

// apply writes one claim into s, returning the new task ID for placements.
func (s *memState) apply(c arbiter.Claim) (int64, error) {
	switch c.Kind() {
	case arbiter.KindPlace, arbiter.KindReplace:
		p, _ := c.Place()
		slot, ok := s.slots[p.Slot]
		if !ok {
			return 0, invariant("slot %s does not exist", p.Slot)
		}
		if _, ok := s.templates[p.Template]; !ok {
			return 0, invariant("template %s does not exist", p.Template)
		}
		if p.Weight > slot.Capacity-s.used(p.Slot) {
			return 0, invariant("slot %s over capacity", p.Slot)
		}
		id := s.nextTask
		s.nextTask++
		s.tasks[id] = schedule.Task{ID: id, Template: p.Template, Weight: p.Weight, Slot: p.Slot}
		return id, nil

	case arbiter.KindCreateTemplate:
		p, _ := c.Template()
		if _, ok := s.templates[p.Name]; ok {
			return 0, invariant("template %s already exists", p.Name)
		}
		s.templates[p.Name] = schedule.Template{Name: p.Name, Weight: p.Weight}
		return 0, nil

	case arbiter.KindCreateSlot:
		p, _ := c.Slot()
		if _, ok := s.slots[p.Time]; ok {
			return 0, invariant("slot %s already exists", p.Time)
		}
		s.slots[p.Time] = schedule.TimeSlot{Time: p.Time, Capacity: p.Capacity}
		return 0, nil

	case arbiter.KindComplete:
		p, _ := c.Complete()
		task, ok := s.tasks[p.TaskID]
		if !ok || task.Completed {
			return 0, invariant("task %d is not open", p.TaskID)
		}
		task.Completed = true
		s.tasks[p.TaskID] = task
		return 0, nil

	default:
		return 0, invariant("unsupported claim kind %s", c.Kind())
	}
}
