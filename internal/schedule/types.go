// Package schedule models the state behind the capacity-managed task
// scheduler: time slots with a capacity, task templates with a weight, and
// task instances placed into slots.
//
// The package only describes state. It never writes anything; writes go
// through the store package and only with a commit token issued by the
// arbiter.
package schedule

import (
	"fmt"
	"math"
	"sort"
)

// MaxQuantity bounds slot capacities and template weights so that usage
// sums over a slot cannot overflow.
const MaxQuantity = math.MaxInt32

// TimeSlot is a bucket of capacity at a given time of day.
type TimeSlot struct {
	Time     string `json:"time"`
	Capacity int    `json:"capacity"`
	Used     int    `json:"used"`
}

// Free returns the remaining capacity of the slot.
func (s TimeSlot) Free() int {
	return s.Capacity - s.Used
}

// Template is a reusable task definition. Weight is the capacity a task
// created from it consumes.
type Template struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

// Task is a template instance placed into a slot.
type Task struct {
	ID        int64  `json:"id"`
	Template  string `json:"template"`
	Weight    int    `json:"weight"`
	Slot      string `json:"slot"`
	Completed bool   `json:"completed"`
}

// Label renders the task the way the schedule listing shows it.
func (t Task) Label() string {
	if t.Completed {
		return fmt.Sprintf("#%d %s (done)", t.ID, t.Template)
	}
	return fmt.Sprintf("#%d %s", t.ID, t.Template)
}

// Snapshot is a read-only, point-in-time view of the schedule. The zero
// value is an empty schedule at version 0.
type Snapshot struct {
	version   int64
	slots     map[string]TimeSlot
	templates map[string]Template
	tasks     map[int64]Task
}

// NewSnapshot builds a snapshot from raw rows. Slot usage is derived from
// the tasks, so any Used value on the input slots is ignored. Inputs are
// copied; the caller may reuse them.
func NewSnapshot(version int64, slots []TimeSlot, templates []Template, tasks []Task) Snapshot {
	s := Snapshot{
		version:   version,
		slots:     make(map[string]TimeSlot, len(slots)),
		templates: make(map[string]Template, len(templates)),
		tasks:     make(map[int64]Task, len(tasks)),
	}
	for _, slot := range slots {
		slot.Used = 0
		s.slots[slot.Time] = slot
	}
	for _, tpl := range templates {
		s.templates[tpl.Name] = tpl
	}
	for _, task := range tasks {
		s.tasks[task.ID] = task
		if slot, ok := s.slots[task.Slot]; ok {
			slot.Used += task.Weight
			s.slots[task.Slot] = slot
		}
	}
	return s
}

// Version identifies the commit this snapshot reflects.
func (s Snapshot) Version() int64 { return s.version }

// Slot looks up a slot by its normalized time.
func (s Snapshot) Slot(time string) (TimeSlot, bool) {
	slot, ok := s.slots[time]
	return slot, ok
}

// Template looks up a template by name.
func (s Snapshot) Template(name string) (Template, bool) {
	tpl, ok := s.templates[name]
	return tpl, ok
}

// Task looks up a task by ID.
func (s Snapshot) Task(id int64) (Task, bool) {
	task, ok := s.tasks[id]
	return task, ok
}

// Slots returns every slot ordered by time of day.
func (s Snapshot) Slots() []TimeSlot {
	out := make([]TimeSlot, 0, len(s.slots))
	for _, slot := range s.slots {
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool {
		return Less(out[i].Time, out[j].Time)
	})
	return out
}

// Templates returns every template ordered by name.
func (s Snapshot) Templates() []Template {
	out := make([]Template, 0, len(s.templates))
	for _, tpl := range s.templates {
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Tasks returns every task ordered by ID.
func (s Snapshot) Tasks() []Task {
	out := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TasksIn returns the tasks placed in a slot, ordered by ID.
func (s Snapshot) TasksIn(time string) []Task {
	var out []Task
	for _, task := range s.Tasks() {
		if task.Slot == time {
			out = append(out, task)
		}
	}
	return out
}

// View is the JSON shape of a snapshot used by the read-only surfaces.
type View struct {
	Version   int64      `json:"version"`
	Slots     []TimeSlot `json:"slots"`
	Templates []Template `json:"templates"`
	Tasks     []Task     `json:"tasks"`
}

// View renders the snapshot as a serializable value.
func (s Snapshot) View() View {
	return View{
		Version:   s.version,
		Slots:     s.Slots(),
		Templates: s.Templates(),
		Tasks:     s.Tasks(),
	}
}
