package pipeline

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/HendryAvila/kmad/internal/arbiter"
	"github.com/HendryAvila/kmad/internal/command"
	"github.com/HendryAvila/kmad/internal/config"
	"github.com/HendryAvila/kmad/internal/departments"
	"github.com/HendryAvila/kmad/internal/schedule"
	"github.com/HendryAvila/kmad/internal/store"
)

func init() {
	// Freeze time for deterministic tests.
	timeNow = func() time.Time {
		return time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	}
}

// --- helpers ---

type fixture struct {
	driver *Driver
	store  store.Store
}

func newFixture(t *testing.T, reg departments.Registry, edit func(map[command.Action][]string), opts ...Option) fixture {
	t.Helper()
	rules := config.DefaultRules()
	triggers := rules.TriggerMap()
	if edit != nil {
		edit(triggers)
	}
	st := store.NewMemory()
	d, err := New(arbiter.New(rules.CapabilityTable(), arbiter.WithMaxRetries(rules.Pipeline.MaxRetries)), reg, triggers, st, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return fixture{driver: d, store: st}
}

func defaultFixture(t *testing.T) fixture {
	return newFixture(t, departments.Default(), nil)
}

func (f fixture) exec(t *testing.T, line string) Result {
	t.Helper()
	res, err := f.driver.Execute(context.Background(), line)
	if err != nil {
		t.Fatalf("Execute(%q): %v", line, err)
	}
	return res
}

func (f fixture) mustOK(t *testing.T, lines ...string) {
	t.Helper()
	for _, line := range lines {
		if res := f.exec(t, line); !res.OK() {
			t.Fatalf("%q failed: %s", line, res.Message)
		}
	}
}

func (f fixture) version(t *testing.T) int64 {
	t.Helper()
	snap, err := f.store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return snap.Version()
}

var straightThrough = []Phase{
	PhaseParse, PhaseDetectTrigger, PhaseInvokeProposers, PhaseInvokeValidators,
	PhaseEvaluate, PhaseArbiterDecide, PhaseCommitOrNoop, PhaseFormatResult,
}

// --- Scenarios ---

func TestExecute_PlaceSuccess(t *testing.T) {
	f := defaultFixture(t)
	f.mustOK(t, "create_slot 9:00 60", "create_template Meeting 30")

	res := f.exec(t, "place Meeting 9:00")
	if res.Kind != ResultSuccess {
		t.Fatalf("Kind = %s, want success (%s)", res.Kind, res.Message)
	}
	if res.Message != "Meeting placed at 9:00 (remaining capacity: 30)" {
		t.Errorf("Message = %q", res.Message)
	}
	if !reflect.DeepEqual(res.Phases, straightThrough) {
		t.Errorf("Phases = %v", res.Phases)
	}
	if !reflect.DeepEqual(res.TaskIDs, []int64{1}) {
		t.Errorf("TaskIDs = %v, want [1]", res.TaskIDs)
	}
	if res.ActionID == "" {
		t.Error("ActionID should be set")
	}
}

func TestExecute_PlaceReplaced(t *testing.T) {
	f := defaultFixture(t)
	f.mustOK(t,
		"create_slot 9:00 60",
		"create_slot 10:00 60",
		"create_template Filler 40",
		"create_template Meeting 30",
		"place Filler 9:00",
	)

	res := f.exec(t, "place Meeting 9:00")
	if res.Kind != ResultReplaced {
		t.Fatalf("Kind = %s, want replaced (%s)", res.Kind, res.Message)
	}
	if res.Message != "9:00 has insufficient capacity. Automatically placed at 10:00" {
		t.Errorf("Message = %q", res.Message)
	}
	if res.Retries != 1 {
		t.Errorf("Retries = %d, want 1", res.Retries)
	}
	wantPhases := []Phase{
		PhaseParse, PhaseDetectTrigger, PhaseInvokeProposers,
		PhaseInvokeValidators, PhaseEvaluate, PhaseReplacementPropose,
		PhaseInvokeValidators, PhaseEvaluate,
		PhaseArbiterDecide, PhaseCommitOrNoop, PhaseFormatResult,
	}
	if !reflect.DeepEqual(res.Phases, wantPhases) {
		t.Errorf("Phases = %v", res.Phases)
	}
	wantClaims := []string{
		"#1 place by TaskPlacementProposer",
		"#2 replace by AutoReplacementProposer (supersedes #1)",
	}
	if !reflect.DeepEqual(res.Claims, wantClaims) {
		t.Errorf("Claims = %v", res.Claims)
	}

	list := f.exec(t, "list")
	want := "9:00 [40/60] #1 Filler\n10:00 [30/60] #2 Meeting"
	if list.Message != want {
		t.Errorf("list = %q, want %q", list.Message, want)
	}
}

func TestExecute_MissingTemplate(t *testing.T) {
	f := defaultFixture(t)
	f.mustOK(t, "create_slot 9:00 60")
	before := f.version(t)

	res := f.exec(t, "place Meeting 9:00")
	if res.Kind != ResultError {
		t.Fatalf("Kind = %s, want error", res.Kind)
	}
	if res.Message != "Template 'Meeting' does not exist" {
		t.Errorf("Message = %q", res.Message)
	}
	if res.Category != string(arbiter.CategoryConsistency) {
		t.Errorf("Category = %s, want consistency", res.Category)
	}
	if res.Retries != 0 {
		t.Errorf("Retries = %d, want 0", res.Retries)
	}
	if f.version(t) != before {
		t.Error("store mutated by rejected action")
	}
}

func TestExecute_OversizedQuantitiesRejected(t *testing.T) {
	f := defaultFixture(t)
	tests := []struct {
		line   string
		reason string
	}{
		{"create_slot 9:00 9223372036854775807", "Capacity must be at most 2147483647"},
		{"create_template Big 9223372036854775807", "Weight must be at most 2147483647"},
	}
	for _, tt := range tests {
		res := f.exec(t, tt.line)
		if res.Kind != ResultError || res.Message != tt.reason {
			t.Errorf("%q: res = %+v, want %q", tt.line, res, tt.reason)
		}
	}
	if f.version(t) != 0 {
		t.Error("store mutated by rejected action")
	}
}

func TestExecute_LargestQuantitiesStayWithinCapacity(t *testing.T) {
	f := defaultFixture(t)
	f.mustOK(t, "create_slot 9:00 2147483647", "create_template Big 2147483647", "place Big 9:00")

	res := f.exec(t, "place Big 9:00")
	if res.Kind != ResultError {
		t.Fatalf("second placement Kind = %s, want error (%s)", res.Kind, res.Message)
	}
	list := f.exec(t, "list")
	if list.Message != "9:00 [2147483647/2147483647] #1 Big" {
		t.Errorf("list = %q", list.Message)
	}
}

func TestExecute_CompleteMissingTask(t *testing.T) {
	f := defaultFixture(t)
	res := f.exec(t, "complete 999")
	if res.Kind != ResultError || res.Message != "Task '999' does not exist" {
		t.Errorf("res = %+v", res)
	}
	if f.version(t) != 0 {
		t.Error("store mutated by rejected action")
	}
}

func TestExecute_NoAlternativeKeepsOriginalReason(t *testing.T) {
	f := defaultFixture(t)
	f.mustOK(t,
		"create_slot 9:00 60",
		"create_template Filler 40",
		"create_template Meeting 30",
		"place Filler 9:00",
	)

	res := f.exec(t, "place Meeting 9:00")
	if res.Kind != ResultError {
		t.Fatalf("Kind = %s, want error", res.Kind)
	}
	if res.Message != "Time slot '9:00' has insufficient capacity (40/60 used, needs 30)" {
		t.Errorf("Message = %q", res.Message)
	}
	if res.Category != string(arbiter.CategoryCapacity) {
		t.Errorf("Category = %s", res.Category)
	}
}

// nextSlot proposes the slot after the failing one without checking room,
// so every retry fails capacity again.
type nextSlot struct{}

func (nextSlot) Name() string { return departments.NameReplacement }

func (nextSlot) Replace(failed arbiter.Verdict, act *arbiter.Action, snap schedule.Snapshot) (arbiter.Claim, bool) {
	orig, _ := act.Claim(failed.ClaimSequence)
	p, _ := orig.Place()
	for _, slot := range snap.Slots() {
		if schedule.Less(p.Slot, slot.Time) {
			from := p.From
			if from == "" {
				from = p.Slot
			}
			return arbiter.NewClaim(departments.NameReplacement, arbiter.KindReplace, arbiter.PlacePayload{
				Template: p.Template, Weight: p.Weight, Slot: slot.Time, From: from,
			}).Superseding(orig.Sequence()), true
		}
	}
	return arbiter.Claim{}, false
}

func TestExecute_RetryBoundExhausted(t *testing.T) {
	reg := departments.Default()
	reg.Replacement = nextSlot{}
	f := newFixture(t, reg, nil)

	f.mustOK(t, "create_template Filler 40", "create_template Meeting 30")
	for _, slot := range []string{"9:00", "10:00", "11:00", "12:00", "13:00"} {
		f.mustOK(t, "create_slot "+slot+" 60", "place Filler "+slot)
	}

	res := f.exec(t, "place Meeting 9:00")
	if res.Kind != ResultError {
		t.Fatalf("Kind = %s, want error", res.Kind)
	}
	if res.Retries != arbiter.DefaultMaxRetries {
		t.Errorf("Retries = %d, want %d", res.Retries, arbiter.DefaultMaxRetries)
	}
	if len(res.Claims) != arbiter.DefaultMaxRetries+1 {
		t.Errorf("Claims = %v, want %d", res.Claims, arbiter.DefaultMaxRetries+1)
	}
	if res.Message != "Time slot '9:00' has insufficient capacity (40/60 used, needs 30)" {
		t.Errorf("Message = %q, want the original capacity failure", res.Message)
	}
	replacements := 0
	for _, p := range res.Phases {
		if p == PhaseReplacementPropose {
			replacements++
		}
	}
	if replacements != arbiter.DefaultMaxRetries {
		t.Errorf("replacement phases = %d, want %d", replacements, arbiter.DefaultMaxRetries)
	}
}

// --- Other commands ---

func TestExecute_CreateAndComplete(t *testing.T) {
	f := defaultFixture(t)

	tests := []struct {
		line string
		want string
	}{
		{"create_slot 9 60", "Time slot 9:00 created (capacity: 60)"},
		{"create_template Meeting 30", "Template 'Meeting' created (weight: 30)"},
		{"place Meeting 9:00", "Meeting placed at 9:00 (remaining capacity: 30)"},
		{"complete #1", "Task 1 (Meeting) completed"},
	}
	for _, tt := range tests {
		res := f.exec(t, tt.line)
		if res.Kind != ResultSuccess || res.Message != tt.want {
			t.Errorf("%q = %s %q, want success %q", tt.line, res.Kind, res.Message, tt.want)
		}
	}

	if res := f.exec(t, "complete 1"); res.Message != "Task '1' is already completed" {
		t.Errorf("second complete = %q", res.Message)
	}
	if res := f.exec(t, "list"); res.Message != "9:00 [30/60] #1 Meeting (done)" {
		t.Errorf("list = %q", res.Message)
	}
}

func TestExecute_ListBypassesClaims(t *testing.T) {
	f := defaultFixture(t)
	res := f.exec(t, "list")
	if res.Kind != ResultList || res.Message != "No time slots" {
		t.Errorf("res = %+v", res)
	}
	want := []Phase{PhaseParse, PhaseDetectTrigger, PhaseFormatResult}
	if !reflect.DeepEqual(res.Phases, want) {
		t.Errorf("Phases = %v, want %v", res.Phases, want)
	}

	f.mustOK(t, "create_slot 10:00 20", "create_slot 9:00 60")
	if res := f.exec(t, "list"); res.Message != "9:00 [0/60] -\n10:00 [0/20] -" {
		t.Errorf("list = %q", res.Message)
	}
}

func TestExecute_ParseError(t *testing.T) {
	f := defaultFixture(t)
	res := f.exec(t, "place Meeting")
	if res.Kind != ResultError || !strings.HasPrefix(res.Message, "usage: place") {
		t.Errorf("res = %+v", res)
	}
	want := []Phase{PhaseParse, PhaseFormatResult}
	if !reflect.DeepEqual(res.Phases, want) {
		t.Errorf("Phases = %v, want %v", res.Phases, want)
	}
}

func TestExecute_NoDepartment(t *testing.T) {
	f := newFixture(t, departments.Default(), func(m map[command.Action][]string) {
		delete(m, command.ActionCreateSlot)
	})
	res := f.exec(t, "create_slot 9:00 60")
	if res.Kind != ResultError || res.Message != "No department handles 'create_slot'" {
		t.Errorf("res = %+v", res)
	}
	want := []Phase{PhaseParse, PhaseDetectTrigger, PhaseInvokeProposers, PhaseArbiterDecide, PhaseCommitOrNoop, PhaseFormatResult}
	if !reflect.DeepEqual(res.Phases, want) {
		t.Errorf("Phases = %v", res.Phases)
	}
}

func TestRun_TypedCommand(t *testing.T) {
	f := defaultFixture(t)
	res, err := f.driver.Run(context.Background(), command.Command{Action: command.ActionCreateSlot, Time: "9:00", Capacity: 60})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Message != "Time slot 9:00 created (capacity: 60)" {
		t.Errorf("Message = %q", res.Message)
	}
}

func TestRun_MultiWordNameRejected(t *testing.T) {
	f := defaultFixture(t)
	res, err := f.driver.Run(context.Background(), command.Command{Action: command.ActionCreateTemplate, Name: "Team Meeting", Weight: 10})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Kind != ResultError || res.Message != `name must be a single word, got "Team Meeting"` {
		t.Errorf("res = %+v", res)
	}
	if !reflect.DeepEqual(res.Phases, []Phase{PhaseParse, PhaseFormatResult}) {
		t.Errorf("Phases = %v", res.Phases)
	}
	if f.version(t) != 0 {
		t.Error("store mutated by rejected command")
	}
}

// --- Fatal paths ---

type markingProposer struct{ departments.Placement }

func (m markingProposer) Propose(act *arbiter.Action, snap schedule.Snapshot) (arbiter.Claim, bool) {
	c, ok := m.Placement.Propose(act, snap)
	return c.WithMarker(arbiter.MarkerMutation), ok
}

type decidingValidator struct{ departments.ConsistencyValidator }

func (v decidingValidator) Validate(c arbiter.Claim, act *arbiter.Action, snap schedule.Snapshot) arbiter.Verdict {
	verdict := v.ConsistencyValidator.Validate(c, act, snap)
	verdict.Marker = arbiter.MarkerDecision
	return verdict
}

func TestExecute_RoleViolationIsFatal(t *testing.T) {
	tests := []struct {
		name string
		edit func(*departments.Registry)
	}{
		{"proposer mutation marker", func(r *departments.Registry) {
			r.Proposers[departments.NamePlacement] = markingProposer{}
		}},
		{"validator decision marker", func(r *departments.Registry) {
			r.Validators = []arbiter.Validator{departments.CapacityValidator{}, decidingValidator{}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := departments.Default()
			seed := newFixture(t, reg, nil)
			seed.mustOK(t, "create_slot 9:00 60", "create_template Meeting 30")

			tt.edit(&reg)
			d, err := New(arbiter.New(config.DefaultRules().CapabilityTable()), reg, config.DefaultRules().TriggerMap(), seed.store)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			before := seed.version(t)

			_, err = d.Execute(context.Background(), "place Meeting 9:00")
			if !errors.Is(err, arbiter.ErrRoleViolation) {
				t.Fatalf("err = %v, want ErrRoleViolation", err)
			}
			if seed.version(t) != before {
				t.Error("store mutated despite role violation")
			}
		})
	}
}

type failingStore struct{ store.Store }

func (failingStore) Commit(context.Context, arbiter.CommitToken) (arbiter.CommitResult, error) {
	return arbiter.CommitResult{}, errors.New("disk gone")
}

func TestExecute_CommitFailureIsFatal(t *testing.T) {
	rules := config.DefaultRules()
	d, err := New(arbiter.New(rules.CapabilityTable()), departments.Default(), rules.TriggerMap(), failingStore{store.NewMemory()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = d.Execute(context.Background(), "create_slot 9:00 60")
	if !errors.Is(err, arbiter.ErrCommitFailed) {
		t.Fatalf("err = %v, want ErrCommitFailed", err)
	}
	if arbiter.IsRetriable(err) {
		t.Error("plain commit failure should not be retriable")
	}
}

// racingStore lets another writer commit between the snapshot read and
// the commit.
type racingStore struct {
	store.Store
	other *Driver
	raced bool
}

func (r *racingStore) Snapshot(ctx context.Context) (schedule.Snapshot, error) {
	snap, err := r.Store.Snapshot(ctx)
	if err != nil || r.raced {
		return snap, err
	}
	r.raced = true
	if _, err := r.other.Execute(ctx, "create_slot 11:00 10"); err != nil {
		return schedule.Snapshot{}, err
	}
	return snap, nil
}

func TestExecute_StaleStateIsRetriable(t *testing.T) {
	rules := config.DefaultRules()
	inner := store.NewMemory()
	other, err := New(arbiter.New(rules.CapabilityTable()), departments.Default(), rules.TriggerMap(), inner)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	racing := &racingStore{Store: inner, other: other}
	d, err := New(arbiter.New(rules.CapabilityTable()), departments.Default(), rules.TriggerMap(), racing)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = d.Execute(context.Background(), "create_slot 9:00 60")
	if !errors.Is(err, arbiter.ErrCommitFailed) || !errors.Is(err, store.ErrStaleState) {
		t.Fatalf("err = %v, want stale commit failure", err)
	}
	if !arbiter.IsRetriable(err) {
		t.Error("stale state should be retriable")
	}

	// A second attempt sees the new version and lands.
	res, err := d.Execute(context.Background(), "create_slot 9:00 60")
	if err != nil || !res.OK() {
		t.Fatalf("retry = %+v, %v", res, err)
	}
}

// --- Construction / tracing ---

func TestNew_UnregisteredProposer(t *testing.T) {
	rules := config.DefaultRules()
	triggers := rules.TriggerMap()
	triggers[command.ActionPlace] = []string{"Ghost"}
	_, err := New(arbiter.New(rules.CapabilityTable()), departments.Default(), triggers, store.NewMemory())
	if err == nil || !strings.Contains(err.Error(), "Ghost") {
		t.Errorf("New = %v, want unregistered proposer error", err)
	}
}

func TestExecute_EmitsPhaseSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	f := newFixture(t, departments.Default(), nil, WithTracer(tp.Tracer("test")))

	f.exec(t, "create_slot 9:00 60")

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	for _, want := range []string{"kmad.execute", "kmad.parse", "kmad.invoke-validators", "kmad.commit-or-noop", "kmad.format-result"} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing span %s in %v", want, names)
		}
	}
}

// --- CanAdvance ---

func TestCanAdvance(t *testing.T) {
	tests := []struct {
		from, to Phase
		want     bool
	}{
		{"", PhaseParse, true},
		{PhaseParse, PhaseFormatResult, true},
		{PhaseEvaluate, PhaseReplacementPropose, true},
		{PhaseReplacementPropose, PhaseInvokeValidators, true},
		{PhaseParse, PhaseInvokeProposers, false},
		{PhaseInvokeValidators, PhaseArbiterDecide, false},
		{PhaseArbiterDecide, PhaseFormatResult, false},
		{PhaseFormatResult, PhaseParse, false},
	}
	for _, tt := range tests {
		if got := CanAdvance(tt.from, tt.to); got != tt.want {
			t.Errorf("CanAdvance(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTrail_RejectsIllegalStep(t *testing.T) {
	tr := &trail{}
	if err := tr.advance(PhaseEvaluate); !errors.Is(err, ErrIllegalPhase) {
		t.Errorf("advance = %v, want ErrIllegalPhase", err)
	}
}
