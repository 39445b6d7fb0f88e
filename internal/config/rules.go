package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/kmad/internal/arbiter"
	"github.com/HendryAvila/kmad/internal/command"
)

// MaxRetriesLimit caps pipeline.max_retries.
const MaxRetriesLimit = 10

// DefaultRulesYAML is written by `kmad init` and used when no rules file
// exists.
const DefaultRulesYAML = `# kmad governance rules
version: 1

pipeline:
  # How many times a capacity failure may trigger the replacement proposer.
  max_retries: 3

# Which proposers run for each command, in invocation order.
triggers:
  place: [TaskPlacementProposer]
  create_template: [TaskTemplateManager]
  create_slot: [TimeSlotManager]
  complete: [TaskCompletionHandler]

capabilities:
  TaskPlacementProposer:
    role: proposer
    can_claim: [place]
  TaskTemplateManager:
    role: proposer
    can_claim: [create_template]
  TimeSlotManager:
    role: proposer
    can_claim: [create_slot]
  TaskCompletionHandler:
    role: proposer
    can_claim: [complete]
  AutoReplacementProposer:
    role: replacement
    can_claim: [replace]
  CapacityValidator:
    role: validator
    category: capacity
    applies_to: [place, replace]
  ConsistencyValidator:
    role: validator
    category: consistency
    applies_to: [place, replace, create_template, create_slot, complete]
`

// PipelineRules tunes the pipeline driver.
type PipelineRules struct {
	MaxRetries int `yaml:"max_retries"`
}

// CapabilityRule is one department entry of the rules file.
type CapabilityRule struct {
	Role      string   `yaml:"role"`
	CanClaim  []string `yaml:"can_claim,omitempty"`
	Category  string   `yaml:"category,omitempty"`
	AppliesTo []string `yaml:"applies_to,omitempty"`
}

// Rules models the governance rules file.
type Rules struct {
	Version      int                       `yaml:"version"`
	Pipeline     PipelineRules             `yaml:"pipeline"`
	Triggers     map[string][]string       `yaml:"triggers"`
	Capabilities map[string]CapabilityRule `yaml:"capabilities"`
}

// DefaultRules returns the built-in rules.
func DefaultRules() *Rules {
	r, err := ParseRules([]byte(DefaultRulesYAML))
	if err != nil {
		panic(fmt.Sprintf("config: built-in rules are invalid: %v", err))
	}
	return r
}

// ParseRules decodes rules YAML.
func ParseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return &r, nil
}

// LoadRules reads and parses a rules file. A missing file is reported with
// an error matching os.ErrNotExist.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(data)
}

// WriteDefaultRules creates path with DefaultRulesYAML. It refuses to
// overwrite an existing file.
func WriteDefaultRules(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("rules file already exists: %s", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking rules file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating rules dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(DefaultRulesYAML), 0600); err != nil {
		return fmt.Errorf("writing rules file: %w", err)
	}
	return nil
}

var validRoles = map[string]bool{
	string(arbiter.RoleProposer):    true,
	string(arbiter.RoleReplacement): true,
	string(arbiter.RoleValidator):   true,
}

var validCategories = map[string]bool{
	string(arbiter.CategoryCapacity):    true,
	string(arbiter.CategoryConsistency): true,
}

// Validate checks the rules for internal consistency. Errors name the
// offending entry.
func (r *Rules) Validate() error {
	if r.Pipeline.MaxRetries < 1 || r.Pipeline.MaxRetries > MaxRetriesLimit {
		return fmt.Errorf("pipeline.max_retries must be between 1 and %d, got %d", MaxRetriesLimit, r.Pipeline.MaxRetries)
	}

	for _, name := range sortedKeys(r.Capabilities) {
		c := r.Capabilities[name]
		if !validRoles[c.Role] {
			return fmt.Errorf("capabilities.%s: unknown role %q", name, c.Role)
		}
		for _, k := range append(slices.Clone(c.CanClaim), c.AppliesTo...) {
			if err := arbiter.ValidateKind(arbiter.Kind(k)); err != nil {
				return fmt.Errorf("capabilities.%s: %w", name, err)
			}
		}
		switch c.Role {
		case string(arbiter.RoleValidator):
			if !validCategories[c.Category] {
				return fmt.Errorf("capabilities.%s: validator needs a category (capacity or consistency), got %q", name, c.Category)
			}
			if len(c.CanClaim) > 0 {
				return fmt.Errorf("capabilities.%s: validators cannot claim", name)
			}
		default:
			if c.Category != "" || len(c.AppliesTo) > 0 {
				return fmt.Errorf("capabilities.%s: only validators declare category or applies_to", name)
			}
		}
	}

	for _, action := range sortedKeys(r.Triggers) {
		if !command.IsAction(command.Action(action)) || action == string(command.ActionList) {
			return fmt.Errorf("triggers.%s: not a mutating command", action)
		}
		for _, dept := range r.Triggers[action] {
			c, ok := r.Capabilities[dept]
			if !ok {
				return fmt.Errorf("triggers.%s: department %s has no capability entry", action, dept)
			}
			if c.Role != string(arbiter.RoleProposer) {
				return fmt.Errorf("triggers.%s: department %s is not a proposer", action, dept)
			}
		}
	}
	return nil
}

// CapabilityTable converts the rules into the arbiter's capability table.
func (r *Rules) CapabilityTable() arbiter.Capabilities {
	out := make(arbiter.Capabilities, len(r.Capabilities))
	for name, c := range r.Capabilities {
		out[name] = arbiter.Capability{
			Role:      arbiter.Role(c.Role),
			CanClaim:  toKinds(c.CanClaim),
			Category:  arbiter.Category(c.Category),
			AppliesTo: toKinds(c.AppliesTo),
		}
	}
	return out
}

// TriggerMap converts the triggers section.
func (r *Rules) TriggerMap() map[command.Action][]string {
	out := make(map[command.Action][]string, len(r.Triggers))
	for action, depts := range r.Triggers {
		out[command.Action(action)] = slices.Clone(depts)
	}
	return out
}

func toKinds(in []string) []arbiter.Kind {
	if len(in) == 0 {
		return nil
	}
	out := make([]arbiter.Kind, len(in))
	for i, k := range in {
		out[i] = arbiter.Kind(k)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
