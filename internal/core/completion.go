package core

import (
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultTurnCap is the hard ceiling on questions asked in one interview.
	DefaultTurnCap = 30

	// DefaultFinishSentinel is the phrase the oracle is told to open its
	// closing message with.
	DefaultFinishSentinel = "Thank you, that completes your intake"
)

// Requirement is satisfied when any one of its slot paths is filled.
type Requirement []string

// UnmarshalYAML lets a requirement with a single path be written as a plain
// scalar instead of a one-element list.
func (r *Requirement) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*r = Requirement{node.Value}
		return nil
	}
	var paths []string
	if err := node.Decode(&paths); err != nil {
		return err
	}
	*r = paths
	return nil
}

func (r Requirement) String() string {
	return strings.Join(r, "|")
}

// CompletionPolicy decides when an interview ends.  It never relies on the
// oracle alone: the required-slot check and the turn cap end the interview
// whatever the oracle claims.
type CompletionPolicy struct {
	TurnCap        int           `yaml:"turn_cap"`
	Required       []Requirement `yaml:"required"`
	FinishSentinel string        `yaml:"finish_sentinel"`
}

// DefaultCompletionPolicy requires a chief complaint, age or sex, the three
// history sections and a completed red-flag screen.
func DefaultCompletionPolicy() CompletionPolicy {
	return CompletionPolicy{
		TurnCap: DefaultTurnCap,
		Required: []Requirement{
			{"chief_complaint"},
			{"demographics.age", "demographics.sex"},
			{"past_medical_history"},
			{"family_history"},
			{"social_history"},
			{"red_flags_checked"},
		},
		FinishSentinel: DefaultFinishSentinel,
	}
}

// ShouldFinish reports whether the interview must end now.  It is true when
// every requirement is met, when turnsAsked has reached the cap, or when the
// oracle has declared the interview finished.
func (cp CompletionPolicy) ShouldFinish(p *Profile, turnsAsked int, oracleSaysFinish bool) bool {
	if cp.TurnCap > 0 && turnsAsked >= cp.TurnCap {
		return true
	}
	if oracleSaysFinish {
		return true
	}
	return len(cp.Missing(p)) == 0
}

// Missing lists the requirements the profile does not satisfy yet, in policy
// order.
func (cp CompletionPolicy) Missing(p *Profile) []string {
	var missing []string
	for _, req := range cp.Required {
		if !req.satisfiedBy(p) {
			missing = append(missing, req.String())
		}
	}
	return missing
}

func (r Requirement) satisfiedBy(p *Profile) bool {
	for _, path := range r {
		if p.Filled(path) {
			return true
		}
	}
	return false
}

// DeclaresFinish reports whether the oracle considers the interview done,
// either through its finish flag or by opening its message with the
// sentinel phrase.
func (cp CompletionPolicy) DeclaresFinish(step Step) bool {
	if step.Finish {
		return true
	}
	sentinel := strings.ToLower(strings.TrimSpace(cp.FinishSentinel))
	if sentinel == "" {
		return false
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(step.NextQuestion)), sentinel)
}

// Validate checks the policy is usable.
func (cp CompletionPolicy) Validate() error {
	return validation.ValidateStruct(&cp,
		validation.Field(&cp.TurnCap, validation.Required, validation.Min(1)),
		validation.Field(&cp.Required, validation.Each(validation.By(validateRequirement))),
	)
}

var slotSections = map[string]bool{
	"demographics":         true,
	"chief_complaint":      true,
	"modules":              true,
	"medications":          true,
	"allergies":            true,
	"past_medical_history": true,
	"family_history":       true,
	"social_history":       true,
	"red_flags":            true,
	"red_flags_checked":    true,
	"free_text_notes":      true,
}

func validateRequirement(value interface{}) error {
	req, _ := value.(Requirement)
	if len(req) == 0 {
		return errors.New("requirement must name at least one slot")
	}
	for _, path := range req {
		section := strings.SplitN(strings.TrimSpace(path), ".", 2)[0]
		if !slotSections[section] {
			return fmt.Errorf("unknown slot %q", path)
		}
	}
	return nil
}
