package grading

import (
	"fmt"

	"github.com/pavelanni/grader/internal/model"
)

// DefaultPassRatio is the share of the declared total needed to pass when no
// selection policy defines a threshold. Both built-in policies use it too
// (8 of 20, 32 of 80).
const DefaultPassRatio = 0.4

// Rules bundles the word-count penalty bands and the selection policies.
// They can be overridden from the "rules" key of the config file.
type Rules struct {
	Penalties PenaltyTable            `mapstructure:"penalties" json:"penalties"`
	Policies  []model.SelectionPolicy `mapstructure:"policies" json:"policies"`
}

// DefaultRules returns the built-in penalty bands and the 20- and 80-mark policies.
func DefaultRules() Rules {
	return Rules{
		Penalties: PenaltyTable{
			{TotalMarks: 2, SevereUpper: 25, MildLow: 40, MildHigh: 50, SeverePenalty: 0.5, MildPenalty: 0.5},
			{TotalMarks: 5, SevereUpper: 120, MildLow: 150, MildHigh: 170, SeverePenalty: 2, MildPenalty: 1},
			{TotalMarks: 10, SevereUpper: 450, MildLow: 500, MildHigh: 530, SeverePenalty: 3, MildPenalty: 2},
		},
		Policies: []model.SelectionPolicy{
			{
				TotalMarks:    20,
				PassThreshold: 8,
				PerGroup: []model.GroupQuota{
					{Group: "1", Keep: 5},
					{Group: "2", Keep: 1},
					{Group: "3", Keep: 1},
				},
			},
			{
				TotalMarks:    80,
				PassThreshold: 32,
				PerGroup: []model.GroupQuota{
					{Group: "1", Keep: 4},
				},
				Pooled: &model.PooledQuota{
					Groups:     []string{"2", "3", "4", "5", "6"},
					KeepGroups: 3,
				},
			},
		},
	}
}

// Policy returns the selection policy for an exam total, or nil when every
// graded answer counts.
func (r Rules) Policy(totalMarks int) *model.SelectionPolicy {
	for i := range r.Policies {
		if r.Policies[i].TotalMarks == totalMarks {
			p := r.Policies[i]
			return &p
		}
	}
	return nil
}

// Validate rejects tables that would break the penalty or selection logic.
func (r Rules) Validate() error {
	seen := map[int]bool{}
	for _, b := range r.Penalties {
		if seen[b.TotalMarks] {
			return fmt.Errorf("duplicate penalty band for %d marks", b.TotalMarks)
		}
		seen[b.TotalMarks] = true
		if b.SevereUpper >= b.MildLow || b.MildLow > b.MildHigh {
			return fmt.Errorf("penalty band for %d marks: need severe_upper < mild_low <= mild_high", b.TotalMarks)
		}
		if b.SeverePenalty < 0 || b.MildPenalty < 0 {
			return fmt.Errorf("penalty band for %d marks: penalties must not be negative", b.TotalMarks)
		}
	}

	seen = map[int]bool{}
	for _, p := range r.Policies {
		if seen[p.TotalMarks] {
			return fmt.Errorf("duplicate selection policy for %d marks", p.TotalMarks)
		}
		seen[p.TotalMarks] = true
		for _, q := range p.PerGroup {
			if q.Keep < 0 {
				return fmt.Errorf("policy %d: group %q keep must not be negative", p.TotalMarks, q.Group)
			}
		}
		if p.Pooled != nil && p.Pooled.KeepGroups < 0 {
			return fmt.Errorf("policy %d: keep_groups must not be negative", p.TotalMarks)
		}
	}
	return nil
}

// NewRun derives the per-run state from the declared exam total. A policy's
// own threshold wins; otherwise passThreshold is used when positive, else
// passRatio of the total.
func NewRun(id string, totalMarks int, rules Rules, passThreshold, passRatio float64) model.Run {
	run := model.Run{
		ID:         id,
		TotalMarks: totalMarks,
		Policy:     rules.Policy(totalMarks),
	}
	switch {
	case run.Policy != nil:
		run.Threshold = run.Policy.PassThreshold
	case passThreshold > 0:
		run.Threshold = passThreshold
	default:
		if passRatio <= 0 {
			passRatio = DefaultPassRatio
		}
		run.Threshold = passRatio * float64(totalMarks)
	}
	return run
}
