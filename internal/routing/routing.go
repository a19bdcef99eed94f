// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package routing

import (
	"context"
	"fmt"
	"strings"

	"github.com/pdiddy/irb-engine/pkg/types"
)

// Directory resolves reviewing authorities. Both lookups return nil with a
// nil error when nobody is configured.
type Directory interface {
	ActiveRep(ctx context.Context, college types.College) (*types.CollegeRepresentative, error)
	Chair(ctx context.Context) (*types.CollegeRepresentative, error)
}

// Outcome reports what routing assigned. Missing assignments are reported
// here rather than as errors.
type Outcome struct {
	College               types.College
	CollegeRep            *types.CollegeRepresentative
	Chair                 *types.CollegeRepresentative
	NeedsManualAssignment bool
	Notes                 []string
}

// Router applies routing rules against a Directory.
type Router struct {
	rules Rules
	dir   Directory
}

// NewRouter returns a Router over dir. A nil rules list uses DefaultRules.
func NewRouter(dir Directory, rules Rules) *Router {
	if rules == nil {
		rules = DefaultRules
	}
	return &Router{rules: rules, dir: dir}
}

// AssignCollegeRep sets sub.CollegeRepID from the submitter's department.
// It returns nil when the department is unmatched or the college has no
// active representative; the submission is then left for manual triage.
func (r *Router) AssignCollegeRep(ctx context.Context, sub *types.ProtocolSubmission, submitter types.Actor) (*types.CollegeRepresentative, error) {
	college, ok := r.rules.CollegeFor(submitter.Department)
	if !ok {
		return nil, nil
	}
	rep, err := r.dir.ActiveRep(ctx, college)
	if err != nil {
		return nil, fmt.Errorf("looking up %s representative: %w", college, err)
	}
	if rep == nil || rep.UserID == "" {
		return nil, nil
	}
	sub.CollegeRepID = rep.UserID
	return rep, nil
}

// Route assigns the college representative and applies review-type
// overrides. Deception forces a full review with the chair assigned;
// otherwise the PI's suggested type stands provisionally until the college
// representative determines it, and a full suggestion also brings in the
// chair.
func (r *Router) Route(ctx context.Context, sub *types.ProtocolSubmission, submitter types.Actor) (Outcome, error) {
	var out Outcome

	college, matched := r.rules.CollegeFor(submitter.Department)
	out.College = college

	rep, err := r.AssignCollegeRep(ctx, sub, submitter)
	if err != nil {
		return out, err
	}
	out.CollegeRep = rep
	switch {
	case !matched:
		out.Notes = append(out.Notes, fmt.Sprintf("department %q matches no college", submitter.Department))
	case rep == nil:
		out.Notes = append(out.Notes, fmt.Sprintf("no active representative for %s", college))
	}

	if sub.InvolvesDeception {
		sub.ReviewType = types.ReviewFull
	} else {
		sub.ReviewType = sub.PISuggestedType
	}

	if sub.ReviewType == types.ReviewFull {
		chair, err := r.AssignChair(ctx, sub)
		if err != nil {
			return out, err
		}
		out.Chair = chair
		if chair == nil {
			out.Notes = append(out.Notes, "no active chair")
		}
	}

	out.NeedsManualAssignment = out.CollegeRep == nil || (sub.ReviewType == types.ReviewFull && out.Chair == nil)
	sub.NeedsManualAssignment = out.NeedsManualAssignment
	sub.RoutingNotes = strings.Join(out.Notes, "; ")
	return out, nil
}

// AssignChair sets sub.ChairID to the active chair, if one exists.
func (r *Router) AssignChair(ctx context.Context, sub *types.ProtocolSubmission) (*types.CollegeRepresentative, error) {
	chair, err := r.dir.Chair(ctx)
	if err != nil {
		return nil, fmt.Errorf("looking up chair: %w", err)
	}
	if chair == nil || chair.UserID == "" {
		return nil, nil
	}
	sub.ChairID = chair.UserID
	return chair, nil
}
