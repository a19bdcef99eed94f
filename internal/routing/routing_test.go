// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/irb-engine/pkg/types"
)

// --- fake directory ---

type fakeDirectory struct {
	reps  map[types.College]*types.CollegeRepresentative
	chair *types.CollegeRepresentative
	err   error
}

func (f *fakeDirectory) ActiveRep(_ context.Context, c types.College) (*types.CollegeRepresentative, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.reps[c], nil
}

func (f *fakeDirectory) Chair(_ context.Context) (*types.CollegeRepresentative, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.chair, nil
}

func fullDirectory() *fakeDirectory {
	return &fakeDirectory{
		reps: map[types.College]*types.CollegeRepresentative{
			types.CollegeBusiness:    {College: types.CollegeBusiness, UserID: "rep-bus", Active: true},
			types.CollegeEducation:   {College: types.CollegeEducation, UserID: "rep-edu", Active: true},
			types.CollegeLiberalArts: {College: types.CollegeLiberalArts, UserID: "rep-la", Active: true},
			types.CollegeSciences:    {College: types.CollegeSciences, UserID: "rep-sci", Active: true},
			types.CollegeNursing:     {College: types.CollegeNursing, UserID: "rep-nur", Active: true},
		},
		chair: &types.CollegeRepresentative{College: types.CollegeEducation, UserID: "chair", IsChair: true, Active: true},
	}
}

func TestCollegeFor(t *testing.T) {
	tests := []struct {
		department string
		want       types.College
		ok         bool
	}{
		{"Management and Marketing", types.CollegeBusiness, true},
		{"ACCOUNTING", types.CollegeBusiness, true},
		{"Psychology", types.CollegeEducation, true},
		{"Behavioral Sciences", types.CollegeEducation, true},
		{"Political Science", types.CollegeLiberalArts, true},
		{"English", types.CollegeLiberalArts, true},
		{"Computer Science", types.CollegeSciences, true},
		{"Applied Mathematics", types.CollegeSciences, true},
		{"Nursing", types.CollegeNursing, true},
		{"Culinary Arts", "", false},
		{"", "", false},
		{"   ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.department, func(t *testing.T) {
			got, ok := DefaultRules.CollegeFor(tt.department)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCollegeFor_FirstRuleWins(t *testing.T) {
	rules := Rules{
		{College: "first", Keywords: []string{"data"}},
		{College: "second", Keywords: []string{"data science"}},
	}
	got, ok := rules.CollegeFor("Data Science")
	require.True(t, ok)
	assert.Equal(t, types.College("first"), got)
}

func TestAssignCollegeRep(t *testing.T) {
	r := NewRouter(fullDirectory(), nil)

	sub := &types.ProtocolSubmission{}
	rep, err := r.AssignCollegeRep(context.Background(), sub, types.Actor{Department: "Finance"})
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, "rep-bus", sub.CollegeRepID)
}

func TestAssignCollegeRep_UnmatchedIsNotAnError(t *testing.T) {
	r := NewRouter(fullDirectory(), nil)

	sub := &types.ProtocolSubmission{}
	rep, err := r.AssignCollegeRep(context.Background(), sub, types.Actor{Department: "Athletics"})
	require.NoError(t, err)
	assert.Nil(t, rep)
	assert.Empty(t, sub.CollegeRepID)
}

func TestAssignCollegeRep_DirectoryError(t *testing.T) {
	r := NewRouter(&fakeDirectory{err: errors.New("db down")}, nil)

	_, err := r.AssignCollegeRep(context.Background(), &types.ProtocolSubmission{}, types.Actor{Department: "Nursing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestRoute_DeceptionForcesFullWithChair(t *testing.T) {
	r := NewRouter(fullDirectory(), nil)

	sub := &types.ProtocolSubmission{PISuggestedType: types.ReviewExempt, InvolvesDeception: true}
	out, err := r.Route(context.Background(), sub, types.Actor{Department: "Psychology"})
	require.NoError(t, err)

	assert.Equal(t, types.ReviewFull, sub.ReviewType)
	assert.Equal(t, "chair", sub.ChairID)
	assert.Equal(t, "rep-edu", sub.CollegeRepID)
	assert.False(t, out.NeedsManualAssignment)
}

func TestRoute_ProvisionalTypeFromPI(t *testing.T) {
	r := NewRouter(fullDirectory(), nil)

	sub := &types.ProtocolSubmission{PISuggestedType: types.ReviewExpedited}
	out, err := r.Route(context.Background(), sub, types.Actor{Department: "History"})
	require.NoError(t, err)

	assert.Equal(t, types.ReviewExpedited, sub.ReviewType)
	assert.Empty(t, sub.ChairID)
	assert.Equal(t, "rep-la", sub.CollegeRepID)
	assert.False(t, out.NeedsManualAssignment)
}

func TestRoute_FullSuggestionAssignsChair(t *testing.T) {
	r := NewRouter(fullDirectory(), nil)

	sub := &types.ProtocolSubmission{PISuggestedType: types.ReviewFull}
	_, err := r.Route(context.Background(), sub, types.Actor{Department: "Biology"})
	require.NoError(t, err)
	assert.Equal(t, "chair", sub.ChairID)
}

func TestRoute_MissingAuthoritiesNeedManualAssignment(t *testing.T) {
	r := NewRouter(&fakeDirectory{}, nil)

	sub := &types.ProtocolSubmission{PISuggestedType: types.ReviewExempt, InvolvesDeception: true}
	out, err := r.Route(context.Background(), sub, types.Actor{Department: "Nursing"})
	require.NoError(t, err)

	assert.True(t, out.NeedsManualAssignment)
	assert.True(t, sub.NeedsManualAssignment)
	assert.Equal(t, types.ReviewFull, sub.ReviewType)
	assert.Contains(t, sub.RoutingNotes, "no active representative for nursing")
	assert.Contains(t, sub.RoutingNotes, "no active chair")
}

func TestRoute_UnmatchedDepartmentNote(t *testing.T) {
	r := NewRouter(fullDirectory(), nil)

	sub := &types.ProtocolSubmission{PISuggestedType: types.ReviewExempt}
	out, err := r.Route(context.Background(), sub, types.Actor{Department: "Athletics"})
	require.NoError(t, err)
	assert.True(t, out.NeedsManualAssignment)
	assert.Contains(t, sub.RoutingNotes, `"Athletics" matches no college`)
}

func TestRoute_DeceptionAlwaysFullProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	r := NewRouter(fullDirectory(), nil)
	reviewTypes := []types.ReviewType{types.ReviewExempt, types.ReviewExpedited, types.ReviewFull}

	properties.Property("deception routes to full review with a chair", prop.ForAll(
		func(department string, typeIdx int) bool {
			sub := &types.ProtocolSubmission{
				PISuggestedType:   reviewTypes[typeIdx],
				InvolvesDeception: true,
			}
			if _, err := r.Route(context.Background(), sub, types.Actor{Department: department}); err != nil {
				return false
			}
			return sub.ReviewType == types.ReviewFull && sub.ChairID != ""
		},
		gen.AnyString(),
		gen.IntRange(0, len(reviewTypes)-1),
	))

	properties.TestingRun(t)
}
