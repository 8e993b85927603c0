package conditions

import (
	"testing"

	"github.com/dukex/rentflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatches_SingleGroup(t *testing.T) {
	snapshot := map[string]any{"status": "active", "rent": 1000}

	conds := []models.Condition{
		{Field: "status", Operator: models.OperatorEquals, Value: "active"},
	}
	assert.True(t, Matches(conds, snapshot))

	conds = append(conds, models.Condition{Field: "rent", Operator: models.OperatorGreaterThan, Value: 2000})
	assert.False(t, Matches(conds, snapshot))
}

func TestMatches_EmptyListMatches(t *testing.T) {
	assert.True(t, Matches(nil, map[string]any{}))
	assert.True(t, Matches([]models.Condition{}, nil))
}

func TestMatches_GroupsAreOred(t *testing.T) {
	snapshot := map[string]any{"status": "late", "balance": 150.0}

	conds := []models.Condition{
		{Field: "status", Operator: models.OperatorEquals, Value: "active", Group: "a"},
		{Field: "balance", Operator: models.OperatorGreaterThan, Value: 100, Group: "b"},
		{Field: "status", Operator: models.OperatorIn, Value: []any{"late", "overdue"}, Group: "b"},
	}

	assert.True(t, Matches(conds, snapshot))

	snapshot["balance"] = 50.0
	assert.False(t, Matches(conds, snapshot))
}

func TestMatches_MissingFieldFailsClosed(t *testing.T) {
	snapshot := map[string]any{"status": "active"}

	tests := []struct {
		name string
		cond models.Condition
		want bool
	}{
		{"equals", models.Condition{Field: "rent", Operator: models.OperatorEquals, Value: 1}, false},
		{"notEquals", models.Condition{Field: "rent", Operator: models.OperatorNotEquals, Value: 1}, false},
		{"lessThan", models.Condition{Field: "rent", Operator: models.OperatorLessThan, Value: 1}, false},
		{"contains", models.Condition{Field: "tags", Operator: models.OperatorContains, Value: "x"}, false},
		{"exists", models.Condition{Field: "rent", Operator: models.OperatorExists}, false},
		{"exists false", models.Condition{Field: "rent", Operator: models.OperatorExists, Value: false}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches([]models.Condition{tt.cond}, snapshot))
		})
	}
}

func TestMatches_Operators(t *testing.T) {
	snapshot := map[string]any{
		"rent":        "1200",
		"dueDate":     "2026-11-01",
		"description": "Leaking kitchen sink",
		"tags":        []any{"plumbing", "urgent"},
		"tenant":      map[string]any{"email": "tenant@example.com"},
		"units":       float64(3),
	}

	tests := []struct {
		name string
		cond models.Condition
		want bool
	}{
		{"numeric string greater", models.Condition{Field: "rent", Operator: models.OperatorGreaterThan, Value: 1000}, true},
		{"numeric equals across types", models.Condition{Field: "units", Operator: models.OperatorEquals, Value: 3}, true},
		{"date before", models.Condition{Field: "dueDate", Operator: models.OperatorLessThan, Value: "2026-12-01"}, true},
		{"date after", models.Condition{Field: "dueDate", Operator: models.OperatorGreaterThan, Value: "2026-12-01"}, false},
		{"substring", models.Condition{Field: "description", Operator: models.OperatorContains, Value: "kitchen"}, true},
		{"list member", models.Condition{Field: "tags", Operator: models.OperatorContains, Value: "urgent"}, true},
		{"list non member", models.Condition{Field: "tags", Operator: models.OperatorContains, Value: "electric"}, false},
		{"dotted path", models.Condition{Field: "tenant.email", Operator: models.OperatorEquals, Value: "tenant@example.com"}, true},
		{"in", models.Condition{Field: "units", Operator: models.OperatorIn, Value: []any{1, 2, 3}}, true},
		{"not equals", models.Condition{Field: "description", Operator: models.OperatorNotEquals, Value: "x"}, true},
		{"exists", models.Condition{Field: "tenant.email", Operator: models.OperatorExists, Value: true}, true},
		{"incomparable", models.Condition{Field: "tags", Operator: models.OperatorGreaterThan, Value: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches([]models.Condition{tt.cond}, snapshot))
		})
	}
}

func TestEvaluate_MalformedCondition(t *testing.T) {
	snapshot := map[string]any{"status": "active"}

	_, err := Evaluate([]models.Condition{{Field: "status", Operator: models.OperatorIn, Value: "active"}}, snapshot)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCondition)

	_, err = Evaluate([]models.Condition{{Field: "status", Operator: "startsWith", Value: "a"}}, snapshot)
	assert.ErrorIs(t, err, ErrInvalidCondition)

	assert.False(t, Matches([]models.Condition{{Operator: models.OperatorEquals, Value: "a"}}, snapshot))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate([]models.Condition{
		{Field: "status", Operator: models.OperatorEquals, Value: "active"},
		{Field: "tags", Operator: models.OperatorExists},
	}))

	err := Validate([]models.Condition{
		{Field: "status", Operator: models.OperatorEquals, Value: "active"},
		{Field: "rent", Operator: models.OperatorLessThan},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "condition 1")
}
