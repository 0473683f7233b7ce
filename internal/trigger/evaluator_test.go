package trigger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sddhantjaiii/callorch/internal/database"
)

func TestMatchOneEquals(t *testing.T) {
	contact := &database.Contact{Name: "Jane"}
	cond := database.TriggerCondition{Field: "name", Operator: "equals", Value: "Jane"}
	require.True(t, matchOne(cond, contact))

	cond.Value = "John"
	require.False(t, matchOne(cond, contact))
}

func TestMatchOneContains(t *testing.T) {
	contact := &database.Contact{Company: "Acme Robotics"}
	cond := database.TriggerCondition{Field: "company", Operator: "contains", Value: "Robot"}
	require.True(t, matchOne(cond, contact))

	cond.Value = "Widgets"
	require.False(t, matchOne(cond, contact))
}

func TestMatchOneAnyTag(t *testing.T) {
	contact := &database.Contact{Tags: []string{"vip", "newsletter"}}
	cond := database.TriggerCondition{Field: "tags", Operator: "any", Value: "vip"}
	require.True(t, matchOne(cond, contact))

	cond.Value = "enterprise"
	require.False(t, matchOne(cond, contact))
}

func TestMatchOneUnknownOperator(t *testing.T) {
	contact := &database.Contact{Name: "Jane"}
	cond := database.TriggerCondition{Field: "name", Operator: "regex", Value: "J.*"}
	require.False(t, matchOne(cond, contact))
}

func TestMatchesRequiresAllConditions(t *testing.T) {
	contact := &database.Contact{Name: "Jane", Company: "Acme"}
	conditions := []database.TriggerCondition{
		{Field: "name", Operator: "equals", Value: "Jane"},
		{Field: "company", Operator: "equals", Value: "Acme"},
	}
	require.True(t, matches(conditions, contact))

	conditions[1].Value = "Other"
	require.False(t, matches(conditions, contact))
}

func TestMatchesEmptyConditionsAlwaysMatch(t *testing.T) {
	contact := &database.Contact{Name: "Jane"}
	require.True(t, matches(nil, contact))
}
