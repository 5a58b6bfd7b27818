/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario sets up the expected state and that the
	payable view built from it shows the documented figures.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/leave"
	"github.com/warp/payroll-engine/payroll"
)

func TestScenario_EveryListedScenarioLoads(t *testing.T) {
	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			hs := newHarness(t)
			hs.load(s.ID)

			current := decode[ScenarioDTO](t, hs.do(http.MethodGet, "/api/scenarios/current", nil))
			assert.Equal(t, s.ID, current.ID)

			employees, err := hs.store.ListEmployees(context.Background())
			require.NoError(t, err)
			assert.NotEmpty(t, employees)
		})
	}
}

func TestScenario_LoadReplacesPreviousData(t *testing.T) {
	hs := newHarness(t)
	hs.load("full-team")
	hs.load("unpaid-leave")

	employees, err := hs.store.ListEmployees(context.Background())
	require.NoError(t, err)
	require.Len(t, employees, 1)
	assert.Equal(t, "emp-alice", employees[0].ID)
}

func TestScenario_Unknown(t *testing.T) {
	hs := newHarness(t)
	rec := hs.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "payday-bonanza"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenario_FullTeam(t *testing.T) {
	// GIVEN
	hs := newHarness(t)
	hs.load("full-team")
	ctx := context.Background()

	// THEN: the deleted leave is kept but inactive
	all, err := hs.store.ListLeaves(ctx, leave.Filter{Month: ScenarioMonth, IncludeDeleted: true})
	require.NoError(t, err)
	active, err := hs.store.ListLeaves(ctx, leave.Filter{Month: ScenarioMonth})
	require.NoError(t, err)
	assert.Len(t, all, len(active)+1)

	views, err := payroll.Load(ctx, payroll.Sources{Directory: hs.store, Leaves: hs.store, Payments: hs.store},
		ScenarioMonth, payroll.Options{})
	require.NoError(t, err)

	byID := make(map[string]payroll.PayableView, len(views))
	for _, v := range views {
		byID[v.EmployeeID] = v
	}

	// Inactive employees get no row.
	assert.NotContains(t, byID, "emp-frank")

	// Unpaid 3 days; annual leave is free.
	assert.Equal(t, "2700.00", byID["emp-alice"].NetBankSalary.StringFixed(2))
	// Paid in February only.
	assert.False(t, byID["emp-alice"].IsPaid)
	// Sick leave withholds 20%.
	assert.Equal(t, "1866.67", byID["emp-bruno"].NetBankSalary.StringFixed(2))
	// The mistaken leave was deleted.
	assert.Equal(t, "2500.00", byID["emp-carla"].NetBankSalary.StringFixed(2))
	// Work accident leave is free; legacy first/last name is displayed.
	assert.Equal(t, "2800.00", byID["emp-dmitri"].NetBankSalary.StringFixed(2))
	assert.Equal(t, "Dmitri Volkov", byID["emp-dmitri"].Name)
	// Six unpaid days starting in March count against March.
	assert.Equal(t, "1760.00", byID["emp-emilie"].NetBankSalary.StringFixed(2))
}

func TestResetDatabase(t *testing.T) {
	hs := newHarness(t)
	hs.load("two-employees")

	rec := hs.do(http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	employees, err := hs.store.ListEmployees(context.Background())
	require.NoError(t, err)
	assert.Empty(t, employees)
	assert.Equal(t, "null\n", hs.do(http.MethodGet, "/api/scenarios/current", nil).Body.String())
}
