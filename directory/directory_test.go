package directory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/settlement-engine/directory"
	"github.com/warp/settlement-engine/generic"
)

func TestManagerChain_NearestFirst(t *testing.T) {
	// GIVEN: emp -> lead -> director -> ceo (root)
	dir := directory.NewStatic(
		directory.Employee{ID: "ceo", Active: true},
		directory.Employee{ID: "director", ManagerID: "ceo", Active: true},
		directory.Employee{ID: "lead", ManagerID: "director", Active: true},
		directory.Employee{ID: "emp", ManagerID: "lead", Active: true},
	)

	chain, err := directory.ManagerChain(context.Background(), dir, "emp")

	require.NoError(t, err)
	assert.Equal(t, []string{"lead", "director", "ceo"}, chain)
}

func TestManagerChain_RootHasEmptyChain(t *testing.T) {
	dir := directory.NewStatic(directory.Employee{ID: "ceo", Active: true})

	chain, err := directory.ManagerChain(context.Background(), dir, "ceo")

	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestManagerChain_CycleDetected(t *testing.T) {
	// GIVEN: a -> b -> c -> a
	dir := directory.NewStatic(
		directory.Employee{ID: "a", ManagerID: "b"},
		directory.Employee{ID: "b", ManagerID: "c"},
		directory.Employee{ID: "c", ManagerID: "a"},
	)

	_, err := directory.ManagerChain(context.Background(), dir, "a")

	require.ErrorIs(t, err, generic.ErrCycleDetected)
	var cycle *generic.CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"a", "b", "c", "a"}, cycle.Path)
}

func TestManagerChain_SelfManaged(t *testing.T) {
	dir := directory.NewStatic(directory.Employee{ID: "a", ManagerID: "a"})

	_, err := directory.ManagerChain(context.Background(), dir, "a")

	assert.ErrorIs(t, err, generic.ErrCycleDetected)
}

func TestManagerChain_DanglingManagerIsAnError(t *testing.T) {
	dir := directory.NewStatic(directory.Employee{ID: "emp", ManagerID: "ghost"})

	_, err := directory.ManagerChain(context.Background(), dir, "emp")

	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestActiveEmployees(t *testing.T) {
	dir := directory.NewStatic(
		directory.Employee{ID: "a", Active: true},
		directory.Employee{ID: "b", Active: false},
	)

	active, err := directory.ActiveEmployees(context.Background(), dir)

	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].ID)
}
