package services

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qianlnk/clocktower/models"
)

func blankPlayers(n int) []models.Player {
	players := seats(make([]models.Role, n)...)
	for i := range players {
		players[i].Role = ""
		players[i].Alignment = ""
	}
	return players
}

func TestAssignRolesIsBijection(t *testing.T) {
	catalog := DefaultCatalog()
	pool := StandardPool()

	roster, err := AssignRoles(blankPlayers(7), pool, catalog, NewRand(42))
	require.NoError(t, err)
	require.Len(t, roster, 7)

	got := make([]string, 0, len(roster))
	for i, p := range roster {
		assert.Equal(t, i, p.Seat)
		assert.True(t, p.Alive)
		assert.Equal(t, catalog[p.Role].Alignment(), p.Alignment)
		got = append(got, string(p.Role))
	}
	want := make([]string, 0, pool.Size())
	for _, r := range pool.Roles() {
		want = append(want, string(r))
	}
	sort.Strings(got)
	sort.Strings(want)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("assigned roles mismatch (-want +got):\n%s", diff)
	}
}

func TestAssignRolesIsDeterministic(t *testing.T) {
	a, err := AssignRoles(blankPlayers(7), StandardPool(), DefaultCatalog(), NewRand(7))
	require.NoError(t, err)
	b, err := AssignRoles(blankPlayers(7), StandardPool(), DefaultCatalog(), NewRand(7))
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(a, b))
}

func TestAssignRolesErrors(t *testing.T) {
	catalog := DefaultCatalog()

	_, err := AssignRoles(blankPlayers(6), StandardPool(), catalog, NewRand(1))
	require.ErrorIs(t, err, ErrRoleCountMismatch)
	assert.ErrorIs(t, err, ErrSetup)
	assert.True(t, IsFatal(err))

	_, err = AssignRoles(nil, StandardPool(), catalog, NewRand(1))
	require.ErrorIs(t, err, ErrInsufficientRoster)

	dup := blankPlayers(7)
	dup[6].ID = dup[0].ID
	_, err = AssignRoles(dup, StandardPool(), catalog, NewRand(1))
	require.ErrorIs(t, err, ErrInsufficientRoster)

	bad := StandardPool()
	bad[models.Minion] = []models.Role{models.Chef}
	_, err = AssignRoles(blankPlayers(7), bad, catalog, NewRand(1))
	require.ErrorIs(t, err, ErrInvalidRole)
}

func TestNeighboursSkipDeadPlayers(t *testing.T) {
	roster := NewRoster(seats(models.Empath, models.Imp, models.Chef, models.Monk, models.Poisoner))
	roster.Kill("p2")
	roster.Kill("p5")

	assert.Equal(t, []string{"p4", "p3"}, IDs(roster.Neighbours("p1")))
	assert.Equal(t, []string{"p1", "p4"}, IDs(roster.Neighbours("p3")))
}

func TestNeighboursNeedThreeAlive(t *testing.T) {
	roster := NewRoster(seats(models.Empath, models.Imp, models.Chef))
	roster.Kill("p3")
	assert.Nil(t, roster.Neighbours("p1"))
}

func TestKillIsIdempotent(t *testing.T) {
	roster := NewRoster(seats(models.Chef, models.Imp))
	assert.True(t, roster.Kill("p1"))
	assert.False(t, roster.Kill("p1"))
	assert.False(t, roster.Kill("nobody"))
	assert.Equal(t, 1, roster.AliveCount())
}

func TestNewRosterSortsBySeat(t *testing.T) {
	players := seats(models.Chef, models.Imp, models.Monk)
	players[0], players[2] = players[2], players[0]

	roster := NewRoster(players)
	assert.Equal(t, []string{"p1", "p2", "p3"}, IDs(roster))
	assert.Equal(t, "p3", players[0].ID, "input must not be reordered")
}
