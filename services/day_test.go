package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qianlnk/clocktower/models"
)

// dayTable p1 小恶魔, p2 投毒者, p3 厨师, p4 共情者, p5 僧侣, p6 士兵, p7 调查员
func dayTable() []models.Player {
	return seats(models.Imp, models.Poisoner, models.Chef, models.Empath, models.Monk, models.Soldier, models.Investigator)
}

func yesVotes(ids ...string) map[string]bool {
	votes := make(map[string]bool, len(ids))
	for _, id := range ids {
		votes[id] = true
	}
	return votes
}

func TestMajorityThreshold(t *testing.T) {
	tests := []struct{ alive, want int }{
		{7, 4}, {6, 3}, {5, 3}, {4, 2}, {3, 2}, {2, 1}, {15, 8},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MajorityThreshold(tt.alive), "alive=%d", tt.alive)
	}
}

func TestCloseVoteAtThreshold(t *testing.T) {
	for alive := 3; alive <= 7; alive++ {
		t.Run(fmt.Sprintf("%d alive", alive), func(t *testing.T) {
			players := dayTable()[:alive]
			threshold := MajorityThreshold(alive)
			voters := IDs(players)

			below := NewDay(1, players, DefaultCatalog(), NewRand(1))
			n, err := below.Nominate("p2", "p3")
			require.NoError(t, err)
			closed, err := below.CloseVote(n.ID, yesVotes(voters[:threshold-1]...))
			require.NoError(t, err)
			assert.False(t, closed.Executed)
			assert.Nil(t, below.Execution)

			at := NewDay(1, players, DefaultCatalog(), NewRand(1))
			n, err = at.Nominate("p2", "p3")
			require.NoError(t, err)
			closed, err = at.CloseVote(n.ID, yesVotes(voters[:threshold]...))
			require.NoError(t, err)
			assert.True(t, closed.Executed)
			assert.Equal(t, threshold, closed.YesVotes)
			require.NotNil(t, at.Execution)
			assert.Equal(t, "p3", at.Execution.PlayerID)
			assert.False(t, findPlayer(at.Roster, "p3").Alive)
		})
	}
}

func TestCloseVoteRecordsEveryVoterInSeatOrder(t *testing.T) {
	day := NewDay(1, dayTable(), DefaultCatalog(), NewRand(1))
	n, err := day.Nominate("p1", "p4")
	require.NoError(t, err)

	closed, err := day.CloseVote(n.ID, map[string]bool{"p7": true, "p2": true})
	require.NoError(t, err)

	want := []models.Vote{
		{VoterID: "p1"}, {VoterID: "p2", Yes: true}, {VoterID: "p3"}, {VoterID: "p4"},
		{VoterID: "p5"}, {VoterID: "p6"}, {VoterID: "p7", Yes: true},
	}
	if diff := cmp.Diff(want, closed.Votes); diff != "" {
		t.Fatalf("votes mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, closed.YesVotes)
	assert.Equal(t, 4, closed.Threshold)

	_, err = day.CloseVote(n.ID, nil)
	require.ErrorIs(t, err, ErrInvalidNomination)
}

func TestDuplicateNominationLeavesStateUnchanged(t *testing.T) {
	day := NewDay(1, dayTable(), DefaultCatalog(), NewRand(1))
	_, err := day.Nominate("p1", "p3")
	require.NoError(t, err)

	before := append([]models.Nomination(nil), day.Nominations...)
	_, err = day.Nominate("p2", "p3")
	require.ErrorIs(t, err, ErrDuplicateNomination)

	assert.Empty(t, cmp.Diff(before, day.Nominations))
	assert.True(t, day.CanNominate("p2"), "a rejected nomination must not use up the nominator")
}

func TestNominationRules(t *testing.T) {
	players := dayTable()
	players[6].Alive = false
	day := NewDay(1, players, DefaultCatalog(), NewRand(1))

	_, err := day.Nominate("p1", "p1")
	assert.ErrorIs(t, err, ErrInvalidNomination)
	_, err = day.Nominate("p7", "p1")
	assert.ErrorIs(t, err, ErrInvalidNomination)
	_, err = day.Nominate("p1", "p7")
	assert.ErrorIs(t, err, ErrInvalidNomination)
	_, err = day.Nominate("p1", "ghost")
	assert.ErrorIs(t, err, ErrInvalidNomination)
	assert.Empty(t, day.Nominations)

	_, err = day.Nominate("p1", "p2")
	require.NoError(t, err)
	_, err = day.Nominate("p1", "p3")
	assert.ErrorIs(t, err, ErrInvalidNomination)
	assert.False(t, day.CanNominate("p1"))
	assert.NotContains(t, day.Nominees("p3"), "p2")
}

func TestNominationsCloseAfterExecution(t *testing.T) {
	day := NewDay(1, dayTable(), DefaultCatalog(), NewRand(1))
	n, err := day.Nominate("p1", "p3")
	require.NoError(t, err)
	_, err = day.CloseVote(n.ID, yesVotes("p1", "p2", "p4", "p5"))
	require.NoError(t, err)

	assert.True(t, day.Over())
	_, err = day.Nominate("p2", "p4")
	assert.ErrorIs(t, err, ErrInvalidNomination)
}

func TestVirginExecutesTownsfolkNominator(t *testing.T) {
	players := seats(models.Imp, models.Poisoner, models.Chef, models.Virgin, models.Monk)
	day := NewDay(1, players, DefaultCatalog(), NewRand(1))

	n, err := day.Nominate("p3", "p4")
	require.NoError(t, err)
	assert.True(t, n.Triggered)
	assert.True(t, n.Closed)
	require.NotNil(t, day.Execution)
	assert.Equal(t, "p3", day.Execution.PlayerID)
	assert.True(t, day.Over())
	assert.True(t, findPlayer(day.Roster, "p4").UsedAbility)
}

func TestVirginIgnoresEvilNominator(t *testing.T) {
	players := seats(models.Imp, models.Poisoner, models.Chef, models.Virgin, models.Monk)
	day := NewDay(1, players, DefaultCatalog(), NewRand(1))

	n, err := day.Nominate("p2", "p4")
	require.NoError(t, err)
	assert.False(t, n.Triggered)
	assert.Nil(t, day.Execution)
	assert.True(t, findPlayer(day.Roster, "p4").UsedAbility)

	// 能力只能触发一次
	next := NewDay(2, day.Roster, DefaultCatalog(), NewRand(1))
	n, err = next.Nominate("p3", "p4")
	require.NoError(t, err)
	assert.False(t, n.Triggered)
}

func TestButlerVoteNeedsMaster(t *testing.T) {
	players := seats(models.Imp, models.Poisoner, models.Butler, models.Chef, models.Monk)
	players[2].MasterID = "p4"

	day := NewDay(1, players, DefaultCatalog(), NewRand(1))
	n, err := day.Nominate("p5", "p1")
	require.NoError(t, err)
	closed, err := day.CloseVote(n.ID, yesVotes("p3", "p5"))
	require.NoError(t, err)
	assert.Equal(t, 1, closed.YesVotes)

	day = NewDay(1, players, DefaultCatalog(), NewRand(1))
	n, err = day.Nominate("p5", "p1")
	require.NoError(t, err)
	closed, err = day.CloseVote(n.ID, yesVotes("p3", "p4", "p5"))
	require.NoError(t, err)
	assert.Equal(t, 3, closed.YesVotes)
	assert.True(t, closed.Executed)

	// 中毒的管家不受限制
	players[2].Poisoned = true
	day = NewDay(1, players, DefaultCatalog(), NewRand(1))
	n, err = day.Nominate("p5", "p1")
	require.NoError(t, err)
	closed, err = day.CloseVote(n.ID, yesVotes("p3", "p5"))
	require.NoError(t, err)
	assert.Equal(t, 2, closed.YesVotes)
}

func TestSaintExecution(t *testing.T) {
	players := seats(models.Imp, models.Poisoner, models.Saint, models.Chef, models.Monk)
	day := NewDay(1, players, DefaultCatalog(), NewRand(1))
	n, err := day.Nominate("p1", "p3")
	require.NoError(t, err)
	_, err = day.CloseVote(n.ID, yesVotes("p1", "p2", "p4"))
	require.NoError(t, err)
	assert.True(t, day.SaintExecuted)

	players[2].Poisoned = true
	day = NewDay(1, players, DefaultCatalog(), NewRand(1))
	n, err = day.Nominate("p1", "p3")
	require.NoError(t, err)
	_, err = day.CloseVote(n.ID, yesVotes("p1", "p2", "p4"))
	require.NoError(t, err)
	assert.False(t, day.SaintExecuted)
}

func TestScarletWomanInheritsOnExecution(t *testing.T) {
	players := seats(models.Imp, models.ScarletWoman, models.Chef, models.Empath, models.Monk)
	day := NewDay(1, players, DefaultCatalog(), NewRand(1))
	n, err := day.Nominate("p3", "p1")
	require.NoError(t, err)
	_, err = day.CloseVote(n.ID, yesVotes("p3", "p4", "p5"))
	require.NoError(t, err)

	assert.Equal(t, []string{"p2"}, day.Inherited)
	assert.Equal(t, models.Imp, findPlayer(day.Roster, "p2").Role)
	assert.Equal(t, models.NoWinner, NewWinEvaluator(DefaultCatalog()).Evaluate(day.Roster))

	// 不足五人存活时不继承
	players[4].Alive = false
	day = NewDay(1, players, DefaultCatalog(), NewRand(1))
	n, err = day.Nominate("p3", "p1")
	require.NoError(t, err)
	_, err = day.CloseVote(n.ID, yesVotes("p3", "p4"))
	require.NoError(t, err)
	assert.Empty(t, day.Inherited)
	assert.Equal(t, models.WinnerGood, NewWinEvaluator(DefaultCatalog()).Evaluate(day.Roster))
}

func TestSlayerShot(t *testing.T) {
	players := seats(models.Imp, models.Poisoner, models.Slayer, models.Chef, models.Monk)
	day := NewDay(1, players, DefaultCatalog(), NewRand(1))

	hit, _, err := day.SlayerShot("p3", "p2")
	require.NoError(t, err)
	assert.False(t, hit)

	_, _, err = day.SlayerShot("p3", "p1")
	require.ErrorIs(t, err, ErrActionTargetInvalid, "the shot is once per game")

	day = NewDay(1, players, DefaultCatalog(), NewRand(1))
	hit, _, err = day.SlayerShot("p3", "p1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.False(t, findPlayer(day.Roster, "p1").Alive)
	assert.Equal(t, []string{"p1"}, day.Deaths)

	_, _, err = day.SlayerShot("p4", "p1")
	assert.ErrorIs(t, err, ErrActionTargetInvalid)
}

func TestAliveSnapshotDeaths(t *testing.T) {
	players := dayTable()
	snap := TakeAliveSnapshot(players)
	players[4].Alive = false
	players[1].Alive = false
	assert.Equal(t, []string{"p2", "p5"}, snap.Deaths(players))
}

type recordedEvent struct {
	Type     models.EventType
	PlayerID string
}

func recordEmitter() (Emitter, *[]recordedEvent) {
	events := make([]recordedEvent, 0)
	return func(t models.EventType, playerID string, _ any) {
		events = append(events, recordedEvent{Type: t, PlayerID: playerID})
	}, &events
}

func TestDayRunExecutesOnMajority(t *testing.T) {
	players := dayTable()
	snapshot := TakeAliveSnapshot(players)
	players[5].Alive = false

	script := newScript()
	script.nominations["p3"] = "p1"
	for _, id := range []string{"p2", "p3", "p4", "p5"} {
		script.votes[id] = true
	}

	dc := NewDayCoordinator(DefaultCatalog(), time.Second, 3)
	emit, events := recordEmitter()
	res, err := dc.Run(context.Background(), DayInput{Day: 1, Players: players, Snapshot: snapshot}, script, NewRand(1), emit)
	require.NoError(t, err)

	assert.Equal(t, []string{"p6"}, res.NightDeaths)
	require.NotNil(t, res.Execution)
	assert.Equal(t, "p1", res.Execution.PlayerID)
	require.Len(t, res.Nominations, 1)
	assert.Equal(t, 4, res.Nominations[0].YesVotes)
	assert.Equal(t, 3, res.Nominations[0].Threshold)

	types := make([]models.EventType, 0)
	for _, e := range *events {
		if e.Type != models.EventVoteCast {
			types = append(types, e.Type)
		}
	}
	assert.Equal(t, []models.EventType{
		models.EventDeathsAnnounced,
		models.EventNominationOpen,
		models.EventNominationClose,
		models.EventExecution,
	}, types)
	assert.Equal(t, []string{"p1", "p2", "p3"}, script.nominationCalls, "nobody is asked after the execution")
}

func TestDayRunHonoursNominationBudget(t *testing.T) {
	script := newScript()
	script.nominations["p1"] = "p2"
	script.nominations["p2"] = "p3"
	script.nominations["p3"] = "p4"

	dc := NewDayCoordinator(DefaultCatalog(), time.Second, 2)
	res, err := dc.Run(context.Background(), DayInput{Day: 1, Players: dayTable()}, script, NewRand(1), nil)
	require.NoError(t, err)

	assert.Len(t, res.Nominations, 2)
	assert.Nil(t, res.Execution)
	assert.Equal(t, []string{"p1", "p2"}, script.nominationCalls)
}

func TestDayRunRejectedNominationUsesBudget(t *testing.T) {
	script := newScript()
	script.nominations["p1"] = "p1"
	script.nominations["p2"] = "p3"

	dc := NewDayCoordinator(DefaultCatalog(), time.Second, 1)
	res, err := dc.Run(context.Background(), DayInput{Day: 1, Players: dayTable()}, script, NewRand(1), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Nominations)
}

func TestDayRunSlayerKillsDemon(t *testing.T) {
	players := seats(models.Imp, models.Poisoner, models.Slayer, models.Chef, models.Monk)
	script := newScript()
	script.shots["p3"] = "p1"
	script.nominations["p2"] = "p4"

	dc := NewDayCoordinator(DefaultCatalog(), time.Second, 3)
	emit, events := recordEmitter()
	res, err := dc.Run(context.Background(), DayInput{Day: 1, Players: players}, script, NewRand(1), emit)
	require.NoError(t, err)

	assert.False(t, findPlayer(res.Players, "p1").Alive)
	assert.Equal(t, []string{"p1"}, res.Deaths)
	assert.Empty(t, res.Nominations)
	assert.Equal(t, models.EventDayAbility, (*events)[1].Type)
	assert.Equal(t, models.WinnerGood, NewWinEvaluator(DefaultCatalog()).Evaluate(res.Players))
}

func TestDayRunVoteTimeoutCountsAsNo(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	dc := NewDayCoordinator(DefaultCatalog(), 20*time.Millisecond, 3)
	res, err := dc.Run(context.Background(), DayInput{Day: 1, Players: dayTable()}, blockingProvider{release: release}, NewRand(1), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Nominations)
	assert.Nil(t, res.Execution)
}

func TestDayRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	script := newScript()
	script.nominations["p1"] = "p2"
	dc := NewDayCoordinator(DefaultCatalog(), time.Second, 3)
	_, err := dc.Run(ctx, DayInput{Day: 1, Players: dayTable()}, script, NewRand(1), nil)
	require.ErrorIs(t, err, context.Canceled)
}
