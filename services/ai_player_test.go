package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qianlnk/clocktower/models"
)

func observedAI(players []models.Player) *AIPlayer {
	ai := NewAIPlayer(3)
	ai.Observe(func() models.GameState {
		return models.GameState{Players: players}
	})
	return ai
}

func TestAIDemonAvoidsTeammates(t *testing.T) {
	players := seats(models.Imp, models.Poisoner, models.Chef, models.Empath, models.Monk)
	ai := observedAI(players)
	eligible := IDs(players)

	for i := 0; i < 50; i++ {
		targets, err := ai.ChooseNightAction(context.Background(), "p1", models.Imp, eligible, 1)
		require.NoError(t, err)
		require.Len(t, targets, 1)
		assert.NotContains(t, []string{"p1", "p2"}, targets[0])
	}
}

func TestAIChoosesRequestedArity(t *testing.T) {
	players := seats(models.Imp, models.FortuneTeller, models.Chef)
	ai := NewAIPlayer(5)
	targets, err := ai.ChooseNightAction(context.Background(), "p2", models.FortuneTeller, IDs(players), 2)
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.NotEqual(t, targets[0], targets[1])
}

func TestAIEvilNeverVotesAgainstTeammate(t *testing.T) {
	players := seats(models.Imp, models.Poisoner, models.Chef, models.Empath, models.Monk)
	ai := observedAI(players)
	ai.SetPersonality("p2", models.Aggressive)

	for i := 0; i < 50; i++ {
		yes, err := ai.ChooseVote(context.Background(), "p2", models.Nomination{NominatorID: "p3", NomineeID: "p1"})
		require.NoError(t, err)
		assert.False(t, yes)

		yes, err = ai.ChooseVote(context.Background(), "p3", models.Nomination{NominatorID: "p4", NomineeID: "p3"})
		require.NoError(t, err)
		assert.False(t, yes, "nobody votes to execute themselves")
	}
}

func TestAINominatesOnlyEligible(t *testing.T) {
	players := seats(models.Imp, models.Poisoner, models.Chef, models.Empath, models.Monk)
	ai := observedAI(players)
	ai.SetPersonality("p1", models.Aggressive)

	nominated := 0
	for i := 0; i < 100; i++ {
		id, ok, err := ai.ChooseNomination(context.Background(), "p1", []string{"p2", "p3", "p4"})
		require.NoError(t, err)
		if !ok {
			continue
		}
		nominated++
		assert.Contains(t, []string{"p3", "p4"}, id)
	}
	assert.Positive(t, nominated)
}

func TestAIRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAIPlayer(1).ChooseNightAction(ctx, "p1", models.Imp, []string{"p2"}, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAIOnlyGamesFinish(t *testing.T) {
	for seed := int64(1); seed <= 10; seed++ {
		ai := NewAIPlayer(seed)
		sm := NewStateMachine(ai, Options{Seed: seed, Sink: NewMemorySink()})
		ai.Observe(sm.Snapshot)

		players := blankPlayers(9)
		pool, err := GenerateRolePool(len(players), DefaultCatalog(), NewRand(seed))
		require.NoError(t, err)
		require.NoError(t, sm.Setup(players, pool))

		winner, err := sm.Run(context.Background())
		require.NoError(t, err)
		assert.Contains(t, []models.Winner{models.WinnerGood, models.WinnerEvil, models.WinnerDraw}, winner)
		assert.Equal(t, models.PhaseEnded, sm.Phase())
	}
}

// playSeeded 用同一种子驱动AI与状态机完成一局七人局
func playSeeded(t *testing.T, seed int64) (models.GameState, []models.EventType) {
	t.Helper()
	players := blankPlayers(7)
	ai := NewAIPlayer(seed)
	for i := range players {
		players[i].Personality = ai.RandomPersonality()
		ai.SetPersonality(players[i].ID, players[i].Personality)
	}
	sink := NewMemorySink()
	sm := NewStateMachine(ai, Options{GameID: "g", Seed: seed, Sink: sink})
	ai.Observe(sm.Snapshot)
	require.NoError(t, sm.Setup(players, StandardPool()))
	_, err := sm.Run(context.Background())
	require.NoError(t, err)

	types := make([]models.EventType, 0)
	for _, e := range sink.Events() {
		types = append(types, e.Type)
	}
	return sm.Snapshot(), types
}

func TestSeededAIGamesAreReproducible(t *testing.T) {
	ignore := cmp.Options{
		cmpopts.IgnoreFields(models.GameState{}, "CreatedAt", "UpdatedAt"),
		cmpopts.IgnoreFields(models.NightAction{}, "ID"),
		cmpopts.IgnoreFields(models.Nomination{}, "ID"),
	}
	for seed := int64(1); seed <= 12; seed++ {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			first, firstEvents := playSeeded(t, seed)
			for run := 0; run < 4; run++ {
				again, againEvents := playSeeded(t, seed)
				require.Empty(t, cmp.Diff(first, again, ignore), "run %d", run)
				require.Equal(t, firstEvents, againEvents)
			}
		})
	}
}

func TestAIStreamsArePerSeat(t *testing.T) {
	players := seats(models.Imp, models.Poisoner, models.Chef, models.Empath, models.Monk)
	eligible := IDs(players)

	// 同一座位的抽样不受其他座位调用次数的影响
	quiet := observedAI(players)
	busy := observedAI(players)
	for i := 0; i < 7; i++ {
		_, err := busy.ChooseVote(context.Background(), "p4", models.Nomination{NomineeID: "p1"})
		require.NoError(t, err)
	}
	for i := 0; i < 10; i++ {
		a, err := quiet.ChooseNightAction(context.Background(), "p5", models.Monk, eligible, 1)
		require.NoError(t, err)
		b, err := busy.ChooseNightAction(context.Background(), "p5", models.Monk, eligible, 1)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestDeriveSeed(t *testing.T) {
	assert.Zero(t, DeriveSeed(0, "p1"))
	assert.Equal(t, DeriveSeed(7, "p1"), DeriveSeed(7, "p1"))
	assert.NotEqual(t, DeriveSeed(7, "p1"), DeriveSeed(7, "p2"))
	assert.NotEqual(t, DeriveSeed(7, "p1"), DeriveSeed(8, "p1"))
	assert.Positive(t, DeriveSeed(-3, "game"))
}

func TestNarratorNomination(t *testing.T) {
	players := seats(models.Imp, models.Chef)
	players[0].Personality = models.Cautious
	n := NewNarrator(players, 1)

	line := n.Narrate(models.Event{
		Type:    models.EventNominationOpen,
		Payload: models.Nomination{NominatorID: "p1", NomineeID: "p2"},
	})
	assert.Contains(t, line, "玩家1 提名了 玩家2")
	assert.Contains(t, line, "玩家2")

	assert.Equal(t, "昨晚是平安夜", n.Narrate(models.Event{Type: models.EventDeathsAnnounced, Payload: []string{}}))
	assert.Empty(t, n.Narrate(models.Event{Type: models.EventVoteCast, Payload: 42}))
}
