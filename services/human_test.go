package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qianlnk/clocktower/models"
)

func waitPending(t *testing.T, h *HumanPlayer, playerID string) DecisionRequest {
	t.Helper()
	var req DecisionRequest
	require.Eventually(t, func() bool {
		var ok bool
		req, ok = h.Pending(playerID)
		return ok
	}, time.Second, 5*time.Millisecond)
	return req
}

func TestHumanPlayerNightAction(t *testing.T) {
	notified := make(chan DecisionRequest, 1)
	h := NewHumanPlayer(func(req DecisionRequest) { notified <- req })

	type answer struct {
		targets []string
		err     error
	}
	done := make(chan answer, 1)
	go func() {
		targets, err := h.ChooseNightAction(context.Background(), "p1", models.Imp, []string{"p2", "p3"}, 1)
		done <- answer{targets, err}
	}()

	req := waitPending(t, h, "p1")
	assert.Equal(t, models.ActionNight, req.Kind)
	assert.Equal(t, models.Imp, req.Role)
	assert.Equal(t, []string{"p2", "p3"}, req.Eligible)
	assert.Equal(t, req.ID, (<-notified).ID)

	err := h.Submit(models.GameAction{Type: models.ActionVote, PlayerID: "p1", Vote: true})
	require.ErrorIs(t, err, ErrDecisionMismatch)

	require.NoError(t, h.Submit(models.GameAction{Type: models.ActionNight, PlayerID: "p1", Targets: []string{"p3"}}))
	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, []string{"p3"}, got.targets)

	_, ok := h.Pending("p1")
	assert.False(t, ok)
}

func TestHumanPlayerSubmitWithoutRequest(t *testing.T) {
	h := NewHumanPlayer(nil)
	err := h.Submit(models.GameAction{Type: models.ActionVote, PlayerID: "p1"})
	require.ErrorIs(t, err, ErrNoPendingDecision)
}

func TestHumanPlayerVoteAndNomination(t *testing.T) {
	h := NewHumanPlayer(nil)

	vote := make(chan bool, 1)
	go func() {
		yes, _ := h.ChooseVote(context.Background(), "p2", models.Nomination{ID: "n1", NomineeID: "p3"})
		vote <- yes
	}()
	req := waitPending(t, h, "p2")
	require.NotNil(t, req.Nomination)
	assert.Equal(t, "p3", req.Nomination.NomineeID)
	require.NoError(t, h.Submit(models.GameAction{Type: models.ActionVote, PlayerID: "p2", Vote: true}))
	assert.True(t, <-vote)

	type nomination struct {
		id string
		ok bool
	}
	nominated := make(chan nomination, 1)
	go func() {
		id, ok, _ := h.ChooseNomination(context.Background(), "p2", []string{"p1", "p3"})
		nominated <- nomination{id, ok}
	}()
	waitPending(t, h, "p2")
	require.NoError(t, h.Submit(models.GameAction{Type: models.ActionNominate, PlayerID: "p2", Pass: true}))
	assert.Equal(t, nomination{}, <-nominated)
}

func TestHumanPlayerTimeoutClearsPending(t *testing.T) {
	h := NewHumanPlayer(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.ChooseVote(ctx, "p1", models.Nomination{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	_, ok := h.Pending("p1")
	assert.False(t, ok)
	assert.Empty(t, h.PendingAll())
}

func TestProviderRouter(t *testing.T) {
	human := newScript()
	human.votes["h1"] = true
	ai := newScript()

	router := NewProviderRouter(ai)
	router.RoutePlayers([]models.Player{
		{ID: "h1", Type: models.HumanPlayer},
		{ID: "a1", Type: models.AIPlayer},
	}, human, ai)

	yes, err := router.ChooseVote(context.Background(), "h1", models.Nomination{})
	require.NoError(t, err)
	assert.True(t, yes)

	ai.shots["a1"] = "h1"
	target, ok, err := router.ChooseSlayerShot(context.Background(), "a1", []string{"h1"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "h1", target)

	// 未登记的玩家交给 fallback
	_, _, err = router.ChooseNomination(context.Background(), "stranger", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"stranger"}, ai.nominationCalls)
}

func TestProviderRouterWithoutDayAbility(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	router := NewProviderRouter(blockingProvider{release: release})
	_, ok, err := router.ChooseSlayerShot(context.Background(), "p1", []string{"p2"})
	require.NoError(t, err)
	assert.False(t, ok)
}
