package services

import (
	"time"

	"github.com/google/uuid"

	"github.com/qianlnk/clocktower/models"
)

// NewGameState 创建处于准备阶段的游戏状态
func NewGameState(gameID, roomID string) models.GameState {
	if gameID == "" {
		gameID = uuid.NewString()
	}
	now := time.Now().UnixMilli()
	return models.GameState{
		ID:           gameID,
		RoomID:       roomID,
		Phase:        models.PhaseSetup,
		Players:      make([]models.Player, 0),
		NightActions: make([]models.NightAction, 0),
		Nominations:  make([]models.Nomination, 0),
		Reveals:      make([]models.Reveal, 0),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// CloneState 深拷贝游戏状态，调用方可以随意修改返回值
func CloneState(s models.GameState) models.GameState {
	c := s
	c.Players = append([]models.Player(nil), s.Players...)

	c.NightActions = make([]models.NightAction, len(s.NightActions))
	for i, a := range s.NightActions {
		c.NightActions[i] = cloneAction(a)
	}

	c.Nominations = make([]models.Nomination, len(s.Nominations))
	for i, n := range s.Nominations {
		n.Votes = append([]models.Vote(nil), n.Votes...)
		c.Nominations[i] = n
	}

	c.Reveals = make([]models.Reveal, len(s.Reveals))
	for i, r := range s.Reveals {
		c.Reveals[i] = cloneReveal(r)
	}

	if s.LastExecution != nil {
		e := *s.LastExecution
		c.LastExecution = &e
	}
	return c
}

func cloneAction(a models.NightAction) models.NightAction {
	a.Targets = append([]string(nil), a.Targets...)
	if a.Outcome.Reveal != nil {
		r := cloneReveal(*a.Outcome.Reveal)
		a.Outcome.Reveal = &r
	}
	return a
}

func cloneReveal(r models.Reveal) models.Reveal {
	r.Players = append([]string(nil), r.Players...)
	return r
}

// PublicStatus 对外公开的状态，角色只在游戏结束后公开
func PublicStatus(s models.GameState) models.GameStatus {
	status := models.GameStatus{
		GameID:  s.ID,
		Phase:   s.Phase,
		Day:     s.Day,
		Players: make([]models.PublicSeat, 0, len(s.Players)),
		Winner:  s.Winner,
	}
	for _, p := range NewRoster(s.Players) {
		seat := models.PublicSeat{ID: p.ID, Name: p.Name, Seat: p.Seat, Alive: p.Alive}
		if s.Phase == models.PhaseEnded {
			seat.Role = p.Role
		}
		status.Players = append(status.Players, seat)
	}
	for _, n := range s.Nominations {
		status.Nominees = append(status.Nominees, n.NomineeID)
	}
	return status
}

// RevealsFor 某个玩家得到的全部私密信息
func RevealsFor(s models.GameState, playerID string) []models.Reveal {
	reveals := make([]models.Reveal, 0)
	for _, r := range s.Reveals {
		if r.PlayerID == playerID {
			reveals = append(reveals, cloneReveal(r))
		}
	}
	return reveals
}
