package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/qianlnk/clocktower/models"
)

var errNoScript = errors.New("no scripted decision")

// scriptedProvider 按脚本回答的决策来源，未写入脚本的决策返回错误
type scriptedProvider struct {
	mu          sync.Mutex
	night       map[string][]string
	nominations map[string]string
	votes       map[string]bool
	shots       map[string]string

	nightCalls      []string
	nominationCalls []string
}

func newScript() *scriptedProvider {
	return &scriptedProvider{
		night:       map[string][]string{},
		nominations: map[string]string{},
		votes:       map[string]bool{},
		shots:       map[string]string{},
	}
}

func (s *scriptedProvider) ChooseNightAction(_ context.Context, actorID string, _ models.Role, _ []string, _ int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nightCalls = append(s.nightCalls, actorID)
	targets, ok := s.night[actorID]
	if !ok {
		return nil, errNoScript
	}
	return append([]string(nil), targets...), nil
}

func (s *scriptedProvider) ChooseVote(_ context.Context, voterID string, _ models.Nomination) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.votes[voterID], nil
}

func (s *scriptedProvider) ChooseNomination(_ context.Context, nominatorID string, _ []string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nominationCalls = append(s.nominationCalls, nominatorID)
	id, ok := s.nominations[nominatorID]
	return id, ok, nil
}

func (s *scriptedProvider) ChooseSlayerShot(_ context.Context, slayerID string, _ []string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.shots[slayerID]
	return id, ok, nil
}

// blockingProvider 忽略 ctx 并永远不返回
type blockingProvider struct {
	release chan struct{}
}

func (b blockingProvider) ChooseNightAction(context.Context, string, models.Role, []string, int) ([]string, error) {
	<-b.release
	return nil, nil
}

func (b blockingProvider) ChooseVote(context.Context, string, models.Nomination) (bool, error) {
	<-b.release
	return true, nil
}

func (b blockingProvider) ChooseNomination(context.Context, string, []string) (string, bool, error) {
	<-b.release
	return "", false, nil
}

// seats 按顺序生成 p1..pn 并分配角色
func seats(roles ...models.Role) []models.Player {
	catalog := DefaultCatalog()
	players := make([]models.Player, len(roles))
	for i, role := range roles {
		players[i] = models.Player{
			ID:        fmt.Sprintf("p%d", i+1),
			Name:      fmt.Sprintf("玩家%d", i+1),
			Seat:      i,
			Type:      models.AIPlayer,
			Role:      role,
			Alignment: catalog[role].Alignment(),
			Alive:     true,
		}
	}
	return players
}

func findPlayer(players []models.Player, id string) models.Player {
	for _, p := range players {
		if p.ID == id {
			return p
		}
	}
	panic("player not found: " + id)
}

func actionOf(actions []models.NightAction, role models.Role) models.NightAction {
	for _, a := range actions {
		if a.Role == role {
			return a
		}
	}
	panic("no action for role " + string(role))
}
