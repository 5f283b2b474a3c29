package services

import (
	"context"
	"sync"

	"github.com/qianlnk/clocktower/models"
)

// ProviderRouter 按玩家类型把决策请求转发给真人或AI
type ProviderRouter struct {
	mu       sync.RWMutex
	routes   map[string]DecisionProvider
	fallback DecisionProvider
}

// NewProviderRouter 创建决策路由，未注册的玩家交给 fallback
func NewProviderRouter(fallback DecisionProvider) *ProviderRouter {
	return &ProviderRouter{
		routes:   make(map[string]DecisionProvider),
		fallback: fallback,
	}
}

// Route 指定玩家的决策来源
func (r *ProviderRouter) Route(playerID string, p DecisionProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[playerID] = p
}

// RoutePlayers 真人玩家交给 human，其余交给 ai
func (r *ProviderRouter) RoutePlayers(players []models.Player, human, ai DecisionProvider) {
	for _, p := range players {
		if p.Type == models.HumanPlayer {
			r.Route(p.ID, human)
		} else {
			r.Route(p.ID, ai)
		}
	}
}

func (r *ProviderRouter) providerFor(playerID string) DecisionProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.routes[playerID]; ok {
		return p
	}
	return r.fallback
}

// ChooseNightAction 实现 DecisionProvider
func (r *ProviderRouter) ChooseNightAction(ctx context.Context, actorID string, role models.Role, eligible []string, arity int) ([]string, error) {
	return r.providerFor(actorID).ChooseNightAction(ctx, actorID, role, eligible, arity)
}

// ChooseVote 实现 DecisionProvider
func (r *ProviderRouter) ChooseVote(ctx context.Context, voterID string, nomination models.Nomination) (bool, error) {
	return r.providerFor(voterID).ChooseVote(ctx, voterID, nomination)
}

// ChooseNomination 实现 DecisionProvider
func (r *ProviderRouter) ChooseNomination(ctx context.Context, nominatorID string, eligible []string) (string, bool, error) {
	return r.providerFor(nominatorID).ChooseNomination(ctx, nominatorID, eligible)
}

// ChooseSlayerShot 实现 DayAbilityChooser，不支持白天能力的来源视为不开枪
func (r *ProviderRouter) ChooseSlayerShot(ctx context.Context, slayerID string, eligible []string) (string, bool, error) {
	if c, ok := r.providerFor(slayerID).(DayAbilityChooser); ok {
		return c.ChooseSlayerShot(ctx, slayerID, eligible)
	}
	return "", false, nil
}
