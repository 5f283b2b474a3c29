package services

import (
	"context"
	"math/rand"
	"sync"

	"github.com/qianlnk/clocktower/models"
)

// 不同性格的行为倾向
type tendency struct {
	nominate float64 // 每次被询问时发起提名的概率
	voteYes  float64 // 投赞成票的概率
	shoot    float64 // 杀手开枪的概率
}

var tendencies = map[models.AIPersonality]tendency{
	models.Aggressive: {nominate: 0.6, voteYes: 0.5, shoot: 0.5},
	models.Cautious:   {nominate: 0.2, voteYes: 0.25, shoot: 0.15},
	models.Random:     {nominate: 0.4, voteYes: 1.0 / 3, shoot: 0.3},
}

// AIPlayer 随机决策的AI，同时为多个座位做决策。
// 每个座位使用由种子和玩家ID派生的独立随机序列，并发收集决策时结果与调度顺序无关。
type AIPlayer struct {
	mu            sync.Mutex
	seed          int64
	rng           *rand.Rand
	streams       map[string]*rand.Rand
	personalities map[string]models.AIPersonality
	view          func() models.GameState
}

// NewAIPlayer 创建AI决策来源，seed 为 0 时使用随机种子
func NewAIPlayer(seed int64) *AIPlayer {
	if seed == 0 {
		seed = NewSeed()
	}
	return &AIPlayer{
		seed:          seed,
		rng:           NewRand(seed),
		streams:       make(map[string]*rand.Rand),
		personalities: make(map[string]models.AIPersonality),
	}
}

// streamFor 座位专属的随机序列，调用方必须持有锁
func (ai *AIPlayer) streamFor(playerID string) *rand.Rand {
	rng, ok := ai.streams[playerID]
	if !ok {
		rng = NewRand(DeriveSeed(ai.seed, playerID))
		ai.streams[playerID] = rng
	}
	return rng
}

// RandomPersonality 随机挑选一种性格
func (ai *AIPlayer) RandomPersonality() models.AIPersonality {
	all := []models.AIPersonality{models.Aggressive, models.Cautious, models.Random}
	ai.mu.Lock()
	defer ai.mu.Unlock()
	return all[ai.rng.Intn(len(all))]
}

// SetPersonality 设置座位的性格，未设置的座位视为随机型
func (ai *AIPlayer) SetPersonality(playerID string, p models.AIPersonality) {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	ai.personalities[playerID] = p
}

// Observe 让AI读取游戏状态，邪恶玩家借此认出同伴
func (ai *AIPlayer) Observe(view func() models.GameState) {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	ai.view = view
}

// ChooseNightAction 实现 DecisionProvider
func (ai *AIPlayer) ChooseNightAction(ctx context.Context, actorID string, role models.Role, eligible []string, arity int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	candidates := eligible
	switch role {
	case models.Imp, models.Poisoner:
		// 邪恶玩家不对同伴出手，也不主动自杀
		candidates = ai.filter(eligible, func(p models.Player) bool {
			return p.ID != actorID && p.Alignment != models.Evil
		})
	case models.Monk, models.Butler, models.Ravenkeeper:
		candidates = ai.filter(eligible, func(p models.Player) bool { return p.ID != actorID })
	}
	if len(candidates) < arity {
		candidates = eligible
	}

	ai.mu.Lock()
	defer ai.mu.Unlock()
	return pickIDs(candidates, arity, ai.streamFor(actorID)), nil
}

// ChooseVote 实现 DecisionProvider
func (ai *AIPlayer) ChooseVote(ctx context.Context, voterID string, nomination models.Nomination) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	self, nominee := ai.lookup(voterID), ai.lookup(nomination.NomineeID)
	if self != nil && nominee != nil && self.Alignment == models.Evil {
		if nominee.Alignment == models.Evil {
			return false, nil
		}
	}
	if nomination.NomineeID == voterID {
		return false, nil
	}

	ai.mu.Lock()
	defer ai.mu.Unlock()
	return ai.streamFor(voterID).Float64() < ai.tendencyOf(voterID).voteYes, nil
}

// ChooseNomination 实现 DecisionProvider
func (ai *AIPlayer) ChooseNomination(ctx context.Context, nominatorID string, eligible []string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	candidates := eligible
	if self := ai.lookup(nominatorID); self != nil && self.Alignment == models.Evil {
		candidates = ai.filter(eligible, func(p models.Player) bool { return p.Alignment != models.Evil })
	}
	if len(candidates) == 0 {
		return "", false, nil
	}

	ai.mu.Lock()
	defer ai.mu.Unlock()
	rng := ai.streamFor(nominatorID)
	if rng.Float64() >= ai.tendencyOf(nominatorID).nominate {
		return "", false, nil
	}
	return candidates[rng.Intn(len(candidates))], true, nil
}

// ChooseSlayerShot 实现 DayAbilityChooser
func (ai *AIPlayer) ChooseSlayerShot(ctx context.Context, slayerID string, eligible []string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if len(eligible) == 0 {
		return "", false, nil
	}
	ai.mu.Lock()
	defer ai.mu.Unlock()
	rng := ai.streamFor(slayerID)
	if rng.Float64() >= ai.tendencyOf(slayerID).shoot {
		return "", false, nil
	}
	return eligible[rng.Intn(len(eligible))], true, nil
}

// tendencyOf 调用方必须持有锁
func (ai *AIPlayer) tendencyOf(playerID string) tendency {
	if t, ok := tendencies[ai.personalities[playerID]]; ok {
		return t
	}
	return tendencies[models.Random]
}

// lookup 从观察到的状态中查找玩家
func (ai *AIPlayer) lookup(id string) *models.Player {
	ai.mu.Lock()
	view := ai.view
	ai.mu.Unlock()
	if view == nil {
		return nil
	}
	for _, p := range view().Players {
		if p.ID == id {
			return &p
		}
	}
	return nil
}

// filter 没有观察状态时原样返回
func (ai *AIPlayer) filter(ids []string, keep func(models.Player) bool) []string {
	ai.mu.Lock()
	view := ai.view
	ai.mu.Unlock()
	if view == nil {
		return ids
	}
	state := view()
	byID := make(map[string]models.Player, len(state.Players))
	for _, p := range state.Players {
		byID[p.ID] = p
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; !ok || keep(p) {
			out = append(out, id)
		}
	}
	return out
}

// pickIDs 无放回随机抽取 n 个ID
func pickIDs(ids []string, n int, rng *rand.Rand) []string {
	shuffled := append([]string(nil), ids...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	if n > len(shuffled) {
		n = len(shuffled)
	}
	return shuffled[:n]
}
