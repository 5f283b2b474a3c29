package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/qianlnk/clocktower/models"
)

// NightContext 夜晚结算上下文，效果函数只通过它读写名册
type NightContext struct {
	Night         int
	Roster        Roster
	LastExecution *models.Execution
	Catalog       Catalog
	Rand          *rand.Rand

	demonKills []string
	reveals    []models.Reveal
}

// reveal 记录只告知行动者的信息
func (nc *NightContext) reveal(a *models.NightAction, r models.Reveal) {
	r.PlayerID = a.ActorID
	r.Source = a.Role
	r.Night = nc.Night
	a.Outcome = models.ActionOutcome{Status: models.ActionResolved, Message: r.Message, Reveal: &r}
	nc.reveals = append(nc.reveals, r)
}

// demonKill 恶魔造成的死亡
func (nc *NightContext) demonKill(id string) {
	if nc.Roster.Kill(id) {
		nc.demonKills = append(nc.demonKills, id)
	}
}

// safeFromDemon 目标是否免于恶魔击杀
func (nc *NightContext) safeFromDemon(p *models.Player) (bool, string) {
	if p.Protected {
		return true, fmt.Sprintf("%s 受到僧侣保护", p.Name)
	}
	if nc.Catalog[p.Role].SafeFromKill && !p.Impaired() {
		return true, fmt.Sprintf("%s 免疫恶魔的攻击", p.Name)
	}
	return false, ""
}

// NightInput 夜晚结算的输入
type NightInput struct {
	Night         int
	Players       []models.Player
	LastExecution *models.Execution
}

// NightResult 夜晚结算结果
type NightResult struct {
	Players []models.Player
	Actions []models.NightAction
	Reveals []models.Reveal
	Deaths  []string
}

// NightResolver 夜晚结算器
type NightResolver struct {
	catalog Catalog
	timeout time.Duration
}

// NewNightResolver 创建夜晚结算器实例
func NewNightResolver(catalog Catalog, timeout time.Duration) *NightResolver {
	return &NightResolver{catalog: catalog, timeout: timeout}
}

// Resolve 清除状态 -> 收集行动 -> 按优先级结算 -> 输出日志
func (nr *NightResolver) Resolve(ctx context.Context, in NightInput, provider DecisionProvider, rng *rand.Rand) (NightResult, error) {
	roster := NewRoster(in.Players)
	roster.ClearNightFlags()

	actions, err := nr.Collect(ctx, in.Night, roster, provider)
	if err != nil {
		return NightResult{}, err
	}

	nc := &NightContext{
		Night:         in.Night,
		Roster:        roster,
		LastExecution: in.LastExecution,
		Catalog:       nr.catalog,
		Rand:          rng,
	}
	actions = nr.ResolveActions(nc, actions)

	// 夜晚死亡触发的能力在主结算之后收集并结算
	if triggered := nr.collectDeathTriggers(ctx, nc, provider); len(triggered) > 0 {
		actions = append(actions, nr.ResolveActions(nc, triggered)...)
	}

	return NightResult{
		Players: nc.Roster,
		Actions: actions,
		Reveals: nc.reveals,
		Deaths:  nc.demonKills,
	}, nil
}

// Collect 为每个今晚行动的存活玩家请求一次行动，请求并发发出，结果按座位顺序排列
func (nr *NightResolver) Collect(ctx context.Context, night int, roster Roster, provider DecisionProvider) ([]models.NightAction, error) {
	actors := make([]models.Player, 0)
	for _, p := range roster.Alive() {
		spec, err := nr.catalog.AbilitiesFor(p.Role)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvariantViolation, err)
		}
		if spec.ActsOnNight(night) {
			actors = append(actors, p)
		}
	}

	actions := make([]models.NightAction, len(actors))
	g, gctx := errgroup.WithContext(ctx)
	for i, actor := range actors {
		spec := nr.catalog[actor.Role]
		actions[i] = models.NightAction{
			ID:      uuid.NewString(),
			ActorID: actor.ID,
			Seat:    actor.Seat,
			Role:    actor.Role,
		}
		if spec.TargetArity == 0 {
			continue
		}

		eligible := eligibleTargets(roster, actor.ID, spec.AllowSelf)
		if len(eligible) < spec.TargetArity {
			actions[i].Outcome = models.ActionOutcome{Status: models.ActionPassed, Message: "没有足够的合法目标"}
			continue
		}

		i, actor := i, actor
		g.Go(func() error {
			targets, err := decide(gctx, nr.timeout, nil, func(ctx context.Context) ([]string, error) {
				return provider.ChooseNightAction(ctx, actor.ID, actor.Role, eligible, spec.TargetArity)
			})
			if err != nil {
				if errors.Is(err, ErrDecisionTimeout) {
					log.Warn().Str("player", actor.ID).Str("role", string(actor.Role)).Msg("[夜晚行动] 决策超时，视为放弃")
				} else {
					log.Warn().Err(err).Str("player", actor.ID).Msg("[夜晚行动] 获取行动失败，视为放弃")
				}
				actions[i].Outcome = models.ActionOutcome{Status: models.ActionPassed, Message: "放弃行动"}
				return nil
			}
			actions[i].Targets = targets
			if err := validateTargets(roster, actor, spec, targets); err != nil {
				log.Warn().Err(err).Str("player", actor.ID).Strs("targets", targets).Msg("[夜晚行动] 目标非法，行动被丢弃")
				actions[i].Outcome = models.ActionOutcome{Status: models.ActionRejected, Message: err.Error()}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return actions, nil
}

// ResolveActions 按优先级升序结算，优先级相同时按座位顺序
func (nr *NightResolver) ResolveActions(nc *NightContext, actions []models.NightAction) []models.NightAction {
	ordered := make([]models.NightAction, len(actions))
	copy(ordered, actions)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := nr.catalog[ordered[i].Role].Priority, nr.catalog[ordered[j].Role].Priority
		if pi != pj {
			return pi < pj
		}
		return ordered[i].Seat < ordered[j].Seat
	})

	for i := range ordered {
		a := &ordered[i]
		if a.Outcome.Status != "" {
			continue
		}
		spec := nr.catalog[a.Role]
		actor := nc.Roster.Find(a.ActorID)
		switch {
		case actor == nil:
			a.Outcome = models.ActionOutcome{Status: models.ActionRejected, Message: ErrActionTargetInvalid.Error()}
		case !actor.Alive && !spec.OnNightDeath:
			a.Outcome = models.ActionOutcome{Status: models.ActionBlocked, Message: fmt.Sprintf("%s 已经死亡", actor.Name)}
		case actor.Impaired():
			a.Outcome = models.ActionOutcome{Status: models.ActionBlocked, Message: fmt.Sprintf("%s 的能力失效", actor.Name)}
		case spec.Effect == nil:
			a.Outcome = models.ActionOutcome{Status: models.ActionPassed}
		default:
			spec.Effect(nc, a)
		}
		log.Debug().Int("night", nc.Night).Str("role", string(a.Role)).Str("actor", a.ActorID).
			Str("status", string(a.Outcome.Status)).Msg("[夜晚结算] " + a.Outcome.Message)
	}
	return ordered
}

// collectDeathTriggers 今晚被恶魔杀死且有死亡触发能力的玩家（守鸦人）
func (nr *NightResolver) collectDeathTriggers(ctx context.Context, nc *NightContext, provider DecisionProvider) []models.NightAction {
	triggered := make([]models.NightAction, 0)
	for _, id := range nc.demonKills {
		p := nc.Roster.Find(id)
		spec := nr.catalog[p.Role]
		if !spec.OnNightDeath || spec.TargetArity == 0 {
			continue
		}
		action := models.NightAction{ID: uuid.NewString(), ActorID: p.ID, Seat: p.Seat, Role: p.Role}
		eligible := eligibleTargets(nc.Roster, p.ID, spec.AllowSelf)
		if len(eligible) < spec.TargetArity {
			action.Outcome = models.ActionOutcome{Status: models.ActionPassed, Message: "没有足够的合法目标"}
			triggered = append(triggered, action)
			continue
		}
		targets, err := decide(ctx, nr.timeout, nil, func(ctx context.Context) ([]string, error) {
			return provider.ChooseNightAction(ctx, p.ID, p.Role, eligible, spec.TargetArity)
		})
		switch {
		case err != nil:
			action.Outcome = models.ActionOutcome{Status: models.ActionPassed, Message: "放弃行动"}
		default:
			action.Targets = targets
			if err := validateTargets(nc.Roster, *p, spec, targets); err != nil {
				action.Outcome = models.ActionOutcome{Status: models.ActionRejected, Message: err.Error()}
			}
		}
		triggered = append(triggered, action)
	}
	return triggered
}

// eligibleTargets 存活且（除非允许）不是自己的玩家
func eligibleTargets(roster Roster, actorID string, allowSelf bool) []string {
	ids := make([]string, 0, len(roster))
	for _, p := range roster.Alive() {
		if p.ID == actorID && !allowSelf {
			continue
		}
		ids = append(ids, p.ID)
	}
	return ids
}

// validateTargets 目标数量、存活、去重以及自选限制
func validateTargets(roster Roster, actor models.Player, spec AbilitySpec, targets []string) error {
	if len(targets) != spec.TargetArity {
		return fmt.Errorf("%w: 需要 %d 个目标，得到 %d 个", ErrActionTargetInvalid, spec.TargetArity, len(targets))
	}
	seen := make(map[string]bool, len(targets))
	for _, id := range targets {
		p := roster.Find(id)
		switch {
		case p == nil:
			return fmt.Errorf("%w: 玩家 %q 不存在", ErrActionTargetInvalid, id)
		case !p.Alive:
			return fmt.Errorf("%w: 玩家 %s 已经死亡", ErrActionTargetInvalid, p.Name)
		case id == actor.ID && !spec.AllowSelf:
			return fmt.Errorf("%w: 不能选择自己", ErrActionTargetInvalid)
		case seen[id]:
			return fmt.Errorf("%w: 目标重复", ErrActionTargetInvalid)
		}
		seen[id] = true
	}
	return nil
}
