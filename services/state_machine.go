package services

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qianlnk/clocktower/models"
)

// 默认规则参数
const (
	DefaultMaxDays          = 10
	DefaultNominationBudget = 3
	DefaultDecisionTimeout  = 30 * time.Second
)

// 合法的阶段转换
var transitions = map[models.Phase][]models.Phase{
	models.PhaseSetup: {models.PhaseNight, models.PhaseEnded},
	models.PhaseNight: {models.PhaseDay, models.PhaseEnded},
	models.PhaseDay:   {models.PhaseNight, models.PhaseEnded},
}

// Options 状态机参数
type Options struct {
	GameID           string
	RoomID           string
	Catalog          Catalog
	MaxDays          int
	NominationBudget int
	DecisionTimeout  time.Duration
	Seed             int64 // 0 表示随机种子
	Sink             StateSink
}

func (o Options) withDefaults() Options {
	if o.Catalog == nil {
		o.Catalog = DefaultCatalog()
	}
	if o.MaxDays <= 0 {
		o.MaxDays = DefaultMaxDays
	}
	if o.NominationBudget <= 0 {
		o.NominationBudget = DefaultNominationBudget
	}
	if o.DecisionTimeout <= 0 {
		o.DecisionTimeout = DefaultDecisionTimeout
	}
	if o.Sink == nil {
		o.Sink = MultiSink{}
	}
	return o
}

// RoleAssignedPayload 角色分配事件内容，只发给本人
type RoleAssignedPayload struct {
	Role      models.Role      `json:"role"`
	Alignment models.Alignment `json:"alignment"`
	Seat      int              `json:"seat"`
}

// PhaseChangedPayload 阶段变更事件内容
type PhaseChangedPayload struct {
	From models.Phase `json:"from"`
	To   models.Phase `json:"to"`
}

// GameEndedPayload 游戏结束事件内容，公开全部角色
type GameEndedPayload struct {
	Winner  models.Winner   `json:"winner"`
	Reason  string          `json:"reason"`
	Players []models.Player `json:"players"`
}

// StateMachine 游戏状态机，独占游戏状态，外部只能读取副本
type StateMachine struct {
	mu       sync.RWMutex
	state    models.GameState
	snapshot AliveSnapshot

	opts     Options
	rng      *rand.Rand
	provider DecisionProvider
	night    *NightResolver
	day      *DayCoordinator
	win      WinEvaluator

	seq     atomic.Int64
	aborted atomic.Bool
}

// NewStateMachine 创建状态机实例
func NewStateMachine(provider DecisionProvider, opts Options) *StateMachine {
	opts = opts.withDefaults()
	return &StateMachine{
		state:    NewGameState(opts.GameID, opts.RoomID),
		opts:     opts,
		rng:      NewRand(opts.Seed),
		provider: provider,
		night:    NewNightResolver(opts.Catalog, opts.DecisionTimeout),
		day:      NewDayCoordinator(opts.Catalog, opts.DecisionTimeout, opts.NominationBudget),
		win:      NewWinEvaluator(opts.Catalog),
	}
}

// Setup 按角色池随机分配角色并执行准备阶段能力
func (sm *StateMachine) Setup(players []models.Player, pool models.RolePool) error {
	if err := sm.requirePhase(models.PhaseSetup); err != nil {
		return err
	}
	roster, err := AssignRoles(players, pool, sm.opts.Catalog, sm.rng)
	if err != nil {
		return err
	}
	return sm.setup(roster)
}

// SetupAssigned 使用已分配好角色的玩家开始游戏
func (sm *StateMachine) SetupAssigned(players []models.Player) error {
	if err := sm.requirePhase(models.PhaseSetup); err != nil {
		return err
	}
	roster := NewRoster(players)
	for i := range roster {
		if roster[i].Alignment == "" {
			roster[i].Alignment = AlignmentOf(sm.opts.Catalog.CategoryOf(roster[i].Role))
		}
	}
	return sm.setup(roster)
}

func (sm *StateMachine) setup(roster Roster) error {
	if err := validateAssigned(roster, sm.opts.Catalog); err != nil {
		return err
	}
	sm.mu.Lock()
	if len(sm.state.Players) > 0 {
		sm.mu.Unlock()
		return fmt.Errorf("%w: 角色已经分配", ErrInvariantViolation)
	}
	reveals := runSetup(roster, sm.opts.Catalog, sm.rng)
	sm.state.Players = roster
	sm.state.Reveals = append(sm.state.Reveals, reveals...)
	sm.touch()
	sm.mu.Unlock()

	for _, p := range roster {
		sm.emit(models.EventRoleAssigned, p.ID, RoleAssignedPayload{Role: p.Role, Alignment: p.Alignment, Seat: p.Seat})
	}
	for _, r := range reveals {
		sm.emit(models.EventInfoRevealed, r.PlayerID, r)
	}
	log.Info().Str("game", sm.opts.GameID).Int("players", len(roster)).Msg("[游戏准备] 角色分配完成")
	return nil
}

// Step 执行当前阶段并转换到下一阶段，返回转换后的阶段
func (sm *StateMachine) Step(ctx context.Context) (models.Phase, error) {
	phase := sm.Phase()
	if phase == models.PhaseEnded {
		return phase, nil
	}
	if sm.interrupted(ctx) {
		return sm.end(models.WinnerDraw, "游戏被中止")
	}

	switch phase {
	case models.PhaseSetup:
		sm.mu.RLock()
		assigned := len(sm.state.Players) > 0
		sm.mu.RUnlock()
		if !assigned {
			return phase, setupError(ErrInsufficientRoster, "尚未分配角色")
		}
		return sm.transition(models.PhaseNight)
	case models.PhaseNight:
		return sm.runNight(ctx)
	case models.PhaseDay:
		return sm.runDay(ctx)
	default:
		return phase, fmt.Errorf("%w: 未知阶段 %q", ErrInvariantViolation, phase)
	}
}

// Run 推进游戏直到结束，返回胜利方
func (sm *StateMachine) Run(ctx context.Context) (models.Winner, error) {
	for {
		phase, err := sm.Step(ctx)
		if err != nil {
			return models.NoWinner, err
		}
		if phase == models.PhaseEnded {
			return sm.Winner(), nil
		}
	}
}

// Abort 请求中止游戏，在下一个阶段转换点以平局结束
func (sm *StateMachine) Abort() {
	sm.aborted.Store(true)
}

// Snapshot 返回游戏状态的深拷贝
func (sm *StateMachine) Snapshot() models.GameState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return CloneState(sm.state)
}

// Phase 当前阶段
func (sm *StateMachine) Phase() models.Phase {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state.Phase
}

// Winner 胜利方，游戏未结束时为空
func (sm *StateMachine) Winner() models.Winner {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state.Winner
}

// GameID 游戏ID
func (sm *StateMachine) GameID() string {
	return sm.state.ID
}

func (sm *StateMachine) runNight(ctx context.Context) (models.Phase, error) {
	sm.mu.RLock()
	in := NightInput{Night: sm.state.Day, Players: append([]models.Player(nil), sm.state.Players...)}
	if sm.state.LastExecution != nil {
		e := *sm.state.LastExecution
		in.LastExecution = &e
	}
	sm.mu.RUnlock()

	snapshot := TakeAliveSnapshot(in.Players)
	res, err := sm.night.Resolve(ctx, in, sm.provider, sm.rng)
	if err != nil {
		if sm.interrupted(ctx) {
			return sm.end(models.WinnerDraw, "游戏被中止")
		}
		return models.PhaseNight, err
	}

	sm.mu.Lock()
	sm.state.Players = res.Players
	sm.state.NightActions = res.Actions
	sm.state.Reveals = append(sm.state.Reveals, res.Reveals...)
	sm.snapshot = snapshot
	sm.touch()
	sm.mu.Unlock()

	for _, a := range res.Actions {
		sm.emit(models.EventNightAction, a.ActorID, a)
	}
	for _, r := range res.Reveals {
		sm.emit(models.EventInfoRevealed, r.PlayerID, r)
	}
	log.Info().Str("game", sm.opts.GameID).Int("night", in.Night).Strs("deaths", res.Deaths).Msg("[夜晚结算] 完成")

	if winner := sm.win.Evaluate(res.Players); winner != models.NoWinner {
		return sm.end(winner, winReason(winner))
	}
	if sm.interrupted(ctx) {
		return sm.end(models.WinnerDraw, "游戏被中止")
	}
	return sm.transition(models.PhaseDay)
}

func (sm *StateMachine) runDay(ctx context.Context) (models.Phase, error) {
	sm.mu.RLock()
	in := DayInput{Day: sm.state.Day, Players: append([]models.Player(nil), sm.state.Players...), Snapshot: sm.snapshot}
	sm.mu.RUnlock()

	res, err := sm.day.Run(ctx, in, sm.provider, sm.rng, sm.emit)
	if err != nil {
		if sm.interrupted(ctx) {
			return sm.end(models.WinnerDraw, "游戏被中止")
		}
		return models.PhaseDay, err
	}

	sm.mu.Lock()
	sm.state.Players = res.Players
	sm.state.Nominations = res.Nominations
	if res.Execution != nil {
		e := *res.Execution
		sm.state.LastExecution = &e
	}
	sm.touch()
	sm.mu.Unlock()

	if res.SaintExecuted {
		return sm.end(models.WinnerEvil, "圣徒被处决")
	}
	if winner := sm.win.Evaluate(res.Players); winner != models.NoWinner {
		return sm.end(winner, winReason(winner))
	}
	if sm.win.mayorWins(res.Players, res.Execution != nil) {
		return sm.end(models.WinnerGood, "仅剩三人且无人被处决，镇长带领善良阵营胜利")
	}
	if in.Day >= sm.opts.MaxDays {
		return sm.end(models.WinnerDraw, fmt.Sprintf("超过 %d 天仍未分出胜负", sm.opts.MaxDays))
	}
	if sm.interrupted(ctx) {
		return sm.end(models.WinnerDraw, "游戏被中止")
	}
	return sm.transition(models.PhaseNight)
}

// transition 转换阶段，非法转换返回 ErrInvariantViolation
func (sm *StateMachine) transition(to models.Phase) (models.Phase, error) {
	sm.mu.Lock()
	from := sm.state.Phase
	if !canTransition(from, to) {
		sm.mu.Unlock()
		return from, fmt.Errorf("%w: 不允许从 %s 转换到 %s", ErrInvariantViolation, from, to)
	}
	switch {
	case from == models.PhaseSetup && to == models.PhaseNight:
		sm.state.Day = 1
	case from == models.PhaseDay && to == models.PhaseNight:
		sm.state.Day++
	}
	if to == models.PhaseNight {
		sm.state.Nominations = make([]models.Nomination, 0)
	}
	sm.state.Phase = to
	sm.touch()
	sm.mu.Unlock()

	sm.emit(models.EventPhaseChanged, "", PhaseChangedPayload{From: from, To: to})
	return to, nil
}

// end 以指定胜利方结束游戏
func (sm *StateMachine) end(winner models.Winner, reason string) (models.Phase, error) {
	sm.mu.Lock()
	sm.state.Winner = winner
	sm.mu.Unlock()

	phase, err := sm.transition(models.PhaseEnded)
	if err != nil {
		return phase, err
	}

	sm.mu.RLock()
	players := append([]models.Player(nil), sm.state.Players...)
	sm.mu.RUnlock()
	sm.emit(models.EventGameEnded, "", GameEndedPayload{Winner: winner, Reason: reason, Players: players})
	log.Info().Str("game", sm.opts.GameID).Str("winner", string(winner)).Msg("[游戏结束] " + reason)
	return phase, nil
}

// emit 发布事件，调用时不得持有锁
func (sm *StateMachine) emit(eventType models.EventType, playerID string, payload any) {
	sm.mu.RLock()
	e := models.Event{
		GameID:    sm.state.ID,
		RoomID:    sm.state.RoomID,
		Type:      eventType,
		Phase:     sm.state.Phase,
		Day:       sm.state.Day,
		PlayerID:  playerID,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
	sm.mu.RUnlock()
	e.Seq = int(sm.seq.Add(1))
	publishSafely(sm.opts.Sink, e)
}

func (sm *StateMachine) requirePhase(phase models.Phase) error {
	if current := sm.Phase(); current != phase {
		return fmt.Errorf("%w: 当前阶段为 %s，需要 %s", ErrInvariantViolation, current, phase)
	}
	return nil
}

func (sm *StateMachine) interrupted(ctx context.Context) bool {
	return sm.aborted.Load() || ctx.Err() != nil
}

// touch 调用方必须持有写锁
func (sm *StateMachine) touch() {
	sm.state.UpdatedAt = time.Now().UnixMilli()
}

func canTransition(from, to models.Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

func winReason(w models.Winner) string {
	switch w {
	case models.WinnerGood:
		return "恶魔已经死亡，善良阵营胜利"
	case models.WinnerEvil:
		return "邪恶阵营人数不少于善良阵营，邪恶阵营胜利"
	default:
		return "平局"
	}
}
