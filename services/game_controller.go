package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/qianlnk/clocktower/models"
)

// GameSettings 房间开局使用的规则参数
type GameSettings struct {
	MinPlayers int
	MaxPlayers int
	Rules      Options // GameID、RoomID、Sink 由控制器填写
}

// GameController 一个房间内一局游戏的流程控制器
type GameController struct {
	id       string
	room     models.Room
	settings GameSettings

	machine  *StateMachine
	router   *ProviderRouter
	human    *HumanPlayer
	ai       *AIPlayer
	narrator *Narrator
	memory   *MemorySink
	store    GameStore

	cancel context.CancelFunc
	done   chan struct{}
	err    error
	mutex  sync.RWMutex
}

// NewGameController 创建游戏控制器实例，ws 与 store 可以为空
func NewGameController(room models.Room, settings GameSettings, ws *WebSocketManager, store GameStore) *GameController {
	return newGameController(uuid.NewString(), room, settings, ws, store)
}

func newGameController(id string, room models.Room, settings GameSettings, ws *WebSocketManager, store GameStore) *GameController {
	gc := &GameController{
		id:       id,
		room:     room,
		settings: settings,
		memory:   NewMemorySink(),
		store:    store,
		done:     make(chan struct{}),
	}

	// 配置的种子与游戏ID混合，同一服务器上的每局发牌和AI行为各不相同
	gameSeed := DeriveSeed(settings.Rules.Seed, gc.id)
	aiSeed := DeriveSeed(settings.Rules.Seed, gc.id+"/ai")
	gc.ai = NewAIPlayer(aiSeed)
	gc.narrator = NewNarrator(room.Players, aiSeed)

	var notify func(DecisionRequest)
	sinks := MultiSink{gc.memory, NewLogSink(gc.narrator)}
	if ws != nil {
		notify = ws.RequestDecision
		sinks = append(sinks, ws)
	}
	if store != nil {
		sinks = append(sinks, SinkFunc(gc.persist))
	}
	gc.human = NewHumanPlayer(notify)

	opts := settings.Rules
	opts.GameID = gc.id
	opts.Seed = gameSeed
	opts.RoomID = room.ID
	opts.Sink = sinks
	gc.router = NewProviderRouter(gc.ai)
	gc.machine = NewStateMachine(gc.router, opts)
	gc.ai.Observe(gc.machine.Snapshot)

	return gc
}

// ID 游戏ID
func (gc *GameController) ID() string {
	return gc.id
}

// Start 补足AI玩家、分配角色并在后台推进游戏
func (gc *GameController) Start(ctx context.Context) error {
	gc.mutex.Lock()
	defer gc.mutex.Unlock()

	if gc.room.ID == "" {
		return errors.New("无效的房间ID")
	}
	if gc.cancel != nil {
		return ErrGameInProgress
	}

	players := gc.fillWithAI(gc.room.Players)
	gc.room.Players = players
	gc.narrator.SetPlayers(players)

	gc.router.RoutePlayers(players, gc.human, gc.ai)

	pool, err := GenerateRolePool(len(players), gc.machine.opts.Catalog, gc.machine.rng)
	if err != nil {
		return err
	}
	if err := gc.machine.Setup(players, pool); err != nil {
		return err
	}
	if gc.store != nil {
		if err := gc.store.SaveGame(ctx, gc.machine.Snapshot()); err != nil {
			log.Warn().Err(err).Str("game", gc.id).Msg("[游戏存储] 保存游戏失败")
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	gc.cancel = cancel
	go gc.run(runCtx)
	return nil
}

func (gc *GameController) run(ctx context.Context) {
	defer close(gc.done)
	winner, err := gc.machine.Run(ctx)

	gc.mutex.Lock()
	gc.err = err
	gc.mutex.Unlock()

	if err != nil {
		log.Error().Err(err).Str("game", gc.id).Str("room", gc.room.ID).Msg("[游戏流程] 游戏异常终止")
		return
	}
	log.Info().Str("game", gc.id).Str("room", gc.room.ID).Str("winner", string(winner)).Msg("[游戏流程] 游戏结束")
}

// fillWithAI 玩家不足最少人数时补充AI玩家，并按加入顺序编排座位
func (gc *GameController) fillWithAI(players []models.Player) []models.Player {
	need := gc.settings.MinPlayers
	if need < MinPoolPlayers {
		need = MinPoolPlayers
	}
	filled := make([]models.Player, 0, need)
	filled = append(filled, players...)
	for i := 1; len(filled) < need; i++ {
		personality := gc.ai.RandomPersonality()
		p := models.Player{
			ID:          generateAIPlayerID(),
			Name:        generateAIPlayerName(i),
			Type:        models.AIPlayer,
			Personality: personality,
			Alive:       true,
		}
		gc.ai.SetPersonality(p.ID, personality)
		filled = append(filled, p)
	}
	for i := range filled {
		filled[i].Seat = i
		filled[i].Alive = true
		if filled[i].Type == "" {
			filled[i].Type = models.HumanPlayer
		}
	}
	return filled
}

// generateAIPlayerID 生成AI玩家ID
func generateAIPlayerID() string {
	return "ai_" + uuid.NewString()
}

// generateAIPlayerName 生成AI玩家名称
func generateAIPlayerName(index int) string {
	return fmt.Sprintf("AI玩家%d", index)
}

// Submit 提交真人玩家的决策
func (gc *GameController) Submit(action models.GameAction) error {
	if gc.machine.Phase() == models.PhaseEnded {
		return ErrGameEnded
	}
	if action.Type == models.ActionStartGame {
		return ErrInvalidAction
	}
	if err := gc.human.Submit(action); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAction, err)
	}
	return nil
}

// Status 玩家视角的游戏状态
func (gc *GameController) Status(playerID string) models.GameStatus {
	status := PublicStatus(gc.machine.Snapshot())
	if req, ok := gc.human.Pending(playerID); ok {
		status.Pending = append(status.Pending, req.Kind)
	}
	return status
}

// Pending 玩家当前等待中的决策
func (gc *GameController) Pending(playerID string) (DecisionRequest, bool) {
	return gc.human.Pending(playerID)
}

// Reveals 玩家得到的私密信息
func (gc *GameController) Reveals(playerID string) []models.Reveal {
	return RevealsFor(gc.machine.Snapshot(), playerID)
}

// Role 玩家自己的角色
func (gc *GameController) Role(playerID string) (models.Role, bool) {
	for _, p := range gc.machine.Snapshot().Players {
		if p.ID == playerID {
			return p.Role, true
		}
	}
	return "", false
}

// History 玩家可见的事件记录；游戏结束后全部公开
func (gc *GameController) History(ctx context.Context, playerID string) ([]models.Event, error) {
	var events []models.Event
	if gc.store != nil {
		stored, err := gc.store.History(ctx, gc.id)
		if err != nil {
			return nil, err
		}
		events = stored
	} else {
		events = gc.memory.Events()
	}

	if gc.machine.Phase() == models.PhaseEnded {
		return events, nil
	}
	visible := make([]models.Event, 0, len(events))
	for _, e := range events {
		if !e.Private() || e.PlayerID == playerID {
			visible = append(visible, e)
		}
	}
	return visible, nil
}

// Snapshot 完整的游戏状态
func (gc *GameController) Snapshot() models.GameState {
	return gc.machine.Snapshot()
}

// Abort 中止游戏，在下一个阶段转换点以平局结束
func (gc *GameController) Abort() {
	gc.machine.Abort()
	gc.mutex.RLock()
	cancel := gc.cancel
	gc.mutex.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Done 游戏结束时关闭
func (gc *GameController) Done() <-chan struct{} {
	return gc.done
}

// Wait 等待游戏结束
func (gc *GameController) Wait(ctx context.Context) error {
	select {
	case <-gc.done:
		gc.mutex.RLock()
		defer gc.mutex.RUnlock()
		return gc.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// persist 写入事件记录，阶段变化时保存完整状态
func (gc *GameController) persist(e models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := gc.store.AppendEvent(ctx, e); err != nil {
		log.Warn().Err(err).Str("game", e.GameID).Int("seq", e.Seq).Msg("[游戏存储] 写入事件失败")
	}
	if e.Type == models.EventPhaseChanged || e.Type == models.EventGameEnded {
		if err := gc.store.SaveGame(ctx, gc.machine.Snapshot()); err != nil {
			log.Warn().Err(err).Str("game", e.GameID).Msg("[游戏存储] 保存游戏失败")
		}
	}
}
