package services

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/qianlnk/clocktower/models"
)

var (
	ErrGameNotFound   = errors.New("游戏不存在")
	ErrGameNotStarted = errors.New("游戏尚未开始")
	ErrGameInProgress = errors.New("游戏正在进行中")
	ErrGameEnded      = errors.New("游戏已经结束")
	ErrInvalidAction  = errors.New("无效的游戏动作")
)

// GameStore 游戏与事件记录的持久化
type GameStore interface {
	SaveGame(ctx context.Context, state models.GameState) error
	AppendEvent(ctx context.Context, event models.Event) error
	History(ctx context.Context, gameID string) ([]models.Event, error)
}

// GameSummary 游戏列表中的一项
type GameSummary struct {
	GameID string        `json:"game_id"`
	RoomID string        `json:"room_id"`
	Phase  models.Phase  `json:"phase"`
	Day    int           `json:"day"`
	Winner models.Winner `json:"winner,omitempty"`
}

// GameManager 游戏管理器，按游戏ID登记所有控制器
type GameManager struct {
	games map[string]*GameController
	mutex sync.RWMutex
}

// NewGameManager 创建游戏管理器实例
func NewGameManager() *GameManager {
	return &GameManager{
		games: make(map[string]*GameController),
	}
}

// Register 登记游戏控制器
func (gm *GameManager) Register(gc *GameController) {
	gm.mutex.Lock()
	defer gm.mutex.Unlock()
	gm.games[gc.ID()] = gc
}

// Get 获取游戏控制器
func (gm *GameManager) Get(gameID string) (*GameController, error) {
	gm.mutex.RLock()
	defer gm.mutex.RUnlock()
	gc, ok := gm.games[gameID]
	if !ok {
		return nil, ErrGameNotFound
	}
	return gc, nil
}

// GetGameStatus 玩家视角的游戏状态
func (gm *GameManager) GetGameStatus(gameID, playerID string) (models.GameStatus, error) {
	gc, err := gm.Get(gameID)
	if err != nil {
		return models.GameStatus{}, err
	}
	return gc.Status(playerID), nil
}

// ProcessAction 提交玩家决策
func (gm *GameManager) ProcessAction(gameID string, action models.GameAction) error {
	gc, err := gm.Get(gameID)
	if err != nil {
		return err
	}
	return gc.Submit(action)
}

// List 所有游戏的摘要，按游戏ID排序
func (gm *GameManager) List() []GameSummary {
	gm.mutex.RLock()
	games := make([]*GameController, 0, len(gm.games))
	for _, gc := range gm.games {
		games = append(games, gc)
	}
	gm.mutex.RUnlock()

	summaries := make([]GameSummary, 0, len(games))
	for _, gc := range games {
		s := gc.Snapshot()
		summaries = append(summaries, GameSummary{GameID: s.ID, RoomID: s.RoomID, Phase: s.Phase, Day: s.Day, Winner: s.Winner})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].GameID < summaries[j].GameID })
	return summaries
}

// Shutdown 中止所有进行中的游戏并等待结束
func (gm *GameManager) Shutdown(ctx context.Context) {
	gm.mutex.RLock()
	games := make([]*GameController, 0, len(gm.games))
	for _, gc := range gm.games {
		games = append(games, gc)
	}
	gm.mutex.RUnlock()

	for _, gc := range games {
		gc.Abort()
	}
	for _, gc := range games {
		_ = gc.Wait(ctx)
	}
}
