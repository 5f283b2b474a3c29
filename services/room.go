package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/qianlnk/clocktower/models"
)

var (
	ErrRoomNotFound   = errors.New("房间不存在")
	ErrRoomFull       = errors.New("房间已满")
	ErrPlayerNotFound = errors.New("玩家不存在")
)

// RoomManager 房间管理器
type RoomManager struct {
	rooms        map[string]*models.Room
	games        map[string]*GameController // roomID -> 当前游戏
	gameManager  *GameManager
	webSocketMgr *WebSocketManager
	store        GameStore
	settings     GameSettings
	mutex        sync.RWMutex
}

// NewRoomManager 创建房间管理器实例
func NewRoomManager(webSocketMgr *WebSocketManager, gameManager *GameManager, store GameStore, settings GameSettings) *RoomManager {
	if settings.MinPlayers < MinPoolPlayers {
		settings.MinPlayers = MinPoolPlayers
	}
	if settings.MaxPlayers <= 0 || settings.MaxPlayers > MaxPoolPlayers {
		settings.MaxPlayers = MaxPoolPlayers
	}
	return &RoomManager{
		rooms:        make(map[string]*models.Room),
		games:        make(map[string]*GameController),
		gameManager:  gameManager,
		webSocketMgr: webSocketMgr,
		store:        store,
		settings:     settings,
	}
}

// CreateRoom 创建新房间
func (rm *RoomManager) CreateRoom(name string, maxPlayers int) models.Room {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	if maxPlayers <= 0 || maxPlayers > rm.settings.MaxPlayers {
		maxPlayers = rm.settings.MaxPlayers
	}
	room := &models.Room{
		ID:         uuid.NewString(),
		Name:       name,
		MaxPlayers: maxPlayers,
		MinPlayers: rm.settings.MinPlayers,
		Players:    make([]models.Player, 0),
		CreatedAt:  time.Now().Unix(),
	}
	rm.rooms[room.ID] = room
	return copyRoom(room)
}

// GetRoom 获取房间信息
func (rm *RoomManager) GetRoom(roomID string) (models.Room, error) {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	room, exists := rm.rooms[roomID]
	if !exists {
		return models.Room{}, ErrRoomNotFound
	}
	return copyRoom(room), nil
}

// ListRooms 获取所有房间列表，按创建时间排序
func (rm *RoomManager) ListRooms() []models.Room {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	rooms := make([]models.Room, 0, len(rm.rooms))
	for _, room := range rm.rooms {
		rooms = append(rooms, copyRoom(room))
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt != rooms[j].CreatedAt {
			return rooms[i].CreatedAt < rooms[j].CreatedAt
		}
		return rooms[i].ID < rooms[j].ID
	})
	return rooms
}

// JoinRoom 加入房间，返回带有ID与座位的玩家信息
func (rm *RoomManager) JoinRoom(roomID string, player models.Player) (models.Player, error) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	room, exists := rm.rooms[roomID]
	if !exists {
		return models.Player{}, ErrRoomNotFound
	}

	// 玩家已在房间中，更新玩家信息
	for i := range room.Players {
		if player.ID != "" && room.Players[i].ID == player.ID {
			if player.Name != "" {
				room.Players[i].Name = player.Name
			}
			return room.Players[i], nil
		}
	}

	if room.GameStarted {
		return models.Player{}, ErrGameInProgress
	}
	if len(room.Players) >= room.MaxPlayers {
		return models.Player{}, ErrRoomFull
	}

	if player.ID == "" {
		player.ID = uuid.NewString()
	}
	if player.Type == "" {
		player.Type = models.HumanPlayer
	}
	player.Seat = len(room.Players)
	player.Alive = true
	room.Players = append(room.Players, player)

	if rm.webSocketMgr != nil {
		rm.webSocketMgr.JoinRoom(roomID, player.ID)
	}
	return player, nil
}

// StartGame 为房间开始一局新游戏
func (rm *RoomManager) StartGame(ctx context.Context, roomID string) (*GameController, error) {
	rm.mutex.Lock()
	room, exists := rm.rooms[roomID]
	if !exists {
		rm.mutex.Unlock()
		return nil, ErrRoomNotFound
	}
	if room.GameStarted {
		rm.mutex.Unlock()
		return nil, ErrGameInProgress
	}
	room.GameStarted = true
	snapshot := copyRoom(room)
	rm.mutex.Unlock()

	gc := NewGameController(snapshot, rm.settings, rm.webSocketMgr, rm.store)
	if err := gc.Start(ctx); err != nil {
		rm.mutex.Lock()
		room.GameStarted = false
		rm.mutex.Unlock()
		return nil, err
	}

	rm.mutex.Lock()
	room.GameID = gc.ID()
	room.Players = gc.Snapshot().Players
	for i := range room.Players {
		room.Players[i].Role = ""
		room.Players[i].Alignment = ""
	}
	rm.games[roomID] = gc
	rm.mutex.Unlock()

	if rm.gameManager != nil {
		rm.gameManager.Register(gc)
	}
	go rm.releaseWhenDone(roomID, gc)

	log.Info().Str("room", roomID).Str("game", gc.ID()).Msg("[房间] 游戏开始")
	return gc, nil
}

// releaseWhenDone 游戏结束后房间可以开始新的一局
func (rm *RoomManager) releaseWhenDone(roomID string, gc *GameController) {
	<-gc.Done()
	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	if room, ok := rm.rooms[roomID]; ok && room.GameID == gc.ID() {
		room.GameStarted = false
	}
}

// GetGameController 获取房间当前的游戏控制器
func (rm *RoomManager) GetGameController(roomID string) (*GameController, bool) {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	game, exists := rm.games[roomID]
	return game, exists
}

// GetPlayer 获取房间中的玩家信息
func (rm *RoomManager) GetPlayer(roomID string, playerID string) (models.Player, error) {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	room, exists := rm.rooms[roomID]
	if !exists {
		return models.Player{}, ErrRoomNotFound
	}
	for _, player := range room.Players {
		if player.ID == playerID {
			return player, nil
		}
	}
	return models.Player{}, ErrPlayerNotFound
}

// HasPlayer 玩家是否在房间中
func (rm *RoomManager) HasPlayer(roomID, playerID string) bool {
	_, err := rm.GetPlayer(roomID, playerID)
	return err == nil
}

func copyRoom(r *models.Room) models.Room {
	c := *r
	c.Players = append([]models.Player(nil), r.Players...)
	return c
}
