package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/qianlnk/clocktower/models"
)

var (
	ErrPlayerNotConnected = errors.New("玩家未连接")
)

// 连接参数
const (
	writeTimeout       = 5 * time.Second
	pingInterval       = 15 * time.Second
	maxPingFailures    = 3
	maxMessageSize     = 512 * 1024
	playerCleanupDelay = 30 * time.Second
	inboundRate        = 10 // 每秒允许的消息数
	inboundBurst       = 20
)

// Message WebSocket消息结构
type Message struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// outbound 发送给客户端的消息
type outbound struct {
	Type    string `json:"type"`
	RoomID  string `json:"room_id,omitempty"`
	Content any    `json:"content,omitempty"`
}

// client 一个玩家的连接，写操作需要串行
type client struct {
	conn    *websocket.Conn
	id      string
	limiter *rate.Limiter
	writeMu sync.Mutex
}

func (c *client) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	defer c.conn.SetWriteDeadline(time.Time{})
	return c.conn.WriteJSON(v)
}

func (c *client) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second))
}

// WebSocketManager WebSocket连接管理器，同时作为游戏事件的接收方
type WebSocketManager struct {
	clients     map[string]*client  // playerID -> connection
	rooms       map[string][]string // roomID -> []playerID
	mutex       sync.RWMutex
	roomManager *RoomManager
}

// NewWebSocketManager 创建WebSocket管理器实例
func NewWebSocketManager() *WebSocketManager {
	return &WebSocketManager{
		clients: make(map[string]*client),
		rooms:   make(map[string][]string),
	}
}

// SetRoomManager 设置房间管理器实例
func (wm *WebSocketManager) SetRoomManager(rm *RoomManager) {
	wm.mutex.Lock()
	defer wm.mutex.Unlock()
	wm.roomManager = rm
}

// RegisterConnection 注册新的WebSocket连接，同一玩家的旧连接会被关闭
func (wm *WebSocketManager) RegisterConnection(playerID string, conn *websocket.Conn, connectionID string) {
	c := &client{
		conn:    conn,
		id:      connectionID,
		limiter: rate.NewLimiter(rate.Limit(inboundRate), inboundBurst),
	}

	wm.mutex.Lock()
	if old, exists := wm.clients[playerID]; exists {
		old.conn.Close()
	}
	wm.clients[playerID] = c
	wm.mutex.Unlock()

	log.Info().Str("player", playerID).Str("connection", connectionID).Msg("[WebSocket] 玩家已连接")
	go wm.handleMessages(playerID, c)
	go wm.startPingHandler(playerID, c)
}

// JoinRoom 将玩家加入房间的WebSocket广播组
func (wm *WebSocketManager) JoinRoom(roomID, playerID string) {
	wm.mutex.Lock()
	for _, pid := range wm.rooms[roomID] {
		if pid == playerID {
			wm.mutex.Unlock()
			return
		}
	}
	wm.rooms[roomID] = append(wm.rooms[roomID], playerID)
	rm := wm.roomManager
	wm.mutex.Unlock()

	if rm == nil {
		return
	}
	go func() {
		room, err := rm.GetRoom(roomID)
		if err == nil {
			wm.BroadcastToRoom(roomID, outbound{Type: "room_update", RoomID: roomID, Content: room.Players})
		}
	}()
}

// Publish 实现 StateSink：私密事件只发给本人，其余广播到房间
func (wm *WebSocketManager) Publish(event models.Event) {
	msg := outbound{Type: "event", RoomID: event.RoomID, Content: event}
	if event.Private() {
		if err := wm.SendToPlayer(event.PlayerID, msg); err != nil && !errors.Is(err, ErrPlayerNotConnected) {
			log.Warn().Err(err).Str("player", event.PlayerID).Str("type", string(event.Type)).Msg("[WebSocket] 私密事件发送失败")
		}
		return
	}
	wm.BroadcastToRoom(event.RoomID, msg)
}

// RequestDecision 通知真人玩家有等待中的决策
func (wm *WebSocketManager) RequestDecision(req DecisionRequest) {
	if err := wm.SendToPlayer(req.PlayerID, outbound{Type: "decision_request", Content: req}); err != nil {
		log.Debug().Err(err).Str("player", req.PlayerID).Str("kind", req.Kind).Msg("[WebSocket] 决策请求未送达，玩家可通过HTTP查询")
	}
}

// BroadcastToRoom 向房间内所有玩家广播消息
func (wm *WebSocketManager) BroadcastToRoom(roomID string, message any) {
	wm.mutex.RLock()
	playerIDs, exists := wm.rooms[roomID]
	if !exists {
		wm.mutex.RUnlock()
		log.Debug().Str("room", roomID).Msg("[WebSocket广播] 房间没有连接")
		return
	}
	targets := make(map[string]*client, len(playerIDs))
	for _, playerID := range playerIDs {
		if c, ok := wm.clients[playerID]; ok {
			targets[playerID] = c
		}
	}
	wm.mutex.RUnlock()

	for playerID, c := range targets {
		if err := c.write(message); err != nil {
			log.Warn().Err(err).Str("room", roomID).Str("player", playerID).Msg("[WebSocket广播] 发送消息失败")
			go wm.RemoveConnection(playerID)
		}
	}
	log.Debug().Str("room", roomID).Int("connections", len(targets)).Msg("[WebSocket广播] 消息广播完成")
}

// SendToPlayer 向指定玩家发送消息
func (wm *WebSocketManager) SendToPlayer(playerID string, message any) error {
	wm.mutex.RLock()
	c, exists := wm.clients[playerID]
	wm.mutex.RUnlock()
	if !exists {
		return ErrPlayerNotConnected
	}
	if err := c.write(message); err != nil {
		go wm.RemoveConnection(playerID)
		return err
	}
	return nil
}

// startPingHandler 启动心跳检测
func (wm *WebSocketManager) startPingHandler(playerID string, c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	failures := 0
	for range ticker.C {
		if !wm.isCurrent(playerID, c) {
			return
		}
		if err := c.ping(); err != nil {
			failures++
			log.Warn().Err(err).Str("player", playerID).Int("failures", failures).Msg("[WebSocket] 心跳检测失败")
			if failures >= maxPingFailures {
				wm.RemoveConnection(playerID)
				return
			}
			continue
		}
		failures = 0
	}
}

func (wm *WebSocketManager) isCurrent(playerID string, c *client) bool {
	wm.mutex.RLock()
	defer wm.mutex.RUnlock()
	return wm.clients[playerID] == c
}

// RemoveConnection 移除WebSocket连接，玩家在重连窗口期内未重连才离开广播组
func (wm *WebSocketManager) RemoveConnection(playerID string) {
	wm.mutex.Lock()
	c, exists := wm.clients[playerID]
	if !exists {
		wm.mutex.Unlock()
		return
	}
	delete(wm.clients, playerID)
	wm.mutex.Unlock()

	c.writeMu.Lock()
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "连接关闭")
	_ = c.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(100*time.Millisecond))
	c.writeMu.Unlock()
	c.conn.Close()

	time.AfterFunc(playerCleanupDelay, func() { wm.cleanupPlayer(playerID) })
	log.Info().Str("player", playerID).Msg("[WebSocket] 已清理连接，等待重连窗口期")
}

func (wm *WebSocketManager) cleanupPlayer(playerID string) {
	wm.mutex.Lock()
	defer wm.mutex.Unlock()

	if _, reconnected := wm.clients[playerID]; reconnected {
		return
	}
	for roomID, players := range wm.rooms {
		kept := players[:0]
		for _, pid := range players {
			if pid != playerID {
				kept = append(kept, pid)
			}
		}
		if len(kept) == 0 {
			delete(wm.rooms, roomID)
		} else {
			wm.rooms[roomID] = kept
		}
	}
	log.Info().Str("player", playerID).Msg("[WebSocket] 玩家未在重连窗口期内重连，已离开广播组")
}

// isPlayerInRoom 检查玩家是否在指定房间中
func (wm *WebSocketManager) isPlayerInRoom(roomID, playerID string) bool {
	wm.mutex.RLock()
	defer wm.mutex.RUnlock()
	for _, pid := range wm.rooms[roomID] {
		if pid == playerID {
			return true
		}
	}
	return false
}

// handleMessages 处理接收到的WebSocket消息
func (wm *WebSocketManager) handleMessages(playerID string, c *client) {
	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, p, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Info().Str("player", playerID).Msg("[WebSocket] 连接正常关闭")
			} else {
				log.Warn().Err(err).Str("player", playerID).Msg("[WebSocket] 读取消息失败")
			}
			if wm.isCurrent(playerID, c) {
				wm.RemoveConnection(playerID)
			}
			return
		}

		if !c.limiter.Allow() {
			wm.sendError(playerID, "消息过于频繁，请稍后再试")
			continue
		}

		var msg Message
		if err := json.Unmarshal(p, &msg); err != nil {
			wm.sendError(playerID, "无法解析消息")
			continue
		}
		if err := wm.dispatch(playerID, msg); err != nil {
			wm.sendError(playerID, err.Error())
		}
	}
}

// dispatch 按消息类型处理
func (wm *WebSocketManager) dispatch(playerID string, msg Message) error {
	wm.mutex.RLock()
	rm := wm.roomManager
	wm.mutex.RUnlock()

	switch msg.Type {
	case "game_action":
		if msg.RoomID == "" {
			return errors.New("缺少房间ID")
		}
		if rm == nil || !rm.HasPlayer(msg.RoomID, playerID) {
			return errors.New("玩家不在房间中")
		}

		var action models.GameAction
		if err := json.Unmarshal(msg.Content, &action); err != nil || action.Type == "" {
			return ErrInvalidAction
		}
		action.PlayerID = playerID
		action.RoomID = msg.RoomID

		if action.Type == models.ActionStartGame {
			_, err := rm.StartGame(context.Background(), msg.RoomID)
			return err
		}
		game, exists := rm.GetGameController(msg.RoomID)
		if !exists {
			return ErrGameNotStarted
		}
		return game.Submit(action)

	case "chat":
		if !wm.isPlayerInRoom(msg.RoomID, playerID) {
			return errors.New("玩家不在房间中")
		}
		var chat struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(msg.Content, &chat); err != nil {
			return errors.New("无法解析聊天消息")
		}
		wm.BroadcastToRoom(msg.RoomID, outbound{
			Type:    "chat",
			RoomID:  msg.RoomID,
			Content: map[string]string{"player_id": playerID, "message": chat.Message},
		})
		return nil

	default:
		log.Debug().Str("player", playerID).Str("type", msg.Type).Msg("[WebSocket] 未知的消息类型")
		return nil
	}
}

func (wm *WebSocketManager) sendError(playerID, message string) {
	_ = wm.SendToPlayer(playerID, outbound{Type: "error", Content: message})
}
