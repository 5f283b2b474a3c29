package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qianlnk/clocktower/models"
)

// received 客户端收到的消息
type received struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id"`
	Content json.RawMessage `json:"content"`
}

type wsHarness struct {
	wm     *WebSocketManager
	rm     *RoomManager
	server *httptest.Server
}

func newWSHarness(t *testing.T, settings GameSettings) *wsHarness {
	t.Helper()
	wm := NewWebSocketManager()
	gm := NewGameManager()
	rm := NewRoomManager(wm, gm, nil, settings)
	wm.SetRoomManager(rm)

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		player := r.URL.Query().Get("player")
		wm.RegisterConnection(player, conn, "conn-"+player)
		wm.JoinRoom(r.URL.Query().Get("room"), player)
	}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		gm.Shutdown(ctx)
		server.Close()
	})
	return &wsHarness{wm: wm, rm: rm, server: server}
}

func (h *wsHarness) dial(t *testing.T, roomID, playerID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "?room=" + roomID + "&player=" + playerID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool {
		h.wm.mutex.RLock()
		_, ok := h.wm.clients[playerID]
		h.wm.mutex.RUnlock()
		return ok && h.wm.isPlayerInRoom(roomID, playerID)
	}, time.Second, 5*time.Millisecond)
	return conn
}

// next 读取下一条类型满足 keep 的消息，其余消息被跳过
func next(t *testing.T, conn *websocket.Conn, keep func(received) bool) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg received
		require.NoError(t, conn.ReadJSON(&msg))
		if keep(msg) {
			return msg
		}
	}
}

func notRoomUpdate(msg received) bool { return msg.Type != "room_update" }

func ofType(kind string) func(received) bool {
	return func(msg received) bool { return msg.Type == kind }
}

func send(t *testing.T, conn *websocket.Conn, msgType, roomID string, content any) {
	t.Helper()
	raw, err := json.Marshal(content)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Message{Type: msgType, RoomID: roomID, Content: raw}))
}

func TestWebSocketPrivateEventsReachOnlyOwner(t *testing.T) {
	h := newWSHarness(t, testSettings())
	room := h.rm.CreateRoom("测试房间", 0)
	alice, err := h.rm.JoinRoom(room.ID, models.Player{ID: "alice", Name: "alice"})
	require.NoError(t, err)
	bob, err := h.rm.JoinRoom(room.ID, models.Player{ID: "bob", Name: "bob"})
	require.NoError(t, err)

	aliceConn := h.dial(t, room.ID, alice.ID)
	bobConn := h.dial(t, room.ID, bob.ID)

	h.wm.Publish(models.Event{RoomID: room.ID, Seq: 1, Type: models.EventRoleAssigned, PlayerID: alice.ID, Payload: models.Imp})
	h.wm.Publish(models.Event{RoomID: room.ID, Seq: 2, Type: models.EventPhaseChanged, Phase: models.PhaseNight})

	decodeEvent := func(msg received) models.Event {
		var e models.Event
		require.NoError(t, json.Unmarshal(msg.Content, &e))
		return e
	}

	first := next(t, aliceConn, notRoomUpdate)
	assert.Equal(t, "event", first.Type)
	assert.Equal(t, models.EventRoleAssigned, decodeEvent(first).Type)
	second := next(t, aliceConn, notRoomUpdate)
	assert.Equal(t, models.EventPhaseChanged, decodeEvent(second).Type)

	// 同一连接上消息按发送顺序到达，bob 的第一条事件就是公开事件
	bobFirst := next(t, bobConn, notRoomUpdate)
	assert.Equal(t, "event", bobFirst.Type)
	assert.Equal(t, models.EventPhaseChanged, decodeEvent(bobFirst).Type)
	assert.Equal(t, room.ID, bobFirst.RoomID)

	// 未连接的玩家收到私密事件不影响其他人
	h.wm.Publish(models.Event{RoomID: room.ID, Seq: 3, Type: models.EventInfoRevealed, PlayerID: "offline"})
	h.wm.Publish(models.Event{RoomID: room.ID, Seq: 4, Type: models.EventDeathsAnnounced, Payload: []string{}})
	assert.Equal(t, 4, decodeEvent(next(t, bobConn, notRoomUpdate)).Seq)
}

func TestWebSocketChatBroadcast(t *testing.T) {
	h := newWSHarness(t, testSettings())
	room := h.rm.CreateRoom("测试房间", 0)
	_, err := h.rm.JoinRoom(room.ID, models.Player{ID: "alice", Name: "alice"})
	require.NoError(t, err)
	_, err = h.rm.JoinRoom(room.ID, models.Player{ID: "bob", Name: "bob"})
	require.NoError(t, err)
	aliceConn := h.dial(t, room.ID, "alice")
	bobConn := h.dial(t, room.ID, "bob")

	send(t, aliceConn, "chat", room.ID, map[string]string{"message": "我是厨师"})
	msg := next(t, bobConn, ofType("chat"))
	assert.JSONEq(t, `{"player_id":"alice","message":"我是厨师"}`, string(msg.Content))

	send(t, aliceConn, "chat", "other-room", map[string]string{"message": "hi"})
	errMsg := next(t, aliceConn, ofType("error"))
	assert.Contains(t, string(errMsg.Content), "玩家不在房间中")
}

func TestWebSocketGameActionReachesController(t *testing.T) {
	settings := testSettings()
	settings.Rules.DecisionTimeout = time.Minute
	h := newWSHarness(t, settings)
	room := h.rm.CreateRoom("测试房间", 0)
	_, err := h.rm.JoinRoom(room.ID, models.Player{ID: "alice", Name: "alice"})
	require.NoError(t, err)
	conn := h.dial(t, room.ID, "alice")

	send(t, conn, "game_action", "", models.GameAction{Type: models.ActionStartGame})
	assert.Contains(t, string(next(t, conn, ofType("error")).Content), "缺少房间ID")

	send(t, conn, "game_action", room.ID, models.GameAction{Type: models.ActionVote})
	assert.Contains(t, string(next(t, conn, ofType("error")).Content), ErrGameNotStarted.Error())

	send(t, conn, "game_action", room.ID, models.GameAction{Type: models.ActionStartGame})
	var gc *GameController
	require.Eventually(t, func() bool {
		var ok bool
		gc, ok = h.rm.GetGameController(room.ID)
		return ok
	}, time.Second, 5*time.Millisecond)

	msg := next(t, conn, ofType("decision_request"))
	var req DecisionRequest
	require.NoError(t, json.Unmarshal(msg.Content, &req))
	assert.Equal(t, "alice", req.PlayerID)
	pending, ok := gc.Pending("alice")
	require.True(t, ok)
	assert.Equal(t, req.ID, pending.ID)

	answer := models.GameAction{Type: req.Kind, Pass: true}
	if req.Kind == models.ActionNight {
		answer = models.GameAction{Type: req.Kind, Targets: req.Eligible[:req.Arity]}
	}
	send(t, conn, "game_action", room.ID, answer)

	require.Eventually(t, func() bool {
		current, ok := gc.Pending("alice")
		return !ok || current.ID != req.ID
	}, 5*time.Second, 10*time.Millisecond)
}
