package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/qianlnk/clocktower/config"
	"github.com/qianlnk/clocktower/logger"
	"github.com/qianlnk/clocktower/models"
	"github.com/qianlnk/clocktower/services"
	"github.com/qianlnk/clocktower/storage/sqlite"
)

// server HTTP 处理函数依赖的管理器
type server struct {
	roomManager  *services.RoomManager
	gameManager  *services.GameManager
	webSocketMgr *services.WebSocketManager
	store        *sqlite.Store
	upgrader     websocket.Upgrader
}

func newServer(cfg config.Config, store *sqlite.Store) *server {
	settings := services.GameSettings{
		MinPlayers: cfg.Game.MinPlayers,
		MaxPlayers: cfg.Game.MaxPlayers,
		Rules: services.Options{
			MaxDays:          cfg.Game.MaxDays,
			NominationBudget: cfg.Game.NominationBudget,
			DecisionTimeout:  cfg.Game.DecisionTimeout,
			Seed:             cfg.Game.Seed,
		},
	}

	var gameStore services.GameStore
	if store != nil {
		gameStore = store
	}

	s := &server{
		gameManager:  services.NewGameManager(),
		webSocketMgr: services.NewWebSocketManager(),
		store:        store,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(cfg.Server.AllowedOrigins),
		},
	}
	s.roomManager = services.NewRoomManager(s.webSocketMgr, s.gameManager, gameStore, settings)
	s.webSocketMgr.SetRoomManager(s.roomManager)
	return s
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

func newRouter(s *server, allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Accept", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization"}
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = allowedOrigins
		corsCfg.AllowCredentials = true
	}
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws", s.serveWebSocket)

	api := r.Group("/api")
	{
		// 游戏房间相关
		api.POST("/rooms", s.createRoom)
		api.GET("/rooms", s.listRooms)
		api.GET("/rooms/:id", s.getRoomInfo)
		api.POST("/rooms/:id/join", s.joinRoom)
		api.POST("/rooms/:id/start", s.startGame)
		api.GET("/rooms/:id/players/:playerId", s.getPlayerInfo)

		// 游戏操作相关
		api.POST("/game/action", s.gameAction)
		api.GET("/game/status", s.getGameStatus)

		// 游戏记录相关
		api.GET("/games", s.listGames)
		api.GET("/games/:id/status", s.getGameStatusByID)
		api.POST("/games/:id/action", s.gameActionByID)
		api.GET("/games/:id/history", s.getHistory)
		api.GET("/games/:id/reveals", s.getReveals)
		api.GET("/games/:id/pending", s.getPending)
	}
	return r
}

func main() {
	flags := pflag.NewFlagSet("clocktower", pflag.ExitOnError)
	configPath := flags.String("config", "", "配置文件路径")
	flags.String("addr", ":8080", "监听地址")
	flags.Duration("decision-timeout", 30*time.Second, "单次决策的超时时间")
	flags.Int64("seed", 0, "随机种子，0 表示随机")
	flags.String("db", "", "SQLite 数据库路径，为空时不持久化")
	flags.String("log-level", "info", "日志级别")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		logger.Setup("info")
		log.Fatal().Err(err).Msg("[启动] 加载配置失败")
	}
	logger.Setup(cfg.Log.Level)
	gin.SetMode(gin.ReleaseMode)

	var store *sqlite.Store
	if cfg.Storage.Path != "" {
		store, err = sqlite.Open(cfg.Storage.Path)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Storage.Path).Msg("[启动] 打开数据库失败")
		}
		defer store.Close()
	}

	s := newServer(cfg, store)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newRouter(s, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Msg("[启动] 服务器启动")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.gameManager.Shutdown(shutdownCtx)
		return httpServer.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("[退出] 服务器异常退出")
	}
}

// statusFor 将业务错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrRoomNotFound),
		errors.Is(err, services.ErrPlayerNotFound),
		errors.Is(err, services.ErrGameNotFound),
		errors.Is(err, sqlite.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrRoomFull),
		errors.Is(err, services.ErrGameInProgress),
		errors.Is(err, services.ErrGameEnded):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidAction),
		errors.Is(err, services.ErrGameNotStarted),
		errors.Is(err, services.ErrSetup):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) serveWebSocket(c *gin.Context) {
	roomID := c.Query("room")
	playerID := c.Query("player")
	connectionID := c.Query("connection_id")
	if roomID == "" || playerID == "" || connectionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少必要的连接参数"})
		return
	}
	if !s.roomManager.HasPlayer(roomID, playerID) {
		c.JSON(http.StatusNotFound, gin.H{"error": services.ErrPlayerNotFound.Error()})
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("player", playerID).Msg("[WebSocket] 升级连接失败")
		return
	}
	s.webSocketMgr.RegisterConnection(playerID, ws, connectionID)
	s.webSocketMgr.JoinRoom(roomID, playerID)
}

func (s *server) createRoom(c *gin.Context) {
	var req struct {
		Name       string `json:"name" binding:"required"`
		MaxPlayers int    `json:"max_players"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room := s.roomManager.CreateRoom(req.Name, req.MaxPlayers)
	c.JSON(http.StatusOK, room)
}

func (s *server) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": s.roomManager.ListRooms()})
}

// getPlayerInfo 获取房间中的玩家信息
func (s *server) getPlayerInfo(c *gin.Context) {
	player, err := s.roomManager.GetPlayer(c.Param("id"), c.Param("playerId"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, player)
}

func (s *server) getRoomInfo(c *gin.Context) {
	room, err := s.roomManager.GetRoom(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, room)
}

func (s *server) joinRoom(c *gin.Context) {
	var req struct {
		ID   string `json:"id"`
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	player, err := s.roomManager.JoinRoom(c.Param("id"), models.Player{ID: req.ID, Name: req.Name, Type: models.HumanPlayer})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "加入房间成功", "player": player})
}

func (s *server) startGame(c *gin.Context) {
	game, err := s.roomManager.StartGame(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "游戏已开始", "game_id": game.ID()})
}

func (s *server) gameAction(c *gin.Context) {
	var action models.GameAction
	if err := c.ShouldBindJSON(&action); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	game, exists := s.roomManager.GetGameController(action.RoomID)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "游戏未找到"})
		return
	}
	if err := game.Submit(action); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "动作已提交"})
}

func (s *server) getGameStatus(c *gin.Context) {
	game, exists := s.roomManager.GetGameController(c.Query("room"))
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": services.ErrGameNotStarted.Error()})
		return
	}
	c.JSON(http.StatusOK, game.Status(c.Query("player")))
}

func (s *server) getGameStatusByID(c *gin.Context) {
	status, err := s.gameManager.GetGameStatus(c.Param("id"), c.Query("player"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *server) gameActionByID(c *gin.Context) {
	var action models.GameAction
	if err := c.ShouldBindJSON(&action); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.gameManager.ProcessAction(c.Param("id"), action); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "动作已提交"})
}

func (s *server) listGames(c *gin.Context) {
	if s.store != nil {
		records, err := s.store.ListGames(c.Request.Context(), 100)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"games": records})
		return
	}
	c.JSON(http.StatusOK, gin.H{"games": s.gameManager.List()})
}

func (s *server) getHistory(c *gin.Context) {
	game, err := s.gameManager.Get(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	events, err := game.History(c.Request.Context(), c.Query("player"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *server) getReveals(c *gin.Context) {
	game, err := s.gameManager.Get(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	playerID := c.Query("player")
	role, ok := game.Role(playerID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": services.ErrPlayerNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": role, "reveals": game.Reveals(playerID)})
}

func (s *server) getPending(c *gin.Context) {
	game, err := s.gameManager.Get(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	req, ok := game.Pending(c.Query("player"))
	if !ok {
		c.JSON(http.StatusOK, gin.H{"pending": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": req})
}
