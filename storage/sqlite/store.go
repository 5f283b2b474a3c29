// Package sqlite 基于 SQLite 的游戏与事件记录存储
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/qianlnk/clocktower/models"
	"github.com/qianlnk/clocktower/services"
	"github.com/qianlnk/clocktower/storage/sqlite/migrations"
)

var ErrNotFound = errors.New("记录不存在")

var _ services.GameStore = (*Store)(nil)
var _ services.StateSink = (*Store)(nil)

// Store 在 SQLite 中保存游戏状态与事件流
type Store struct {
	sqlDB *sql.DB
}

// GameRecord 游戏列表中的一行
type GameRecord struct {
	ID        string        `json:"id"`
	RoomID    string        `json:"room_id"`
	Phase     models.Phase  `json:"phase"`
	Day       int           `json:"day"`
	Winner    models.Winner `json:"winner,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open 打开数据库并执行内嵌迁移
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveGame 写入或更新游戏的完整状态
func (s *Store) SaveGame(ctx context.Context, state models.GameState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(state.ID) == "" {
		return fmt.Errorf("game id is required")
	}
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal game state: %w", err)
	}
	createdAt := state.CreatedAt
	if createdAt == 0 {
		createdAt = toMillis(time.Now())
	}
	updatedAt := state.UpdatedAt
	if updatedAt == 0 {
		updatedAt = createdAt
	}

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO games (id, room_id, phase, day, winner, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   phase = excluded.phase,
		   day = excluded.day,
		   winner = excluded.winner,
		   state = excluded.state,
		   updated_at = excluded.updated_at`,
		state.ID, state.RoomID, string(state.Phase), state.Day, string(state.Winner), string(blob), createdAt, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("save game %s: %w", state.ID, err)
	}
	return nil
}

// LoadGame 读取游戏的完整状态
func (s *Store) LoadGame(ctx context.Context, gameID string) (models.GameState, error) {
	var blob string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT state FROM games WHERE id = ?`, gameID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GameState{}, ErrNotFound
	}
	if err != nil {
		return models.GameState{}, fmt.Errorf("load game %s: %w", gameID, err)
	}
	var state models.GameState
	if err := json.Unmarshal([]byte(blob), &state); err != nil {
		return models.GameState{}, fmt.Errorf("decode game %s: %w", gameID, err)
	}
	return state, nil
}

// ListGames 按更新时间倒序列出游戏，limit <= 0 时不限制
func (s *Store) ListGames(ctx context.Context, limit int) ([]GameRecord, error) {
	query := `SELECT id, room_id, phase, day, winner, created_at, updated_at FROM games ORDER BY updated_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	records := make([]GameRecord, 0)
	for rows.Next() {
		var (
			r                    GameRecord
			phase, winner        string
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&r.ID, &r.RoomID, &phase, &r.Day, &winner, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		r.Phase = models.Phase(phase)
		r.Winner = models.Winner(winner)
		r.CreatedAt = fromMillis(createdAt)
		r.UpdatedAt = fromMillis(updatedAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

// AppendEvent 追加一条事件
func (s *Store) AppendEvent(ctx context.Context, e models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	ts := e.Timestamp
	if ts == 0 {
		ts = toMillis(time.Now())
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO game_events (game_id, seq, type, phase, day, player_id, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.GameID, e.Seq, string(e.Type), string(e.Phase), e.Day, e.PlayerID, string(payload), ts,
	)
	if err != nil {
		return fmt.Errorf("append event %s#%d: %w", e.GameID, e.Seq, err)
	}
	return nil
}

// History 按序号读取游戏的全部事件，Payload 为 json.RawMessage
func (s *Store) History(ctx context.Context, gameID string) ([]models.Event, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT seq, type, phase, day, player_id, payload, created_at
		 FROM game_events WHERE game_id = ? ORDER BY seq`, gameID)
	if err != nil {
		return nil, fmt.Errorf("query history %s: %w", gameID, err)
	}
	defer rows.Close()

	events := make([]models.Event, 0)
	for rows.Next() {
		var (
			e                models.Event
			eventType, phase string
			payload          string
		)
		if err := rows.Scan(&e.Seq, &eventType, &phase, &e.Day, &e.PlayerID, &payload, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.GameID = gameID
		e.Type = models.EventType(eventType)
		e.Phase = models.Phase(phase)
		e.Payload = json.RawMessage(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Publish 实现 StateSink，写入失败只记录日志
func (s *Store) Publish(e models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.AppendEvent(ctx, e); err != nil {
		log.Warn().Err(err).Str("game", e.GameID).Int("seq", e.Seq).Msg("[游戏存储] 写入事件失败")
	}
}
