package services

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/qianlnk/clocktower/models"
)

// StateSink 状态变更事件的接收方。投递失败由实现方自行记录，不影响引擎
type StateSink interface {
	Publish(event models.Event)
}

// SinkFunc 函数形式的 StateSink
type SinkFunc func(event models.Event)

// Publish 实现 StateSink
func (f SinkFunc) Publish(event models.Event) { f(event) }

// MultiSink 将事件依次投递给多个接收方
type MultiSink []StateSink

// Publish 实现 StateSink，单个接收方 panic 不会影响其他接收方
func (m MultiSink) Publish(event models.Event) {
	for _, s := range m {
		if s == nil {
			continue
		}
		publishSafely(s, event)
	}
}

func publishSafely(s StateSink, event models.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("game", event.GameID).Str("type", string(event.Type)).
				Msg("[事件投递] 接收方异常")
		}
	}()
	s.Publish(event)
}

// LogSink 通过日志输出事件
type LogSink struct {
	narrator *Narrator
}

// NewLogSink 创建日志接收方，narrator 为空时只记录事件类型
func NewLogSink(narrator *Narrator) *LogSink {
	return &LogSink{narrator: narrator}
}

// Publish 实现 StateSink
func (l *LogSink) Publish(event models.Event) {
	ev := log.Info().
		Str("game", event.GameID).
		Int("seq", event.Seq).
		Str("type", string(event.Type)).
		Str("phase", string(event.Phase)).
		Int("day", event.Day)
	if event.Private() {
		ev = ev.Str("to", event.PlayerID)
	}
	msg := "[游戏事件]"
	if l.narrator != nil {
		if line := l.narrator.Narrate(event); line != "" {
			msg += " " + line
		}
	}
	ev.Msg(msg)
}

// MemorySink 在内存中保存全部事件
type MemorySink struct {
	mu     sync.RWMutex
	events []models.Event
}

// NewMemorySink 创建内存接收方
func NewMemorySink() *MemorySink {
	return &MemorySink{events: make([]models.Event, 0)}
}

// Publish 实现 StateSink
func (m *MemorySink) Publish(event models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// Events 返回事件副本
func (m *MemorySink) Events() []models.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]models.Event, len(m.events))
	copy(events, m.events)
	return events
}

// OfType 返回指定类型的事件
func (m *MemorySink) OfType(t models.EventType) []models.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]models.Event, 0)
	for _, e := range m.events {
		if e.Type == t {
			events = append(events, e)
		}
	}
	return events
}
