package models

// EventType 状态变更事件类型
type EventType string

const (
	EventRoleAssigned    EventType = "role_assigned"
	EventPhaseChanged    EventType = "phase_changed"
	EventNightAction     EventType = "night_action_resolved"
	EventInfoRevealed    EventType = "info_revealed"
	EventDeathsAnnounced EventType = "deaths_announced"
	EventNominationOpen  EventType = "nomination_opened"
	EventVoteCast        EventType = "vote_cast"
	EventNominationClose EventType = "nomination_closed"
	EventExecution       EventType = "execution"
	EventDayAbility      EventType = "day_ability_used"
	EventGameEnded       EventType = "game_ended"
)

// Event 追加式事件流中的一条记录
type Event struct {
	GameID    string    `json:"game_id"`
	RoomID    string    `json:"room_id,omitempty"`
	Seq       int       `json:"seq"`
	Type      EventType `json:"type"`
	Phase     Phase     `json:"phase"`
	Day       int       `json:"day"`
	PlayerID  string    `json:"player_id,omitempty"` // 非空表示仅对该玩家可见
	Payload   any       `json:"payload,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// Private 是否为私密事件
func (e Event) Private() bool {
	return e.PlayerID != ""
}
