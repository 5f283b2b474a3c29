package models

// Phase 游戏阶段
type Phase string

const (
	PhaseSetup Phase = "SETUP" // 准备阶段
	PhaseNight Phase = "NIGHT" // 夜晚阶段
	PhaseDay   Phase = "DAY"   // 白天阶段
	PhaseEnded Phase = "ENDED" // 游戏结束
)

// Alignment 阵营
type Alignment string

const (
	Good Alignment = "GOOD" // 善良阵营
	Evil Alignment = "EVIL" // 邪恶阵营
)

// Winner 胜利方
type Winner string

const (
	NoWinner   Winner = ""     // 尚未决出胜负
	WinnerGood Winner = "GOOD" // 善良阵营胜利
	WinnerEvil Winner = "EVIL" // 邪恶阵营胜利
	WinnerDraw Winner = "DRAW" // 平局（超出天数上限或中止）
)

// Category 角色类别
type Category string

const (
	Townsfolk Category = "townsfolk" // 镇民
	Outsider  Category = "outsider"  // 外来者
	Minion    Category = "minion"    // 爪牙
	Demon     Category = "demon"     // 恶魔
)

// Role 游戏角色
type Role string

const (
	// 镇民
	Washerwoman   Role = "WASHERWOMAN"
	Librarian     Role = "LIBRARIAN"
	Investigator  Role = "INVESTIGATOR"
	Chef          Role = "CHEF"
	Empath        Role = "EMPATH"
	FortuneTeller Role = "FORTUNE_TELLER"
	Undertaker    Role = "UNDERTAKER"
	Monk          Role = "MONK"
	Ravenkeeper   Role = "RAVENKEEPER"
	Virgin        Role = "VIRGIN"
	Slayer        Role = "SLAYER"
	Soldier       Role = "SOLDIER"
	Mayor         Role = "MAYOR"

	// 外来者
	Butler  Role = "BUTLER"
	Drunk   Role = "DRUNK"
	Recluse Role = "RECLUSE"
	Saint   Role = "SAINT"

	// 爪牙
	Poisoner     Role = "POISONER"
	Spy          Role = "SPY"
	ScarletWoman Role = "SCARLET_WOMAN"
	Baron        Role = "BARON"

	// 恶魔
	Imp Role = "IMP"
)

// PlayerType 玩家类型
type PlayerType string

const (
	HumanPlayer PlayerType = "human" // 真人玩家
	AIPlayer    PlayerType = "ai"    // AI玩家
)

// AIPersonality AI性格特征
type AIPersonality string

const (
	Aggressive AIPersonality = "aggressive" // 激进型
	Cautious   AIPersonality = "cautious"   // 谨慎型
	Random     AIPersonality = "random"     // 随机型
)

// Player 玩家信息
type Player struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Seat        int           `json:"seat"`
	Type        PlayerType    `json:"type"`
	Personality AIPersonality `json:"personality,omitempty"`
	Role        Role          `json:"role,omitempty"`
	Alignment   Alignment     `json:"alignment,omitempty"`
	Alive       bool          `json:"alive"`

	// 整局有效的状态
	UsedAbility bool   `json:"used_ability"`
	Drunk       bool   `json:"drunk,omitempty"`
	RedHerring  bool   `json:"red_herring,omitempty"`
	MasterID    string `json:"master_id,omitempty"`

	// 仅当晚有效，每晚开始时清除
	Poisoned  bool `json:"poisoned"`
	Protected bool `json:"protected"`
}

// Impaired 能力是否失效（中毒或醉酒）
func (p Player) Impaired() bool {
	return p.Poisoned || p.Drunk
}

// RolePool 角色池：类别 -> 角色列表
type RolePool map[Category][]Role

// Size 角色池总数
func (rp RolePool) Size() int {
	n := 0
	for _, roles := range rp {
		n += len(roles)
	}
	return n
}

// Roles 按类别固定顺序展开角色池
func (rp RolePool) Roles() []Role {
	roles := make([]Role, 0, rp.Size())
	for _, c := range []Category{Townsfolk, Outsider, Minion, Demon} {
		roles = append(roles, rp[c]...)
	}
	return roles
}

// ActionStatus 夜晚行动结算状态
type ActionStatus string

const (
	ActionResolved ActionStatus = "resolved" // 已生效
	ActionBlocked  ActionStatus = "blocked"  // 被其他能力抵消
	ActionPassed   ActionStatus = "passed"   // 放弃行动（超时或无合法目标）
	ActionRejected ActionStatus = "rejected" // 目标非法，被丢弃
)

// Reveal 只告知行动者本人的信息
type Reveal struct {
	PlayerID string   `json:"player_id"`
	Source   Role     `json:"source"`
	Night    int      `json:"night"`
	Message  string   `json:"message"`
	Players  []string `json:"players,omitempty"`
	Role     Role     `json:"role,omitempty"`
	Count    int      `json:"count,omitempty"`
	Detected bool     `json:"detected,omitempty"`
}

// ActionOutcome 行动结果
type ActionOutcome struct {
	Status     ActionStatus `json:"status"`
	Message    string       `json:"message,omitempty"`
	VictimID   string       `json:"victim_id,omitempty"`
	Redirected bool         `json:"redirected,omitempty"`
	Reveal     *Reveal      `json:"reveal,omitempty"`
}

// NightAction 夜晚行动
type NightAction struct {
	ID      string        `json:"id"`
	ActorID string        `json:"actor_id"`
	Seat    int           `json:"seat"`
	Role    Role          `json:"role"`
	Targets []string      `json:"targets,omitempty"`
	Outcome ActionOutcome `json:"outcome"`
}

// Vote 一张投票
type Vote struct {
	VoterID string `json:"voter_id"`
	Yes     bool   `json:"yes"`
}

// Nomination 提名
type Nomination struct {
	ID          string `json:"id"`
	NominatorID string `json:"nominator_id"`
	NomineeID   string `json:"nominee_id"`
	Votes       []Vote `json:"votes"`
	Closed      bool   `json:"closed"`
	YesVotes    int    `json:"yes_votes"`
	Threshold   int    `json:"threshold"`
	OnTheBlock  bool   `json:"on_the_block"`
	Executed    bool   `json:"executed"`
	Triggered   bool   `json:"triggered,omitempty"` // 提名触发了被提名者的能力
}

// Execution 处决记录
type Execution struct {
	PlayerID string `json:"player_id"`
	Role     Role   `json:"role"`
	Day      int    `json:"day"`
}

// GameState 整局游戏状态
type GameState struct {
	ID            string        `json:"id"`
	RoomID        string        `json:"room_id,omitempty"`
	Phase         Phase         `json:"phase"`
	Day           int           `json:"day"`
	Players       []Player      `json:"players"`
	NightActions  []NightAction `json:"night_actions"`
	Nominations   []Nomination  `json:"nominations"`
	Reveals       []Reveal      `json:"reveals"`
	LastExecution *Execution    `json:"last_execution,omitempty"`
	Winner        Winner        `json:"winner,omitempty"`
	CreatedAt     int64         `json:"created_at"`
	UpdatedAt     int64         `json:"updated_at"`
}

// Room 游戏房间
type Room struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Players     []Player `json:"players"`
	MaxPlayers  int      `json:"max_players"`
	MinPlayers  int      `json:"min_players"`
	GameStarted bool     `json:"game_started"`
	GameID      string   `json:"game_id,omitempty"`
	CreatedAt   int64    `json:"created_at"`
}

// 玩家提交的动作类型
const (
	ActionNight     = "night_action"
	ActionVote      = "vote"
	ActionNominate  = "nominate"
	ActionDayPower  = "day_ability"
	ActionStartGame = "start_game"
)

// GameAction 玩家提交的动作，用于回答引擎发出的决策请求
type GameAction struct {
	Type      string   `json:"type" binding:"required"`
	PlayerID  string   `json:"player_id" binding:"required"`
	Targets   []string `json:"targets,omitempty"`
	Vote      bool     `json:"vote,omitempty"`
	Pass      bool     `json:"pass,omitempty"`
	Timestamp int64    `json:"timestamp"`
	RoomID    string   `json:"room_id"`
}

// GameStatus 对外展示的游戏状态（隐藏角色信息）
type GameStatus struct {
	GameID   string       `json:"game_id"`
	Phase    Phase        `json:"phase"`
	Day      int          `json:"day"`
	Players  []PublicSeat `json:"players"`
	Winner   Winner       `json:"winner,omitempty"`
	Pending  []string     `json:"pending,omitempty"` // 等待该玩家做出的决策
	Nominees []string     `json:"nominees,omitempty"`
}

// PublicSeat 公开的座位信息
type PublicSeat struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Seat  int    `json:"seat"`
	Alive bool   `json:"alive"`
	Role  Role   `json:"role,omitempty"` // 仅在游戏结束后公开
}
