package services

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/qianlnk/clocktower/models"
)

// 提名时AI玩家的发言
var nominationLines = map[models.AIPersonality][]string{
	models.Aggressive: {
		"我确定就是%s，大家跟我一起投票！",
		"%s昨天的发言漏洞百出，必须上处决台",
	},
	models.Cautious: {
		"我不太确定，但%s的表现有点奇怪",
		"先听听%s怎么解释吧",
	},
	models.Random: {
		"就%s吧，总得有人被提名",
		"我的直觉告诉我是%s",
	},
}

// Narrator 将事件转换为可读的解说文本
type Narrator struct {
	mu      sync.RWMutex
	players map[string]models.Player
	rng     *rand.Rand
}

// NewNarrator 创建解说员实例
func NewNarrator(players []models.Player, seed int64) *Narrator {
	n := &Narrator{rng: NewRand(seed)}
	n.SetPlayers(players)
	return n
}

// SetPlayers 更新玩家名单
func (n *Narrator) SetPlayers(players []models.Player) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.players = make(map[string]models.Player, len(players))
	for _, p := range players {
		n.players[p.ID] = p
	}
}

// Narrate 生成事件的解说文本，无需解说的事件返回空字符串
func (n *Narrator) Narrate(e models.Event) string {
	switch payload := e.Payload.(type) {
	case PhaseChangedPayload:
		switch payload.To {
		case models.PhaseNight:
			return fmt.Sprintf("第 %d 夜降临，所有人闭上眼睛", e.Day)
		case models.PhaseDay:
			return fmt.Sprintf("第 %d 天，天亮了", e.Day)
		}
	case RoleAssignedPayload:
		return fmt.Sprintf("%s 坐在 %d 号位，身份是 %s", n.name(e.PlayerID), payload.Seat, payload.Role)
	case models.NightAction:
		return fmt.Sprintf("%s(%s): %s", n.name(payload.ActorID), payload.Role, payload.Outcome.Message)
	case models.Reveal:
		return fmt.Sprintf("%s 得知: %s", n.name(payload.PlayerID), payload.Message)
	case []string:
		if e.Type != models.EventDeathsAnnounced {
			return ""
		}
		if len(payload) == 0 {
			return "昨晚是平安夜"
		}
		return "昨晚死亡: " + n.names(payload)
	case models.Nomination:
		if e.Type == models.EventNominationOpen {
			return fmt.Sprintf("%s 提名了 %s。%s", n.name(payload.NominatorID), n.name(payload.NomineeID),
				n.dialogue(payload.NominatorID, payload.NomineeID))
		}
		return fmt.Sprintf("对 %s 的投票结束: %d 票赞成，需要 %d 票", n.name(payload.NomineeID), payload.YesVotes, payload.Threshold)
	case models.Vote:
		if payload.Yes {
			return fmt.Sprintf("%s 举手赞成", n.name(payload.VoterID))
		}
		return fmt.Sprintf("%s 没有举手", n.name(payload.VoterID))
	case models.Execution:
		return fmt.Sprintf("%s 被处决", n.name(payload.PlayerID))
	case DayAbilityPayload:
		return payload.Message
	case GameEndedPayload:
		return fmt.Sprintf("游戏结束，%s 胜利: %s", payload.Winner, payload.Reason)
	}
	return ""
}

// dialogue AI提名者的发言，真人玩家没有
func (n *Narrator) dialogue(nominatorID, nomineeID string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.players[nominatorID]
	if !ok || p.Type != models.AIPlayer {
		return ""
	}
	lines, ok := nominationLines[p.Personality]
	if !ok {
		lines = nominationLines[models.Random]
	}
	target := nomineeID
	if q, ok := n.players[nomineeID]; ok {
		target = q.Name
	}
	return fmt.Sprintf("%s: \"%s\"", p.Name, fmt.Sprintf(lines[n.rng.Intn(len(lines))], target))
}

func (n *Narrator) name(id string) string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if p, ok := n.players[id]; ok {
		return p.Name
	}
	return id
}

func (n *Narrator) names(ids []string) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = n.name(id)
	}
	return strings.Join(names, "、")
}
