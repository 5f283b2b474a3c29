package services

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/qianlnk/clocktower/models"
)

// SetupContext 分配角色后的准备阶段上下文
type SetupContext struct {
	Roster  Roster
	Catalog Catalog
	Rand    *rand.Rand
	reveals []models.Reveal
}

// reveal 记录准备阶段得到的信息（第0夜）
func (sc *SetupContext) reveal(self *models.Player, r models.Reveal) {
	r.PlayerID = self.ID
	r.Source = self.Role
	r.Night = 0
	sc.reveals = append(sc.reveals, r)
}

// runSetup 依座位顺序执行所有准备阶段能力
func runSetup(roster Roster, catalog Catalog, rng *rand.Rand) []models.Reveal {
	sc := &SetupContext{Roster: roster, Catalog: catalog, Rand: rng}
	for i := range roster {
		if spec := catalog[roster[i].Role]; spec.Setup != nil {
			spec.Setup(sc, &roster[i])
		}
	}
	return sc.reveals
}

// ---- 阵营登记 ----

// registersEvil 信息类能力看到的阵营，隐士与间谍可能被误判
func registersEvil(p models.Player, catalog Catalog, rng *rand.Rand) bool {
	evil := p.Alignment == models.Evil
	if catalog[p.Role].Misregisters && !p.Impaired() && rng.Intn(2) == 0 {
		return !evil
	}
	return evil
}

// registersDemon 是否被识别为恶魔，隐士可能被误判
func registersDemon(p models.Player, catalog Catalog, rng *rand.Rand) bool {
	spec := catalog[p.Role]
	if spec.Category == models.Demon {
		return true
	}
	if spec.Misregisters && p.Alignment == models.Good && !p.Impaired() {
		return rng.Intn(2) == 0
	}
	return false
}

// ---- 准备阶段能力 ----

// learnOneOfTwo 洗衣妇、图书管理员、调查员：得知两名玩家之一是某个角色
func learnOneOfTwo(sc *SetupContext, self *models.Player, category models.Category, label string) {
	candidates := make([]models.Player, 0)
	for _, p := range sc.Roster {
		if p.ID != self.ID && sc.Catalog.CategoryOf(p.Role) == category {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		sc.reveal(self, models.Reveal{Message: fmt.Sprintf("场上没有%s", label)})
		return
	}

	target := candidates[sc.Rand.Intn(len(candidates))]
	others := make([]models.Player, 0, len(sc.Roster))
	for _, p := range sc.Roster {
		if p.ID != self.ID && p.ID != target.ID {
			others = append(others, p)
		}
	}
	pair := []models.Player{target}
	if len(others) > 0 {
		pair = append(pair, others[sc.Rand.Intn(len(others))])
	}
	sc.Rand.Shuffle(len(pair), func(i, j int) { pair[i], pair[j] = pair[j], pair[i] })

	names := make([]string, len(pair))
	for i, p := range pair {
		names[i] = p.Name
	}
	sc.reveal(self, models.Reveal{
		Players: IDs(pair),
		Role:    target.Role,
		Message: fmt.Sprintf("%s 中有一人是 %s", strings.Join(names, "、"), target.Role),
	})
}

func washerwomanSetup(sc *SetupContext, self *models.Player) {
	learnOneOfTwo(sc, self, models.Townsfolk, "其他镇民")
}

func librarianSetup(sc *SetupContext, self *models.Player) {
	learnOneOfTwo(sc, self, models.Outsider, "外来者")
}

func investigatorSetup(sc *SetupContext, self *models.Player) {
	learnOneOfTwo(sc, self, models.Minion, "爪牙")
}

// chefSetup 得知相邻而坐的邪恶玩家对数
func chefSetup(sc *SetupContext, self *models.Player) {
	n := len(sc.Roster)
	evil := make([]bool, n)
	for i, p := range sc.Roster {
		evil[i] = registersEvil(p, sc.Catalog, sc.Rand)
	}
	pairs := 0
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		if j == i || (n == 2 && i == 1) {
			break
		}
		if evil[i] && evil[j] {
			pairs++
		}
	}
	sc.reveal(self, models.Reveal{
		Count:   pairs,
		Message: fmt.Sprintf("有 %d 对邪恶玩家相邻而坐", pairs),
	})
}

// fortuneTellerSetup 随机指定一名善良玩家作为干扰项
func fortuneTellerSetup(sc *SetupContext, self *models.Player) {
	good := make([]int, 0)
	for i, p := range sc.Roster {
		if p.Alignment == models.Good && p.ID != self.ID {
			good = append(good, i)
		}
	}
	if len(good) == 0 {
		return
	}
	sc.Roster[good[sc.Rand.Intn(len(good))]].RedHerring = true
}

func drunkSetup(sc *SetupContext, self *models.Player) {
	self.Drunk = true
}

// ---- 夜晚能力 ----

func poisonerEffect(nc *NightContext, a *models.NightAction) {
	target := nc.Roster.Find(a.Targets[0])
	target.Poisoned = true
	a.Outcome = models.ActionOutcome{
		Status:  models.ActionResolved,
		Message: fmt.Sprintf("%s 被下毒", target.Name),
	}
}

func monkEffect(nc *NightContext, a *models.NightAction) {
	target := nc.Roster.Find(a.Targets[0])
	target.Protected = true
	a.Outcome = models.ActionOutcome{
		Status:  models.ActionResolved,
		Message: fmt.Sprintf("%s 今晚受到保护", target.Name),
	}
}

func butlerEffect(nc *NightContext, a *models.NightAction) {
	butler := nc.Roster.Find(a.ActorID)
	master := nc.Roster.Find(a.Targets[0])
	butler.MasterID = master.ID
	a.Outcome = models.ActionOutcome{
		Status:  models.ActionResolved,
		Message: fmt.Sprintf("明天 %s 是你的主人", master.Name),
	}
}

// impEffect 恶魔击杀：僧侣保护、士兵免疫、镇长转移、自杀传位
func impEffect(nc *NightContext, a *models.NightAction) {
	imp := nc.Roster.Find(a.ActorID)
	target := nc.Roster.Find(a.Targets[0])

	if target.ID == imp.ID {
		starpass(nc, a, imp)
		return
	}
	if blocked, why := nc.safeFromDemon(target); blocked {
		a.Outcome = models.ActionOutcome{Status: models.ActionBlocked, VictimID: target.ID, Message: why}
		return
	}

	if spec := nc.Catalog[target.Role]; spec.Redirects && !target.Impaired() {
		others := make([]*models.Player, 0)
		for i := range nc.Roster {
			p := &nc.Roster[i]
			if p.Alive && p.ID != target.ID && p.ID != imp.ID {
				others = append(others, p)
			}
		}
		if len(others) > 0 {
			victim := others[nc.Rand.Intn(len(others))]
			if blocked, why := nc.safeFromDemon(victim); blocked {
				a.Outcome = models.ActionOutcome{Status: models.ActionBlocked, VictimID: victim.ID, Redirected: true, Message: why}
				return
			}
			nc.demonKill(victim.ID)
			a.Outcome = models.ActionOutcome{
				Status:     models.ActionResolved,
				VictimID:   victim.ID,
				Redirected: true,
				Message:    fmt.Sprintf("对 %s 的攻击转移到了 %s", target.Name, victim.Name),
			}
			return
		}
	}

	if !target.Alive {
		a.Outcome = models.ActionOutcome{Status: models.ActionBlocked, VictimID: target.ID, Message: fmt.Sprintf("%s 已经死亡", target.Name)}
		return
	}
	nc.demonKill(target.ID)
	a.Outcome = models.ActionOutcome{
		Status:   models.ActionResolved,
		VictimID: target.ID,
		Message:  fmt.Sprintf("%s 被恶魔杀死", target.Name),
	}
}

// starpass 恶魔自杀，由座位最靠前的存活爪牙继承恶魔身份
func starpass(nc *NightContext, a *models.NightAction, imp *models.Player) {
	nc.demonKill(imp.ID)
	for i := range nc.Roster {
		p := &nc.Roster[i]
		if p.Alive && nc.Catalog.CategoryOf(p.Role) == models.Minion {
			p.Role = imp.Role
			a.Outcome = models.ActionOutcome{
				Status:   models.ActionResolved,
				VictimID: imp.ID,
				Message:  fmt.Sprintf("%s 自杀，%s 成为新的恶魔", imp.Name, p.Name),
			}
			return
		}
	}
	a.Outcome = models.ActionOutcome{
		Status:   models.ActionResolved,
		VictimID: imp.ID,
		Message:  fmt.Sprintf("%s 自杀，没有爪牙可以继承", imp.Name),
	}
}

func fortuneTellerEffect(nc *NightContext, a *models.NightAction) {
	detected := false
	names := make([]string, 0, len(a.Targets))
	for _, id := range a.Targets {
		p := nc.Roster.Find(id)
		names = append(names, p.Name)
		if p.RedHerring || registersDemon(*p, nc.Catalog, nc.Rand) {
			detected = true
		}
	}
	msg := "否：两人都不是恶魔"
	if detected {
		msg = "是：其中至少一人是恶魔"
	}
	nc.reveal(a, models.Reveal{
		Players:  append([]string(nil), a.Targets...),
		Detected: detected,
		Message:  fmt.Sprintf("%s: %s", strings.Join(names, "、"), msg),
	})
}

func empathEffect(nc *NightContext, a *models.NightAction) {
	neighbours := nc.Roster.Neighbours(a.ActorID)
	count := 0
	for _, p := range neighbours {
		if registersEvil(p, nc.Catalog, nc.Rand) {
			count++
		}
	}
	nc.reveal(a, models.Reveal{
		Players: IDs(neighbours),
		Count:   count,
		Message: fmt.Sprintf("你存活的邻座中有 %d 名邪恶玩家", count),
	})
}

func undertakerEffect(nc *NightContext, a *models.NightAction) {
	exec := nc.LastExecution
	if exec == nil || exec.Day != nc.Night-1 {
		nc.reveal(a, models.Reveal{Message: "今天没有人被处决"})
		return
	}
	name := exec.PlayerID
	if p := nc.Roster.Find(exec.PlayerID); p != nil {
		name = p.Name
	}
	nc.reveal(a, models.Reveal{
		Players: []string{exec.PlayerID},
		Role:    exec.Role,
		Message: fmt.Sprintf("今天被处决的 %s 是 %s", name, exec.Role),
	})
}

func spyEffect(nc *NightContext, a *models.NightAction) {
	entries := make([]string, 0, len(nc.Roster))
	for _, p := range nc.Roster {
		state := "存活"
		if !p.Alive {
			state = "死亡"
		}
		entries = append(entries, fmt.Sprintf("%s=%s(%s)", p.Name, p.Role, state))
	}
	nc.reveal(a, models.Reveal{
		Players: IDs(nc.Roster),
		Message: "魔典: " + strings.Join(entries, ", "),
	})
}

func ravenkeeperEffect(nc *NightContext, a *models.NightAction) {
	target := nc.Roster.Find(a.Targets[0])
	nc.reveal(a, models.Reveal{
		Players: []string{target.ID},
		Role:    target.Role,
		Message: fmt.Sprintf("%s 是 %s", target.Name, target.Role),
	})
}

// ---- 白天能力 ----

// virginTrigger 贞洁者首次被提名时，若提名者是镇民则立即处决提名者
func virginTrigger(nominee, nominator *models.Player, catalog Catalog) (bool, string) {
	if nominee.UsedAbility {
		return false, ""
	}
	nominee.UsedAbility = true
	if nominee.Impaired() {
		return false, fmt.Sprintf("%s 的能力失效", nominee.Name)
	}
	if catalog.CategoryOf(nominator.Role) == models.Townsfolk {
		return true, fmt.Sprintf("%s 提名了贞洁者，立即被处决", nominator.Name)
	}
	return false, fmt.Sprintf("%s 提名了贞洁者，什么也没有发生", nominator.Name)
}

// slayerShot 杀手白天开枪，目标被识别为恶魔则死亡
func slayerShot(slayer, target *models.Player, catalog Catalog, rng *rand.Rand) (bool, string) {
	slayer.UsedAbility = true
	if slayer.Impaired() || !registersDemon(*target, catalog, rng) {
		return false, fmt.Sprintf("%s 向 %s 开枪，什么也没有发生", slayer.Name, target.Name)
	}
	target.Alive = false
	return true, fmt.Sprintf("%s 向 %s 开枪，%s 死亡", slayer.Name, target.Name, target.Name)
}

// inheritDemon 恶魔死亡且死亡前存活人数不少于5时，红唇女郎成为恶魔
func inheritDemon(r Roster, catalog Catalog, dead models.Player, aliveBefore int) *models.Player {
	if catalog.CategoryOf(dead.Role) != models.Demon || aliveBefore < 5 {
		return nil
	}
	for i := range r {
		p := &r[i]
		if p.Alive && catalog[p.Role].Inherits && !p.Impaired() {
			p.Role = dead.Role
			return p
		}
	}
	return nil
}
