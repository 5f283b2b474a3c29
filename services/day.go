package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/qianlnk/clocktower/models"
)

// AliveSnapshot 某一时刻的存活名单
type AliveSnapshot map[string]bool

// TakeAliveSnapshot 记录当前存活的玩家
func TakeAliveSnapshot(players []models.Player) AliveSnapshot {
	s := make(AliveSnapshot, len(players))
	for _, p := range players {
		if p.Alive {
			s[p.ID] = true
		}
	}
	return s
}

// Deaths 快照中存活、当前已死亡的玩家，按座位顺序
func (s AliveSnapshot) Deaths(players []models.Player) []string {
	deaths := make([]string, 0)
	for _, p := range NewRoster(players) {
		if s[p.ID] && !p.Alive {
			deaths = append(deaths, p.ID)
		}
	}
	return deaths
}

// MajorityThreshold 处决所需的最少赞成票
func MajorityThreshold(alive int) int {
	return (alive + 1) / 2
}

// Day 一个白天的提名与处决状态
type Day struct {
	Number      int
	Roster      Roster
	Nominations []models.Nomination
	Execution   *models.Execution

	// SaintExecuted 未失效的圣徒被处决
	SaintExecuted bool
	// Inherited 继承恶魔身份的玩家
	Inherited []string
	// Deaths 白天死亡的玩家（处决、贞洁者、杀手）
	Deaths []string

	catalog    Catalog
	rng        *rand.Rand
	nominated  map[string]bool
	nominators map[string]bool
}

// NewDay 创建第 number 个白天
func NewDay(number int, players []models.Player, catalog Catalog, rng *rand.Rand) *Day {
	return &Day{
		Number:      number,
		Roster:      NewRoster(players),
		Nominations: make([]models.Nomination, 0),
		catalog:     catalog,
		rng:         rng,
		nominated:   make(map[string]bool),
		nominators:  make(map[string]bool),
	}
}

// Over 已有处决或存活不足三人时白天结束
func (d *Day) Over() bool {
	return d.Execution != nil || d.Roster.AliveCount() < 3
}

// CanNominate 玩家今天是否还能提名
func (d *Day) CanNominate(id string) bool {
	p := d.Roster.Find(id)
	return p != nil && p.Alive && !d.nominators[id] && !d.Over()
}

// Nominees 可以被 nominatorID 提名的玩家
func (d *Day) Nominees(nominatorID string) []string {
	ids := make([]string, 0)
	for _, p := range d.Roster.Alive() {
		if p.ID != nominatorID && !d.nominated[p.ID] {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// Nominate 发起提名。出错时白天状态不变。
// 被提名者的能力（贞洁者）可能立即处决提名者，此时提名直接关闭、不进行投票。
func (d *Day) Nominate(nominatorID, nomineeID string) (models.Nomination, error) {
	if d.Over() {
		return models.Nomination{}, fmt.Errorf("%w: 今天的提名已经结束", ErrInvalidNomination)
	}
	nominator := d.Roster.Find(nominatorID)
	nominee := d.Roster.Find(nomineeID)
	switch {
	case nominator == nil || !nominator.Alive:
		return models.Nomination{}, fmt.Errorf("%w: 提名者 %q 不存在或已死亡", ErrInvalidNomination, nominatorID)
	case nominee == nil || !nominee.Alive:
		return models.Nomination{}, fmt.Errorf("%w: 被提名者 %q 不存在或已死亡", ErrInvalidNomination, nomineeID)
	case nominatorID == nomineeID:
		return models.Nomination{}, fmt.Errorf("%w: 不能提名自己", ErrInvalidNomination)
	case d.nominated[nomineeID]:
		return models.Nomination{}, fmt.Errorf("%w: %s 今天已经被提名过", ErrDuplicateNomination, nominee.Name)
	case d.nominators[nominatorID]:
		return models.Nomination{}, fmt.Errorf("%w: %s 今天已经提名过", ErrInvalidNomination, nominator.Name)
	}

	d.nominated[nomineeID] = true
	d.nominators[nominatorID] = true
	n := models.Nomination{
		ID:          uuid.NewString(),
		NominatorID: nominatorID,
		NomineeID:   nomineeID,
		Votes:       make([]models.Vote, 0),
	}

	if trigger := d.catalog[nominee.Role].OnNominated; trigger != nil {
		executed, msg := trigger(nominee, nominator, d.catalog)
		if msg != "" {
			log.Info().Int("day", d.Number).Str("nominee", nomineeID).Msg("[提名] " + msg)
		}
		if executed {
			n.Triggered = true
			n.Closed = true
			d.execute(nominator)
		}
	}
	d.Nominations = append(d.Nominations, n)
	return n, nil
}

// Voters 当前提名的投票者，按座位顺序
func (d *Day) Voters() []models.Player {
	return d.Roster.Alive()
}

// CloseVote 按座位顺序记录投票并计票，未投票视为反对
func (d *Day) CloseVote(nominationID string, votes map[string]bool) (models.Nomination, error) {
	idx := -1
	for i := range d.Nominations {
		if d.Nominations[i].ID == nominationID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return models.Nomination{}, fmt.Errorf("%w: 提名 %q 不存在", ErrInvalidNomination, nominationID)
	}
	n := &d.Nominations[idx]
	if n.Closed {
		return models.Nomination{}, fmt.Errorf("%w: 提名已经关闭", ErrInvalidNomination)
	}

	voters := d.Voters()
	n.Votes = make([]models.Vote, 0, len(voters))
	for _, v := range voters {
		n.Votes = append(n.Votes, models.Vote{VoterID: v.ID, Yes: votes[v.ID]})
	}
	n.YesVotes = d.countYes(n.Votes)
	n.Threshold = MajorityThreshold(len(voters))
	n.Closed = true

	if n.YesVotes >= n.Threshold {
		n.OnTheBlock = true
		n.Executed = true
		d.execute(d.Roster.Find(n.NomineeID))
	}
	return *n, nil
}

// countYes 管家只有在主人投赞成票时，自己的赞成票才有效
func (d *Day) countYes(votes []models.Vote) int {
	yes := make(map[string]bool, len(votes))
	for _, v := range votes {
		yes[v.VoterID] = v.Yes
	}
	count := 0
	for _, v := range votes {
		if !v.Yes {
			continue
		}
		voter := d.Roster.Find(v.VoterID)
		if voter.Role == models.Butler && !voter.Impaired() && voter.MasterID != "" && !yes[voter.MasterID] {
			continue
		}
		count++
	}
	return count
}

// SlayerShot 杀手白天开枪，每局限一次
func (d *Day) SlayerShot(slayerID, targetID string) (bool, string, error) {
	slayer := d.Roster.Find(slayerID)
	target := d.Roster.Find(targetID)
	switch {
	case slayer == nil || !slayer.Alive || !d.catalog[slayer.Role].DayShot:
		return false, "", fmt.Errorf("%w: %q 不能开枪", ErrActionTargetInvalid, slayerID)
	case slayer.UsedAbility:
		return false, "", fmt.Errorf("%w: 能力已经使用过", ErrActionTargetInvalid)
	case target == nil || !target.Alive:
		return false, "", fmt.Errorf("%w: 目标 %q 不存在或已死亡", ErrActionTargetInvalid, targetID)
	}

	aliveBefore := d.Roster.AliveCount()
	hit, msg := slayerShot(slayer, target, d.catalog, d.rng)
	if hit {
		d.Deaths = append(d.Deaths, target.ID)
		d.inherit(*target, aliveBefore)
	}
	return hit, msg, nil
}

// execute 处决玩家
func (d *Day) execute(p *models.Player) {
	aliveBefore := d.Roster.AliveCount()
	if !d.Roster.Kill(p.ID) {
		return
	}
	d.Execution = &models.Execution{PlayerID: p.ID, Role: p.Role, Day: d.Number}
	d.Deaths = append(d.Deaths, p.ID)
	if d.catalog[p.Role].LosesOnExec && !p.Impaired() {
		d.SaintExecuted = true
	}
	d.inherit(*p, aliveBefore)
}

func (d *Day) inherit(dead models.Player, aliveBefore int) {
	if heir := inheritDemon(d.Roster, d.catalog, dead, aliveBefore); heir != nil {
		log.Info().Int("day", d.Number).Str("player", heir.ID).Msg("[恶魔继承] 红唇女郎成为新的恶魔")
		d.Inherited = append(d.Inherited, heir.ID)
	}
}

// Emitter 向外发布事件，playerID 非空时为私密事件
type Emitter func(eventType models.EventType, playerID string, payload any)

// DayInput 白天的输入
type DayInput struct {
	Day     int
	Players []models.Player
	// Snapshot 夜晚开始时的存活快照，用于在白天开始时公布死亡
	Snapshot AliveSnapshot
}

// DayResult 白天的结果
type DayResult struct {
	Players       []models.Player
	Nominations   []models.Nomination
	Execution     *models.Execution
	NightDeaths   []string
	Deaths        []string
	SaintExecuted bool
}

// DayCoordinator 白天协调器
type DayCoordinator struct {
	catalog Catalog
	timeout time.Duration
	budget  int
}

// NewDayCoordinator 创建白天协调器，budget 为每天最多的提名次数
func NewDayCoordinator(catalog Catalog, timeout time.Duration, budget int) *DayCoordinator {
	return &DayCoordinator{catalog: catalog, timeout: timeout, budget: budget}
}

// Run 公布夜晚死亡 -> 杀手开枪 -> 依座位询问提名 -> 投票 -> 处决
func (dc *DayCoordinator) Run(ctx context.Context, in DayInput, provider DecisionProvider, rng *rand.Rand, emit Emitter) (DayResult, error) {
	if emit == nil {
		emit = func(models.EventType, string, any) {}
	}
	day := NewDay(in.Day, in.Players, dc.catalog, rng)

	nightDeaths := in.Snapshot.Deaths(in.Players)
	emit(models.EventDeathsAnnounced, "", nightDeaths)

	if err := dc.slayerPhase(ctx, day, provider, emit); err != nil {
		return DayResult{}, err
	}
	// 杀手击中恶魔后不再进行提名
	decided := NewWinEvaluator(dc.catalog).Evaluate(day.Roster) != models.NoWinner

	attempts := 0
	for _, p := range day.Roster.Alive() {
		if decided || attempts >= dc.budget || day.Over() {
			break
		}
		if err := ctx.Err(); err != nil {
			return DayResult{}, err
		}
		if !day.CanNominate(p.ID) {
			continue
		}
		eligible := day.Nominees(p.ID)
		if len(eligible) == 0 {
			continue
		}

		type choice struct {
			nominee string
			ok      bool
		}
		c, err := decide(ctx, dc.timeout, choice{}, func(ctx context.Context) (choice, error) {
			id, ok, err := provider.ChooseNomination(ctx, p.ID, eligible)
			return choice{nominee: id, ok: ok}, err
		})
		if err != nil {
			if ctx.Err() != nil {
				return DayResult{}, ctx.Err()
			}
			log.Warn().Err(err).Str("player", p.ID).Msg("[提名] 获取提名失败，视为不提名")
			continue
		}
		if !c.ok {
			continue
		}

		attempts++
		n, err := day.Nominate(p.ID, c.nominee)
		if err != nil {
			log.Warn().Err(err).Str("nominator", p.ID).Str("nominee", c.nominee).Msg("[提名] 提名被拒绝")
			continue
		}
		emit(models.EventNominationOpen, "", n)
		if n.Triggered {
			emit(models.EventExecution, "", *day.Execution)
			continue
		}

		closed, err := dc.vote(ctx, day, n, provider, emit)
		if err != nil {
			return DayResult{}, err
		}
		emit(models.EventNominationClose, "", closed)
		if closed.Executed {
			emit(models.EventExecution, "", *day.Execution)
		}
	}

	return DayResult{
		Players:       day.Roster,
		Nominations:   day.Nominations,
		Execution:     day.Execution,
		NightDeaths:   nightDeaths,
		Deaths:        day.Deaths,
		SaintExecuted: day.SaintExecuted,
	}, nil
}

// vote 并发收集所有存活玩家的投票，超时视为反对
func (dc *DayCoordinator) vote(ctx context.Context, day *Day, n models.Nomination, provider DecisionProvider, emit Emitter) (models.Nomination, error) {
	voters := day.Voters()
	ballots := make([]bool, len(voters))

	g, gctx := errgroup.WithContext(ctx)
	for i, v := range voters {
		i, v := i, v
		g.Go(func() error {
			yes, err := decide(gctx, dc.timeout, false, func(ctx context.Context) (bool, error) {
				return provider.ChooseVote(ctx, v.ID, n)
			})
			if err != nil && !errors.Is(err, ErrDecisionTimeout) {
				log.Warn().Err(err).Str("voter", v.ID).Msg("[投票] 获取投票失败，视为反对")
			}
			ballots[i] = yes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.Nomination{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Nomination{}, err
	}

	votes := make(map[string]bool, len(voters))
	for i, v := range voters {
		votes[v.ID] = ballots[i]
		emit(models.EventVoteCast, "", models.Vote{VoterID: v.ID, Yes: ballots[i]})
	}
	return day.CloseVote(n.ID, votes)
}

// slayerPhase 支持白天能力的决策来源可以让存活的杀手开枪
func (dc *DayCoordinator) slayerPhase(ctx context.Context, day *Day, provider DecisionProvider, emit Emitter) error {
	chooser, ok := provider.(DayAbilityChooser)
	if !ok {
		return nil
	}
	for _, p := range day.Roster.Alive() {
		if !dc.catalog[p.Role].DayShot || p.UsedAbility || day.Over() {
			continue
		}
		self := p.ID
		eligible := make([]string, 0)
		for _, q := range day.Roster.Alive() {
			if q.ID != self {
				eligible = append(eligible, q.ID)
			}
		}

		type shot struct {
			target string
			ok     bool
		}
		s, err := decide(ctx, dc.timeout, shot{}, func(ctx context.Context) (shot, error) {
			id, ok, err := chooser.ChooseSlayerShot(ctx, self, eligible)
			return shot{target: id, ok: ok}, err
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if !s.ok {
			continue
		}

		hit, msg, err := day.SlayerShot(self, s.target)
		if err != nil {
			log.Warn().Err(err).Str("slayer", self).Msg("[杀手] 开枪无效")
			continue
		}
		emit(models.EventDayAbility, "", DayAbilityPayload{
			PlayerID: self,
			TargetID: s.target,
			Hit:      hit,
			Message:  msg,
		})
	}
	return nil
}

// DayAbilityPayload 白天能力事件内容
type DayAbilityPayload struct {
	PlayerID string `json:"player_id"`
	TargetID string `json:"target_id"`
	Hit      bool   `json:"hit"`
	Message  string `json:"message"`
}
