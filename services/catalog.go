package services

import (
	"fmt"
	"maps"
	"sort"

	"github.com/qianlnk/clocktower/models"
)

// 夜晚结算优先级，数值越小越先结算
const (
	PriorityPoison    = 10
	PriorityProtect   = 20
	PriorityMaster    = 30
	PriorityKill      = 40
	PriorityDivine    = 50
	PriorityEmpath    = 60
	PriorityUndertake = 70
	PriorityGrimoire  = 80
)

// NightEffect 夜晚能力效果，只读写 NightContext 中的名册副本
type NightEffect func(nc *NightContext, action *models.NightAction)

// SetupEffect 分配角色后立即生效的能力
type SetupEffect func(sc *SetupContext, self *models.Player)

// NominationTrigger 被提名时立即触发的能力，返回提名者是否被处决
type NominationTrigger func(nominee, nominator *models.Player, catalog Catalog) (executed bool, message string)

// AbilitySpec 角色能力描述
type AbilitySpec struct {
	Role        models.Role
	Category    models.Category
	ActsAtNight bool
	FirstNight  bool // 首夜是否行动
	OtherNights bool // 其他夜晚是否行动
	TargetArity int  // 0, 1 或 2
	AllowSelf   bool
	Priority    int
	Effect      NightEffect

	Setup        SetupEffect
	OnNominated  NominationTrigger
	OnNightDeath bool // 夜晚死亡时获得一次行动（守鸦人）
	DayShot      bool // 白天一次性能力（杀手）
	SafeFromKill bool // 免疫恶魔击杀（士兵）
	Redirects    bool // 恶魔击杀可能转移（镇长）
	LosesOnExec  bool // 被处决则所在阵营失败（圣徒）
	WinsAtThree  bool // 仅剩三人且无处决时胜利（镇长）
	Inherits     bool // 恶魔死亡时继承恶魔身份（红唇女郎）
	Misregisters bool // 可能被误判阵营（隐士、间谍）
	AddsOutsider int  // 角色池中外来者增加的数量（男爵）
}

// Alignment 由角色类别推导阵营
func (a AbilitySpec) Alignment() models.Alignment {
	return AlignmentOf(a.Category)
}

// ActsOnNight 该角色在第 night 夜是否行动
func (a AbilitySpec) ActsOnNight(night int) bool {
	if !a.ActsAtNight {
		return false
	}
	if night <= 1 {
		return a.FirstNight
	}
	return a.OtherNights
}

// AlignmentOf 类别对应的阵营
func AlignmentOf(c models.Category) models.Alignment {
	switch c {
	case models.Minion, models.Demon:
		return models.Evil
	default:
		return models.Good
	}
}

// Catalog 角色分派表
type Catalog map[models.Role]AbilitySpec

// AbilitiesFor 查询角色能力
func (c Catalog) AbilitiesFor(role models.Role) (AbilitySpec, error) {
	spec, ok := c[role]
	if !ok {
		return AbilitySpec{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return spec, nil
}

// CategoryOf 角色类别，未知角色返回空字符串
func (c Catalog) CategoryOf(role models.Role) models.Category {
	return c[role].Category
}

// RolesIn 返回某类别下的全部角色，按名称排序
func (c Catalog) RolesIn(category models.Category) []models.Role {
	roles := make([]models.Role, 0)
	for role, spec := range c {
		if spec.Category == category {
			roles = append(roles, role)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// Clone 复制分派表
func (c Catalog) Clone() Catalog {
	return maps.Clone(c)
}

var defaultCatalog = Catalog{
	// 镇民
	models.Washerwoman:  {Category: models.Townsfolk, Setup: washerwomanSetup},
	models.Librarian:    {Category: models.Townsfolk, Setup: librarianSetup},
	models.Investigator: {Category: models.Townsfolk, Setup: investigatorSetup},
	models.Chef:         {Category: models.Townsfolk, Setup: chefSetup},
	models.Empath: {
		Category: models.Townsfolk, ActsAtNight: true, FirstNight: true, OtherNights: true,
		Priority: PriorityEmpath, Effect: empathEffect,
	},
	models.FortuneTeller: {
		Category: models.Townsfolk, ActsAtNight: true, FirstNight: true, OtherNights: true,
		TargetArity: 2, AllowSelf: true, Priority: PriorityDivine, Effect: fortuneTellerEffect,
		Setup: fortuneTellerSetup,
	},
	models.Undertaker: {
		Category: models.Townsfolk, ActsAtNight: true, OtherNights: true,
		Priority: PriorityUndertake, Effect: undertakerEffect,
	},
	models.Monk: {
		Category: models.Townsfolk, ActsAtNight: true, FirstNight: true, OtherNights: true,
		TargetArity: 1, Priority: PriorityProtect, Effect: monkEffect,
	},
	models.Ravenkeeper: {
		Category: models.Townsfolk, TargetArity: 1, OnNightDeath: true,
		Priority: PriorityGrimoire, Effect: ravenkeeperEffect,
	},
	models.Virgin:  {Category: models.Townsfolk, OnNominated: virginTrigger},
	models.Slayer:  {Category: models.Townsfolk, DayShot: true},
	models.Soldier: {Category: models.Townsfolk, SafeFromKill: true},
	models.Mayor:   {Category: models.Townsfolk, Redirects: true, WinsAtThree: true},

	// 外来者
	models.Butler: {
		Category: models.Outsider, ActsAtNight: true, FirstNight: true, OtherNights: true,
		TargetArity: 1, Priority: PriorityMaster, Effect: butlerEffect,
	},
	models.Drunk:   {Category: models.Outsider, Setup: drunkSetup},
	models.Recluse: {Category: models.Outsider, Misregisters: true},
	models.Saint:   {Category: models.Outsider, LosesOnExec: true},

	// 爪牙
	models.Poisoner: {
		Category: models.Minion, ActsAtNight: true, FirstNight: true, OtherNights: true,
		TargetArity: 1, AllowSelf: true, Priority: PriorityPoison, Effect: poisonerEffect,
	},
	models.Spy: {
		Category: models.Minion, ActsAtNight: true, FirstNight: true, OtherNights: true,
		Priority: PriorityGrimoire, Effect: spyEffect, Misregisters: true,
	},
	models.ScarletWoman: {Category: models.Minion, Inherits: true},
	models.Baron:        {Category: models.Minion, AddsOutsider: 2},

	// 恶魔
	models.Imp: {
		Category: models.Demon, ActsAtNight: true, FirstNight: true, OtherNights: true,
		TargetArity: 1, AllowSelf: true, Priority: PriorityKill, Effect: impEffect,
	},
}

func init() {
	for role, spec := range defaultCatalog {
		spec.Role = role
		defaultCatalog[role] = spec
	}
}

// DefaultCatalog 返回暗流涌动剧本的角色分派表副本
func DefaultCatalog() Catalog {
	return defaultCatalog.Clone()
}

// AbilitiesFor 在默认分派表中查询角色能力
func AbilitiesFor(role models.Role) (AbilitySpec, error) {
	return defaultCatalog.AbilitiesFor(role)
}
