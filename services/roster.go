package services

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/qianlnk/clocktower/models"
)

// Roster 按座位排列的玩家名册
type Roster []models.Player

// NewRoster 复制玩家列表并按座位排序
func NewRoster(players []models.Player) Roster {
	r := make(Roster, len(players))
	copy(r, players)
	sort.SliceStable(r, func(i, j int) bool { return r[i].Seat < r[j].Seat })
	return r
}

// AssignRoles 打乱角色池并按座位依次分配角色
func AssignRoles(players []models.Player, pool models.RolePool, catalog Catalog, rng *rand.Rand) (Roster, error) {
	if len(players) == 0 {
		return nil, setupError(ErrInsufficientRoster, "没有玩家")
	}
	if pool.Size() != len(players) {
		return nil, setupError(ErrRoleCountMismatch, "%d 个角色对应 %d 名玩家", pool.Size(), len(players))
	}
	if err := ValidatePool(pool, catalog); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(players))
	for _, p := range players {
		if p.ID == "" || seen[p.ID] {
			return nil, setupError(ErrInsufficientRoster, "玩家ID为空或重复: %q", p.ID)
		}
		seen[p.ID] = true
	}

	roles := pool.Roles()
	rng.Shuffle(len(roles), func(i, j int) {
		roles[i], roles[j] = roles[j], roles[i]
	})

	roster := NewRoster(players)
	for i := range roster {
		spec := catalog[roles[i]]
		roster[i].Role = roles[i]
		roster[i].Alignment = spec.Alignment()
		roster[i].Alive = true
		roster[i].UsedAbility = false
		roster[i].Poisoned = false
		roster[i].Protected = false
		roster[i].Drunk = false
		roster[i].RedHerring = false
		roster[i].MasterID = ""
	}
	return roster, nil
}

// Clone 深拷贝名册
func (r Roster) Clone() Roster {
	c := make(Roster, len(r))
	copy(c, r)
	return c
}

// Alive 存活玩家，保持座位顺序
func (r Roster) Alive() []models.Player {
	alive := make([]models.Player, 0, len(r))
	for _, p := range r {
		if p.Alive {
			alive = append(alive, p)
		}
	}
	return alive
}

// AliveCount 存活人数
func (r Roster) AliveCount() int {
	n := 0
	for _, p := range r {
		if p.Alive {
			n++
		}
	}
	return n
}

// CountAlive 统计满足条件的存活玩家
func (r Roster) CountAlive(match func(models.Player) bool) int {
	n := 0
	for _, p := range r {
		if p.Alive && match(p) {
			n++
		}
	}
	return n
}

// Find 查找玩家，不存在时返回 nil
func (r Roster) Find(id string) *models.Player {
	for i := range r {
		if r[i].ID == id {
			return &r[i]
		}
	}
	return nil
}

// Kill 将玩家标记为死亡；已死亡的玩家不受影响。返回是否有存活玩家因此死亡
func (r Roster) Kill(id string) bool {
	p := r.Find(id)
	if p == nil || !p.Alive {
		return false
	}
	p.Alive = false
	return true
}

// ClearNightFlags 清除仅当晚有效的状态
func (r Roster) ClearNightFlags() {
	for i := range r {
		r[i].Poisoned = false
		r[i].Protected = false
	}
}

// Neighbours 左右两侧最近的存活邻座
func (r Roster) Neighbours(id string) []models.Player {
	alive := r.Alive()
	if len(alive) < 3 {
		return nil
	}
	idx := -1
	for i, p := range alive {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil
	}
	left := alive[(idx-1+len(alive))%len(alive)]
	right := alive[(idx+1)%len(alive)]
	return []models.Player{left, right}
}

// HasAliveSide 双方阵营是否都有存活玩家
func (r Roster) HasAliveSide(a models.Alignment) bool {
	return r.CountAlive(func(p models.Player) bool { return p.Alignment == a }) > 0
}

// IDs 返回玩家ID列表
func IDs(players []models.Player) []string {
	ids := make([]string, len(players))
	for i, p := range players {
		ids[i] = p.ID
	}
	return ids
}

// validateAssigned 检查已分配角色的名册
func validateAssigned(r Roster, catalog Catalog) error {
	if len(r) == 0 {
		return setupError(ErrInsufficientRoster, "没有玩家")
	}
	for _, p := range r {
		spec, err := catalog.AbilitiesFor(p.Role)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSetup, err)
		}
		if p.Alignment != spec.Alignment() {
			return setupError(ErrInvalidRole, "玩家 %s 的阵营 %s 与角色 %s 不符", p.ID, p.Alignment, p.Role)
		}
	}
	if !r.HasAliveSide(models.Good) || !r.HasAliveSide(models.Evil) {
		return setupError(ErrInsufficientRoster, "双方阵营都至少需要一名存活玩家")
	}
	return nil
}
