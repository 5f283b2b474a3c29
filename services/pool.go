package services

import (
	"fmt"
	"math/rand"

	"github.com/qianlnk/clocktower/models"
)

// 各人数下的角色类别分布：镇民、外来者、爪牙、恶魔
var distribution = map[int][4]int{
	5:  {3, 0, 1, 1},
	6:  {3, 1, 1, 1},
	7:  {5, 0, 1, 1},
	8:  {5, 1, 1, 1},
	9:  {5, 2, 1, 1},
	10: {7, 0, 2, 1},
	11: {7, 1, 2, 1},
	12: {7, 2, 2, 1},
	13: {9, 0, 3, 1},
	14: {9, 1, 3, 1},
	15: {9, 2, 3, 1},
}

// 支持的人数范围
const (
	MinPoolPlayers = 5
	MaxPoolPlayers = 15
)

// StandardPool 七人局固定角色池（5镇民 / 0外来者 / 1爪牙 / 1恶魔）
func StandardPool() models.RolePool {
	return models.RolePool{
		models.Townsfolk: {models.Washerwoman, models.Investigator, models.Chef, models.Empath, models.Slayer},
		models.Outsider:  {},
		models.Minion:    {models.Poisoner},
		models.Demon:     {models.Imp},
	}
}

// GenerateRolePool 按人数随机生成角色池
func GenerateRolePool(playerCount int, catalog Catalog, rng *rand.Rand) (models.RolePool, error) {
	counts, ok := distribution[playerCount]
	if !ok {
		return nil, setupError(ErrInsufficientRoster, "支持 %d-%d 名玩家，当前 %d", MinPoolPlayers, MaxPoolPlayers, playerCount)
	}

	pool := models.RolePool{}
	pool[models.Demon] = pick(catalog.RolesIn(models.Demon), counts[3], rng)
	pool[models.Minion] = pick(catalog.RolesIn(models.Minion), counts[2], rng)

	townsfolk, outsiders := counts[0], counts[1]
	for _, role := range pool[models.Minion] {
		extra := catalog[role].AddsOutsider
		if extra > townsfolk {
			extra = townsfolk
		}
		townsfolk -= extra
		outsiders += extra
	}
	if available := len(catalog.RolesIn(models.Outsider)); outsiders > available {
		townsfolk += outsiders - available
		outsiders = available
	}

	pool[models.Outsider] = pick(catalog.RolesIn(models.Outsider), outsiders, rng)
	pool[models.Townsfolk] = pick(catalog.RolesIn(models.Townsfolk), townsfolk, rng)
	return pool, nil
}

// ValidatePool 校验角色池中的每个角色都存在且类别正确
func ValidatePool(pool models.RolePool, catalog Catalog) error {
	for category, roles := range pool {
		for _, role := range roles {
			spec, err := catalog.AbilitiesFor(role)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrSetup, err)
			}
			if spec.Category != category {
				return setupError(ErrInvalidRole, "角色 %s 属于 %s 而不是 %s", role, spec.Category, category)
			}
		}
	}
	return nil
}

// pick 无放回随机抽取 n 个角色
func pick(roles []models.Role, n int, rng *rand.Rand) []models.Role {
	if n > len(roles) {
		n = len(roles)
	}
	shuffled := make([]models.Role, len(roles))
	copy(shuffled, roles)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:n]
}
