package services

import (
	"github.com/qianlnk/clocktower/models"
)

// WinEvaluator 胜负判定
type WinEvaluator struct {
	catalog Catalog
}

// NewWinEvaluator 创建胜负判定实例
func NewWinEvaluator(catalog Catalog) WinEvaluator {
	return WinEvaluator{catalog: catalog}
}

// Evaluate 恶魔全部死亡则善良胜利；存活邪恶人数不少于存活善良人数则邪恶胜利
func (w WinEvaluator) Evaluate(players []models.Player) models.Winner {
	var demons, evil, good int
	for _, p := range players {
		if !p.Alive {
			continue
		}
		if w.catalog.CategoryOf(p.Role) == models.Demon {
			demons++
		}
		if p.Alignment == models.Evil {
			evil++
		} else {
			good++
		}
	}

	switch {
	case demons == 0:
		return models.WinnerGood
	case evil >= good:
		return models.WinnerEvil
	default:
		return models.NoWinner
	}
}

// mayorWins 仅剩三人存活且当天无人被处决时，未失效的镇长所在阵营胜利
func (w WinEvaluator) mayorWins(players []models.Player, executed bool) bool {
	if executed {
		return false
	}
	roster := Roster(players)
	if roster.AliveCount() != 3 {
		return false
	}
	return roster.CountAlive(func(p models.Player) bool {
		return w.catalog[p.Role].WinsAtThree && !p.Impaired()
	}) > 0
}
