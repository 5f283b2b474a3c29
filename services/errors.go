package services

import (
	"errors"
	"fmt"
)

var (
	// 准备阶段错误，致命，游戏无法开始
	ErrSetup              = errors.New("游戏准备失败")
	ErrRoleCountMismatch  = errors.New("角色数量与玩家数量不一致")
	ErrInsufficientRoster = errors.New("玩家阵容不足")
	ErrInvalidRole        = errors.New("未知角色")

	// 可在本地恢复的错误
	ErrActionTargetInvalid = errors.New("无效的行动目标")
	ErrDuplicateNomination = errors.New("该玩家今天已被提名")
	ErrInvalidNomination   = errors.New("无效的提名")
	ErrDecisionTimeout     = errors.New("决策超时")

	// 程序错误，致命
	ErrInvariantViolation = errors.New("状态机不变量被破坏")
)

// setupError 将具体原因包装为准备阶段错误
func setupError(cause error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrSetup, cause, fmt.Sprintf(format, args...))
}

// IsFatal 判断错误是否应当终止游戏
func IsFatal(err error) bool {
	return errors.Is(err, ErrSetup) || errors.Is(err, ErrInvariantViolation)
}
