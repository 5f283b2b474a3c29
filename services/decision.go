package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qianlnk/clocktower/models"
)

// DecisionProvider 外部决策来源（真人、脚本或随机AI），引擎对其实现一视同仁
type DecisionProvider interface {
	// ChooseNightAction 选择夜晚行动目标，返回的数量应等于 arity
	ChooseNightAction(ctx context.Context, actorID string, role models.Role, eligible []string, arity int) ([]string, error)
	// ChooseVote 对当前提名投票
	ChooseVote(ctx context.Context, voterID string, nomination models.Nomination) (bool, error)
	// ChooseNomination 选择提名对象，ok 为 false 表示不提名
	ChooseNomination(ctx context.Context, nominatorID string, eligible []string) (nomineeID string, ok bool, err error)
}

// DayAbilityChooser 可选扩展：白天主动能力（杀手开枪）
type DayAbilityChooser interface {
	ChooseSlayerShot(ctx context.Context, slayerID string, eligible []string) (targetID string, ok bool, err error)
}

// decide 在超时限制内调用决策函数，超时或出错时返回 fallback。
// 决策函数在独立协程中运行，即使实现方忽略 ctx 也不会阻塞引擎。
func decide[T any](ctx context.Context, timeout time.Duration, fallback T, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return fallback, ErrDecisionTimeout
			}
			return fallback, r.err
		}
		return r.value, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fallback, ErrDecisionTimeout
		}
		return fallback, fmt.Errorf("决策被取消: %w", ctx.Err())
	}
}
