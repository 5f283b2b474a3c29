package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qianlnk/clocktower/models"
)

var (
	ErrNoPendingDecision = errors.New("没有等待中的决策")
	ErrDecisionMismatch  = errors.New("提交的动作与等待中的决策不符")
)

// DecisionRequest 等待真人玩家回答的决策请求
type DecisionRequest struct {
	ID         string             `json:"id"`
	PlayerID   string             `json:"player_id"`
	Kind       string             `json:"kind"` // models.ActionNight 等
	Role       models.Role        `json:"role,omitempty"`
	Eligible   []string           `json:"eligible,omitempty"`
	Arity      int                `json:"arity,omitempty"`
	Nomination *models.Nomination `json:"nomination,omitempty"`
	CreatedAt  int64              `json:"created_at"`
}

type pendingDecision struct {
	req   DecisionRequest
	reply chan models.GameAction
}

// HumanPlayer 通过 Submit 接收真人玩家回答的决策来源
type HumanPlayer struct {
	mu      sync.Mutex
	pending map[string]*pendingDecision
	notify  func(DecisionRequest)
}

// NewHumanPlayer 创建真人决策来源，notify 在每个请求发出时调用
func NewHumanPlayer(notify func(DecisionRequest)) *HumanPlayer {
	return &HumanPlayer{
		pending: make(map[string]*pendingDecision),
		notify:  notify,
	}
}

// ChooseNightAction 实现 DecisionProvider
func (h *HumanPlayer) ChooseNightAction(ctx context.Context, actorID string, role models.Role, eligible []string, arity int) ([]string, error) {
	a, err := h.await(ctx, DecisionRequest{
		PlayerID: actorID,
		Kind:     models.ActionNight,
		Role:     role,
		Eligible: eligible,
		Arity:    arity,
	})
	if err != nil {
		return nil, err
	}
	if a.Pass {
		return nil, fmt.Errorf("%s 放弃行动", actorID)
	}
	return a.Targets, nil
}

// ChooseVote 实现 DecisionProvider
func (h *HumanPlayer) ChooseVote(ctx context.Context, voterID string, nomination models.Nomination) (bool, error) {
	a, err := h.await(ctx, DecisionRequest{
		PlayerID:   voterID,
		Kind:       models.ActionVote,
		Nomination: &nomination,
	})
	if err != nil {
		return false, err
	}
	return a.Vote && !a.Pass, nil
}

// ChooseNomination 实现 DecisionProvider
func (h *HumanPlayer) ChooseNomination(ctx context.Context, nominatorID string, eligible []string) (string, bool, error) {
	a, err := h.await(ctx, DecisionRequest{
		PlayerID: nominatorID,
		Kind:     models.ActionNominate,
		Eligible: eligible,
	})
	if err != nil {
		return "", false, err
	}
	if a.Pass || len(a.Targets) == 0 {
		return "", false, nil
	}
	return a.Targets[0], true, nil
}

// ChooseSlayerShot 实现 DayAbilityChooser
func (h *HumanPlayer) ChooseSlayerShot(ctx context.Context, slayerID string, eligible []string) (string, bool, error) {
	a, err := h.await(ctx, DecisionRequest{
		PlayerID: slayerID,
		Kind:     models.ActionDayPower,
		Eligible: eligible,
		Arity:    1,
	})
	if err != nil {
		return "", false, err
	}
	if a.Pass || len(a.Targets) == 0 {
		return "", false, nil
	}
	return a.Targets[0], true, nil
}

// Submit 回答玩家当前等待中的决策
func (h *HumanPlayer) Submit(action models.GameAction) error {
	h.mu.Lock()
	p, ok := h.pending[action.PlayerID]
	if !ok {
		h.mu.Unlock()
		return ErrNoPendingDecision
	}
	if p.req.Kind != action.Type {
		h.mu.Unlock()
		return fmt.Errorf("%w: 等待 %s，收到 %s", ErrDecisionMismatch, p.req.Kind, action.Type)
	}
	delete(h.pending, action.PlayerID)
	h.mu.Unlock()

	if action.Timestamp == 0 {
		action.Timestamp = time.Now().Unix()
	}
	p.reply <- action
	return nil
}

// Pending 玩家当前等待中的决策
func (h *HumanPlayer) Pending(playerID string) (DecisionRequest, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pending[playerID]
	if !ok {
		return DecisionRequest{}, false
	}
	return p.req, true
}

// PendingAll 全部等待中的决策
func (h *HumanPlayer) PendingAll() []DecisionRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	reqs := make([]DecisionRequest, 0, len(h.pending))
	for _, p := range h.pending {
		reqs = append(reqs, p.req)
	}
	return reqs
}

func (h *HumanPlayer) await(ctx context.Context, req DecisionRequest) (models.GameAction, error) {
	req.ID = uuid.NewString()
	req.CreatedAt = time.Now().Unix()
	p := &pendingDecision{req: req, reply: make(chan models.GameAction, 1)}

	h.mu.Lock()
	h.pending[req.PlayerID] = p
	notify := h.notify
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		if h.pending[req.PlayerID] == p {
			delete(h.pending, req.PlayerID)
		}
		h.mu.Unlock()
	}()

	if notify != nil {
		notify(req)
	}

	select {
	case a := <-p.reply:
		return a, nil
	case <-ctx.Done():
		return models.GameAction{}, ctx.Err()
	}
}
