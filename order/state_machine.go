package order

import (
	"fmt"
	"sync"
)

// StateTransition 状态转换
type StateTransition struct {
	From Status
	To   Status
}

// StateMachine 订单状态机
type StateMachine struct {
	transitions map[StateTransition]bool
	mu          sync.RWMutex
}

// NewStateMachine 创建新的状态机
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[StateTransition]bool),
	}
	sm.initializeTransitions()
	return sm
}

var defaultStateMachine = NewStateMachine()

// initializeTransitions 初始化所有合法的状态转换
func (sm *StateMachine) initializeTransitions() {
	legalTransitions := []StateTransition{
		// 从PENDING可以转到
		{StatusPending, StatusNew},
		{StatusPending, StatusPartiallyFilled},
		{StatusPending, StatusFilled}, // 市价单确认即成交
		{StatusPending, StatusRejected},
		{StatusPending, StatusExpired},
		{StatusPending, StatusCanceled},

		// 从NEW可以转到
		{StatusNew, StatusPartiallyFilled},
		{StatusNew, StatusFilled},
		{StatusNew, StatusCanceled},
		{StatusNew, StatusRejected},
		{StatusNew, StatusExpired},

		// 从PARTIALLY_FILLED可以转到
		{StatusPartiallyFilled, StatusFilled},
		{StatusPartiallyFilled, StatusCanceled},
		{StatusPartiallyFilled, StatusExpired},

		// 终态不能转换（FILLED, CANCELED, REJECTED, EXPIRED）
	}

	for _, t := range legalTransitions {
		sm.transitions[t] = true
	}
}

// ValidateTransition 验证状态转换是否合法
func (sm *StateMachine) ValidateTransition(from, to Status) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	// 相同状态允许（幂等性，多次部分成交）
	if from == to {
		return nil
	}

	if !sm.transitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("illegal state transition: %s -> %s", from, to)
	}
	return nil
}

// CanCancel 交易所已确认且未终结的订单才能撤。PENDING 未确认，撤单前需先查询。
func CanCancel(status Status) bool {
	switch status {
	case StatusNew, StatusPartiallyFilled:
		return true
	default:
		return false
	}
}
