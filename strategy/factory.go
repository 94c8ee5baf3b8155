package strategy

import (
	"fmt"

	"algo-exec-go/order"
)

// Factory 根据参数类型创建策略实例。
type Factory struct {
	deps Deps
}

// NewFactory creates a Factory sharing deps across all strategies it builds.
func NewFactory(deps Deps) *Factory {
	return &Factory{deps: deps.withDefaults()}
}

// Deps 返回工厂使用的依赖（已补默认值）。
func (f *Factory) Deps() Deps { return f.deps }

// Create 校验参数并返回 Pending 状态的策略；params 必须与 kind 匹配。
func (f *Factory) Create(kind Kind, params interface{}, rules order.SymbolRules) (Strategy, error) {
	switch kind {
	case KindOCO:
		p, ok := params.(OCOParams)
		if !ok {
			return nil, fmt.Errorf("oco strategy needs OCOParams, got %T", params)
		}
		s, err := NewOCO(p, rules, f.deps)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindTWAP:
		p, ok := params.(TWAPParams)
		if !ok {
			return nil, fmt.Errorf("twap strategy needs TWAPParams, got %T", params)
		}
		s, err := NewTWAP(p, rules, f.deps)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindGrid:
		p, ok := params.(GridParams)
		if !ok {
			return nil, fmt.Errorf("grid strategy needs GridParams, got %T", params)
		}
		s, err := NewGrid(p, rules, f.deps)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown strategy type: %s", kind)
	}
}
