package logschema

import (
	"fmt"
	"sort"
	"strings"
)

// Schema 定义每个审计事件所需的关键字段，便于集中校验。
type Schema struct {
	Event    string
	Required []string
}

var schemas = map[string]Schema{
	"strategy_created": {
		Event:    "strategy_created",
		Required: []string{"strategyId", "kind", "symbol"},
	},
	"strategy_status": {
		Event:    "strategy_status",
		Required: []string{"strategyId", "kind", "from", "to"},
	},
	"order_placed": {
		Event:    "order_placed",
		Required: []string{"strategyId", "symbol", "clientOrderId", "side", "qty"},
	},
	"order_rejected": {
		Event:    "order_rejected",
		Required: []string{"strategyId", "symbol", "reason"},
	},
	"order_update": {
		Event:    "order_update",
		Required: []string{"symbol", "status", "clientOrderId"},
	},
	"order_canceled": {
		Event:    "order_canceled",
		Required: []string{"strategyId", "symbol", "clientOrderId"},
	},
	"grid_rearm": {
		Event:    "grid_rearm",
		Required: []string{"strategyId", "level", "side", "price"},
	},
	"slice_retry": {
		Event:    "slice_retry",
		Required: []string{"strategyId", "slice", "attempt"},
	},
	"price_deviation": {
		Event:    "price_deviation",
		Required: []string{"strategyId", "symbol", "price", "deviation"},
	},
	"inconsistency": {
		Event:    "inconsistency",
		Required: []string{"symbol", "reason"},
	},
}

// Known 返回所有事件名，便于外部生成文档。
func Known() []string {
	names := make([]string, 0, len(schemas))
	for k := range schemas {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Validate 检查日志字段是否包含 schema 中要求的 key。
func Validate(event string, fields map[string]interface{}) error {
	s, ok := schemas[event]
	if !ok {
		return nil
	}
	var missing []string
	for _, key := range s.Required {
		if v, exists := fields[key]; !exists || v == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s missing fields: %s", event, strings.Join(missing, ","))
	}
	return nil
}
