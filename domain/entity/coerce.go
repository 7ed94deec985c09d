package entity

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Coerce 将任意输入转换为列类型对应的归一化值；nil 保持为 nil
func (c Column) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch c.Type {
	case TypeString:
		return coerceString(v)
	case TypeInt:
		return coerceInt(v)
	case TypeFloat:
		return coerceFloat(v)
	case TypeBool:
		return coerceBool(v)
	case TypeTime:
		return coerceTime(v)
	default:
		return nil, fmt.Errorf("unsupported column type %s", c.Type)
	}
}

func coerceString(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case int, int32, int64, bool:
		return fmt.Sprint(val), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case fmt.Stringer:
		return val.String(), nil
	default:
		return nil, fmt.Errorf("expected string, got %T", v)
	}
}

func coerceInt(v any) (any, error) {
	switch val := v.(type) {
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case float64:
		if val != math.Trunc(val) || math.IsInf(val, 0) || math.IsNaN(val) {
			return nil, fmt.Errorf("expected integer, got %v", val)
		}
		return int64(val), nil
	case json.Number:
		return val.Int64()
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected integer, got %q", val)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("expected integer, got %T", v)
	}
}

func coerceFloat(v any) (any, error) {
	var f float64
	switch val := v.(type) {
	case int:
		f = float64(val)
	case int32:
		f = float64(val)
	case int64:
		f = float64(val)
	case float32:
		f = float64(val)
	case float64:
		f = val
	case json.Number:
		n, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("expected number, got %q", val.String())
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("expected number, got %q", val)
		}
		f = n
	default:
		return nil, fmt.Errorf("expected number, got %T", v)
	}
	// NaN 与 ±Inf 无法写入 JSON 审计快照，也无法参与排序
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("expected finite number, got %v", v)
	}
	return f, nil
}

func coerceBool(v any) (any, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("expected boolean, got %q", val)
		}
		return b, nil
	case int:
		return val != 0, nil
	case int64:
		return val != 0, nil
	default:
		return nil, fmt.Errorf("expected boolean, got %T", v)
	}
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

func coerceTime(v any) (any, error) {
	switch val := v.(type) {
	case time.Time:
		return val.UTC(), nil
	case string:
		s := strings.TrimSpace(val)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return nil, fmt.Errorf("expected RFC 3339 timestamp or date, got %q", val)
	default:
		return nil, fmt.Errorf("expected timestamp, got %T", v)
	}
}
