package store

import (
	"reflect"
	"strings"
	"time"
)

// Normalize 將寫入值轉成儲存層統一使用的型別：
// 整數 -> int64、[]string 等切片 -> []any、巢狀 map -> map[string]any、時間 -> UTC。
func Normalize(v any) any {
	switch x := v.(type) {
	case nil, bool, string, int64, float64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.UTC()
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC()
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case []any:
		return normalizeSlice(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = Normalize(val)
		}
		return out
	case map[string]int64:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = val
		}
		return out
	case map[string]int:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = int64(val)
		}
		return out
	}
	return v
}

func normalizeSlice(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = Normalize(v)
	}
	return out
}

// CloneValue 深度複製 map 與切片，避免呼叫端持有儲存層內部狀態
func CloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return CloneFields(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = CloneValue(e)
		}
		return out
	}
	return v
}

func CloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = CloneValue(v)
	}
	return out
}

// Clone 回傳文件的深度複本
func (d Document) Clone() Document {
	return Document{ID: d.ID, Fields: CloneFields(d.Fields), Version: d.Version}
}

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, int, int32, float64:
		return 2
	case string:
		return 3
	case time.Time:
		return 4
	case []any:
		return 5
	case map[string]any:
		return 6
	}
	return 7
}

// Compare 定義跨型別的全序：nil < bool < 數字 < 字串 < 時間 < 陣列 < map
func Compare(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch x := a.(type) {
	case nil:
		return 0
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case string:
		return strings.Compare(x, b.(string))
	case time.Time:
		y := b.(time.Time)
		switch {
		case x.Before(y):
			return -1
		case x.After(y):
			return 1
		}
		return 0
	case []any:
		y := b.([]any)
		for i := 0; i < len(x) && i < len(y); i++ {
			if c := Compare(x[i], y[i]); c != 0 {
				return c
			}
		}
		return compareInts(int64(len(x)), int64(len(y)))
	case map[string]any:
		if reflect.DeepEqual(a, b) {
			return 0
		}
		y := b.(map[string]any)
		if c := compareInts(int64(len(x)), int64(len(y))); c != 0 {
			return c
		}
		return 1
	}
	if ra == 2 {
		fa, fb := toFloat(a), toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return 0
}

func Equal(a, b any) bool {
	return Compare(a, b) == 0
}

func compareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
