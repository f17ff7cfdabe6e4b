package store

import (
	"fmt"
	"strings"
	"time"
)

// OpKind 表示欄位操作的種類
type OpKind int

const (
	OpSet OpKind = iota
	OpIncrement
	OpArrayUnion
	OpArrayRemove
	OpServerTimestamp
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpIncrement:
		return "increment"
	case OpArrayUnion:
		return "arrayUnion"
	case OpArrayRemove:
		return "arrayRemove"
	case OpServerTimestamp:
		return "serverTimestamp"
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}

// FieldOp 是作用在單一欄位路徑上的寫入操作。
// 路徑以 "." 分隔，例如 "unreadCounts.u1"。
type FieldOp struct {
	Path   string
	Kind   OpKind
	Value  any
	Delta  int64
	Values []any
}

func Set(path string, value any) FieldOp {
	return FieldOp{Path: path, Kind: OpSet, Value: Normalize(value)}
}

func Increment(path string, delta int64) FieldOp {
	return FieldOp{Path: path, Kind: OpIncrement, Delta: delta}
}

func ArrayUnion(path string, values ...any) FieldOp {
	return FieldOp{Path: path, Kind: OpArrayUnion, Values: normalizeSlice(values)}
}

func ArrayRemove(path string, values ...any) FieldOp {
	return FieldOp{Path: path, Kind: OpArrayRemove, Values: normalizeSlice(values)}
}

// ServerTimestamp 由儲存端在提交時填入時間
func ServerTimestamp(path string) FieldOp {
	return FieldOp{Path: path, Kind: OpServerTimestamp}
}

// SplitPath 驗證並切分欄位路徑
func SplitPath(path string) ([]string, error) {
	if path == "" || path == DocumentID {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" || strings.HasPrefix(p, "$") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return parts, nil
}

// Apply 將 ops 依序套用到 fields 上（就地修改）。now 是本次提交的伺服器時間。
func Apply(fields map[string]any, ops []FieldOp, now time.Time) error {
	for _, op := range ops {
		parts, err := SplitPath(op.Path)
		if err != nil {
			return err
		}
		parent, err := parentMap(fields, parts)
		if err != nil {
			return err
		}
		key := parts[len(parts)-1]

		switch op.Kind {
		case OpSet:
			parent[key] = CloneValue(op.Value)
		case OpServerTimestamp:
			parent[key] = now
		case OpIncrement:
			cur, err := asInt64(parent[key])
			if err != nil {
				return fmt.Errorf("increment %s: %w", op.Path, err)
			}
			parent[key] = cur + op.Delta
		case OpArrayUnion:
			arr, err := asArray(parent[key])
			if err != nil {
				return fmt.Errorf("arrayUnion %s: %w", op.Path, err)
			}
			for _, v := range op.Values {
				if indexOf(arr, v) < 0 {
					arr = append(arr, CloneValue(v))
				}
			}
			parent[key] = arr
		case OpArrayRemove:
			arr, err := asArray(parent[key])
			if err != nil {
				return fmt.Errorf("arrayRemove %s: %w", op.Path, err)
			}
			kept := arr[:0:0]
			for _, v := range arr {
				if indexOf(op.Values, v) < 0 {
					kept = append(kept, v)
				}
			}
			parent[key] = kept
		default:
			return fmt.Errorf("unknown op %v on %s", op.Kind, op.Path)
		}
	}
	return nil
}

// parentMap 取得（必要時建立）路徑最後一段的上層 map
func parentMap(fields map[string]any, parts []string) (map[string]any, error) {
	cur := fields
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p]
		if !ok || next == nil {
			m := map[string]any{}
			cur[p] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a map", ErrInvalidPath, p)
		}
		cur = m
	}
	return cur, nil
}

// Lookup 依路徑讀取欄位值
func Lookup(fields map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	cur := fields
	parts := strings.Split(path, ".")
	for i, p := range parts {
		v, ok := cur[p]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		cur = m
	}
	return nil, false
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	}
	return 0, fmt.Errorf("field holds %T, not a number", v)
}

func asArray(v any) ([]any, error) {
	switch a := v.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return a, nil
	}
	return nil, fmt.Errorf("field holds %T, not an array", v)
}

func indexOf(arr []any, v any) int {
	for i, x := range arr {
		if Equal(x, v) {
			return i
		}
	}
	return -1
}
