package store

import (
	"sort"
)

type FilterOp int

const (
	FilterEqual FilterOp = iota
	FilterArrayContains
)

// Filter 是單一欄位上的篩選條件
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

func Where(field string, value any) Filter {
	return Filter{Field: field, Op: FilterEqual, Value: Normalize(value)}
}

func ArrayContains(field string, value any) Filter {
	return Filter{Field: field, Op: FilterArrayContains, Value: Normalize(value)}
}

// Query 描述一個集合查詢：多個篩選條件（AND）、單一欄位排序與筆數上限。
// 排序時缺少排序欄位的文件一律排在最後，同值以文件 ID 升冪決勝。
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// Matches 回傳文件是否符合所有篩選條件
func (q Query) Matches(doc Document) bool {
	for _, f := range q.Filters {
		var v any
		var ok bool
		if f.Field == DocumentID {
			v, ok = doc.ID, true
		} else {
			v, ok = Lookup(doc.Fields, f.Field)
		}
		if !ok {
			return false
		}
		switch f.Op {
		case FilterEqual:
			if !Equal(v, f.Value) {
				return false
			}
		case FilterArrayContains:
			arr, isArr := v.([]any)
			if !isArr || indexOf(arr, f.Value) < 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// SortDocuments 依查詢的排序規則原地排序
func (q Query) SortDocuments(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		return q.less(docs[i], docs[j])
	})
}

func (q Query) less(a, b Document) bool {
	if q.OrderBy != "" {
		va, okA := Lookup(a.Fields, q.OrderBy)
		vb, okB := Lookup(b.Fields, q.OrderBy)
		okA = okA && va != nil
		okB = okB && vb != nil
		switch {
		case okA && !okB:
			return true
		case !okA && okB:
			return false
		case okA && okB:
			c := Compare(va, vb)
			if q.Descending {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
	}
	return a.ID < b.ID
}

// Run 在記憶體中的文件集合上執行查詢
func (q Query) Run(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if q.Matches(d) {
			out = append(out, d)
		}
	}
	q.SortDocuments(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
