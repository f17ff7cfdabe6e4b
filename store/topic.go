package store

import "fmt"

// Partitions 指定哪些集合依某個欄位切分變更通知，
// 例如 {"messages": "roomId"}：訊息寫入只喚醒訂閱同一個聊天室的監聽者。
type Partitions map[string]string

// QueryTopic 回傳查詢應監聽的通知主題
func (p Partitions) QueryTopic(q Query) string {
	if field, ok := p[q.Collection]; ok {
		for _, f := range q.Filters {
			if f.Field == field && f.Op == FilterEqual {
				return partitionTopic(q.Collection, f.Value)
			}
		}
	}
	return q.Collection
}

// WriteTopics 回傳一次寫入需要發佈的主題。
// 集合主題一定發佈；若寫入的欄位值（或既有文件的欄位值）落在某個分區，也一併發佈分區主題。
func (p Partitions) WriteTopics(collection string, fields map[string]any, ops []FieldOp) []string {
	topics := []string{collection}
	field, ok := p[collection]
	if !ok {
		return topics
	}
	var value any
	if fields != nil {
		value, _ = Lookup(fields, field)
	}
	for _, op := range ops {
		if op.Path == field && op.Kind == OpSet {
			value = op.Value
		}
	}
	if value != nil {
		topics = append(topics, partitionTopic(collection, value))
	}
	return topics
}

// FilterTopics 回傳依查詢刪除時要發佈的主題
func (p Partitions) FilterTopics(q Query) []string {
	topics := []string{q.Collection}
	if t := p.QueryTopic(q); t != q.Collection {
		topics = append(topics, t)
	}
	return topics
}

func partitionTopic(collection string, value any) string {
	return fmt.Sprintf("%s.%v", collection, value)
}
