package store

import (
	"encoding/json"
	"fmt"
)

// RowFields 把模型行展开为 列名->值 的JSON对象
// 列名即模型的json标签，与过滤条件的键一致
func RowFields(row any) (map[string]any, bool) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, false
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, false
	}
	return fields, true
}

// MatchFilter 行是否满足等值过滤条件
// 值按字符串形式比较，足以覆盖ID/状态/布尔这几类列
func MatchFilter(row any, filter Filter) bool {
	if len(filter) == 0 {
		return true
	}
	fields, ok := RowFields(row)
	if !ok {
		return false
	}
	for col, want := range filter {
		got, present := fields[col]
		if !present {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
