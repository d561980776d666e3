// Package memstore 内存版存储网关
// 供测试与嵌入式使用：与生产网关相同的语义，包括唯一约束冲突
// 和变更事件广播，但所有数据只存在于进程内
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"pairchat/internal/store"
	"pairchat/pkg/errs"

	"github.com/google/uuid"
)

// Store 内存存储网关
type Store struct {
	mu   sync.RWMutex
	rows map[string][]any // 集合 -> 模型指针列表
	subs map[string][]*memSub
}

var _ store.Gateway = (*Store)(nil)

// New 创建空的内存网关
func New() *Store {
	return &Store{
		rows: make(map[string][]any),
		subs: make(map[string][]*memSub),
	}
}

// Query 等值条件查询
func (s *Store) Query(ctx context.Context, collection string, filter store.Filter, opts store.QueryOptions, dest any) error {
	if err := ctx.Err(); err != nil {
		return errs.Transient(err)
	}

	s.mu.RLock()
	var matched []any
	for _, row := range s.rows[collection] {
		if store.MatchFilter(row, filter) {
			matched = append(matched, cloneRow(row))
		}
	}
	s.mu.RUnlock()

	if opts.OrderBy != "" {
		sortRows(matched, opts.OrderBy)
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return fillDest(dest, matched)
}

// Insert 插入一行，唯一约束冲突返回 Conflict
func (s *Store) Insert(ctx context.Context, collection string, row any) error {
	if err := ctx.Err(); err != nil {
		return errs.Transient(err)
	}

	stored := cloneRow(row)
	prepareRow(stored)

	s.mu.Lock()
	if err := s.checkUnique(collection, stored); err != nil {
		s.mu.Unlock()
		return err
	}
	s.rows[collection] = append(s.rows[collection], stored)
	s.mu.Unlock()

	// 把生成的ID/时间写回调用方的行（仿照gorm Create）
	copyInto(row, stored)

	s.broadcast(store.Event{Kind: store.KindInsert, Collection: collection, Row: cloneRow(stored)})
	return nil
}

// Update 按条件更新，返回受影响行数
func (s *Store) Update(ctx context.Context, collection string, filter store.Filter, patch map[string]any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, errs.Transient(err)
	}

	var updated []any
	s.mu.Lock()
	for i, row := range s.rows[collection] {
		if !store.MatchFilter(row, filter) {
			continue
		}
		next, err := applyPatch(row, patch)
		if err != nil {
			s.mu.Unlock()
			return 0, err
		}
		s.rows[collection][i] = next
		updated = append(updated, cloneRow(next))
	}
	s.mu.Unlock()

	for _, row := range updated {
		s.broadcast(store.Event{Kind: store.KindUpdate, Collection: collection, Row: row})
	}
	return int64(len(updated)), nil
}

// Delete 按条件删除，返回受影响行数
// 删除不存在的行不是错误
func (s *Store) Delete(ctx context.Context, collection string, filter store.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, errs.Transient(err)
	}

	var removed []any
	s.mu.Lock()
	kept := s.rows[collection][:0]
	for _, row := range s.rows[collection] {
		if store.MatchFilter(row, filter) {
			removed = append(removed, cloneRow(row))
		} else {
			kept = append(kept, row)
		}
	}
	s.rows[collection] = kept
	s.mu.Unlock()

	for _, row := range removed {
		s.broadcast(store.Event{Kind: store.KindDelete, Collection: collection, Row: row})
	}
	return int64(len(removed)), nil
}

// Subscribe 打开一条变更订阅
func (s *Store) Subscribe(ctx context.Context, collection string, filter store.Filter) (store.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Transient(err)
	}

	sub := &memSub{
		store:      s,
		collection: collection,
		filter:     filter,
		events:     make(chan store.Event, 64),
	}
	s.mu.Lock()
	s.subs[collection] = append(s.subs[collection], sub)
	s.mu.Unlock()
	return sub, nil
}

// FailSubscriptions 模拟推送通道故障：关闭所有订阅并标记瞬时错误
// 测试重连路径用
func (s *Store) FailSubscriptions() {
	s.mu.Lock()
	var all []*memSub
	for _, subs := range s.subs {
		all = append(all, subs...)
	}
	s.subs = make(map[string][]*memSub)
	s.mu.Unlock()

	for _, sub := range all {
		sub.fail(errs.Transientf("feed channel lost"))
	}
}

// broadcast 向匹配的订阅投递事件
func (s *Store) broadcast(event store.Event) {
	s.mu.RLock()
	subs := make([]*memSub, len(s.subs[event.Collection]))
	copy(subs, s.subs[event.Collection])
	s.mu.RUnlock()

	for _, sub := range subs {
		if store.MatchFilter(event.Row, sub.filter) {
			sub.deliver(event)
		}
	}
}

// removeSub 注销订阅
func (s *Store) removeSub(target *memSub) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.subs[target.collection]
	for i, sub := range subs {
		if sub == target {
			s.subs[target.collection] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// checkUnique 复刻生产库的唯一约束（调用方需持有写锁）
func (s *Store) checkUnique(collection string, row any) error {
	fields, _ := store.RowFields(row)
	id := fmt.Sprint(fields["id"])
	for _, existing := range s.rows[collection] {
		ef, _ := store.RowFields(existing)
		if fmt.Sprint(ef["id"]) == id {
			return errs.Conflictf("duplicate id in %s", collection)
		}
		switch collection {
		case store.CollectionChats:
			if key, ok := fields["pair_key"].(string); ok && key != "" && ef["pair_key"] == key {
				return errs.Conflictf("duplicate chat pair %s", key)
			}
		case store.CollectionChatMembers:
			if ef["chat_id"] == fields["chat_id"] && ef["user_id"] == fields["user_id"] {
				return errs.Conflictf("duplicate chat member")
			}
		case store.CollectionBlockedUsers:
			if ef["blocker_id"] == fields["blocker_id"] && ef["blocked_id"] == fields["blocked_id"] {
				return errs.Conflictf("duplicate block relation")
			}
		}
	}
	return nil
}

// memSub 内存订阅
// 投递与关闭由同一把锁串行化，并发的广播不会撞上已关闭的通道
type memSub struct {
	store      *Store
	collection string
	filter     store.Filter

	mu     sync.Mutex
	events chan store.Event
	closed bool
	err    error
}

func (m *memSub) deliver(event store.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		// 订阅关闭后的投递直接丢弃
		return
	}
	select {
	case m.events <- event:
	default:
		// 消费端积压时丢弃，靠重同步兜底
	}
}

func (m *memSub) Events() <-chan store.Event {
	return m.events
}

func (m *memSub) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *memSub) Close() {
	m.store.removeSub(m)
	m.shutdown(nil)
}

func (m *memSub) fail(err error) {
	m.shutdown(err)
}

func (m *memSub) shutdown(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.err = err
	close(m.events)
}

// cloneRow 深拷贝模型行，避免调用方与存储互相别名
func cloneRow(row any) any {
	data, err := json.Marshal(row)
	if err != nil {
		return row
	}
	out := reflect.New(reflect.TypeOf(row).Elem()).Interface()
	if err := json.Unmarshal(data, out); err != nil {
		return row
	}
	return out
}

// copyInto 把存储行的内容写回调用方的行
func copyInto(dst, src any) {
	data, err := json.Marshal(src)
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, dst)
}

// prepareRow 补齐主键与时间字段（仿照gorm的BeforeCreate钩子）
func prepareRow(row any) {
	v := reflect.ValueOf(row).Elem()
	if f := v.FieldByName("ID"); f.IsValid() && f.Kind() == reflect.String && f.String() == "" {
		f.SetString(uuid.NewString())
	}
	now := time.Now()
	for _, name := range []string{"CreatedAt", "SentAt"} {
		if f := v.FieldByName(name); f.IsValid() && f.Type() == reflect.TypeOf(time.Time{}) {
			if f.Interface().(time.Time).IsZero() {
				f.Set(reflect.ValueOf(now))
			}
		}
	}
}

// applyPatch 通过JSON往返把列级补丁套到行上
func applyPatch(row any, patch map[string]any) (any, error) {
	fields, ok := store.RowFields(row)
	if !ok {
		return nil, fmt.Errorf("无法展开行字段")
	}
	for col, val := range patch {
		fields[col] = val
	}
	if _, hasUpdated := fields["updated_at"]; hasUpdated {
		if _, patched := patch["updated_at"]; !patched {
			fields["updated_at"] = time.Now()
		}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	next := reflect.New(reflect.TypeOf(row).Elem()).Interface()
	if err := json.Unmarshal(data, next); err != nil {
		return nil, fmt.Errorf("应用补丁失败: %w", err)
	}
	return next, nil
}

// sortRows 按 "col [ASC|DESC], col2 ..." 排序
func sortRows(rows []any, orderBy string) {
	type orderKey struct {
		col  string
		desc bool
	}
	var keys []orderKey
	for _, part := range strings.Split(orderBy, ",") {
		tokens := strings.Fields(strings.TrimSpace(part))
		if len(tokens) == 0 {
			continue
		}
		key := orderKey{col: tokens[0]}
		if len(tokens) > 1 && strings.EqualFold(tokens[1], "DESC") {
			key.desc = true
		}
		keys = append(keys, key)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		fi, _ := store.RowFields(rows[i])
		fj, _ := store.RowFields(rows[j])
		for _, key := range keys {
			a := fmt.Sprint(fi[key.col])
			b := fmt.Sprint(fj[key.col])
			if a == b {
				continue
			}
			if key.desc {
				return a > b
			}
			return a < b
		}
		return false
	})
}

// fillDest 把查询结果写入目标切片
func fillDest(dest any, rows []any) error {
	v := reflect.ValueOf(dest)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("dest 必须是切片指针")
	}
	slice := v.Elem()
	slice.SetLen(0)
	for _, row := range rows {
		slice = reflect.Append(slice, reflect.ValueOf(row).Elem())
	}
	v.Elem().Set(slice)
	return nil
}
