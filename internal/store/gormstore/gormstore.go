// Package gormstore 基于 GORM/MySQL 的存储网关实现
// 写路径落库后把变更事件发布到信封通道（Redis 发布订阅），
// 订阅路径从注入的信封来源（Redis 或 WebSocket 中继）还原事件
package gormstore

import (
	"context"
	"errors"
	"fmt"

	"pairchat/config"
	"pairchat/internal/model"
	"pairchat/internal/store"
	"pairchat/pkg/errs"
	"pairchat/pkg/logger"
	redispkg "pairchat/pkg/redis"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// mysqlDuplicateEntry 唯一索引冲突错误码
const mysqlDuplicateEntry = 1062

// Publisher 变更事件发布端
type Publisher interface {
	PublishChange(ctx context.Context, env store.Envelope) error
}

// 订阅通道默认缓冲大小
const defaultEventBuffer = 64

// Options 网关可选依赖
type Options struct {
	Publisher   Publisher          // 变更事件发布端，nil 表示本网关不产生推送
	Feed        store.FeedSource   // 订阅来源，nil 表示本网关不支持订阅
	Cache       *redispkg.Client   // 消息历史缓存，nil 表示不启用
	CacheConfig config.CacheConfig // 缓存参数（cache 配置段），仅在 Cache 非空时生效
	EventBuffer int                // 订阅通道缓冲大小（sync.eventBuffer 配置），0 使用默认值
}

// Store GORM存储网关
type Store struct {
	orm         *gorm.DB
	pub         Publisher
	feed        store.FeedSource
	cache       *redispkg.Client
	eventBuffer int
}

var _ store.Gateway = (*Store)(nil)

// New 创建网关
func New(orm *gorm.DB, opts Options) *Store {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	if opts.Cache != nil {
		redispkg.SetHistoryCacheConfig(opts.CacheConfig.TTL, opts.CacheConfig.MaxMessages)
	}
	return &Store{
		orm:         orm,
		pub:         opts.Publisher,
		feed:        opts.Feed,
		cache:       opts.Cache,
		eventBuffer: opts.EventBuffer,
	}
}

// emptyRowOf 集合对应的空模型指针，表名由模型推导
func emptyRowOf(collection string) (any, error) {
	switch collection {
	case store.CollectionUsers:
		return &model.User{}, nil
	case store.CollectionFriendRequests:
		return &model.FriendRequest{}, nil
	case store.CollectionBlockedUsers:
		return &model.BlockRelation{}, nil
	case store.CollectionChats:
		return &model.Chat{}, nil
	case store.CollectionChatMembers:
		return &model.ChatMember{}, nil
	case store.CollectionMessages:
		return &model.Message{}, nil
	default:
		return nil, fmt.Errorf("未知集合: %s", collection)
	}
}

// Query 等值条件查询
// dest 必须是模型切片指针；messages 的标准历史查询会先走缓存
func (s *Store) Query(ctx context.Context, collection string, filter store.Filter, opts store.QueryOptions, dest any) error {
	if _, err := emptyRowOf(collection); err != nil {
		return err
	}
	if s.tryCachedHistory(ctx, collection, filter, opts, dest) {
		return nil
	}

	tx := s.orm.WithContext(ctx)
	if len(filter) > 0 {
		tx = tx.Where(map[string]any(filter))
	}
	if opts.OrderBy != "" {
		tx = tx.Order(opts.OrderBy)
	}
	if opts.Limit > 0 {
		tx = tx.Limit(opts.Limit)
	}
	if err := tx.Find(dest).Error; err != nil {
		return translateErr(err)
	}

	s.fillHistoryCache(ctx, collection, filter, opts, dest)
	return nil
}

// Insert 插入一行并发布 insert 事件
// 唯一索引冲突翻译为 Conflict
func (s *Store) Insert(ctx context.Context, collection string, row any) error {
	if _, err := emptyRowOf(collection); err != nil {
		return err
	}
	if err := s.orm.WithContext(ctx).Create(row).Error; err != nil {
		return translateErr(err)
	}
	s.invalidateMessageCache(ctx, collection, row)
	s.publish(ctx, store.KindInsert, collection, row)
	return nil
}

// Update 按条件更新并对受影响的行发布 update 事件
func (s *Store) Update(ctx context.Context, collection string, filter store.Filter, patch map[string]any) (int64, error) {
	empty, err := emptyRowOf(collection)
	if err != nil {
		return 0, err
	}
	res := s.orm.WithContext(ctx).Model(empty).Where(map[string]any(filter)).Updates(patch)
	if res.Error != nil {
		return 0, translateErr(res.Error)
	}
	if res.RowsAffected > 0 && s.pub != nil {
		// 更新会改写过滤条件里的列（例如 status），
		// 重查时去掉被改写的键才能找回受影响的行
		requery := store.Filter{}
		for k, v := range filter {
			if _, patched := patch[k]; !patched {
				requery[k] = v
			}
		}
		for k, v := range patch {
			requery[k] = v
		}
		rows, err := s.queryRows(ctx, collection, requery)
		if err != nil {
			logger.Warn("更新后重查失败，跳过事件发布", zap.String("collection", collection), zap.Error(err))
		} else {
			for _, row := range rows {
				s.publish(ctx, store.KindUpdate, collection, row)
			}
		}
	}
	return res.RowsAffected, nil
}

// Delete 按条件删除并对被删的行发布 delete 事件
// 删除不存在的行不是错误，返回受影响行数 0
func (s *Store) Delete(ctx context.Context, collection string, filter store.Filter) (int64, error) {
	empty, err := emptyRowOf(collection)
	if err != nil {
		return 0, err
	}

	// 先取出将被删除的行，事件里需要携带行数据（至少是ID）
	rows, err := s.queryRows(ctx, collection, filter)
	if err != nil {
		return 0, err
	}

	res := s.orm.WithContext(ctx).Where(map[string]any(filter)).Delete(empty)
	if res.Error != nil {
		return 0, translateErr(res.Error)
	}

	for _, row := range rows {
		s.invalidateMessageCache(ctx, collection, row)
		s.publish(ctx, store.KindDelete, collection, row)
	}
	return res.RowsAffected, nil
}

// Subscribe 打开一条变更订阅
func (s *Store) Subscribe(ctx context.Context, collection string, filter store.Filter) (store.Subscription, error) {
	if s.feed == nil {
		return nil, fmt.Errorf("网关未配置订阅来源")
	}
	if _, err := emptyRowOf(collection); err != nil {
		return nil, err
	}
	sub, err := s.feed.Subscribe(ctx, collection)
	if err != nil {
		return nil, errs.Transient(err)
	}

	fs := &feedSubscription{
		inner:  sub,
		filter: filter,
		events: make(chan store.Event, s.eventBuffer),
		done:   make(chan struct{}),
	}
	go fs.pump()
	return fs, nil
}

// queryRows 按集合取出模型行（事件发布用）
func (s *Store) queryRows(ctx context.Context, collection string, filter store.Filter) ([]any, error) {
	tx := s.orm.WithContext(ctx)
	if len(filter) > 0 {
		tx = tx.Where(map[string]any(filter))
	}

	var out []any
	switch collection {
	case store.CollectionUsers:
		var rows []model.User
		if err := tx.Find(&rows).Error; err != nil {
			return nil, translateErr(err)
		}
		for i := range rows {
			out = append(out, &rows[i])
		}
	case store.CollectionFriendRequests:
		var rows []model.FriendRequest
		if err := tx.Find(&rows).Error; err != nil {
			return nil, translateErr(err)
		}
		for i := range rows {
			out = append(out, &rows[i])
		}
	case store.CollectionBlockedUsers:
		var rows []model.BlockRelation
		if err := tx.Find(&rows).Error; err != nil {
			return nil, translateErr(err)
		}
		for i := range rows {
			out = append(out, &rows[i])
		}
	case store.CollectionChats:
		var rows []model.Chat
		if err := tx.Find(&rows).Error; err != nil {
			return nil, translateErr(err)
		}
		for i := range rows {
			out = append(out, &rows[i])
		}
	case store.CollectionChatMembers:
		var rows []model.ChatMember
		if err := tx.Find(&rows).Error; err != nil {
			return nil, translateErr(err)
		}
		for i := range rows {
			out = append(out, &rows[i])
		}
	case store.CollectionMessages:
		var rows []model.Message
		if err := tx.Find(&rows).Error; err != nil {
			return nil, translateErr(err)
		}
		for i := range rows {
			out = append(out, &rows[i])
		}
	default:
		return nil, fmt.Errorf("未知集合: %s", collection)
	}
	return out, nil
}

// publish 发布变更事件（尽力而为，失败只记日志）
// 推送通道本身无投递保证，消费端靠重同步兜底
func (s *Store) publish(ctx context.Context, kind store.Kind, collection string, row any) {
	if s.pub == nil {
		return
	}
	env, err := store.EncodeEnvelope(kind, collection, row)
	if err != nil {
		logger.Error("编码变更事件失败", zap.String("collection", collection), zap.Error(err))
		return
	}
	if err := s.pub.PublishChange(ctx, env); err != nil {
		logger.Warn("发布变更事件失败",
			zap.String("collection", collection),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}

// translateErr 把底层错误翻译为统一错误分类
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return errs.Conflictf("duplicate entry: %s", mysqlErr.Message)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.NotFoundf("record not found")
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Transient(err)
	}
	return errs.Unknown(err)
}

// feedSubscription 把信封流转换为带过滤的事件流
type feedSubscription struct {
	inner  store.FeedSub
	filter store.Filter
	events chan store.Event
	done   chan struct{}
	err    error
}

func (f *feedSubscription) pump() {
	defer close(f.events)

	for env := range f.inner.Envelopes() {
		row, err := store.DecodeRow(env.Collection, env.Row)
		if err != nil {
			logger.Warn("丢弃无法解码的变更事件", zap.String("collection", env.Collection), zap.Error(err))
			continue
		}
		if !store.MatchFilter(row, f.filter) {
			continue
		}
		select {
		case f.events <- store.Event{Kind: env.Kind, Collection: env.Collection, Row: row}:
		case <-f.done:
			return
		}
	}

	// 信封通道断开：区分主动关闭与瞬时故障
	select {
	case <-f.done:
	default:
		if err := f.inner.Err(); err != nil && !errors.Is(err, context.Canceled) {
			f.err = errs.Transient(err)
		}
	}
}

func (f *feedSubscription) Events() <-chan store.Event {
	return f.events
}

func (f *feedSubscription) Err() error {
	return f.err
}

func (f *feedSubscription) Close() {
	select {
	case <-f.done:
	default:
		close(f.done)
	}
	f.inner.Close()
}
