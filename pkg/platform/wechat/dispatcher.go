package wechat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/IMBotPlatform/wcfbridge/pkg/botcore"
	"github.com/IMBotPlatform/wcfbridge/pkg/cache"
)

var (
	// ErrStorage 包装处理消息期间的缓存读写失败，此时消息被跳过，不产生事件。
	ErrStorage = errors.New("wechat: storage failure")
	// ErrEmit 表示事件已生成并写入缓存，但推送给宿主失败。
	ErrEmit = errors.New("wechat: emit failed")
)

// Dispatcher 串行处理原始消息：先尝试系统通知路由，未命中时走通用消息路径，
// 写穿缓存后恰好推送一个事件。
type Dispatcher struct {
	selfID     string
	cache      *cache.Manager
	source     Source
	logger     *zap.Logger
	emitter    botcore.Emitter
	classifier *Classifier
	resolver   *resolver
	chain      *botcore.Chain[RawMessage]

	routeNames  []string
	sleep       SleepFunc
	attempts    int
	backoff     time.Duration
	classifyOps []ClassifierOption
}

// DispatcherOption 用于定制 Dispatcher。
type DispatcherOption func(*Dispatcher)

// WithLogger 注入日志器，同时传递给解析器与匹配器。
func WithLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithEmitter 设置事件输出。
func WithEmitter(emitter botcore.Emitter) DispatcherOption {
	return func(d *Dispatcher) {
		d.emitter = emitter
	}
}

// WithRoutes 指定启用的系统通知路由及其顺序，名称见 Route* 常量。
// 传入空列表时保持默认路由顺序 DefaultRouteNames。
func WithRoutes(names ...string) DispatcherOption {
	return func(d *Dispatcher) {
		if len(names) == 0 {
			return
		}
		d.routeNames = append([]string{}, names...)
	}
}

// WithSleep 替换入群重试的等待函数。
func WithSleep(sleep SleepFunc) DispatcherOption {
	return func(d *Dispatcher) {
		if sleep != nil {
			d.sleep = sleep
		}
	}
}

// WithRetry 设置入群重试次数与间隔，attempts<0 视为 0。
func WithRetry(attempts int, backoff time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if attempts < 0 {
			attempts = 0
		}
		d.attempts = attempts
		d.backoff = backoff
	}
}

// WithClassifierOptions 透传解析器选项，例如 WithLocale。
func WithClassifierOptions(opts ...ClassifierOption) DispatcherOption {
	return func(d *Dispatcher) {
		d.classifyOps = append(d.classifyOps, opts...)
	}
}

// NewDispatcher 创建调度器。路由表在这里一次性构造，之后不可修改。
// Parameters:
//   - selfID: 当前登录账号 ID
//   - manager: 存在性缓存
//   - source: 缓存未命中时的数据源，可为 nil
func NewDispatcher(selfID string, manager *cache.Manager, source Source, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		selfID:     selfID,
		cache:      manager,
		source:     source,
		logger:     zap.NewNop(),
		emitter:    botcore.EmitterFunc(nil),
		routeNames: DefaultRouteNames,
		sleep:      sleepContext,
		attempts:   defaultJoinAttempts,
		backoff:    defaultJoinBackoff,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.emitter == nil {
		d.emitter = botcore.EmitterFunc(nil)
	}

	classifyOps := append([]ClassifierOption{WithClassifierLogger(d.logger)}, d.classifyOps...)
	d.classifier = NewClassifier(selfID, classifyOps...)

	d.resolver = &resolver{
		selfID: selfID,
		cache:  manager,
		source: source,
		logger: d.logger,
	}
	n := &notifier{
		selfID:   selfID,
		cache:    manager,
		resolver: d.resolver,
		logger:   d.logger,
		sleep:    d.sleep,
		attempts: d.attempts,
		backoff:  d.backoff,
	}
	d.chain = botcore.NewChain(n.routes(d.routeNames)...)
	return d
}

// Dispatch 处理一条原始消息。
//
// 流程图：
//
//	[预热发送者/群缓存] -> [路由链] --命中--> [事件]
//	                          |
//	                        未命中
//	                          v
//	                 [Classify + 写入消息缓存] -> [MessageEvent]
//	                                                    |
//	[事件] -> [applyEvent 写穿缓存] -> [Emit] <---------+
//
// Returns:
//   - botcore.Event: 成功时恰好一个事件
//   - error: 缓存失败（ErrStorage，消息被跳过，未推送）或推送失败（ErrEmit）
func (d *Dispatcher) Dispatch(ctx context.Context, raw RawMessage) (botcore.Event, error) {
	// 1. 读穿透预热
	if err := d.warm(ctx, raw); err != nil {
		return nil, fmt.Errorf("%w: warm cache: %w", ErrStorage, err)
	}

	// 2. 系统通知路由，第一个命中者胜出
	event, route, err := d.chain.Match(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: route %s: %w", ErrStorage, route, err)
	}

	// 3. 未命中时退化为普通消息
	if event == nil {
		if event, err = d.handleMessage(ctx, raw); err != nil {
			return nil, fmt.Errorf("%w: message: %w", ErrStorage, err)
		}
		route = "message"
	}

	// 4. 写穿缓存
	if err := d.applyEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("%w: apply %s: %w", ErrStorage, event.Type(), err)
	}

	d.logger.Debug("消息已分发",
		zap.String("msg_id", MessageID(raw)),
		zap.String("route", route),
		zap.Stringer("event", event.Type()))

	// 5. 推送
	if err := d.emitter.Emit(ctx, event); err != nil {
		return event, fmt.Errorf("%w: %w", ErrEmit, err)
	}
	return event, nil
}

// handleMessage 解析消息并写入消息缓存。@ 列表中不在群成员缓存里的 ID 记为未解析。
func (d *Dispatcher) handleMessage(ctx context.Context, raw RawMessage) (botcore.Event, error) {
	msg := d.classifier.Classify(raw)
	if msg.InRoom() && len(msg.MentionIDList) > 0 {
		members := d.cache.RoomMembers(msg.RoomID)
		for _, id := range msg.MentionIDList {
			ok, err := members.Has(ctx, id)
			if err != nil {
				return nil, err
			}
			if !ok {
				msg.UnresolvedMentionIDList = append(msg.UnresolvedMentionIDList, id)
			}
		}
	}
	if err := d.cache.Messages.Set(ctx, msg.ID, msg); err != nil {
		return nil, err
	}
	return botcore.MessageEvent{MessageID: msg.ID}, nil
}

// warm 在匹配前确保发送者与所在群已在缓存中。数据源错误只记录日志。
func (d *Dispatcher) warm(ctx context.Context, raw RawMessage) error {
	if d.source == nil {
		return nil
	}
	if raw.Sender != "" && raw.Sender != d.selfID {
		ok, err := d.cache.Contacts.Has(ctx, raw.Sender)
		if err != nil {
			return err
		}
		if !ok {
			contact, err := d.source.GetContactInfo(ctx, raw.Sender)
			switch {
			case err != nil:
				d.logger.Debug("拉取联系人失败", zap.String("contact_id", raw.Sender), zap.Error(err))
			default:
				if err := d.cache.Contacts.Set(ctx, contact.ID, contact); err != nil {
					return err
				}
			}
		}
	}
	if roomID := raw.Room(); roomID != "" {
		ok, err := d.cache.Rooms.Has(ctx, roomID)
		if err != nil {
			return err
		}
		if !ok {
			if _, err := d.resolver.refreshRoom(ctx, roomID); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyEvent 按事件类型写穿缓存。新增事件类型时必须在这里补充分支。
func (d *Dispatcher) applyEvent(ctx context.Context, event botcore.Event) error {
	switch e := event.(type) {
	case botcore.MessageEvent:
		// 消息在 handleMessage 中已写入
		return nil
	case botcore.PostEvent:
		return nil
	case botcore.FriendshipEvent:
		return d.cache.Friendships.Set(ctx, e.ID, e.Friendship)
	case botcore.RoomInviteEvent:
		return d.cache.RoomInvitations.Set(ctx, e.ID, e.RoomInvitation)
	case botcore.RoomJoinEvent:
		return d.addMembers(ctx, e.RoomID, e.InviteeIDList)
	case botcore.RoomLeaveEvent:
		return d.removeMembers(ctx, e.RoomID, e.RemoveeIDList)
	case botcore.RoomTopicEvent:
		room, _, err := d.cache.Rooms.Get(ctx, e.RoomID)
		if err != nil {
			return err
		}
		room.ID = e.RoomID
		room.Topic = e.NewTopic
		return d.cache.Rooms.Set(ctx, e.RoomID, room)
	default:
		return fmt.Errorf("unhandled event type %s", event.Type())
	}
}

// addMembers 将新成员加入群成员快照与成员子空间，已存在的成员保持不变。
func (d *Dispatcher) addMembers(ctx context.Context, roomID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	room, _, err := d.cache.Rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	room.ID = roomID
	members := d.cache.RoomMembers(roomID)
	for _, id := range ids {
		if !room.HasMember(id) {
			room.MemberIDList = append(room.MemberIDList, id)
		}
		ok, err := members.Has(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		member := botcore.RoomMember{RoomID: roomID, ID: id}
		contact, found, err := d.cache.Contacts.Get(ctx, id)
		if err != nil {
			return err
		}
		if found {
			member.Name = contact.DisplayName()
			member.Avatar = contact.Avatar
		}
		if err := members.Set(ctx, id, member); err != nil {
			return err
		}
	}
	return d.cache.Rooms.Set(ctx, roomID, room)
}

// removeMembers 从群成员快照与成员子空间中删除成员。
func (d *Dispatcher) removeMembers(ctx context.Context, roomID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	room, found, err := d.cache.Rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	removed := make(map[string]struct{}, len(ids))
	members := d.cache.RoomMembers(roomID)
	for _, id := range ids {
		removed[id] = struct{}{}
		if err := members.Delete(ctx, id); err != nil {
			return err
		}
	}
	if !found {
		return nil
	}
	kept := make([]string, 0, len(room.MemberIDList))
	for _, id := range room.MemberIDList {
		if _, ok := removed[id]; !ok {
			kept = append(kept, id)
		}
	}
	room.MemberIDList = kept
	return d.cache.Rooms.Set(ctx, roomID, room)
}

// Run 串行消费消息通道：一条消息处理完（含缓存写入与推送）才开始下一条。
// 单条消息失败只记录日志；通道关闭时返回 nil，ctx 结束时返回 ctx.Err()。
func (d *Dispatcher) Run(ctx context.Context, in <-chan RawMessage) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			if _, err := d.Dispatch(ctx, raw); err != nil {
				d.logger.Error("消息处理失败，已跳过",
					zap.String("msg_id", MessageID(raw)),
					zap.Int("type", raw.Type),
					zap.Error(err))
			}
		}
	}
}

// Preload 从数据源批量加载联系人、群与群成员。
// 单个实体写入互相独立，部分失败不会破坏已写入的条目。
func (d *Dispatcher) Preload(ctx context.Context) error {
	if d.source == nil {
		return nil
	}
	contacts, err := d.source.GetContactList(ctx)
	if err != nil {
		return fmt.Errorf("load contacts: %w", err)
	}
	if err := d.cache.Contacts.SetList(ctx, contacts, cache.ContactKey); err != nil {
		return fmt.Errorf("%w: store contacts: %w", ErrStorage, err)
	}

	rooms, err := d.source.GetRoomList(ctx)
	if err != nil {
		return fmt.Errorf("load rooms: %w", err)
	}
	if err := d.cache.Rooms.SetList(ctx, rooms, cache.RoomKey); err != nil {
		return fmt.Errorf("%w: store rooms: %w", ErrStorage, err)
	}
	for _, room := range rooms {
		members, err := d.source.GetRoomMembers(ctx, room.ID, room.MemberIDList, room.MemberAliases)
		if err != nil {
			d.logger.Warn("加载群成员失败", zap.String("room_id", room.ID), zap.Error(err))
			continue
		}
		if err := d.cache.RoomMembers(room.ID).SetList(ctx, members, cache.RoomMemberKey); err != nil {
			return fmt.Errorf("%w: store members of %s: %w", ErrStorage, room.ID, err)
		}
	}

	d.logger.Info("缓存预加载完成",
		zap.Int("contacts", len(contacts)),
		zap.Int("rooms", len(rooms)))
	return nil
}
