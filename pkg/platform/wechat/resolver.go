package wechat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/IMBotPlatform/wcfbridge/pkg/botcore"
	"github.com/IMBotPlatform/wcfbridge/pkg/cache"
)

// resolver 将通知中的显示名解析为联系人 ID。
// 解析永远只针对目标群当前的成员集合，不查全局联系人：同一联系人在不同群里可以有不同的显示名。
type resolver struct {
	selfID string
	cache  *cache.Manager
	source Source // 可为 nil，此时未命中不会触发刷新
	logger *zap.Logger
}

// members 返回群成员，顺序为：Room.MemberIDList 中的顺序，随后是其余缓存键（已排序）。
// 固定的顺序保证重名时“取第一个”的结果可复现。
func (r *resolver) members(ctx context.Context, roomID string) ([]botcore.RoomMember, error) {
	ns := r.cache.RoomMembers(roomID)
	room, _, err := r.cache.Rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	keys, err := ns.Keys(ctx)
	if err != nil {
		return nil, err
	}

	order := make([]string, 0, len(room.MemberIDList)+len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, id := range append(append([]string{}, room.MemberIDList...), keys...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		order = append(order, id)
	}

	members := make([]botcore.RoomMember, 0, len(order))
	for _, id := range order {
		m, ok, err := ns.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			members = append(members, m)
		}
	}
	return members, nil
}

// search 在缓存中按显示名查找：先比对群昵称，再比对备注或昵称，各自取第一个命中。
func (r *resolver) search(ctx context.Context, roomID, name string) (string, bool, error) {
	members, err := r.members(ctx, roomID)
	if err != nil {
		return "", false, err
	}
	for _, m := range members {
		if m.RoomAlias != "" && m.RoomAlias == name {
			return m.ID, true, nil
		}
	}
	for _, m := range members {
		if m.Name == name {
			return m.ID, true, nil
		}
	}
	return "", false, nil
}

// refreshRoom 从数据源拉取群与成员快照并回写缓存。
// 数据源错误只记录日志（视为未命中），存储错误向上返回。
func (r *resolver) refreshRoom(ctx context.Context, roomID string) (bool, error) {
	if r.source == nil {
		return false, nil
	}
	room, err := r.source.GetRoomInfo(ctx, roomID)
	if err != nil {
		r.logger.Warn("拉取群信息失败", zap.String("room_id", roomID), zap.Error(err))
		return false, nil
	}
	members, err := r.source.GetRoomMembers(ctx, roomID, room.MemberIDList, room.MemberAliases)
	if err != nil {
		r.logger.Warn("拉取群成员失败", zap.String("room_id", roomID), zap.Error(err))
		return false, nil
	}
	if err := r.cache.Rooms.Set(ctx, roomID, room); err != nil {
		return false, err
	}
	if err := r.cache.RoomMembers(roomID).SetList(ctx, members, cache.RoomMemberKey); err != nil {
		return false, err
	}
	return true, nil
}

// resolveNames 解析一组显示名，未解析的名字记录日志后丢弃。
// 任意名字未命中时最多刷新一次群成员（读穿透），之后再查。
func (r *resolver) resolveNames(ctx context.Context, roomID string, names []string) ([]string, error) {
	ids := make([]string, 0, len(names))
	refreshed := false
	for _, name := range names {
		if isSelfName(name) {
			ids = append(ids, r.selfID)
			continue
		}
		id, ok, err := r.search(ctx, roomID, name)
		if err != nil {
			return nil, err
		}
		if !ok && !refreshed {
			refreshed = true
			updated, err := r.refreshRoom(ctx, roomID)
			if err != nil {
				return nil, err
			}
			if updated {
				if id, ok, err = r.search(ctx, roomID, name); err != nil {
					return nil, err
				}
			}
		}
		if !ok {
			r.logger.Warn("群成员显示名未能解析",
				zap.String("room_id", roomID),
				zap.String("name", name))
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// isSelfName 判断名单中的名字是否指代当前账号。
func isSelfName(name string) bool {
	return name == "你" || name == "You" || name == "you"
}

// resolveOne 解析单个显示名，self 为 true 时直接返回当前账号。
func (r *resolver) resolveOne(ctx context.Context, roomID string, self bool, name string) (string, error) {
	if self {
		return r.selfID, nil
	}
	if name == "" {
		return "", nil
	}
	ids, err := r.resolveNames(ctx, roomID, []string{name})
	if err != nil {
		return "", fmt.Errorf("resolve %q in %s: %w", name, roomID, err)
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}
