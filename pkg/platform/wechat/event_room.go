package wechat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/IMBotPlatform/wcfbridge/pkg/botcore"
)

// matchRoomJoin 识别入群通知。
//
// 平台在推送入群通知后才会异步同步群成员列表，因此被邀请人可能暂时无法解析。
// 被邀请人解析结果为空且仍有重试次数时，等待 backoff 后重新解析，
// 最多等待 attempts 次；次数用尽后按已解析的结果（可能为空）生成事件。
//
// 流程图：
//
//	[模板匹配] --未命中--> [返回 nil]
//	    |
//	    v
//	[解析邀请人与被邀请人] -> [被邀请人为空?] --否--> [返回 RoomJoinEvent]
//	    ^                          |
//	    |                          是
//	    |                          v
//	    +---- [sleep(backoff)] <-- [attempt < attempts?] --否--> [返回 RoomJoinEvent]
func (n *notifier) matchRoomJoin(ctx context.Context, raw RawMessage) (botcore.Event, error) {
	m, idx, ok := matchTemplates(notificationText(raw), joinTemplates)
	if !ok {
		return nil, nil
	}
	roomID := raw.RoomID

	for attempt := 0; ; attempt++ {
		inviteeIDs, err := n.resolveJoinInvitees(ctx, roomID, m)
		if err != nil {
			return nil, err
		}
		if len(inviteeIDs) > 0 || attempt >= n.attempts {
			inviterID, err := n.resolver.resolveOne(ctx, roomID, m.inviterSelf, m.inviter)
			if err != nil {
				return nil, err
			}
			if len(inviteeIDs) == 0 {
				n.logger.Warn("入群通知的被邀请人未能解析",
					zap.String("room_id", roomID),
					zap.Strings("names", m.invitees),
					zap.Int("attempts", attempt))
			}
			return botcore.RoomJoinEvent{
				RoomID:        roomID,
				InviteeIDList: inviteeIDs,
				InviterID:     inviterID,
				Timestamp:     raw.Ts,
			}, nil
		}

		n.logger.Debug("被邀请人尚未同步，等待重试",
			zap.String("room_id", roomID),
			zap.Int("template", idx),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", n.backoff))
		if err := n.sleep(ctx, n.backoff); err != nil {
			return nil, fmt.Errorf("wait for room %s members: %w", roomID, err)
		}
	}
}

// resolveJoinInvitees 解析被邀请人，通知中包含自己时自己排在最前面。
func (n *notifier) resolveJoinInvitees(ctx context.Context, roomID string, m joinMatch) ([]string, error) {
	ids, err := n.resolver.resolveNames(ctx, roomID, m.invitees)
	if err != nil {
		return nil, err
	}
	if m.inviteeSelf {
		ids = append([]string{n.selfID}, ids...)
	}
	return ids, nil
}

// matchRoomLeave 识别移出群聊通知。成员移除不存在同步延迟，不做重试。
func (n *notifier) matchRoomLeave(ctx context.Context, raw RawMessage) (botcore.Event, error) {
	m, _, ok := matchTemplates(notificationText(raw), leaveTemplates)
	if !ok {
		return nil, nil
	}
	roomID := raw.RoomID

	removeeIDs, err := n.resolver.resolveNames(ctx, roomID, m.removees)
	if err != nil {
		return nil, err
	}
	if m.removeeSelf {
		removeeIDs = append([]string{n.selfID}, removeeIDs...)
	}
	removerID, err := n.resolver.resolveOne(ctx, roomID, m.removerSelf, m.remover)
	if err != nil {
		return nil, err
	}
	return botcore.RoomLeaveEvent{
		RoomID:        roomID,
		RemoveeIDList: removeeIDs,
		RemoverID:     removerID,
		Timestamp:     raw.Ts,
	}, nil
}

// matchRoomTopic 识别群名变更通知。旧群名在缓存被覆盖前读取。
func (n *notifier) matchRoomTopic(ctx context.Context, raw RawMessage) (botcore.Event, error) {
	m, _, ok := matchTemplates(notificationText(raw), topicTemplates)
	if !ok {
		return nil, nil
	}
	roomID := raw.RoomID

	room, _, err := n.cache.Rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	changerID, err := n.resolver.resolveOne(ctx, roomID, m.changerSelf, m.changer)
	if err != nil {
		return nil, err
	}
	return botcore.RoomTopicEvent{
		RoomID:    roomID,
		ChangerID: changerID,
		OldTopic:  room.Topic,
		NewTopic:  m.topic,
		Timestamp: raw.Ts,
	}, nil
}
