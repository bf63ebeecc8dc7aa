package wechat

import (
	"context"

	"go.uber.org/zap"

	"github.com/IMBotPlatform/wcfbridge/pkg/botcore"
)

// matchRoomInvite 识别入群邀请卡片：appmsg 子类型为链接，且标题与描述同时命中邀请模板。
func (n *notifier) matchRoomInvite(_ context.Context, raw RawMessage) (botcore.Event, error) {
	var doc AppMsgDoc
	if err := decodeMarkup(raw.Body(), &doc); err != nil {
		return nil, nil
	}
	app := doc.AppMsg
	if app.Type() != AppMsgTypeUrl || !matchAny(app.Title, roomInviteTitles) {
		return nil, nil
	}
	topic, _, ok := matchTemplates(app.Des, roomInviteDescTemplates)
	if !ok {
		return nil, nil
	}

	receiverID := n.selfID
	if raw.InRoom() {
		receiverID = raw.RoomID
	}
	return botcore.RoomInviteEvent{RoomInvitation: botcore.RoomInvitation{
		ID:         MessageID(raw),
		InviterID:  raw.Sender,
		Topic:      topic,
		Avatar:     app.ThumbURL,
		Invitation: app.URL,
		ReceiverID: receiverID,
		Timestamp:  raw.Ts,
	}}, nil
}

// matchFriendship 识别好友通知：
//   - confirm / verify：私聊中的文本或系统消息，联系人即发送者
//   - receive：好友申请（type=37），资料直接取自申请文档
func (n *notifier) matchFriendship(_ context.Context, raw RawMessage) (botcore.Event, error) {
	if raw.InRoom() {
		return nil, nil
	}
	switch raw.Type {
	case MsgTypeVerifyMsg:
		return n.friendshipReceive(raw), nil
	case MsgTypeText, MsgTypeSys:
	default:
		return nil, nil
	}

	text := notificationText(raw)
	var kind botcore.FriendshipType
	switch {
	case matchAny(text, friendshipConfirmPatterns):
		kind = botcore.FriendshipConfirm
	case matchAny(text, friendshipVerifyPatterns):
		kind = botcore.FriendshipVerify
	default:
		return nil, nil
	}

	contactID := raw.Sender
	if contactID == "" || contactID == n.selfID {
		contactID = raw.RoomID
	}
	return botcore.FriendshipEvent{Friendship: botcore.Friendship{
		ID:        MessageID(raw),
		Kind:      kind,
		ContactID: contactID,
		Timestamp: raw.Ts,
	}}, nil
}

// friendshipReceive 解码好友申请文档，文档无法解析时返回 nil 交由消息路径处理。
func (n *notifier) friendshipReceive(raw RawMessage) botcore.Event {
	var doc VerifyMsgDoc
	if err := decodeMarkup(raw.Content, &doc); err != nil || doc.FromUsername == "" {
		n.logger.Warn("好友申请文档解析失败",
			zap.String("msg_id", MessageID(raw)),
			zap.Error(err))
		return nil
	}

	avatar := doc.SmallHeadImgURL
	if avatar == "" {
		avatar = doc.BigHeadImgURL
	}
	requester := &botcore.Contact{
		ID:       doc.FromUsername,
		Name:     doc.FromNickname,
		Alias:    doc.Alias,
		Avatar:   avatar,
		Gender:   botcore.ContactGender(atoi(doc.Sex)),
		Type:     ContactTypeOf(doc.FromUsername),
		City:     doc.City,
		Province: doc.Province,
	}
	return botcore.FriendshipEvent{Friendship: botcore.Friendship{
		ID:        MessageID(raw),
		Kind:      botcore.FriendshipReceive,
		ContactID: doc.FromUsername,
		Hello:     doc.Content,
		Scene:     atoi(doc.Scene),
		Ticket:    doc.Ticket,
		Stranger:  doc.EncryptUsername,
		Timestamp: raw.Ts,
		Requester: requester,
	}}
}

// matchPost 识别朋友圈动态。文档缺失时仍生成事件，只是没有描述。
func (n *notifier) matchPost(_ context.Context, raw RawMessage) (botcore.Event, error) {
	post := botcore.PostEvent{
		PostID:    MessageID(raw),
		ContactID: raw.Sender,
		Timestamp: raw.Ts,
	}
	var doc TimelineDoc
	if err := decodeMarkup(raw.Content, &doc); err != nil {
		n.logger.Debug("朋友圈文档解析失败", zap.String("msg_id", post.PostID), zap.Error(err))
		return post, nil
	}
	if doc.ID != "" {
		post.PostID = doc.ID
	}
	if doc.Username != "" {
		post.ContactID = doc.Username
	}
	post.Description = doc.ContentDesc
	return post, nil
}
