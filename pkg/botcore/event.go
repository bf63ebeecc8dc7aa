package botcore

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNilEvent 表示试图输出一个 nil 事件。
var ErrNilEvent = errors.New("botcore: nil event")

// EventType 标识 Event 的具体种类。
type EventType int

const (
	EventMessage EventType = iota
	EventPost
	EventFriendship
	EventRoomInvite
	EventRoomJoin
	EventRoomLeave
	EventRoomTopic
)

var eventNames = map[EventType]string{
	EventMessage:    "message",
	EventPost:       "post",
	EventFriendship: "friendship",
	EventRoomInvite: "room-invite",
	EventRoomJoin:   "room-join",
	EventRoomLeave:  "room-leave",
	EventRoomTopic:  "room-topic",
}

// String 返回事件名称，用于日志与序列化信封。
func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// Event 是封闭的事件联合类型，只有本包内定义的结构体可以实现它。
// 每条原始消息经过 Dispatcher 后恰好产生一个 Event。
type Event interface {
	Type() EventType
	sealed()
}

// MessageEvent 只携带消息 ID，完整 Message 需通过缓存回查。
type MessageEvent struct {
	MessageID string `json:"messageId"`
}

// PostEvent 朋友圈动态。
type PostEvent struct {
	PostID      string `json:"postId"`
	ContactID   string `json:"contactId,omitempty"`
	Description string `json:"description,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// FriendshipEvent 好友确认、验证或申请。
type FriendshipEvent struct {
	Friendship
}

// RoomInviteEvent 收到入群邀请卡片。
type RoomInviteEvent struct {
	RoomInvitation
}

// RoomJoinEvent 成员入群。InviteeIDList 在身份解析失败时可能为空。
type RoomJoinEvent struct {
	RoomID        string   `json:"roomId"`
	InviteeIDList []string `json:"inviteeIdList"`
	InviterID     string   `json:"inviterId"`
	Timestamp     int64    `json:"timestamp"`
}

// RoomLeaveEvent 成员被移出群聊。
type RoomLeaveEvent struct {
	RoomID        string   `json:"roomId"`
	RemoveeIDList []string `json:"removeeIdList"`
	RemoverID     string   `json:"removerId"`
	Timestamp     int64    `json:"timestamp"`
}

// RoomTopicEvent 群名变更，OldTopic 取自变更前的缓存。
type RoomTopicEvent struct {
	RoomID    string `json:"roomId"`
	ChangerID string `json:"changerId"`
	OldTopic  string `json:"oldTopic"`
	NewTopic  string `json:"newTopic"`
	Timestamp int64  `json:"timestamp"`
}

func (MessageEvent) Type() EventType    { return EventMessage }
func (PostEvent) Type() EventType       { return EventPost }
func (FriendshipEvent) Type() EventType { return EventFriendship }
func (RoomInviteEvent) Type() EventType { return EventRoomInvite }
func (RoomJoinEvent) Type() EventType   { return EventRoomJoin }
func (RoomLeaveEvent) Type() EventType  { return EventRoomLeave }
func (RoomTopicEvent) Type() EventType  { return EventRoomTopic }

func (MessageEvent) sealed()    {}
func (PostEvent) sealed()       {}
func (FriendshipEvent) sealed() {}
func (RoomInviteEvent) sealed() {}
func (RoomJoinEvent) sealed()   {}
func (RoomLeaveEvent) sealed()  {}
func (RoomTopicEvent) sealed()  {}

// Envelope 是事件对外输出的 JSON 结构：{"type": ..., "payload": ...}。
type Envelope struct {
	Type    string `json:"type"`
	Payload Event  `json:"payload"`
}

// NewEnvelope 为事件构造输出信封。
func NewEnvelope(event Event) Envelope {
	return Envelope{Type: event.Type().String(), Payload: event}
}

// MarshalEvent 将事件编码为信封 JSON。
// Parameters:
//   - event: 待编码事件，不能为 nil
//
// Returns:
//   - []byte: JSON 编码结果
//   - error: event 为 nil 或编码失败时返回
func MarshalEvent(event Event) ([]byte, error) {
	if event == nil {
		return nil, ErrNilEvent
	}
	data, err := json.Marshal(NewEnvelope(event))
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", event.Type(), err)
	}
	return data, nil
}

// EventKey 返回事件的分区键：群事件使用群 ID，其余使用来源实体 ID。
func EventKey(event Event) string {
	switch e := event.(type) {
	case MessageEvent:
		return e.MessageID
	case PostEvent:
		return e.PostID
	case FriendshipEvent:
		return e.ContactID
	case RoomInviteEvent:
		return e.InviterID
	case RoomJoinEvent:
		return e.RoomID
	case RoomLeaveEvent:
		return e.RoomID
	case RoomTopicEvent:
		return e.RoomID
	default:
		return ""
	}
}
