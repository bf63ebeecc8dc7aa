package wechat

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RawMessage 表示 wcf 推送的原始消息（WxMsg），从传输层收到后不再修改。
type RawMessage struct {
	ID      uint64 `json:"id"`       // 平台消息 ID，未同步的自发消息可能为 0
	Type    int    `json:"type"`     // 消息类型，见 MsgType*
	IsSelf  bool   `json:"is_self"`  // 是否为自己发送
	IsGroup bool   `json:"is_group"` // 是否为群消息
	Ts      int64  `json:"ts"`       // 创建时间（秒）
	RoomID  string `json:"roomid"`   // 群 ID；私聊时为对端 ID
	Content string `json:"content"`  // 文本或 XML，群消息带 "wxid:\n" 前缀
	Sender  string `json:"sender"`   // 发送者 ID
	Sign    string `json:"sign"`     // 消息签名
	Thumb   string `json:"thumb"`    // 缩略图路径
	Extra   string `json:"extra"`    // 附件路径等额外信息
	XML     string `json:"xml"`      // msgsource 旁路文档，携带 @ 列表
}

// 原始消息类型。
const (
	MsgTypeMoment            = 0
	MsgTypeText              = 1
	MsgTypeImage             = 3
	MsgTypeVoice             = 34
	MsgTypeVerifyMsg         = 37
	MsgTypePossibleFriendMsg = 40
	MsgTypeShareCard         = 42
	MsgTypeVideo             = 43
	MsgTypeEmoticon          = 47
	MsgTypeLocation          = 48
	MsgTypeApp               = 49
	MsgTypeVoipMsg           = 50
	MsgTypeStatusNotify      = 51
	MsgTypeVoipNotify        = 52
	MsgTypeVoipInvite        = 53
	MsgTypeMicroVideo        = 62
	MsgTypeTransfer          = 2000
	MsgTypeRedEnvelope       = 2001
	MsgTypeMiniProgram       = 2002
	MsgTypeGroupInvite       = 2003
	MsgTypeFile              = 2004
	MsgTypeSysNotice         = 9999
	MsgTypeSys               = 10000
	MsgTypeRecalled          = 10002
)

// 应用消息（type=49）内 <appmsg><type> 的子类型。
const (
	AppMsgTypeText                  = 1
	AppMsgTypeImg                   = 2
	AppMsgTypeAudio                 = 3
	AppMsgTypeVideo                 = 4
	AppMsgTypeUrl                   = 5
	AppMsgTypeAttach                = 6
	AppMsgTypeOpen                  = 7
	AppMsgTypeEmoji                 = 8
	AppMsgTypeVoiceRemind           = 9
	AppMsgTypeScanGood              = 10
	AppMsgTypeGood                  = 13
	AppMsgTypeEmotion               = 15
	AppMsgTypeCardTicket            = 16
	AppMsgTypeRealtimeShareLocation = 17
	AppMsgTypeChatHistory           = 19
	AppMsgTypeMiniProgram           = 33
	AppMsgTypeMiniProgramApp        = 36
	AppMsgTypeChannels              = 51
	AppMsgTypeGroupNote             = 53
	AppMsgTypeReferMsg              = 57
	AppMsgTypeTransfers             = 2000
	AppMsgTypeRedEnvelopes          = 2001
	AppMsgTypeReaderType            = 100001
)

const (
	roomIDSuffix     = "@chatroom"
	officialIDPrefix = "gh_"
	openIMSuffix     = "@openim"
	preambleSep      = ":\n"
)

// ParseMessage 将 JSON 数据解析为 RawMessage。
func ParseMessage(data []byte) (*RawMessage, error) {
	var msg RawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal wcf message: %w", err)
	}
	return &msg, nil
}

// IsRoomID 判断 id 是否为群 ID。
func IsRoomID(id string) bool {
	return strings.HasSuffix(id, roomIDSuffix)
}

// InRoom 判断消息是否属于群聊。
func (m RawMessage) InRoom() bool {
	return m.IsGroup || IsRoomID(m.RoomID)
}

// Room 返回消息所属群 ID，私聊返回空串。
func (m RawMessage) Room() string {
	if m.InRoom() {
		return m.RoomID
	}
	return ""
}

// IDString 返回十进制消息 ID，ID 为 0 时返回空串。
func (m RawMessage) IDString() string {
	if m.ID == 0 {
		return ""
	}
	return strconv.FormatUint(m.ID, 10)
}

// Body 返回去掉群消息前缀后的正文。只按第一个 ":\n" 切分，正文内后续的分隔符保持原样。
func (m RawMessage) Body() string {
	if !m.InRoom() {
		return m.Content
	}
	if _, rest, ok := strings.Cut(m.Content, preambleSep); ok {
		return rest
	}
	return m.Content
}

// isRoomOps 廉价前置判断：群内的系统通知才可能是入群、退群、改名事件。
func isRoomOps(m RawMessage) bool {
	return (m.Type == MsgTypeSys || m.Type == MsgTypeSysNotice) && IsRoomID(m.RoomID)
}
