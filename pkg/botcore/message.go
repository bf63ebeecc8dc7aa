package botcore

// MessageKind 描述标准化后的消息类型，取值是一个封闭集合。
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindAttachment
	KindAudio
	KindContact
	KindChatHistory
	KindEmoticon
	KindImage
	KindText
	KindLocation
	KindMiniProgram
	KindGroupNote
	KindTransfer
	KindRedEnvelope
	KindRecalled
	KindUrl
	KindVideo
	KindPost
)

var kindNames = map[MessageKind]string{
	KindUnknown:     "unknown",
	KindAttachment:  "attachment",
	KindAudio:       "audio",
	KindContact:     "contact",
	KindChatHistory: "chat-history",
	KindEmoticon:    "emoticon",
	KindImage:       "image",
	KindText:        "text",
	KindLocation:    "location",
	KindMiniProgram: "mini-program",
	KindGroupNote:   "group-note",
	KindTransfer:    "transfer",
	KindRedEnvelope: "red-envelope",
	KindRecalled:    "recalled",
	KindUrl:         "url",
	KindVideo:       "video",
	KindPost:        "post",
}

// String 返回类型的可读名称，未知取值统一返回 "unknown"。
func (k MessageKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// Valid 判断取值是否属于封闭集合。
func (k MessageKind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Message 描述任意原始消息经过解析链之后的标准化视图。
// 构造完成后视为不可变，消费方通过 MessageEvent 中的 ID 回查完整内容。
type Message struct {
	ID         string      `json:"id"`                   // 平台消息 ID；平台返回 0 时为本地生成的 ID
	TalkerID   string      `json:"talkerId"`             // 发送者
	ListenerID string      `json:"listenerId,omitempty"` // 私聊接收者，群消息为空
	RoomID     string      `json:"roomId,omitempty"`     // 群 ID，私聊为空
	Timestamp  int64       `json:"timestamp"`            // 创建时间（秒）
	Kind       MessageKind `json:"kind"`
	Text       string      `json:"text,omitempty"`
	Filename   string      `json:"filename,omitempty"` // 文件类附件的文件名

	// MentionIDList 仅在消息确实 @ 了成员时存在；nil 与空列表对消费方含义不同，
	// 因此永远不会写入空切片。
	MentionIDList []string `json:"mentionIdList,omitempty"`
	// UnresolvedMentionIDList 记录不在群成员缓存中的被 @ 成员。
	UnresolvedMentionIDList []string `json:"unresolvedMentionIdList,omitempty"`
	IsQuoted                bool     `json:"isQuoted,omitempty"`
}

// InRoom 判断消息是否来自群聊。
func (m Message) InRoom() bool {
	return m.RoomID != ""
}
