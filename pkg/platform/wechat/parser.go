package wechat

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/IMBotPlatform/wcfbridge/pkg/botcore"
)

// Locale 控制引用消息占位文案的语言。
type Locale string

const (
	LocaleZH Locale = "zh"
	LocaleEN Locale = "en"
)

// placeholders 是引用消息无法直接展示时使用的固定文案。
type placeholders struct {
	Image    string
	Video    string
	Emoticon string
	Location string
	Unknown  string
}

var placeholderTable = map[Locale]placeholders{
	LocaleZH: {Image: "图片", Video: "视频", Emoticon: "动画表情", Location: "位置", Unknown: "未知消息"},
	LocaleEN: {Image: "[Image]", Video: "[Video]", Emoticon: "[Emoticon]", Location: "[Location]", Unknown: "[Unknown]"},
}

const quoteDivider = "- - - - - - - - - - - - - - -"

// localIDSpace 是本地消息 ID 的 UUID 命名空间。
var localIDSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("wcf:message"))

// MessageID 返回消息的稳定 ID。
// 平台 ID 为 0 时（尚未同步的自发消息）基于发送者、会话、时间与内容生成确定性的本地 ID，
// 同一条原始消息重复处理得到相同结果。
func MessageID(raw RawMessage) string {
	if id := raw.IDString(); id != "" {
		return id
	}
	fingerprint := fmt.Sprintf("%s\x00%s\x00%d\x00%d\x00%s", raw.Sender, raw.RoomID, raw.Ts, raw.Type, raw.Content)
	return "local-" + uuid.NewSHA1(localIDSpace, []byte(fingerprint)).String()
}

// parseContext 在各阶段之间传递中间结果。
type parseContext struct {
	raw    RawMessage
	msg    *botcore.Message
	appMsg *AppMsg // 应用消息阶段解码成功后设置
}

// parserStage 是解析链中的一个阶段，失败时只记录日志，不中断后续阶段。
type parserStage struct {
	name string
	run  func(c *Classifier, pc *parseContext)
}

// defaultStages 的顺序不可调整：后面的阶段依赖前面阶段设置的字段。
var defaultStages = []parserStage{
	{name: "type", run: (*Classifier).typeStage},
	{name: "appmsg", run: (*Classifier).appMsgStage},
	{name: "refermsg", run: (*Classifier).referMsgStage},
	{name: "room", run: (*Classifier).roomStage},
}

// Classifier 将 RawMessage 解析为标准化 Message。
type Classifier struct {
	selfID string
	locale Locale
	logger *zap.Logger
	stages []parserStage
}

// ClassifierOption 用于定制 Classifier。
type ClassifierOption func(*Classifier)

// WithClassifierLogger 注入日志器。
func WithClassifierLogger(logger *zap.Logger) ClassifierOption {
	return func(c *Classifier) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithLocale 设置引用消息占位文案语言，未知语言回退为中文。
func WithLocale(locale Locale) ClassifierOption {
	return func(c *Classifier) {
		if _, ok := placeholderTable[locale]; ok {
			c.locale = locale
		}
	}
}

// NewClassifier 创建解析器。
// Parameters:
//   - selfID: 当前登录账号 ID，用于推导私聊接收者
func NewClassifier(selfID string, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		selfID: selfID,
		locale: LocaleZH,
		logger: zap.NewNop(),
		stages: defaultStages,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Classify 对原始消息执行整条解析链。
// 该函数是纯函数且总能返回结果：任何阶段失败都只会让该阶段的贡献退化，Kind 始终落在封闭集合内。
//
// 流程图：
//
//	[基础字段] -> [type 阶段] -> [Attachment?] --是--> [appmsg 阶段] -> [ReferMsg?] --是--> [refermsg 阶段]
//	                                  |                                     |
//	                                  否                                    否
//	                                  v                                     v
//	                         [群消息且 Text?] --是--> [room 阶段: 解析 @ 列表] -> [返回]
func (c *Classifier) Classify(raw RawMessage) botcore.Message {
	msg := botcore.Message{
		ID:        MessageID(raw),
		TalkerID:  raw.Sender,
		RoomID:    raw.Room(),
		Timestamp: raw.Ts,
		Kind:      botcore.KindUnknown,
		Text:      raw.Body(),
	}
	if msg.RoomID == "" {
		msg.ListenerID = c.listenerOf(raw)
	}

	pc := &parseContext{raw: raw, msg: &msg}
	for _, stage := range c.stages {
		c.runStage(stage, pc)
	}
	if !msg.Kind.Valid() {
		msg.Kind = botcore.KindUnknown
	}
	return msg
}

// listenerOf 推导私聊接收者：自己发出的消息接收者为对端，否则为自己。
func (c *Classifier) listenerOf(raw RawMessage) string {
	if raw.IsSelf {
		if raw.RoomID != "" && raw.RoomID != raw.Sender {
			return raw.RoomID
		}
		return ""
	}
	return c.selfID
}

func (c *Classifier) runStage(stage parserStage, pc *parseContext) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("解析阶段异常，已跳过",
				zap.String("stage", stage.name),
				zap.String("msg_id", pc.msg.ID),
				zap.Any("panic", r))
		}
	}()
	stage.run(c, pc)
}

var kindByType = map[int]botcore.MessageKind{
	MsgTypeMoment:       botcore.KindPost,
	MsgTypeText:         botcore.KindText,
	MsgTypeImage:        botcore.KindImage,
	MsgTypeVoice:        botcore.KindAudio,
	MsgTypeEmoticon:     botcore.KindEmoticon,
	MsgTypeApp:          botcore.KindAttachment,
	MsgTypeLocation:     botcore.KindLocation,
	MsgTypeMicroVideo:   botcore.KindVideo,
	MsgTypeVideo:        botcore.KindVideo,
	MsgTypeSys:          botcore.KindUnknown,
	MsgTypeShareCard:    botcore.KindContact,
	MsgTypeRecalled:     botcore.KindRecalled,
	MsgTypeStatusNotify: botcore.KindUnknown,
	MsgTypeSysNotice:    botcore.KindUnknown,
}

// typeStage 按固定查找表映射原始类型，未登记的类型记录日志后归为 Unknown。
func (c *Classifier) typeStage(pc *parseContext) {
	kind, ok := kindByType[pc.raw.Type]
	if !ok {
		c.logger.Warn("未登记的消息类型",
			zap.Int("type", pc.raw.Type),
			zap.String("msg_id", pc.msg.ID))
		kind = botcore.KindUnknown
	}
	pc.msg.Kind = kind
}

// appMsgStage 解码 <appmsg>，细化 Attachment 的具体类型。解码失败保持 Attachment。
func (c *Classifier) appMsgStage(pc *parseContext) {
	if pc.msg.Kind != botcore.KindAttachment {
		return
	}
	var doc AppMsgDoc
	if err := decodeMarkup(pc.raw.Body(), &doc); err != nil {
		c.logger.Warn("解析 appmsg 失败",
			zap.String("msg_id", pc.msg.ID),
			zap.Error(err))
		return
	}
	app := doc.AppMsg
	pc.appMsg = &app

	switch app.Type() {
	case AppMsgTypeText:
		pc.msg.Kind = botcore.KindText
		pc.msg.Text = app.Title
	case AppMsgTypeAudio, AppMsgTypeVideo, AppMsgTypeUrl:
		pc.msg.Kind = botcore.KindUrl
	case AppMsgTypeAttach:
		pc.msg.Kind = botcore.KindAttachment
		pc.msg.Filename = app.Title
	case AppMsgTypeChatHistory:
		pc.msg.Kind = botcore.KindChatHistory
	case AppMsgTypeMiniProgram, AppMsgTypeMiniProgramApp:
		pc.msg.Kind = botcore.KindMiniProgram
	case AppMsgTypeRedEnvelopes:
		pc.msg.Kind = botcore.KindRedEnvelope
	case AppMsgTypeTransfers:
		pc.msg.Kind = botcore.KindTransfer
	case AppMsgTypeRealtimeShareLocation:
		pc.msg.Kind = botcore.KindLocation
	case AppMsgTypeChannels:
		pc.msg.Kind = botcore.KindPost
		pc.msg.Text = app.Title
	case AppMsgTypeGroupNote:
		pc.msg.Kind = botcore.KindGroupNote
		pc.msg.Text = app.Title
	default:
		pc.msg.Kind = botcore.KindUnknown
	}
}

// referMsgStage 将引用消息合成为可读文本，Kind 强制为 Text。
func (c *Classifier) referMsgStage(pc *parseContext) {
	if pc.appMsg == nil || pc.appMsg.Type() != AppMsgTypeReferMsg || pc.appMsg.ReferMsg == nil {
		return
	}
	refer := pc.appMsg.ReferMsg
	pc.msg.IsQuoted = true
	pc.msg.Kind = botcore.KindText
	pc.msg.Text = fmt.Sprintf("「%s：%s」\n%s\n%s", refer.DisplayName, c.summarizeRefer(*refer), quoteDivider, pc.appMsg.Title)
}

// summarizeRefer 按被引用消息自身的类型生成摘要，结果永远非空。
func (c *Classifier) summarizeRefer(refer ReferMsg) string {
	p := placeholderTable[c.locale]
	switch refer.Type() {
	case MsgTypeText:
		if refer.Content != "" {
			return refer.Content
		}
		return p.Unknown
	case MsgTypeImage:
		return p.Image
	case MsgTypeVideo:
		return p.Video
	case MsgTypeEmoticon:
		return p.Emoticon
	case MsgTypeLocation:
		return p.Location
	case MsgTypeApp:
		var nested AppMsgDoc
		if err := decodeMarkup(refer.Content, &nested); err != nil || nested.AppMsg.Title == "" {
			c.logger.Debug("引用的应用消息无法解析标题", zap.Error(err))
			return p.Unknown
		}
		return nested.AppMsg.Title
	default:
		return p.Unknown
	}
}

// roomStage 解析群文本消息的 @ 列表；列表为空时不设置字段。
func (c *Classifier) roomStage(pc *parseContext) {
	if !pc.msg.InRoom() || pc.msg.Kind != botcore.KindText || pc.raw.XML == "" {
		return
	}
	var source MsgSource
	if err := decodeMarkup(pc.raw.XML, &source); err != nil {
		c.logger.Debug("解析 msgsource 失败",
			zap.String("msg_id", pc.msg.ID),
			zap.Error(err))
		return
	}
	if ids := source.MentionIDs(); len(ids) > 0 {
		pc.msg.MentionIDList = ids
	}
}
