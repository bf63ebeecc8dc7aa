package wechat

import (
	"encoding/xml"
	"errors"
	"strconv"
	"strings"
)

// errNoMarkup 表示内容中找不到任何 XML 文档。
var errNoMarkup = errors.New("no markup in content")

// decodeMarkup 从第一个 '<' 开始解码 XML，前面的非标记前缀直接丢弃。
// 微信文档中常见 HTML 实体与不规范属性，因此使用非严格模式。
func decodeMarkup(content string, v any) error {
	idx := strings.IndexByte(content, '<')
	if idx < 0 {
		return errNoMarkup
	}
	d := xml.NewDecoder(strings.NewReader(content[idx:]))
	d.Strict = false
	d.Entity = xml.HTMLEntity
	return d.Decode(v)
}

// atoi 宽松地解析数字字段，空串或非法值返回 0。
func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// AppMsgDoc 是应用消息（type=49）的外层文档 <msg>。
type AppMsgDoc struct {
	XMLName      xml.Name `xml:"msg"`
	AppMsg       AppMsg   `xml:"appmsg"`
	FromUsername string   `xml:"fromusername"` // 分享者
}

// AppMsg 描述 <appmsg> 内的常用字段。
type AppMsg struct {
	Title      string      `xml:"title"`
	Des        string      `xml:"des"`
	TypeText   string      `xml:"type"` // 子类型，见 AppMsgType*
	URL        string      `xml:"url"`
	ThumbURL   string      `xml:"thumburl"`
	MD5        string      `xml:"md5"`
	RecordItem string      `xml:"recorditem"` // 聊天记录，内嵌 XML
	AppAttach  *AppAttach  `xml:"appattach"`
	WeAppInfo  *WeAppInfo  `xml:"weappinfo"`
	ReferMsg   *ReferMsg   `xml:"refermsg"`
	FinderFeed *FinderFeed `xml:"finderFeed"`
}

// Type 返回数值子类型。
func (a AppMsg) Type() int {
	return atoi(a.TypeText)
}

// AppAttach 附件信息。
type AppAttach struct {
	TotalLen     string `xml:"totallen"`
	AttachID     string `xml:"attachid"`
	FileExt      string `xml:"fileext"`
	CDNAttachURL string `xml:"cdnattachurl"`
	AESKey       string `xml:"aeskey"`
}

// WeAppInfo 小程序信息。
type WeAppInfo struct {
	PagePath     string `xml:"pagepath"`
	Username     string `xml:"username"`
	AppID        string `xml:"appid"`
	WeAppIconURL string `xml:"weappiconurl"`
}

// ReferMsg 被引用消息。
type ReferMsg struct {
	TypeText    string `xml:"type"`
	SvrID       string `xml:"svrid"`
	FromUsr     string `xml:"fromusr"`
	ChatUsr     string `xml:"chatusr"`
	DisplayName string `xml:"displayname"`
	Content     string `xml:"content"`
	CreateTime  string `xml:"createtime"`
}

// Type 返回被引用消息的原始类型。
func (r ReferMsg) Type() int {
	return atoi(r.TypeText)
}

// FinderFeed 视频号动态。
type FinderFeed struct {
	ObjectID string `xml:"objectId"`
	Nickname string `xml:"nickname"`
	Desc     string `xml:"desc"`
}

// MsgSource 是 RawMessage.XML 中的旁路文档。
type MsgSource struct {
	XMLName     xml.Name `xml:"msgsource"`
	AtUserList  string   `xml:"atuserlist"`
	Silence     string   `xml:"silence"`
	MemberCount string   `xml:"membercount"`
}

// MentionIDs 返回去空白、去空项后的 @ 列表，没有任何项时返回 nil。
func (s MsgSource) MentionIDs() []string {
	var ids []string
	for _, part := range strings.Split(s.AtUserList, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// VerifyMsgDoc 是好友申请（type=37）的文档，资料全部位于 <msg> 的属性上。
type VerifyMsgDoc struct {
	XMLName         xml.Name `xml:"msg"`
	FromUsername    string   `xml:"fromusername,attr"`
	EncryptUsername string   `xml:"encryptusername,attr"`
	FromNickname    string   `xml:"fromnickname,attr"`
	Content         string   `xml:"content,attr"`
	Scene           string   `xml:"scene,attr"`
	Ticket          string   `xml:"ticket,attr"`
	Sex             string   `xml:"sex,attr"`
	Alias           string   `xml:"alias,attr"`
	Sign            string   `xml:"sign,attr"`
	City            string   `xml:"city,attr"`
	Province        string   `xml:"province,attr"`
	SmallHeadImgURL string   `xml:"smallheadimgurl,attr"`
	BigHeadImgURL   string   `xml:"bigheadimgurl,attr"`
}

// TimelineDoc 朋友圈动态文档。
type TimelineDoc struct {
	XMLName     xml.Name `xml:"TimelineObject"`
	ID          string   `xml:"id"`
	Username    string   `xml:"username"`
	CreateTime  string   `xml:"createTime"`
	ContentDesc string   `xml:"contentDesc"`
	Content     struct {
		Style string `xml:"contentStyle"`
		Title string `xml:"title"`
		URL   string `xml:"contentUrl"`
	} `xml:"ContentObject"`
}
