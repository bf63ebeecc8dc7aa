package wechat

import (
	"regexp"
	"strings"
)

// template 是一条正则模板及其提取函数。
// 同一事件类型的多语言模板按优先级排成一张表，自上而下尝试，第一个命中的模板胜出，
// 表中的顺序是匹配契约的一部分：更具体的多方模板必须排在通用的两方模板之前。
type template[T any] struct {
	pattern *regexp.Regexp
	extract func(m []string) T
}

// matchTemplates 返回第一个命中模板的提取结果及其在表中的下标。
func matchTemplates[T any](text string, table []template[T]) (T, int, bool) {
	for i, tpl := range table {
		if m := tpl.pattern.FindStringSubmatch(text); m != nil {
			return tpl.extract(m), i, true
		}
	}
	var zero T
	return zero, -1, false
}

// matchAny 判断文本是否命中任意一条正则。
func matchAny(text string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// nameListSep 匹配英文通知中带引号的名单分隔：`"A", "B" and "C"`。
var nameListSep = regexp.MustCompile(`"\s*(?:,|，|and)\s*"`)

// nameCutset 是名字两端需要去掉的字符，包含不换行空格。
const nameCutset = " \"“”\u00a0"

// splitNames 拆分通知中的名单：中文以 "、" 分隔，英文以引号包围的逗号或 and 分隔。
// 每个名字去掉两端的引号与空白，空项丢弃。
func splitNames(s string) []string {
	var parts []string
	if strings.Contains(s, "、") {
		parts = strings.Split(s, "、")
	} else {
		parts = nameListSep.Split(s, -1)
	}
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if name := trimName(p); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func trimName(s string) string {
	return strings.Trim(s, nameCutset)
}

// joinMatch 是入群通知的文本提取结果，名字尚未解析为 ID。
type joinMatch struct {
	inviterSelf bool
	inviter     string
	inviteeSelf bool // 被邀请人列表最前面插入自己
	invitees    []string
}

func youInviteOther(m []string) joinMatch {
	return joinMatch{inviterSelf: true, invitees: splitNames(m[1])}
}

func otherInviteYou(m []string) joinMatch {
	return joinMatch{inviter: trimName(m[1]), inviteeSelf: true}
}

func otherInviteYouAndOther(m []string) joinMatch {
	return joinMatch{inviter: trimName(m[1]), inviteeSelf: true, invitees: splitNames(m[2])}
}

func otherInviteOther(m []string) joinMatch {
	return joinMatch{inviter: trimName(m[1]), invitees: splitNames(m[2])}
}

func otherJoinViaQRCode(m []string) joinMatch {
	return joinMatch{inviter: trimName(m[2]), invitees: splitNames(m[1])}
}

// joinTemplates 顺序：你邀请他人（含扫描你的二维码）→ 他人邀请你 → 他人邀请你和他人 → 他人邀请他人 → 扫描他人二维码。
var joinTemplates = []template[joinMatch]{
	{regexp.MustCompile(`^你邀请"(.+)"加入了群聊`), youInviteOther},
	{regexp.MustCompile(`^You invited (.+) to (?:join )?the group chat`), youInviteOther},
	{regexp.MustCompile(`^" ?(.+)"通过扫描你分享的二维码加入群聊`), youInviteOther},
	{regexp.MustCompile(`^" ?(.+)" joined group chat via the QR code you shared`), youInviteOther},

	{regexp.MustCompile(`^"([^"]+)"邀请你加入了群聊，群聊参与人还有：(.+)`), otherInviteYou},
	{regexp.MustCompile(`^(.+) invited you to a group chat with (.+)`), otherInviteYou},

	{regexp.MustCompile(`^"([^"]+)"邀请你和"(.+?)"加入了群聊`), otherInviteYouAndOther},
	{regexp.MustCompile(`^(.+?) invited you and (.+?) to (?:the|a) group chat`), otherInviteYouAndOther},
	{regexp.MustCompile(`^"(.+)"邀请"(.+)"加入了群聊`), otherInviteOther},
	{regexp.MustCompile(`^(.+?) invited (.+?) to (?:the|a) group chat`), otherInviteOther},

	{regexp.MustCompile(`^" ?(.+)"通过扫描"(.+)"分享的二维码加入群聊`), otherJoinViaQRCode},
	{regexp.MustCompile(`^"(.+)" joined the group chat via the QR Code shared by "(.+)"`), otherJoinViaQRCode},
}

// leaveMatch 是移出群聊通知的提取结果。
type leaveMatch struct {
	removerSelf bool
	remover     string
	removeeSelf bool
	removees    []string
}

func youRemoveOther(m []string) leaveMatch {
	return leaveMatch{removerSelf: true, removees: splitNames(m[2])}
}

func otherRemoveYou(m []string) leaveMatch {
	return leaveMatch{remover: trimName(m[2]), removeeSelf: true}
}

var leaveTemplates = []template[leaveMatch]{
	{regexp.MustCompile(`^(你)将"(.+)"移出了群聊`), youRemoveOther},
	{regexp.MustCompile(`^(You) removed "(.+)" from the group chat`), youRemoveOther},
	{regexp.MustCompile(`^(你)被"([^"]+)"移出群聊`), otherRemoveYou},
	{regexp.MustCompile(`^(You) were removed from the group chat by "([^"]+)"`), otherRemoveYou},
}

// topicMatch 是群名变更通知的提取结果。
type topicMatch struct {
	changerSelf bool
	changer     string
	topic       string
}

func youChangeTopic(m []string) topicMatch {
	return topicMatch{changerSelf: true, topic: m[2]}
}

func otherChangeTopic(m []string) topicMatch {
	return topicMatch{changer: trimName(m[1]), topic: m[2]}
}

// 群名两侧的引号在不同客户端版本中可能是全角或半角。
var topicTemplates = []template[topicMatch]{
	{regexp.MustCompile(`^(你)修改群名为[“"](.+)[”"]$`), youChangeTopic},
	{regexp.MustCompile(`^(You) changed the group name to [“"](.+)[”"]$`), youChangeTopic},
	{regexp.MustCompile(`^"(.+)"修改群名为[“"](.+)[”"]$`), otherChangeTopic},
	{regexp.MustCompile(`^"(.+)" changed the group name to [“"](.+)[”"]$`), otherChangeTopic},
}

// 入群邀请卡片：标题与描述需同时命中。
var (
	roomInviteTitles = []*regexp.Regexp{
		regexp.MustCompile(`邀请你加入群聊`),
		regexp.MustCompile(`Group Chat Invitation`),
	}
	roomInviteDescTemplates = []template[string]{
		{regexp.MustCompile(`^"(.+)"邀请你加入群聊(.*)，进入可查看详情。`), inviteTopic},
		{regexp.MustCompile(`"(.+)" invited you to join the group chat "(.+)"\. Enter to view details\.`), inviteTopic},
	}
)

func inviteTopic(m []string) string {
	return trimName(m[2])
}

// 好友通知。
var (
	friendshipConfirmPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^You have added (.+) as your WeChat contact. Start chatting!$`),
		regexp.MustCompile(`^你已添加了(.+)，现在可以开始聊天了。$`),
		regexp.MustCompile(`I've accepted your friend request. Now let's chat!$`),
		regexp.MustCompile(`^(.+) just added you to his/her contacts list. Send a message to him/her now!$`),
		regexp.MustCompile(`^(.+)刚刚把你添加到通讯录，现在可以开始聊天了。$`),
		regexp.MustCompile(`^我通过了你的朋友验证请求，现在我们可以开始聊天了$`),
	}
	friendshipVerifyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^(.+) has enabled Friend Confirmation`),
		regexp.MustCompile(`^(.+)开启了朋友验证，你还不是他（她）朋友。请先发送朋友验证请求，对方验证通过后，才能聊天。`),
	}
)
