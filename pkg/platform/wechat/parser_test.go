package wechat

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/IMBotPlatform/wcfbridge/pkg/botcore"
)

const (
	testSelf = "wxid_self"
	testRoom = "R1@chatroom"
)

func TestClassifyIsTotal(t *testing.T) {
	c := NewClassifier(testSelf)
	inputs := []RawMessage{
		{},
		{ID: 1, Type: MsgTypeText, Content: "hello", Sender: "wxid_a", RoomID: "wxid_a"},
		{ID: 2, Type: 12345, Content: "???"},
		{ID: 3, Type: MsgTypeSysNotice, RoomID: testRoom, Content: "<sysmsg>"},
		{ID: 4, Type: MsgTypeApp, Content: "not markup at all"},
		{ID: 5, Type: MsgTypeApp, Content: "<msg><appmsg><type>57</type><title>t</title></appmsg></msg>"},
		{ID: 6, Type: MsgTypeApp, Content: "<msg><appmsg><type>9999</type></appmsg></msg>"},
		{ID: 7, Type: MsgTypeApp, Content: "<msg><appmsg><type>57</type><refermsg><type>49</type><content>&lt;broken</content></refermsg></appmsg></msg>"},
		{ID: 8, Type: MsgTypeText, IsGroup: true, RoomID: testRoom, Content: "wxid_a:\nhi", XML: "<msgsource><atuserlist>"},
		{ID: 9, Type: MsgTypeRecalled, Content: "<sysmsg type=\"revokemsg\"></sysmsg>"},
	}
	for _, raw := range inputs {
		msg := c.Classify(raw)
		if !msg.Kind.Valid() {
			t.Fatalf("message %d: kind %d outside the closed set", raw.ID, msg.Kind)
		}
		if msg.ID == "" {
			t.Fatalf("message %d: empty id", raw.ID)
		}
	}
}

func TestClassifyTypeTable(t *testing.T) {
	c := NewClassifier(testSelf)
	cases := map[int]botcore.MessageKind{
		MsgTypeMoment:     botcore.KindPost,
		MsgTypeText:       botcore.KindText,
		MsgTypeImage:      botcore.KindImage,
		MsgTypeVoice:      botcore.KindAudio,
		MsgTypeShareCard:  botcore.KindContact,
		MsgTypeVideo:      botcore.KindVideo,
		MsgTypeMicroVideo: botcore.KindVideo,
		MsgTypeEmoticon:   botcore.KindEmoticon,
		MsgTypeLocation:   botcore.KindLocation,
		MsgTypeRecalled:   botcore.KindRecalled,
		MsgTypeSys:        botcore.KindUnknown,
		MsgTypeVoipMsg:    botcore.KindUnknown,
	}
	for typ, want := range cases {
		msg := c.Classify(RawMessage{ID: 1, Type: typ, Sender: "wxid_a", RoomID: "wxid_a"})
		if msg.Kind != want {
			t.Fatalf("type %d: expected %s, got %s", typ, want, msg.Kind)
		}
	}
}

func TestClassifyAppSubtypes(t *testing.T) {
	c := NewClassifier(testSelf)
	cases := []struct {
		appType  string
		kind     botcore.MessageKind
		text     string
		filename string
	}{
		{"1", botcore.KindText, "shared text", ""},
		{"5", botcore.KindUrl, "", ""},
		{"6", botcore.KindAttachment, "", "shared text"},
		{"19", botcore.KindChatHistory, "", ""},
		{"33", botcore.KindMiniProgram, "", ""},
		{"2000", botcore.KindTransfer, "", ""},
		{"2001", botcore.KindRedEnvelope, "", ""},
		{"51", botcore.KindPost, "shared text", ""},
		{"53", botcore.KindGroupNote, "shared text", ""},
		{"100001", botcore.KindUnknown, "", ""},
	}
	for _, tc := range cases {
		content := "<msg><appmsg><title>shared text</title><type>" + tc.appType + "</type></appmsg></msg>"
		msg := c.Classify(RawMessage{ID: 1, Type: MsgTypeApp, Sender: "wxid_a", RoomID: "wxid_a", Content: content})
		if msg.Kind != tc.kind {
			t.Fatalf("app type %s: expected %s, got %s", tc.appType, tc.kind, msg.Kind)
		}
		if tc.text != "" && msg.Text != tc.text {
			t.Fatalf("app type %s: unexpected text %q", tc.appType, msg.Text)
		}
		if msg.Filename != tc.filename {
			t.Fatalf("app type %s: unexpected filename %q", tc.appType, msg.Filename)
		}
	}
}

func TestClassifyAppDecodeFailureKeepsAttachment(t *testing.T) {
	c := NewClassifier(testSelf)
	msg := c.Classify(RawMessage{ID: 1, Type: MsgTypeApp, Sender: "wxid_a", RoomID: "wxid_a", Content: "no markup"})
	if msg.Kind != botcore.KindAttachment {
		t.Fatalf("expected attachment, got %s", msg.Kind)
	}
}

func TestClassifyStripsRoomPreambleOnce(t *testing.T) {
	c := NewClassifier(testSelf)
	msg := c.Classify(RawMessage{
		ID:      1,
		Type:    MsgTypeText,
		IsGroup: true,
		RoomID:  testRoom,
		Sender:  "wxid_a",
		Content: "wxid_a:\nhello:\nworld",
	})
	if msg.Text != "hello:\nworld" {
		t.Fatalf("unexpected text %q", msg.Text)
	}
	if msg.RoomID != testRoom || msg.ListenerID != "" {
		t.Fatalf("unexpected room/listener: %q %q", msg.RoomID, msg.ListenerID)
	}
}

func TestClassifyListener(t *testing.T) {
	c := NewClassifier(testSelf)
	inbound := c.Classify(RawMessage{ID: 1, Type: MsgTypeText, Sender: "wxid_a", RoomID: "wxid_a", Content: "hi"})
	if inbound.ListenerID != testSelf || inbound.TalkerID != "wxid_a" {
		t.Fatalf("unexpected inbound talker/listener: %q %q", inbound.TalkerID, inbound.ListenerID)
	}
	outbound := c.Classify(RawMessage{ID: 2, Type: MsgTypeText, IsSelf: true, Sender: testSelf, RoomID: "wxid_a", Content: "hi"})
	if outbound.ListenerID != "wxid_a" {
		t.Fatalf("expected peer as listener, got %q", outbound.ListenerID)
	}
}

func TestClassifyMentions(t *testing.T) {
	c := NewClassifier(testSelf)
	msg := c.Classify(RawMessage{
		ID:      1,
		Type:    MsgTypeText,
		IsGroup: true,
		RoomID:  testRoom,
		Sender:  "wxid_a",
		Content: "wxid_a:\n@B @C hi",
		XML:     "<msgsource><atuserlist><![CDATA[ wxid_b,wxid_c, ]]></atuserlist><membercount>3</membercount></msgsource>",
	})
	if len(msg.MentionIDList) != 2 || msg.MentionIDList[0] != "wxid_b" || msg.MentionIDList[1] != "wxid_c" {
		t.Fatalf("unexpected mentions: %#v", msg.MentionIDList)
	}
}

func TestClassifyNoMentionListWhenEmpty(t *testing.T) {
	c := NewClassifier(testSelf)
	sources := []string{
		"",
		"<msgsource><atuserlist></atuserlist></msgsource>",
		"<msgsource><atuserlist> , </atuserlist></msgsource>",
		"<msgsource><silence>1</silence></msgsource>",
	}
	for _, xml := range sources {
		msg := c.Classify(RawMessage{
			ID:      1,
			Type:    MsgTypeText,
			IsGroup: true,
			RoomID:  testRoom,
			Sender:  "wxid_a",
			Content: "wxid_a:\nhi",
			XML:     xml,
		})
		if msg.MentionIDList != nil {
			t.Fatalf("source %q: expected no mention list, got %#v", xml, msg.MentionIDList)
		}
		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if strings.Contains(string(data), "mentionIdList") {
			t.Fatalf("source %q: mention field present in %s", xml, data)
		}
	}
}

func quoteContent(referType, referContent string) string {
	return "<msg><appmsg><title>看看这个</title><type>57</type><refermsg>" +
		"<type>" + referType + "</type><svrid>42</svrid><displayname>Alice</displayname>" +
		"<content>" + referContent + "</content></refermsg></appmsg></msg>"
}

func TestClassifyQuotedImageUsesPlaceholder(t *testing.T) {
	raw := RawMessage{ID: 1, Type: MsgTypeApp, Sender: "wxid_a", RoomID: "wxid_a", Content: quoteContent("3", "binary-ish")}

	msg := NewClassifier(testSelf).Classify(raw)
	if msg.Kind != botcore.KindText || !msg.IsQuoted {
		t.Fatalf("expected quoted text, got kind=%s quoted=%v", msg.Kind, msg.IsQuoted)
	}
	want := "「Alice：图片」\n" + quoteDivider + "\n看看这个"
	if msg.Text != want {
		t.Fatalf("unexpected composite text:\n%q\nwant\n%q", msg.Text, want)
	}

	en := NewClassifier(testSelf, WithLocale(LocaleEN)).Classify(raw)
	if !strings.Contains(en.Text, "Alice：[Image]") {
		t.Fatalf("expected english placeholder, got %q", en.Text)
	}
}

func TestClassifyQuotedSummaries(t *testing.T) {
	c := NewClassifier(testSelf)
	cases := []struct {
		referType string
		content   string
		summary   string
	}{
		{"1", "原文", "原文"},
		{"43", "", "视频"},
		{"47", "", "动画表情"},
		{"48", "", "位置"},
		{"49", "&lt;msg&gt;&lt;appmsg&gt;&lt;title&gt;文档.pdf&lt;/title&gt;&lt;/appmsg&gt;&lt;/msg&gt;", "文档.pdf"},
		{"49", "garbage", "未知消息"},
		{"34", "", "未知消息"},
	}
	for _, tc := range cases {
		msg := c.Classify(RawMessage{ID: 1, Type: MsgTypeApp, Sender: "wxid_a", RoomID: "wxid_a", Content: quoteContent(tc.referType, tc.content)})
		if !strings.HasPrefix(msg.Text, "「Alice："+tc.summary+"」") {
			t.Fatalf("refer type %s: unexpected text %q", tc.referType, msg.Text)
		}
	}
}

func TestUnknownLocaleFallsBackToChinese(t *testing.T) {
	c := NewClassifier(testSelf, WithLocale("fr"))
	msg := c.Classify(RawMessage{ID: 1, Type: MsgTypeApp, Content: quoteContent("3", "")})
	if !strings.Contains(msg.Text, "图片") {
		t.Fatalf("expected chinese placeholder, got %q", msg.Text)
	}
}

func TestMessageIDLocalFallbackIsStable(t *testing.T) {
	raw := RawMessage{Type: MsgTypeText, IsSelf: true, Sender: testSelf, RoomID: "wxid_a", Ts: 1700000000, Content: "hi"}
	first := MessageID(raw)
	if !strings.HasPrefix(first, "local-") {
		t.Fatalf("expected local id, got %q", first)
	}
	if second := MessageID(raw); second != first {
		t.Fatalf("local id not stable: %q vs %q", first, second)
	}
	raw.Content = "bye"
	if MessageID(raw) == first {
		t.Fatal("different content should produce a different local id")
	}
	if got := MessageID(RawMessage{ID: 987654321}); got != "987654321" {
		t.Fatalf("unexpected platform id %q", got)
	}
}
