package wechat

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/IMBotPlatform/wcfbridge/pkg/botcore"
	"github.com/IMBotPlatform/wcfbridge/pkg/cache"
	"github.com/IMBotPlatform/wcfbridge/pkg/storage"
)

// recorder 记录推送的事件。
type recorder struct {
	events []botcore.Event
}

func (r *recorder) Emit(_ context.Context, event botcore.Event) error {
	r.events = append(r.events, event)
	return nil
}

// failSleep 在测试不期望重试时使用。
func failSleep(t *testing.T) SleepFunc {
	return func(context.Context, time.Duration) error {
		t.Fatalf("unexpected retry sleep")
		return nil
	}
}

func newTestDispatcher(t *testing.T, source Source, opts ...DispatcherOption) (*Dispatcher, *cache.Manager, *recorder) {
	t.Helper()
	m := cache.NewManager(storage.NewMemoryStorage())
	rec := &recorder{}
	opts = append([]DispatcherOption{WithEmitter(rec)}, opts...)
	return NewDispatcher(testSelf, m, source, opts...), m, rec
}

func seedRoom(t *testing.T, m *cache.Manager, room botcore.Room, members ...botcore.RoomMember) {
	t.Helper()
	ctx := context.Background()
	for _, member := range members {
		member.RoomID = room.ID
		room.MemberIDList = append(room.MemberIDList, member.ID)
		if err := m.RoomMembers(room.ID).Set(ctx, member.ID, member); err != nil {
			t.Fatalf("seed member: %v", err)
		}
	}
	if err := m.Rooms.Set(ctx, room.ID, room); err != nil {
		t.Fatalf("seed room: %v", err)
	}
}

func sysMessage(id uint64, text string) RawMessage {
	return RawMessage{ID: id, Type: MsgTypeSys, IsGroup: true, RoomID: testRoom, Ts: 1700000000, Content: text}
}

func TestJoinYouInvitedResolvesWithoutRetry(t *testing.T) {
	texts := []string{
		`你邀请"X"加入了群聊`,
		`You invited "X" to the group chat.`,
		`You invited "X" to join the group chat`,
	}
	for _, text := range texts {
		d, m, rec := newTestDispatcher(t, nil, WithSleep(failSleep(t)))
		seedRoom(t, m, botcore.Room{ID: testRoom, Topic: "t"}, botcore.RoomMember{ID: "wxid_x", Name: "X"})

		event, err := d.Dispatch(context.Background(), sysMessage(1, text))
		if err != nil {
			t.Fatalf("%q: dispatch: %v", text, err)
		}
		join, ok := event.(botcore.RoomJoinEvent)
		if !ok {
			t.Fatalf("%q: expected RoomJoinEvent, got %T", text, event)
		}
		if !reflect.DeepEqual(join.InviteeIDList, []string{"wxid_x"}) || join.InviterID != testSelf {
			t.Fatalf("%q: unexpected join %#v", text, join)
		}
		if join.RoomID != testRoom || join.Timestamp != 1700000000 {
			t.Fatalf("%q: unexpected room/timestamp %#v", text, join)
		}
		if len(rec.events) != 1 {
			t.Fatalf("%q: expected exactly one emitted event, got %d", text, len(rec.events))
		}
	}
}

func TestJoinRetriesUntilMemberPropagates(t *testing.T) {
	var m *cache.Manager
	sleeps := 0
	var waited []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		sleeps++
		waited = append(waited, d)
		if sleeps == 2 {
			// 模拟平台在第二次等待期间同步了成员列表
			member := botcore.RoomMember{RoomID: testRoom, ID: "wxid_x", Name: "X"}
			if err := m.RoomMembers(testRoom).Set(context.Background(), member.ID, member); err != nil {
				t.Fatalf("inject member: %v", err)
			}
		}
		return nil
	}
	d, manager, _ := newTestDispatcher(t, nil, WithSleep(sleep), WithRetry(5, 2*time.Second))
	m = manager
	seedRoom(t, m, botcore.Room{ID: testRoom})

	event, err := d.Dispatch(context.Background(), sysMessage(1, `你邀请"X"加入了群聊`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	join := event.(botcore.RoomJoinEvent)
	if !reflect.DeepEqual(join.InviteeIDList, []string{"wxid_x"}) {
		t.Fatalf("expected invitee after propagation, got %#v", join.InviteeIDList)
	}
	if sleeps != 2 {
		t.Fatalf("expected 2 retries, got %d", sleeps)
	}
	for _, w := range waited {
		if w != 2*time.Second {
			t.Fatalf("unexpected backoff %s", w)
		}
	}

	room, _, _ := m.Rooms.Get(context.Background(), testRoom)
	if !room.HasMember("wxid_x") {
		t.Fatalf("join should add invitee to room snapshot: %#v", room.MemberIDList)
	}
}

func TestJoinExhaustsRetryBudget(t *testing.T) {
	sleeps := 0
	sleep := func(context.Context, time.Duration) error {
		sleeps++
		return nil
	}
	d, m, rec := newTestDispatcher(t, nil, WithSleep(sleep))
	seedRoom(t, m, botcore.Room{ID: testRoom})

	event, err := d.Dispatch(context.Background(), sysMessage(1, `你邀请"Ghost"加入了群聊`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	join := event.(botcore.RoomJoinEvent)
	if len(join.InviteeIDList) != 0 || join.InviterID != testSelf {
		t.Fatalf("unexpected join %#v", join)
	}
	if sleeps != defaultJoinAttempts {
		t.Fatalf("expected %d retries, got %d", defaultJoinAttempts, sleeps)
	}
	if len(rec.events) != 1 {
		t.Fatalf("expected the partial event to be emitted, got %d", len(rec.events))
	}
}

func TestJoinSleepCancellationSkipsMessage(t *testing.T) {
	sleep := func(context.Context, time.Duration) error { return context.Canceled }
	d, m, rec := newTestDispatcher(t, nil, WithSleep(sleep))
	seedRoom(t, m, botcore.Room{ID: testRoom})

	if _, err := d.Dispatch(context.Background(), sysMessage(1, `你邀请"Ghost"加入了群聊`)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if len(rec.events) != 0 {
		t.Fatalf("nothing should be emitted, got %d", len(rec.events))
	}
}

func TestJoinTemplates(t *testing.T) {
	members := []botcore.RoomMember{
		{ID: "wxid_alice", Name: "Alice"},
		{ID: "wxid_bob", Name: "Bob"},
		{ID: "wxid_carol", Name: "Carol", RoomAlias: "小C"},
	}
	cases := []struct {
		text     string
		inviter  string
		invitees []string
	}{
		{`"Alice"邀请你加入了群聊，群聊参与人还有：Bob`, "wxid_alice", []string{testSelf}},
		{`Alice invited you to a group chat with Bob`, "wxid_alice", []string{testSelf}},
		{`"Alice"邀请你和"Bob"加入了群聊`, "wxid_alice", []string{testSelf, "wxid_bob"}},
		{`"Alice" invited you and "Bob" to the group chat`, "wxid_alice", []string{testSelf, "wxid_bob"}},
		{`"Alice"邀请"Bob、小C"加入了群聊`, "wxid_alice", []string{"wxid_bob", "wxid_carol"}},
		{`"Alice" invited "Bob", "小C" to the group chat`, "wxid_alice", []string{"wxid_bob", "wxid_carol"}},
		{`You invited "Bob", "Alice" and "小C" to the group chat`, testSelf, []string{"wxid_bob", "wxid_alice", "wxid_carol"}},
		{`" Bob"通过扫描你分享的二维码加入群聊`, testSelf, []string{"wxid_bob"}},
		{`" Bob"通过扫描"Alice"分享的二维码加入群聊`, "wxid_alice", []string{"wxid_bob"}},
		{`"Bob" joined the group chat via the QR Code shared by "Alice"`, "wxid_alice", []string{"wxid_bob"}},
	}
	for _, tc := range cases {
		d, m, _ := newTestDispatcher(t, nil, WithSleep(failSleep(t)))
		seedRoom(t, m, botcore.Room{ID: testRoom}, members...)

		event, err := d.Dispatch(context.Background(), sysMessage(1, tc.text))
		if err != nil {
			t.Fatalf("%q: dispatch: %v", tc.text, err)
		}
		join, ok := event.(botcore.RoomJoinEvent)
		if !ok {
			t.Fatalf("%q: expected RoomJoinEvent, got %T", tc.text, event)
		}
		if join.InviterID != tc.inviter || !reflect.DeepEqual(join.InviteeIDList, tc.invitees) {
			t.Fatalf("%q: got inviter=%q invitees=%v", tc.text, join.InviterID, join.InviteeIDList)
		}
	}
}

func TestLeave(t *testing.T) {
	ctx := context.Background()
	d, m, _ := newTestDispatcher(t, nil)
	seedRoom(t, m, botcore.Room{ID: testRoom},
		botcore.RoomMember{ID: "wxid_alice", Name: "Alice"},
		botcore.RoomMember{ID: "wxid_x", Name: "X"})

	event, err := d.Dispatch(ctx, sysMessage(1, `你将"X"移出了群聊`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	leave, ok := event.(botcore.RoomLeaveEvent)
	if !ok {
		t.Fatalf("expected RoomLeaveEvent, got %T", event)
	}
	if leave.RemoverID != testSelf || !reflect.DeepEqual(leave.RemoveeIDList, []string{"wxid_x"}) {
		t.Fatalf("unexpected leave %#v", leave)
	}
	if ok, _ := m.RoomMembers(testRoom).Has(ctx, "wxid_x"); ok {
		t.Fatal("removed member still cached")
	}
	room, _, _ := m.Rooms.Get(ctx, testRoom)
	if room.HasMember("wxid_x") || !room.HasMember("wxid_alice") {
		t.Fatalf("unexpected member list after leave: %v", room.MemberIDList)
	}

	event, err = d.Dispatch(ctx, sysMessage(2, `You were removed from the group chat by "Alice"`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	leave = event.(botcore.RoomLeaveEvent)
	if leave.RemoverID != "wxid_alice" || !reflect.DeepEqual(leave.RemoveeIDList, []string{testSelf}) {
		t.Fatalf("unexpected leave %#v", leave)
	}
}

func TestTopicChangeBySelf(t *testing.T) {
	ctx := context.Background()
	d, m, _ := newTestDispatcher(t, nil)
	seedRoom(t, m, botcore.Room{ID: testRoom, Topic: "Old"})

	event, err := d.Dispatch(ctx, sysMessage(1, `你修改群名为"New"`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	topic, ok := event.(botcore.RoomTopicEvent)
	if !ok {
		t.Fatalf("expected RoomTopicEvent, got %T", event)
	}
	if topic.OldTopic != "Old" || topic.NewTopic != "New" || topic.ChangerID != testSelf {
		t.Fatalf("unexpected topic event %#v", topic)
	}
	room, _, _ := m.Rooms.Get(ctx, testRoom)
	if room.Topic != "New" {
		t.Fatalf("topic not written through, got %q", room.Topic)
	}
}

func TestTopicChangeByMember(t *testing.T) {
	d, m, _ := newTestDispatcher(t, nil)
	seedRoom(t, m, botcore.Room{ID: testRoom, Topic: "旧群名"}, botcore.RoomMember{ID: "wxid_alice", Name: "Alice"})

	event, err := d.Dispatch(context.Background(), sysMessage(1, `"Alice"修改群名为“新群名”`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	topic := event.(botcore.RoomTopicEvent)
	if topic.ChangerID != "wxid_alice" || topic.OldTopic != "旧群名" || topic.NewTopic != "新群名" {
		t.Fatalf("unexpected topic event %#v", topic)
	}
}

func TestUnmatchedNotificationFallsBackToMessage(t *testing.T) {
	ctx := context.Background()
	d, m, rec := newTestDispatcher(t, nil)
	seedRoom(t, m, botcore.Room{ID: testRoom})

	raw := sysMessage(77, "Alice拍了拍你")
	event, err := d.Dispatch(ctx, raw)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got, ok := event.(botcore.MessageEvent); !ok || got.MessageID != "77" {
		t.Fatalf("expected message event for 77, got %#v", event)
	}
	msg, ok, err := m.Messages.Get(ctx, "77")
	if err != nil || !ok {
		t.Fatalf("message not stored: ok=%v err=%v", ok, err)
	}
	if msg.Kind != botcore.KindUnknown || msg.RoomID != testRoom {
		t.Fatalf("unexpected stored message %#v", msg)
	}
	if len(rec.events) != 1 {
		t.Fatalf("expected one event, got %d", len(rec.events))
	}
}

func TestReducedRouteList(t *testing.T) {
	d, m, _ := newTestDispatcher(t, nil, WithRoutes(RouteRoomTopic))
	seedRoom(t, m, botcore.Room{ID: testRoom}, botcore.RoomMember{ID: "wxid_x", Name: "X"})

	event, err := d.Dispatch(context.Background(), sysMessage(1, `你邀请"X"加入了群聊`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, ok := event.(botcore.MessageEvent); !ok {
		t.Fatalf("join route disabled, expected message event, got %T", event)
	}
}

func TestEmptyRouteListKeepsDefaultRoutes(t *testing.T) {
	ctx := context.Background()
	d, m, rec := newTestDispatcher(t, nil, WithRoutes(), WithSleep(failSleep(t)))
	seedRoom(t, m, botcore.Room{ID: testRoom, Topic: "Old"}, botcore.RoomMember{ID: "wxid_x", Name: "X"})

	texts := []string{
		`你邀请"X"加入了群聊`,
		`你修改群名为"New"`,
		`你将"X"移出了群聊`,
	}
	for i, text := range texts {
		if _, err := d.Dispatch(ctx, sysMessage(uint64(i+1), text)); err != nil {
			t.Fatalf("%q: dispatch: %v", text, err)
		}
	}
	want := []botcore.EventType{botcore.EventRoomJoin, botcore.EventRoomTopic, botcore.EventRoomLeave}
	if len(rec.events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(rec.events))
	}
	for i, event := range rec.events {
		if event.Type() != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], event.Type())
		}
	}
}

func TestMentionsFlaggedWhenNotInRoom(t *testing.T) {
	ctx := context.Background()
	d, m, _ := newTestDispatcher(t, nil)
	seedRoom(t, m, botcore.Room{ID: testRoom}, botcore.RoomMember{ID: "wxid_b", Name: "B"})

	_, err := d.Dispatch(ctx, RawMessage{
		ID:      5,
		Type:    MsgTypeText,
		IsGroup: true,
		RoomID:  testRoom,
		Sender:  "wxid_a",
		Content: "wxid_a:\n@B @C hi",
		XML:     "<msgsource><atuserlist>wxid_b,wxid_c</atuserlist></msgsource>",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	msg, _, _ := m.Messages.Get(ctx, "5")
	if len(msg.MentionIDList) != 2 {
		t.Fatalf("expected 2 mentions, got %v", msg.MentionIDList)
	}
	if !reflect.DeepEqual(msg.UnresolvedMentionIDList, []string{"wxid_c"}) {
		t.Fatalf("expected wxid_c unresolved, got %v", msg.UnresolvedMentionIDList)
	}
}

func TestDispatchIsIdempotent(t *testing.T) {
	ctx := context.Background()
	d, m, _ := newTestDispatcher(t, nil, WithSleep(failSleep(t)))
	seedRoom(t, m, botcore.Room{ID: testRoom}, botcore.RoomMember{ID: "wxid_x", Name: "X"})

	inputs := []RawMessage{
		{ID: 9, Type: MsgTypeText, IsGroup: true, RoomID: testRoom, Sender: "wxid_x", Content: "wxid_x:\nhello"},
		sysMessage(10, `你邀请"X"加入了群聊`),
	}
	for _, raw := range inputs {
		first, err := d.Dispatch(ctx, raw)
		if err != nil {
			t.Fatalf("first dispatch: %v", err)
		}
		second, err := d.Dispatch(ctx, raw)
		if err != nil {
			t.Fatalf("second dispatch: %v", err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("events differ: %#v vs %#v", first, second)
		}
	}
	keys, _ := m.Messages.Keys(ctx)
	if len(keys) != 1 {
		t.Fatalf("expected one stored message, got %v", keys)
	}
	room, _, _ := m.Rooms.Get(ctx, testRoom)
	if !reflect.DeepEqual(room.MemberIDList, []string{"wxid_x"}) {
		t.Fatalf("member list should not accumulate duplicates: %v", room.MemberIDList)
	}
}

func TestRoomInvite(t *testing.T) {
	ctx := context.Background()
	d, m, _ := newTestDispatcher(t, nil)
	content := `<msg><appmsg><title>邀请你加入群聊</title>` +
		`<des>"Alice"邀请你加入群聊"测试群"，进入可查看详情。</des><type>5</type>` +
		`<url>https://support.weixin.qq.com/cgi-bin/invite</url><thumburl>https://example.com/a.png</thumburl>` +
		`</appmsg><fromusername>wxid_alice</fromusername></msg>`

	event, err := d.Dispatch(ctx, RawMessage{ID: 3, Type: MsgTypeApp, Sender: "wxid_alice", RoomID: "wxid_alice", Ts: 1, Content: content})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	invite, ok := event.(botcore.RoomInviteEvent)
	if !ok {
		t.Fatalf("expected RoomInviteEvent, got %T", event)
	}
	if invite.Topic != "测试群" || invite.InviterID != "wxid_alice" || invite.ReceiverID != testSelf {
		t.Fatalf("unexpected invitation %#v", invite.RoomInvitation)
	}
	if invite.Invitation == "" || invite.Avatar == "" {
		t.Fatalf("expected url and avatar, got %#v", invite.RoomInvitation)
	}
	stored, ok, _ := m.RoomInvitations.Get(ctx, "3")
	if !ok || stored.Topic != "测试群" {
		t.Fatalf("invitation not stored: %#v", stored)
	}

	english := `<msg><appmsg><title>Group Chat Invitation</title>` +
		`<des>"Alice" invited you to join the group chat "Test Group". Enter to view details.</des><type>5</type>` +
		`</appmsg></msg>`
	event, err = d.Dispatch(ctx, RawMessage{ID: 4, Type: MsgTypeApp, IsGroup: true, RoomID: testRoom, Sender: "wxid_alice", Content: "wxid_alice:\n" + english})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	invite = event.(botcore.RoomInviteEvent)
	if invite.Topic != "Test Group" || invite.ReceiverID != testRoom {
		t.Fatalf("unexpected english invitation %#v", invite.RoomInvitation)
	}
}

func TestFriendshipConfirmAndVerify(t *testing.T) {
	cases := []struct {
		text string
		kind botcore.FriendshipType
	}{
		{"你已添加了Bob，现在可以开始聊天了。", botcore.FriendshipConfirm},
		{"You have added Bob as your WeChat contact. Start chatting!", botcore.FriendshipConfirm},
		{"Bob开启了朋友验证，你还不是他（她）朋友。请先发送朋友验证请求，对方验证通过后，才能聊天。", botcore.FriendshipVerify},
		{"Bob has enabled Friend Confirmation. You are not his/her friend yet.", botcore.FriendshipVerify},
	}
	for _, tc := range cases {
		ctx := context.Background()
		d, m, _ := newTestDispatcher(t, nil)
		event, err := d.Dispatch(ctx, RawMessage{ID: 8, Type: MsgTypeSys, Sender: "wxid_bob", RoomID: "wxid_bob", Content: tc.text})
		if err != nil {
			t.Fatalf("%q: dispatch: %v", tc.text, err)
		}
		f, ok := event.(botcore.FriendshipEvent)
		if !ok {
			t.Fatalf("%q: expected FriendshipEvent, got %T", tc.text, event)
		}
		if f.Kind != tc.kind || f.ContactID != "wxid_bob" {
			t.Fatalf("%q: unexpected friendship %#v", tc.text, f.Friendship)
		}
		if ok, _ := m.Friendships.Has(ctx, "8"); !ok {
			t.Fatalf("%q: friendship not stored", tc.text)
		}
	}
}

func TestFriendshipReceive(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	content := `<msg fromusername="wxid_new" encryptusername="v3_abc@stranger" fromnickname="Newbie" ` +
		`content="hi there" scene="30" ticket="v4_ticket" sex="1" city="Hangzhou" smallheadimgurl="https://example.com/s.png" />`

	event, err := d.Dispatch(context.Background(), RawMessage{ID: 11, Type: MsgTypeVerifyMsg, Sender: "fmessage", RoomID: "fmessage", Content: content})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	f, ok := event.(botcore.FriendshipEvent)
	if !ok {
		t.Fatalf("expected FriendshipEvent, got %T", event)
	}
	if f.Kind != botcore.FriendshipReceive || f.ContactID != "wxid_new" || f.Hello != "hi there" {
		t.Fatalf("unexpected friendship %#v", f.Friendship)
	}
	if f.Scene != 30 || f.Ticket != "v4_ticket" || f.Stranger != "v3_abc@stranger" {
		t.Fatalf("unexpected verify fields %#v", f.Friendship)
	}
	if f.Requester == nil || f.Requester.Name != "Newbie" || f.Requester.Gender != botcore.GenderMale {
		t.Fatalf("unexpected requester %#v", f.Requester)
	}
}

func TestPost(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	content := `<TimelineObject><id>13900</id><username>wxid_a</username><contentDesc>周末愉快</contentDesc></TimelineObject>`

	event, err := d.Dispatch(context.Background(), RawMessage{ID: 12, Type: MsgTypeMoment, Sender: "wxid_a", Content: content})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	post, ok := event.(botcore.PostEvent)
	if !ok {
		t.Fatalf("expected PostEvent, got %T", event)
	}
	if post.PostID != "13900" || post.ContactID != "wxid_a" || post.Description != "周末愉快" {
		t.Fatalf("unexpected post %#v", post)
	}
}

// brokenStorage 的所有操作都失败。
type brokenStorage struct{}

var errDisk = errors.New("disk on fire")

func (brokenStorage) Get(context.Context, string) ([]byte, error)    { return nil, errDisk }
func (brokenStorage) Set(context.Context, string, []byte) error      { return errDisk }
func (brokenStorage) Has(context.Context, string) (bool, error)      { return false, errDisk }
func (brokenStorage) Delete(context.Context, string) error           { return errDisk }
func (brokenStorage) Keys(context.Context, string) ([]string, error) { return nil, errDisk }

func TestStorageFailureSkipsMessage(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(testSelf, cache.NewManager(brokenStorage{}), nil, WithEmitter(rec))

	inputs := []RawMessage{
		{ID: 1, Type: MsgTypeText, Sender: "wxid_a", RoomID: "wxid_a", Content: "hi"},
		sysMessage(2, `你修改群名为"New"`),
	}
	for _, raw := range inputs {
		event, err := d.Dispatch(context.Background(), raw)
		if !errors.Is(err, ErrStorage) || !errors.Is(err, errDisk) {
			t.Fatalf("message %d: expected storage error, got %v", raw.ID, err)
		}
		if event != nil {
			t.Fatalf("message %d: expected no event, got %#v", raw.ID, event)
		}
	}
	if len(rec.events) != 0 {
		t.Fatalf("nothing should be emitted, got %d", len(rec.events))
	}
}

func TestEmitFailureIsReported(t *testing.T) {
	boom := errors.New("host gone")
	emitter := botcore.EmitterFunc(func(context.Context, botcore.Event) error { return boom })
	d := NewDispatcher(testSelf, cache.NewManager(storage.NewMemoryStorage()), nil, WithEmitter(emitter))

	event, err := d.Dispatch(context.Background(), RawMessage{ID: 1, Type: MsgTypeText, Sender: "wxid_a", RoomID: "wxid_a", Content: "hi"})
	if !errors.Is(err, ErrEmit) || !errors.Is(err, boom) {
		t.Fatalf("expected emit error, got %v", err)
	}
	if event == nil {
		t.Fatal("event should still be returned on emit failure")
	}
}

func TestRunProcessesInOrder(t *testing.T) {
	ch := botcore.NewChannelEmitter(8)
	d := NewDispatcher(testSelf, cache.NewManager(storage.NewMemoryStorage()), nil, WithEmitter(ch))

	in := make(chan RawMessage, 3)
	for i := uint64(1); i <= 3; i++ {
		in <- RawMessage{ID: i, Type: MsgTypeText, Sender: "wxid_a", RoomID: "wxid_a", Content: "hi"}
	}
	close(in)

	if err := d.Run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}
	ch.Close()
	want := []string{"1", "2", "3"}
	var got []string
	for event := range ch.Events() {
		got = append(got, event.(botcore.MessageEvent).MessageID)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	d := NewDispatcher(testSelf, cache.NewManager(storage.NewMemoryStorage()), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Run(ctx, make(chan RawMessage)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
