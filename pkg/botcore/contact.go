package botcore

// ContactType 区分个人号、公众号与企业微信联系人。
type ContactType int

const (
	ContactTypeUnknown ContactType = iota
	ContactTypeIndividual
	ContactTypeOfficial
	ContactTypeCorporation
)

// ContactGender 联系人性别。
type ContactGender int

const (
	GenderUnknown ContactGender = iota
	GenderMale
	GenderFemale
)

// Contact 描述一个独立账号。
type Contact struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`            // 昵称
	Alias    string        `json:"alias,omitempty"` // 微信号
	Remark   string        `json:"remark,omitempty"`
	Avatar   string        `json:"avatar,omitempty"`
	Gender   ContactGender `json:"gender"`
	Type     ContactType   `json:"type"`
	Friend   bool          `json:"friend"`
	City     string        `json:"city,omitempty"`
	Province string        `json:"province,omitempty"`
	Tags     []string      `json:"tags,omitempty"`
}

// DisplayName 返回备注优先的展示名。
func (c Contact) DisplayName() string {
	if c.Remark != "" {
		return c.Remark
	}
	return c.Name
}

// Room 描述一个群聊。MemberIDList 为权威成员快照，用于约束由通知驱动的增量更新。
type Room struct {
	ID            string            `json:"id"`
	Topic         string            `json:"topic"`
	Announcement  string            `json:"announcement,omitempty"`
	OwnerID       string            `json:"ownerId,omitempty"`
	Avatar        string            `json:"avatar,omitempty"`
	AdminIDList   []string          `json:"adminIdList,omitempty"`
	MemberIDList  []string          `json:"memberIdList"`
	MemberAliases map[string]string `json:"memberAliases,omitempty"` // 成员 ID -> 群昵称
}

// HasMember 判断 id 是否在成员快照中。
func (r Room) HasMember(id string) bool {
	for _, m := range r.MemberIDList {
		if m == id {
			return true
		}
	}
	return false
}

// RoomMember 描述某个群内的成员视图，以 (RoomID, ID) 为键。
type RoomMember struct {
	RoomID    string `json:"roomId"`
	ID        string `json:"id"`
	Name      string `json:"name"`                // 备注优先，其次昵称
	RoomAlias string `json:"roomAlias,omitempty"` // 群昵称
	Avatar    string `json:"avatar,omitempty"`
}

// FriendshipType 好友事件类型。
type FriendshipType int

const (
	FriendshipUnknown FriendshipType = iota
	FriendshipConfirm
	FriendshipReceive
	FriendshipVerify
)

var friendshipNames = map[FriendshipType]string{
	FriendshipUnknown: "unknown",
	FriendshipConfirm: "confirm",
	FriendshipReceive: "receive",
	FriendshipVerify:  "verify",
}

// String 返回好友事件类型名称。
func (t FriendshipType) String() string {
	if name, ok := friendshipNames[t]; ok {
		return name
	}
	return friendshipNames[FriendshipUnknown]
}

// Friendship 以来源消息 ID 为键写入缓存，写一次读一次。
type Friendship struct {
	ID        string         `json:"id"`
	Kind      FriendshipType `json:"type"` // 与 Event.Type() 区分，JSON 仍为 type
	ContactID string         `json:"contactId"`
	Hello     string         `json:"hello,omitempty"`
	Scene     int            `json:"scene,omitempty"`
	Ticket    string         `json:"ticket,omitempty"`
	Stranger  string         `json:"stranger,omitempty"`
	Timestamp int64          `json:"timestamp"`
	// Requester 仅 receive 类型携带，来自好友验证请求文档。
	Requester *Contact `json:"requester,omitempty"`
}

// RoomInvitation 以来源消息 ID 为键写入缓存。
type RoomInvitation struct {
	ID           string   `json:"id"`
	InviterID    string   `json:"inviterId"`
	Topic        string   `json:"topic"`
	Avatar       string   `json:"avatar,omitempty"`
	Invitation   string   `json:"invitation,omitempty"` // 邀请链接
	ReceiverID   string   `json:"receiverId"`
	MemberCount  int      `json:"memberCount,omitempty"`
	MemberIDList []string `json:"memberIdList,omitempty"`
	Timestamp    int64    `json:"timestamp"`
}
