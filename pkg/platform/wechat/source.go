package wechat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/IMBotPlatform/wcfbridge/pkg/botcore"
)

// ErrNotFound 表示数据源中不存在该联系人或群。
var ErrNotFound = errors.New("wechat: not found")

// Source 是对 wcf 查询能力的抽象，缓存未命中时从这里拉取最新快照。
type Source interface {
	GetContactInfo(ctx context.Context, id string) (botcore.Contact, error)
	GetRoomInfo(ctx context.Context, id string) (botcore.Room, error)
	// GetRoomMembers 根据成员 ID 列表与群昵称映射构造群成员视图。
	GetRoomMembers(ctx context.Context, roomID string, memberIDs []string, displayNames map[string]string) ([]botcore.RoomMember, error)
	GetContactList(ctx context.Context) ([]botcore.Contact, error)
	GetRoomList(ctx context.Context) ([]botcore.Room, error)
}

// WcfContact 是 wcf 联系人表的一行。
type WcfContact struct {
	UserName        string   `json:"userName" yaml:"userName"`
	Alias           string   `json:"alias,omitempty" yaml:"alias,omitempty"`
	NickName        string   `json:"nickName" yaml:"nickName"`
	Remark          string   `json:"remark,omitempty" yaml:"remark,omitempty"`
	SmallHeadImgURL string   `json:"smallHeadImgUrl,omitempty" yaml:"smallHeadImgUrl,omitempty"`
	Gender          int      `json:"gender,omitempty" yaml:"gender,omitempty"`
	Tags            []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// WcfChatRoom 是 wcf 群表的一行。
type WcfChatRoom struct {
	UserName        string            `json:"userName" yaml:"userName"`
	NickName        string            `json:"nickName" yaml:"nickName"` // 群名
	OwnerUserName   string            `json:"ownerUserName,omitempty" yaml:"ownerUserName,omitempty"`
	Announcement    string            `json:"announcement,omitempty" yaml:"announcement,omitempty"`
	SmallHeadImgURL string            `json:"smallHeadImgUrl,omitempty" yaml:"smallHeadImgUrl,omitempty"`
	MemberIDList    []string          `json:"memberIdList" yaml:"memberIdList"`
	DisplayNameMap  map[string]string `json:"displayNameMap,omitempty" yaml:"displayNameMap,omitempty"` // 成员 ID -> 群昵称
}

// ContactTypeOf 按 ID 形态区分公众号、企业微信联系人与个人号。
func ContactTypeOf(id string) botcore.ContactType {
	switch {
	case strings.HasPrefix(id, officialIDPrefix):
		return botcore.ContactTypeOfficial
	case strings.HasSuffix(id, openIMSuffix):
		return botcore.ContactTypeCorporation
	default:
		return botcore.ContactTypeIndividual
	}
}

// ToContact 将 wcf 联系人映射为通用 Contact。
func (c WcfContact) ToContact() botcore.Contact {
	return botcore.Contact{
		ID:     c.UserName,
		Name:   c.NickName,
		Alias:  c.Alias,
		Remark: c.Remark,
		Avatar: c.SmallHeadImgURL,
		Gender: botcore.ContactGender(c.Gender),
		Type:   ContactTypeOf(c.UserName),
		Friend: true,
		Tags:   c.Tags,
	}
}

// ToRoom 将 wcf 群映射为通用 Room。
func (r WcfChatRoom) ToRoom() botcore.Room {
	return botcore.Room{
		ID:            r.UserName,
		Topic:         r.NickName,
		Announcement:  r.Announcement,
		OwnerID:       r.OwnerUserName,
		Avatar:        r.SmallHeadImgURL,
		MemberIDList:  r.MemberIDList,
		MemberAliases: r.DisplayNameMap,
	}
}

// NewRoomMember 组合联系人资料与群昵称得到群成员视图：名称备注优先，其次昵称。
func NewRoomMember(roomID string, contact WcfContact, roomAlias string) botcore.RoomMember {
	name := contact.Remark
	if name == "" {
		name = contact.NickName
	}
	return botcore.RoomMember{
		RoomID:    roomID,
		ID:        contact.UserName,
		Name:      name,
		RoomAlias: roomAlias,
		Avatar:    contact.SmallHeadImgURL,
	}
}

// Snapshot 是 SnapshotSource 的文件格式。
type Snapshot struct {
	Self     string        `yaml:"self"`
	Contacts []WcfContact  `yaml:"contacts"`
	Rooms    []WcfChatRoom `yaml:"rooms"`
}

// SnapshotSource 基于静态快照实现 Source，用于回放与测试。
// 快照内容可以在运行中通过 Put* 更新，模拟平台侧的数据变化。
type SnapshotSource struct {
	mu       sync.RWMutex
	self     string
	contacts map[string]WcfContact
	rooms    map[string]WcfChatRoom
	order    []string // 联系人加载顺序，保证列表输出稳定
	roomSeq  []string
}

// NewSnapshotSource 由内存快照创建数据源。
func NewSnapshotSource(snap Snapshot) *SnapshotSource {
	s := &SnapshotSource{
		self:     snap.Self,
		contacts: make(map[string]WcfContact),
		rooms:    make(map[string]WcfChatRoom),
	}
	for _, c := range snap.Contacts {
		s.PutContact(c)
	}
	for _, r := range snap.Rooms {
		s.PutRoom(r)
	}
	return s
}

// LoadSnapshotSource 从 YAML 文件加载快照。
func LoadSnapshotSource(path string) (*SnapshotSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot file: %w", err)
	}
	return NewSnapshotSource(snap), nil
}

// Self 返回快照中记录的当前账号 ID。
func (s *SnapshotSource) Self() string {
	return s.self
}

// PutContact 新增或覆盖联系人。
func (s *SnapshotSource) PutContact(c WcfContact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contacts[c.UserName]; !ok {
		s.order = append(s.order, c.UserName)
	}
	s.contacts[c.UserName] = c
}

// PutRoom 新增或覆盖群。
func (s *SnapshotSource) PutRoom(r WcfChatRoom) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[r.UserName]; !ok {
		s.roomSeq = append(s.roomSeq, r.UserName)
	}
	s.rooms[r.UserName] = r
}

// GetContactInfo 实现 Source。
func (s *SnapshotSource) GetContactInfo(_ context.Context, id string) (botcore.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok {
		return botcore.Contact{}, fmt.Errorf("contact %s: %w", id, ErrNotFound)
	}
	return c.ToContact(), nil
}

// GetRoomInfo 实现 Source。
func (s *SnapshotSource) GetRoomInfo(_ context.Context, id string) (botcore.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return botcore.Room{}, fmt.Errorf("room %s: %w", id, ErrNotFound)
	}
	return r.ToRoom(), nil
}

// GetRoomMembers 实现 Source。快照中没有资料的成员只保留 ID 与群昵称。
func (s *SnapshotSource) GetRoomMembers(_ context.Context, roomID string, memberIDs []string, displayNames map[string]string) ([]botcore.RoomMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := make([]botcore.RoomMember, 0, len(memberIDs))
	for _, id := range memberIDs {
		contact, ok := s.contacts[id]
		if !ok {
			contact = WcfContact{UserName: id}
		}
		members = append(members, NewRoomMember(roomID, contact, displayNames[id]))
	}
	return members, nil
}

// GetContactList 实现 Source。
func (s *SnapshotSource) GetContactList(_ context.Context) ([]botcore.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]botcore.Contact, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.contacts[id].ToContact())
	}
	return out, nil
}

// GetRoomList 实现 Source。
func (s *SnapshotSource) GetRoomList(_ context.Context) ([]botcore.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]botcore.Room, 0, len(s.roomSeq))
	for _, id := range s.roomSeq {
		out = append(out, s.rooms[id].ToRoom())
	}
	return out, nil
}
