package cache

import (
	"sync"

	"github.com/IMBotPlatform/wcfbridge/pkg/botcore"
	"github.com/IMBotPlatform/wcfbridge/pkg/storage"
)

// 命名空间前缀。
const (
	PrefixMessage        = "wcf:message"
	PrefixContact        = "wcf:contact"
	PrefixRoom           = "wcf:room"
	PrefixRoomInvitation = "wcf:room-invitation"
	PrefixFriendship     = "wcf:friendship"
	PrefixRoomMember     = "wcf:room-member"
)

// Manager 聚合全部命名空间。群成员按群划分子命名空间，首次访问时惰性创建。
// 不同命名空间之间没有跨键锁，两个群的成员子空间完全独立。
type Manager struct {
	Messages        *Namespace[botcore.Message]
	Contacts        *Namespace[botcore.Contact]
	Rooms           *Namespace[botcore.Room]
	RoomInvitations *Namespace[botcore.RoomInvitation]
	Friendships     *Namespace[botcore.Friendship]

	base    storage.Storage
	mu      sync.Mutex
	members map[string]*Namespace[botcore.RoomMember] // roomID -> 成员子空间
}

// NewManager 基于给定存储后端创建缓存管理器。
func NewManager(base storage.Storage) *Manager {
	return &Manager{
		Messages:        newNamespace[botcore.Message](base, PrefixMessage),
		Contacts:        newNamespace[botcore.Contact](base, PrefixContact),
		Rooms:           newNamespace[botcore.Room](base, PrefixRoom),
		RoomInvitations: newNamespace[botcore.RoomInvitation](base, PrefixRoomInvitation),
		Friendships:     newNamespace[botcore.Friendship](base, PrefixFriendship),
		base:            base,
		members:         make(map[string]*Namespace[botcore.RoomMember]),
	}
}

// RoomMembers 返回指定群的成员子空间，键为联系人 ID。
func (m *Manager) RoomMembers(roomID string) *Namespace[botcore.RoomMember] {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.members[roomID]
	if !ok {
		ns = newNamespace[botcore.RoomMember](m.base, PrefixRoomMember+storage.Separator+roomID)
		m.members[roomID] = ns
	}
	return ns
}

// 常用的 SetList 键函数。
func ContactKey(c botcore.Contact) string       { return c.ID }
func RoomKey(r botcore.Room) string             { return r.ID }
func RoomMemberKey(m botcore.RoomMember) string { return m.ID }
