package wechat

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/IMBotPlatform/wcfbridge/pkg/botcore"
	"github.com/IMBotPlatform/wcfbridge/pkg/cache"
)

// 路由名称，同时作为 WithRoutes 的选择键。
const (
	RoutePost       = "post"
	RouteFriendship = "friendship"
	RouteRoomInvite = "room-invite"
	RouteRoomJoin   = "room-join"
	RouteRoomLeave  = "room-leave"
	RouteRoomTopic  = "room-topic"
)

// DefaultRouteNames 是默认的路由顺序。
var DefaultRouteNames = []string{
	RoutePost,
	RouteFriendship,
	RouteRoomInvite,
	RouteRoomJoin,
	RouteRoomLeave,
	RouteRoomTopic,
}

const (
	defaultJoinAttempts = 5
	defaultJoinBackoff  = 2 * time.Second
)

// SleepFunc 在入群重试之间等待，测试中可替换为假时钟或注入缓存写入。
type SleepFunc func(ctx context.Context, d time.Duration) error

// sleepContext 是默认的 SleepFunc。
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notifier 持有系统通知匹配器共享的状态。
type notifier struct {
	selfID   string
	cache    *cache.Manager
	resolver *resolver
	logger   *zap.Logger
	sleep    SleepFunc
	attempts int
	backoff  time.Duration
}

// routes 按 names 的顺序构造路由表，未知名称被忽略。
func (n *notifier) routes(names []string) []botcore.Route[RawMessage] {
	byName := map[string]botcore.MatchFunc[RawMessage]{
		RoutePost:       botcore.When(isPost, n.matchPost),
		RouteFriendship: n.matchFriendship,
		RouteRoomInvite: botcore.When(isAppMessage, n.matchRoomInvite),
		RouteRoomJoin:   botcore.When(isRoomOps, n.matchRoomJoin),
		RouteRoomLeave:  botcore.When(isRoomOps, n.matchRoomLeave),
		RouteRoomTopic:  botcore.When(isRoomOps, n.matchRoomTopic),
	}
	routes := make([]botcore.Route[RawMessage], 0, len(names))
	for _, name := range names {
		match, ok := byName[name]
		if !ok {
			n.logger.Warn("未知的路由名称，已忽略", zap.String("route", name))
			continue
		}
		routes = append(routes, botcore.Route[RawMessage]{Name: name, Match: match})
	}
	return routes
}

func isPost(m RawMessage) bool       { return m.Type == MsgTypeMoment }
func isAppMessage(m RawMessage) bool { return m.Type == MsgTypeApp }

// notificationText 返回系统通知正文。
func notificationText(m RawMessage) string {
	return strings.TrimSpace(m.Content)
}
