package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSessionCache(t *testing.T) {
	Convey("SessionCache 按对话缓存服务商会话", t, func() {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()

		sessions := NewSessionCache(NewRedisCacheWithClient(client), time.Minute)
		ctx := context.Background()

		Convey("未写入时返回 nil", func() {
			state, err := sessions.GetSession(ctx, "conv-1")
			So(err, ShouldBeNil)
			So(state, ShouldBeNil)
		})

		Convey("写入后可读取并带 TTL", func() {
			now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			err := sessions.SetSession(ctx, "conv-1", SessionState{SessionID: "cont_1", Model: "m", TurnID: "t1", UpdatedAt: now})
			So(err, ShouldBeNil)

			state, err := sessions.GetSession(ctx, "conv-1")
			So(err, ShouldBeNil)
			So(state.SessionID, ShouldEqual, "cont_1")
			So(state.UpdatedAt.Equal(now), ShouldBeTrue)
			So(mr.TTL(SessionKey("conv-1")), ShouldEqual, time.Minute)

			mr.FastForward(2 * time.Minute)
			state, err = sessions.GetSession(ctx, "conv-1")
			So(err, ShouldBeNil)
			So(state, ShouldBeNil)
		})

		Convey("删除会话", func() {
			So(sessions.SetSession(ctx, "conv-2", SessionState{SessionID: "cont_2"}), ShouldBeNil)
			So(sessions.DeleteSession(ctx, "conv-2"), ShouldBeNil)
			So(mr.Exists(SessionKey("conv-2")), ShouldBeFalse)
		})
	})
}
