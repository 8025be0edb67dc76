package signal

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"meetroom/internal/core/domain"
	"meetroom/internal/core/ports"
	"meetroom/internal/core/services"
	"meetroom/internal/infrastructure/media"
	"meetroom/internal/infrastructure/middleware"
	"meetroom/internal/infrastructure/pubsub"
	"meetroom/internal/infrastructure/repositories/memory"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newEventFixture(t *testing.T, origins []string) (*httptest.Server, *services.Room, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop().Sugar()
	ctx := context.Background()

	meetings := memory.NewMemoryMeetingRepository()
	require.NoError(t, meetings.Create(ctx, &domain.Meeting{ID: "m1", Link: "abc-defg-hij", HostID: "alice"}))

	cfg := services.DefaultRoomConfig()
	cfg.Constraints = ports.MediaConstraints{Audio: true}
	rooms := services.NewRoomService(cfg, services.RoomDeps{
		PubSub:   pubsub.NewMemoryBus(logger),
		Devices:  media.NewDevices(media.DeviceConfig{}, logger),
		Meetings: meetings,
	}, logger)
	t.Cleanup(func() { _ = rooms.Shutdown(ctx) })

	auth := services.NewAuthService("secret", time.Hour, "meetroom")
	room, err := rooms.Open(ctx, "abc-defg-hij", domain.Identity{UserID: "alice", Name: "Alice"})
	require.NoError(t, err)
	require.NoError(t, room.Join(ctx))

	events := NewEventServer(rooms, auth, Config{
		PingInterval:   time.Second,
		PongTimeout:    5 * time.Second,
		MaxMessageSize: 4096,
		AllowedOrigins: origins,
	}, logger)

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	api := router.Group("/api/v1", middleware.AuthMiddleware(auth))
	api.GET("/rooms/:id/events", events.HandleRoomEvents)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	token, err := auth.GenerateToken(domain.Identity{UserID: "alice", Name: "Alice"})
	require.NoError(t, err)
	return server, room, token
}

func dial(t *testing.T, server *httptest.Server, path, token string) (*websocket.Conn, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path + "?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, err
}

// readUntil skips snapshot frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, frameType string) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var frame Frame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type == frameType {
			return frame
		}
	}
}

func TestEventServer_StreamsSnapshotsAndCommands(t *testing.T) {
	server, room, token := newEventFixture(t, []string{"*"})
	conn, err := dial(t, server, "/api/v1/rooms/m1/events", token)
	require.NoError(t, err)

	first := readUntil(t, conn, FrameSnapshot)
	require.NotNil(t, first.Room)
	assert.Equal(t, domain.StateInCall, first.Room.State)

	require.NoError(t, conn.WriteJSON(Command{Type: CommandToggleMute}))
	result := readUntil(t, conn, FrameResult)
	assert.Equal(t, CommandToggleMute, result.Command)
	assert.Equal(t, true, result.Value)
	assert.True(t, room.Snapshot().Self.IsMuted)

	require.NoError(t, conn.WriteJSON(Command{Type: CommandChat, Body: "hi"}))
	result = readUntil(t, conn, FrameResult)
	assert.Equal(t, CommandChat, result.Command)

	require.NoError(t, conn.WriteJSON(Command{Type: "dance"}))
	failed := readUntil(t, conn, FrameError)
	assert.Equal(t, "dance", failed.Command)
	assert.Equal(t, "INVALID_INPUT", failed.Code)
}

func TestEventServer_ClosesAfterLeave(t *testing.T) {
	server, room, token := newEventFixture(t, []string{"*"})
	conn, err := dial(t, server, "/api/v1/rooms/m1/events", token)
	require.NoError(t, err)
	readUntil(t, conn, FrameSnapshot)

	require.NoError(t, room.Leave(context.Background()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var last Frame
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			break
		}
		last = frame
	}
	require.NotNil(t, last.Room)
	assert.Equal(t, domain.StateLeft, last.Room.State)
}

func TestEventServer_RejectsUnknownRoom(t *testing.T) {
	server, _, token := newEventFixture(t, []string{"*"})

	_, err := dial(t, server, "/api/v1/rooms/nope/events", token)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
}

func TestEventServer_CheckOrigin(t *testing.T) {
	s := NewEventServer(nil, nil, Config{AllowedOrigins: []string{"meet.example.com"}}, zap.NewNop().Sugar())

	req := httptest.NewRequest("GET", "/", nil)
	assert.True(t, s.checkOrigin(req))

	req.Header.Set("Origin", "https://meet.example.com")
	assert.True(t, s.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, s.checkOrigin(req))
}
