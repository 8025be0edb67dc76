package signal

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"meetroom/internal/core/domain"
	"meetroom/internal/core/services"
	apperrors "meetroom/pkg/errors"
	"meetroom/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Frame types sent to the UI shell.
const (
	FrameSnapshot = "snapshot"
	FrameResult   = "result"
	FrameError    = "error"
)

// Command types accepted from the UI shell.
const (
	CommandToggleMute   = "toggle-mute"
	CommandToggleCamera = "toggle-camera"
	CommandToggleHand   = "toggle-hand"
	CommandChat         = "chat"
)

type Config struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	AllowedOrigins []string
}

// EventServer streams room snapshots over a websocket and accepts the
// in-call toggles and chat as commands on the same socket.
type EventServer struct {
	rooms    *services.RoomService
	auth     services.AuthService
	config   Config
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger
}

type Frame struct {
	Type    string             `json:"type"`
	Room    *services.Snapshot `json:"room,omitempty"`
	Command string             `json:"command,omitempty"`
	Value   interface{}        `json:"value,omitempty"`
	Code    string             `json:"code,omitempty"`
	Message string             `json:"message,omitempty"`
}

type Command struct {
	Type string `json:"type"`
	Body string `json:"body,omitempty"`
}

func NewEventServer(rooms *services.RoomService, auth services.AuthService, config Config, logger *zap.SugaredLogger) *EventServer {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.PongTimeout <= config.PingInterval {
		config.PongTimeout = config.PingInterval * 2
	}
	s := &EventServer{
		rooms:  rooms,
		auth:   auth,
		config: config,
		logger: logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
	return s
}

func (s *EventServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || allowed == origin || allowed == u.Host {
			return true
		}
	}
	return false
}

// HandleRoomEvents serves GET /rooms/:id/events. The caller must already
// have opened the room.
func (s *EventServer) HandleRoomEvents(c *gin.Context) {
	identity, err := s.auth.Current(c.Request.Context())
	if err != nil {
		c.Error(apperrors.NewUnauthorizedError("authentication required"))
		return
	}
	room, err := s.rooms.Get(domain.MeetingID(c.Param("id")), identity.UserID)
	if err != nil {
		c.Error(err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	log := s.logger.With("meeting_id", c.Param("id"), "user_id", identity.UserID)
	log.Debugw("room event stream opened")

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	snapshots, stop := room.Watch()
	defer stop()

	replies := make(chan Frame, 8)
	readDone := make(chan struct{})
	go s.readCommands(ctx, conn, room, replies, readDone, log)

	pingTicker := time.NewTicker(s.config.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-readDone:
			log.Debugw("room event stream closed by client")
			return
		case snap := <-snapshots:
			if err := s.write(conn, Frame{Type: FrameSnapshot, Room: &snap}); err != nil {
				log.Debugw("failed to write snapshot", "error", err)
				return
			}
			if snap.State == domain.StateLeft {
				s.closeNormally(conn, string(snap.LeaveReason))
				return
			}
		case reply := <-replies:
			if err := s.write(conn, reply); err != nil {
				log.Debugw("failed to write reply", "error", err)
				return
			}
		case <-pingTicker.C:
			deadline := time.Now().Add(s.config.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debugw("ping failed", "error", err)
				return
			}
		}
	}
}

func (s *EventServer) write(conn *websocket.Conn, frame Frame) error {
	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return conn.WriteJSON(frame)
}

func (s *EventServer) closeNormally(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.config.WriteTimeout))
}

func (s *EventServer) readCommands(ctx context.Context, conn *websocket.Conn, room *services.Room, replies chan<- Frame, done chan<- struct{}, log *zap.SugaredLogger) {
	defer close(done)

	if s.config.MaxMessageSize > 0 {
		conn.SetReadLimit(s.config.MaxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	})

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugw("room event stream read failed", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))

		frame := s.dispatch(ctx, room, cmd)
		select {
		case replies <- frame:
		case <-ctx.Done():
			return
		}
	}
}

func (s *EventServer) dispatch(ctx context.Context, room *services.Room, cmd Command) Frame {
	ctx, span := tracing.TraceWebSocketMessage(ctx, cmd.Type, string(room.Session().Identity.UserID))
	defer span.End()

	var (
		value interface{}
		err   error
	)
	switch cmd.Type {
	case CommandToggleMute:
		value, err = room.ToggleMute(ctx)
	case CommandToggleCamera:
		value, err = room.ToggleCamera(ctx)
	case CommandToggleHand:
		value, err = room.ToggleHand(ctx)
	case CommandChat:
		value, err = room.SendChat(ctx, cmd.Body)
	default:
		err = apperrors.NewInvalidInputError("unknown command " + cmd.Type)
	}

	if err != nil {
		tracing.RecordError(ctx, err)
		appErr := apperrors.FromDomain(err)
		return Frame{Type: FrameError, Command: cmd.Type, Code: string(appErr.Code), Message: appErr.Message}
	}
	return Frame{Type: FrameResult, Command: cmd.Type, Value: value}
}
