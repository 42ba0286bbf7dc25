package realtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

const (
	defaultSendBuffer   = 256
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	maxFrameSize        = 64 << 10
)

// Authenticator verifies the credential presented at handshake.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// UserLookup confirms the token subject still exists.
type UserLookup interface {
	UserByID(ctx context.Context, id string) (*domain.User, error)
}

// Options tunes per-connection buffering and keepalive.
type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	return o
}

// Server accepts websocket connections and feeds their frames to Commands.
type Server struct {
	auth     Authenticator
	users    UserLookup
	commands *Commands
	hub      *Hub
	registry *Registry
	upgrader websocket.Upgrader
	opts     Options
	log      *log.Logger
}

func NewServer(auth Authenticator, users UserLookup, hub *Hub, commands *Commands, opts Options, logger *log.Logger) *Server {
	if logger == nil {
		panic("Logger is not initialized")
	}
	s := &Server{
		auth:     auth,
		users:    users,
		commands: commands,
		hub:      hub,
		opts:     opts.withDefaults(),
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.registry = NewRegistry(
		func(sess *Session) {
			logger.WithFields(log.Fields{"session": sess.ID, "user": sess.UserID}).Debug("socket connected")
		},
		func(sess *Session) {
			hub.LeaveAll(sess)
			logger.WithFields(log.Fields{"session": sess.ID, "user": sess.UserID, "dropped": sess.Dropped()}).Debug("socket disconnected")
		},
	)
	return s
}

// Register mounts the socket endpoint.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/socket", s.handle)
}

func (s *Server) Registry() *Registry { return s.registry }

// Shutdown closes every open session.
func (s *Server) Shutdown() { s.registry.CloseAll() }

func (s *Server) handle(c echo.Context) error {
	s.ServeHTTP(c.Response(), c.Request())
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		s.log.WithError(err).Debug("socket handshake refused")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	sess := newSession(userID, conn, s.opts.SendBuffer)
	s.registry.Add(sess)
	defer s.registry.Remove(sess)

	go s.writeLoop(sess)
	s.readLoop(context.WithoutCancel(r.Context()), sess)
}

func (s *Server) authenticate(r *http.Request) (string, error) {
	header := r.Header.Get(echo.HeaderAuthorization)
	if header == "" {
		if token := r.URL.Query().Get("token"); token != "" {
			header = token
			if !strings.HasPrefix(token, "Bearer ") {
				header = "Bearer " + token
			}
		}
	}
	userID, err := s.auth.UserIDFromAuthHeader(header)
	if err != nil {
		return "", err
	}
	user, err := s.users.UserByID(r.Context(), userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", errors.New("user no longer exists")
	}
	return user.ID, nil
}

// readLoop processes frames one at a time until the connection fails or the
// session is closed.
func (s *Server) readLoop(ctx context.Context, sess *Session) {
	conn := sess.conn
	defer func() {
		sess.Close()
		_ = conn.Close()
	}()
	conn.SetReadLimit(maxFrameSize)
	pongWait := s.opts.PingInterval * 2
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.WithError(err).WithField("session", sess.ID).Debug("socket read failed")
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		select {
		case <-sess.Done():
			return
		default:
		}
		s.commands.Dispatch(ctx, sess, msg)
	}
}

func (s *Server) writeLoop(sess *Session) {
	conn := sess.conn
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case msg := <-sess.send:
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.log.WithError(err).WithField("session", sess.ID).Debug("socket write failed")
				sess.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sess.Close()
				return
			}
		case <-sess.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
				time.Now().Add(s.opts.WriteTimeout))
			return
		}
	}
}
