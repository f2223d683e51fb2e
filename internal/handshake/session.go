package handshake

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/skyprovider/internal/popup"
	"github.com/charlesng35/skyprovider/internal/provider"
	"github.com/charlesng35/skyprovider/pkg/response"
)

// Session is one connected host. It owns the host's provider and opens popups by
// calling back into the host.
type Session struct {
	id       string
	hub      *Hub
	socket   *websocket.Conn
	send     chan Frame
	popups   *popup.Channel
	provider *provider.Provider
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu      sync.Mutex
	pending map[string]chan Frame
	screen  popup.Screen
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Screen returns the host screen geometry popups are centered on.
func (s *Session) Screen() popup.Screen {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen
}

// OpenWindow asks the host to open w and waits for its answer. A host that reports the
// window as not opened, answers with an error, or does not answer in time is treated as
// a blocked popup.
func (s *Session) OpenWindow(ctx context.Context, w popup.Window) error {
	params, err := json.Marshal(w)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	reply := make(chan Frame, 1)
	s.mu.Lock()
	s.pending[id] = reply
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if !s.enqueue(Frame{ID: id, Type: FrameCall, Method: CallPopupOpen, Params: params}) {
		return popup.ErrPopupBlocked.WithMessage("Host session is closed")
	}

	timer := time.NewTimer(s.hub.openWait)
	defer timer.Stop()

	select {
	case frame := <-reply:
		if frame.Error != nil {
			return popup.ErrPopupBlocked.WithMessage(frame.Error.Message)
		}
		var result PopupOpenResult
		if err := json.Unmarshal(frame.Result, &result); err != nil || !result.Opened {
			return popup.ErrPopupBlocked
		}
		return nil
	case <-timer.C:
		return popup.ErrPopupBlocked.WithMessage("Host did not answer the popup request")
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return popup.ErrPopupBlocked.WithMessage("Host session is closed")
	}
}

func (s *Session) readLoop() {
	defer s.close()

	s.socket.SetReadLimit(maxMessageSize)
	_ = s.socket.SetReadDeadline(time.Now().Add(pongWait))
	s.socket.SetPongHandler(func(string) error {
		_ = s.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame Frame
		if err := s.socket.ReadJSON(&frame); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				s.log.Warn("invalid handshake frame", zap.Error(err))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("unexpected close", zap.Error(err))
			}
			return
		}

		switch frame.Type {
		case FrameReply:
			s.deliverReply(frame)
		case FrameCall:
			go s.handleCall(frame)
		default:
			s.log.Warn("unsupported frame type", zap.String("type", frame.Type))
		}
	}
}

func (s *Session) deliverReply(frame Frame) {
	s.mu.Lock()
	reply, ok := s.pending[frame.ID]
	s.mu.Unlock()
	if !ok {
		s.log.Debug("reply for unknown call", zap.String("id", frame.ID))
		return
	}
	select {
	case reply <- frame:
	default:
	}
}

func (s *Session) handleCall(call Frame) {
	result, err := s.dispatch(s.ctx, call.Method, call.Params)

	reply := Frame{ID: call.ID, Type: FrameReply}
	if err != nil {
		reply.Error, _ = response.Describe(err)
		s.log.Debug("call failed", zap.String("method", call.Method), zap.Error(err))
	} else {
		raw, err := json.Marshal(result)
		if err != nil {
			reply.Error, _ = response.Describe(err)
		} else {
			reply.Result = raw
		}
	}
	s.enqueue(reply)
}

func (s *Session) enqueue(frame Frame) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}

	select {
	case s.send <- frame:
		return true
	case <-s.ctx.Done():
		return false
	default:
		s.log.Warn("dropping backpressured host session")
		s.close()
		return false
	}
}

func (s *Session) writeLoop() {
	defer s.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-s.send:
			_ = s.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.socket.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.ctx.Done():
			_ = s.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.socket.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (s *Session) close() {
	s.once.Do(func() {
		s.cancel()
		s.popups.Close()
		s.hub.unregister(s)
		_ = s.socket.Close()
	})
}
