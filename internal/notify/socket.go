package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-connect/internal/obslog"
)

// Socket writes ReplyRequest frames to the bridge over a single WebSocket.
// The connection is dialled on first use and redialled once after a failed write.
type Socket struct {
	url          string
	writeTimeout time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	closed bool
}

func NewSocket(url string) *Socket {
	return &Socket{url: url, writeTimeout: 5 * time.Second}
}

func (s *Socket) SendText(ctx context.Context, room, message string) error {
	return s.send(ctx, ReplyRequest{Type: "text", Room: room, Data: message})
}

func (s *Socket) SendImage(ctx context.Context, room, imageBase64 string) error {
	return s.send(ctx, ReplyRequest{Type: "image", Room: room, Data: imageBase64})
}

func (s *Socket) send(ctx context.Context, req ReplyRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("socket closed")
	}
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		if s.conn == nil {
			if err := s.dial(ctx); err != nil {
				return err
			}
		}
		wctx := ctx
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			wctx, cancel = context.WithTimeout(ctx, s.writeTimeout)
			defer cancel()
		}
		err := wsjson.Write(wctx, s.conn, req)
		if err == nil {
			return nil
		}
		lastErr = fmt.Errorf("ws write: %w", err)
		obslog.L().Warn("notify_ws_write_error", zap.Int("attempt", attempt), zap.Error(err))
		s.drop(websocket.StatusGoingAway, "write failed")
		if ctx.Err() != nil {
			break
		}
	}
	return lastErr
}

// dial connects and starts draining inbound frames so control frames are answered.
func (s *Socket) dial(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, s.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return fmt.Errorf("ws dial: %w", err)
	}
	rctx, rcancel := context.WithCancel(context.Background())
	s.conn, s.cancel = conn, rcancel
	go func() {
		for {
			if _, _, err := conn.Read(rctx); err != nil {
				return
			}
		}
	}()
	obslog.L().Info("notify_ws_connected", zap.String("url", s.url))
	return nil
}

func (s *Socket) drop(code websocket.StatusCode, reason string) {
	if s.conn == nil {
		return
	}
	_ = s.conn.Close(code, reason)
	s.cancel()
	s.conn, s.cancel = nil, nil
}

func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.drop(websocket.StatusNormalClosure, "close")
	return nil
}

// Fallback sends through Primary and retries a failed delivery once through Secondary.
type Fallback struct {
	Primary   Sender
	Secondary Sender
}

func (f Fallback) SendText(ctx context.Context, room, message string) error {
	err := f.Primary.SendText(ctx, room, message)
	if err == nil || f.Secondary == nil {
		return err
	}
	obslog.L().Warn("notify_fallback", zap.String("type", "text"), zap.String("room", room), zap.Error(err))
	return f.Secondary.SendText(ctx, room, message)
}

func (f Fallback) SendImage(ctx context.Context, room, imageBase64 string) error {
	err := f.Primary.SendImage(ctx, room, imageBase64)
	if err == nil || f.Secondary == nil {
		return err
	}
	obslog.L().Warn("notify_fallback", zap.String("type", "image"), zap.String("room", room), zap.Error(err))
	return f.Secondary.SendImage(ctx, room, imageBase64)
}
