package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/fxdesk/internal/domain"
	"github.com/vadiminshakov/fxdesk/pkg/retrier"
	"go.uber.org/zap"
)

const (
	wsReadTimeout      = 60 * time.Second
	wsHandshakeTimeout = 10 * time.Second
	wsReadLimit        = 1 << 20
)

// messageHandler consumes one raw frame from the socket.
type messageHandler func(payload []byte)

// wsStream keeps one websocket subscription alive, redialing with backoff
// until Close.
type wsStream struct {
	url     string
	dialer  *websocket.Dialer
	handle  messageHandler
	backoff *retrier.Retrier
	logger  *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func dialStream(ctx context.Context, url string, backoff *retrier.Retrier, handle messageHandler, logger *zap.Logger) (*wsStream, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &wsStream{
		url:     url,
		dialer:  &websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout},
		handle:  handle,
		backoff: backoff,
		logger:  logger.With(zap.String("url", url)),
		done:    make(chan struct{}),
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(streamCtx, conn)

	return s, nil
}

func (s *wsStream) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrTransport, "dial %s: %v", s.url, err)
	}
	conn.SetReadLimit(wsReadLimit)

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	return conn, nil
}

func (s *wsStream) run(ctx context.Context, conn *websocket.Conn) {
	defer close(s.done)

	attempt := 0
	for {
		if ctx.Err() != nil {
			_ = conn.Close()
			return
		}

		received := s.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		if received {
			attempt = 0
		}

		for {
			attempt++
			delay := s.backoff.Delay(attempt)
			s.logger.Warn("stream dropped, reconnecting",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))

			if err := s.backoff.Wait(ctx, attempt); err != nil {
				return
			}

			var err error
			conn, err = s.dial(ctx)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("reconnect failed", zap.Error(err))
		}
	}
}

// readLoop reads frames until the connection fails. Reports whether any frame arrived.
func (s *wsStream) readLoop(ctx context.Context, conn *websocket.Conn) bool {
	defer conn.Close()

	received := false
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Debug("read failed", zap.Error(err))
			}
			return received
		}
		received = true
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		s.handle(payload)
	}
}

// Close stops the reconnect loop and waits for it to exit.
func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.mu.Unlock()

		<-s.done
	})
	return nil
}
