package rekapo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rekapo/internal/domain"
	"rekapo/internal/ports"
)

const (
	defaultWriteTimeout = 10 * time.Second
	closeWriteTimeout   = time.Second
	maxMessageBytes     = 4 << 20
)

// Dialer implements ports.ChannelDialer for the backend transcription socket.
type Dialer struct {
	baseURL string
	tokens  ports.TokenSource
	logger  *zap.SugaredLogger
	dialer  *websocket.Dialer
}

func NewDialer(baseURL string, tokens ports.TokenSource, logger *zap.SugaredLogger) *Dialer {
	return &Dialer{
		baseURL: baseURL,
		tokens:  tokens,
		logger:  logger,
		dialer:  websocket.DefaultDialer,
	}
}

// Open dials the channel for sessionID. The websocket handshake completing is
// what makes the channel open, so a returned channel is always usable; the
// caller bounds the wait through ctx.
func (d *Dialer) Open(ctx context.Context, sessionID string) (ports.TranscriptionChannel, error) {
	wsURL, err := buildChannelURL(d.baseURL, sessionID)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	if d.tokens != nil {
		token, err := d.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve auth token: %w", err)
		}
		if token != "" {
			headers.Set("Authorization", "Bearer "+token)
		}
	}

	conn, resp, err := d.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect transcription channel: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("connect transcription channel: %w", err)
	}
	conn.SetReadLimit(maxMessageBytes)

	ch := &channel{
		conn:    conn,
		logger:  d.logger.With("session_id", sessionID),
		events:  make(chan domain.ServerEvent, 64),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
		state:   domain.ChannelStateOpen,
	}
	go ch.readLoop()

	d.logger.Infow("transcription channel open", "session_id", sessionID)
	return ch, nil
}

type channel struct {
	conn   *websocket.Conn
	logger *zap.SugaredLogger

	events  chan domain.ServerEvent
	done    chan struct{}
	closing chan struct{}

	stateMu sync.Mutex
	state   domain.ChannelState

	writeMu sync.Mutex

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

func (c *channel) State() domain.ChannelState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *channel) setState(state domain.ChannelState) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state = state
}

// SendAudioChunk writes one chunk message. Concurrent callers are serialized
// in call order.
func (c *channel) SendAudioChunk(msg ports.AudioChunkMessage) error {
	if c.State() != domain.ChannelStateOpen {
		return domain.ErrChannelNotOpen
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	// Close may have started while this caller waited for the lock.
	if c.State() != domain.ChannelStateOpen {
		return domain.ErrChannelNotOpen
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		c.setErr(fmt.Errorf("failed to send audio chunk: %w", err))
		return fmt.Errorf("failed to send audio chunk: %w", err)
	}
	return nil
}

func (c *channel) Events() <-chan domain.ServerEvent {
	return c.events
}

func (c *channel) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close is idempotent and waits for the read loop to finish.
func (c *channel) Close() error {
	c.closeOnce.Do(func() {
		c.setState(domain.ChannelStateClosing)
		close(c.closing)

		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "recording stopped"),
			time.Now().Add(closeWriteTimeout),
		)
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

func (c *channel) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *channel) readLoop() {
	defer func() {
		c.setState(domain.ChannelStateClosed)
		close(c.events)
		close(c.done)
	}()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closing:
			default:
				c.setErr(fmt.Errorf("failed to read channel event: %w", err))
			}
			return
		}

		var event domain.ServerEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			c.logger.Warnw("dropping malformed channel message", "error", err)
			continue
		}
		event.Status = domain.EventStatus(strings.ToLower(strings.TrimSpace(string(event.Status))))
		if event.Status == "" {
			c.logger.Debugw("dropping channel message without status")
			continue
		}

		select {
		case c.events <- event:
		case <-c.closing:
			return
		}
	}
}

func buildChannelURL(base string, sessionID string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", errors.New("session id is required")
	}

	base = strings.TrimSpace(base)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	channelURL, err := url.Parse(base + "/ws/transcribe/" + url.PathEscape(sessionID))
	if err != nil {
		return "", fmt.Errorf("invalid backend base URL: %w", err)
	}
	if channelURL.Scheme != "ws" && channelURL.Scheme != "wss" {
		return "", fmt.Errorf("invalid backend base URL scheme %q", channelURL.Scheme)
	}
	return channelURL.String(), nil
}
