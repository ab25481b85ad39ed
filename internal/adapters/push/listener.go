// Package push listens on the analysis service's WebSocket channel. Notices
// are only hints to poll sooner; the job state machine never reads them.
package push

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/TeneoProtocolAI/walletscan/internal/core/domain"
)

const (
	HeartbeatInterval = 20 * time.Second
	pongWait          = 2 * HeartbeatInterval
	writeWait         = 5 * time.Second
)

// TokenSource supplies the bearer token for the handshake.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Listener keeps one WebSocket subscription per Run call alive.
type Listener struct {
	baseURL    string
	dialer     *websocket.Dialer
	tokens     TokenSource
	log        *zap.SugaredLogger
	newBackOff func() *backoff.ExponentialBackOff
}

type Option func(*Listener)

func WithTokenSource(ts TokenSource) Option {
	return func(l *Listener) { l.tokens = ts }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(l *Listener) { l.log = log }
}

// WithBackOff replaces the reconnect policy.
func WithBackOff(fn func() *backoff.ExponentialBackOff) Option {
	return func(l *Listener) { l.newBackOff = fn }
}

// NewListener creates a listener for the ws:// or wss:// base URL.
func NewListener(baseURL string, opts ...Option) *Listener {
	l := &Listener{
		baseURL: strings.TrimRight(baseURL, "/"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 5 * time.Second,
		},
		log:        zap.NewNop().Sugar(),
		newBackOff: NewReconnectBackOff,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewReconnectBackOff retries forever, backing off up to 30 seconds.
func NewReconnectBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.1
	return b
}

// Run subscribes to notices for key and calls notify for each one until ctx
// is cancelled. Dropped connections are re-dialled with backoff.
func (l *Listener) Run(ctx context.Context, key string, notify func(domain.PushNotice)) error {
	b := l.newBackOff()
	operation := func() error {
		err := l.listen(ctx, key, b, notify)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}

	return backoff.RetryNotify(operation, backoff.WithContext(b, ctx),
		func(err error, d time.Duration) {
			l.log.Warnw("Push channel dropped, reconnecting",
				"key", key,
				"error", err,
				"retry_in", d)
		})
}

func (l *Listener) eventsURL(key string) string {
	return l.baseURL + "/analysis/" + url.PathEscape(key) + "/events"
}

func (l *Listener) listen(ctx context.Context, key string, b backoff.BackOff, notify func(domain.PushNotice)) error {
	header := http.Header{}
	if l.tokens != nil {
		token, err := l.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to get session token: %w", err)
		}
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := l.dialer.DialContext(ctx, l.eventsURL(key), header)
	if err != nil {
		return fmt.Errorf("failed to dial push channel: %w", err)
	}
	defer conn.Close()

	b.Reset()
	l.log.Debugw("Push channel connected", "key", key)

	done := make(chan struct{})
	defer close(done)
	go l.heartbeat(ctx, conn, done)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read push message: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var notice domain.PushNotice
		if err := json.Unmarshal(message, &notice); err != nil {
			l.log.Debugw("Ignoring malformed push message", "key", key, "error", err)
			continue
		}
		if notice.Key != "" && notice.Key != key {
			continue
		}
		if notice.Key == "" {
			notice.Key = key
		}
		notify(notice)
	}
}

// heartbeat pings until the connection is done and closes it when ctx ends
// so the blocked read returns.
func (l *Listener) heartbeat(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				l.log.Debugw("Failed to send heartbeat", "error", err)
				conn.Close()
				return
			}
		}
	}
}
