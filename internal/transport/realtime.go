package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/galynx/galynx-client/internal/models"
	"github.com/galynx/galynx-client/pkg/logger"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxRetryInterval = 30 * time.Second

// Realtime is the push half of the backend collaborator: a websocket
// reader that survives drops with exponential backoff and reports
// connection transitions. It never interprets events beyond JSON
// decoding; application is the engine's job.
type Realtime struct {
	client   *Client
	dialer   *websocket.Dialer
	onEvent  func(Envelope)
	onStatus func(models.ConnectionStatus)

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewRealtime(client *Client, onEvent func(Envelope), onStatus func(models.ConnectionStatus)) *Realtime {
	return &Realtime{
		client:   client,
		dialer:   websocket.DefaultDialer,
		onEvent:  onEvent,
		onStatus: onStatus,
	}
}

// Connect starts the stream loop. A second call while the loop runs is
// a no-op.
func (r *Realtime) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.run(runCtx)
	return nil
}

// Disconnect stops the stream loop and reports offline.
func (r *Realtime) Disconnect() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Realtime) emitStatus(status models.ConnectionStatus) {
	if r.onStatus != nil {
		r.onStatus(status)
	}
}

func (r *Realtime) run(ctx context.Context) {
	retry := time.Second

	for {
		r.emitStatus(models.ConnReconnecting)

		tokens, err := r.client.requireTokens()
		if err != nil {
			// Release the loop handle before reporting offline so an
			// observer of the transition can Connect again once a
			// session exists.
			r.Disconnect()
			r.emitStatus(models.ConnOffline)
			return
		}

		wsURL := WebsocketURL(r.client.APIBase())
		header := http.Header{}
		header.Set("Authorization", "Bearer "+tokens.AccessToken)

		conn, resp, err := r.dialer.DialContext(ctx, wsURL, header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			logger.GetFromCtx(ctx).Warn(ctx, "ws connect failed", zap.String("url", wsURL), logger.Err(err))
		} else {
			retry = time.Second
			r.emitStatus(models.ConnOnline)
			r.read(ctx, conn)
		}

		select {
		case <-ctx.Done():
			r.emitStatus(models.ConnOffline)
			return
		case <-time.After(retry):
			retry *= 2
			if retry > maxRetryInterval {
				retry = maxRetryInterval
			}
		}
	}
}

func (r *Realtime) read(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.GetFromCtx(ctx).Warn(ctx, "ws receive error", logger.Err(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var envelope Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			logger.GetFromCtx(ctx).Debug(ctx, "ws dropped malformed frame", logger.Err(err))
			continue
		}
		if r.onEvent != nil {
			r.onEvent(envelope)
		}
	}
}
