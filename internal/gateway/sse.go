package gateway

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// reconnectDelay is how long a broken push connection waits before redialing.
const reconnectDelay = 5 * time.Second

// sseConn is a long-lived server-push connection. It keeps reconnecting with
// the caller's token until closed; read failures are reported through the
// notifier and never terminate the subscription.
type sseConn struct {
	client  *http.Client
	url     string
	token   string
	onData  func([]byte)
	onError func(error)
	logger  *zap.Logger
	cancel  context.CancelFunc
	ctx     context.Context
}

func (c *Client) openSSE(path string, onData func([]byte)) *sseConn {
	ctx, cancel := context.WithCancel(context.Background())
	// The provider's client enforces a request timeout, which would cut a
	// long-lived stream; push connections use an untimed client and rely on
	// context cancellation instead.
	conn := &sseConn{
		client: &http.Client{},
		url:    c.provider.baseURL + path,
		token:  c.token,
		onData: onData,
		onError: func(err error) {
			c.provider.notifier.Notify("SSE connection", err.Error())
		},
		logger: c.provider.logger,
		cancel: cancel,
		ctx:    ctx,
	}
	go conn.run()
	return conn
}

// Close terminates the connection, including any in-flight read.
func (c *sseConn) Close() error {
	c.cancel()
	return nil
}

func (c *sseConn) run() {
	for {
		c.consume()
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// consume dials the stream and reads events until the connection breaks.
func (c *sseConn) consume() {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, c.url, nil)
	if err != nil {
		c.onError(err)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		if c.ctx.Err() == nil {
			c.onError(err)
		}
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		c.onError(err)
		return
	}

	c.logger.Info("push connection established", zap.String("url", c.url))

	// Event framing: "data:" lines accumulate until a blank line dispatches
	// the joined payload. Comments and other fields are skipped.
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(data) > 0 {
				c.onData([]byte(strings.Join(data, "\n")))
				data = data[:0]
			}
			continue
		}
		if after, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(after, " "))
		}
	}
	if err := scanner.Err(); err != nil && c.ctx.Err() == nil {
		c.onError(err)
	}
}
