package node

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"meshnode/pkg/api"
)

const (
	logBuffer        = 200
	logBatchMax      = 50
	logFlushInterval = 2 * time.Second
)

// stream is the single bidirectional command/heartbeat connection to the
// coordinator. Writes are mutex-serialized; the command loop is the sole
// reader, preserving coordinator-imposed command order.
type stream struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	log    *zap.Logger
	nodeID string
	logs   chan string
}

// dialStream opens the websocket for this session.
func (c *Core) dialStream(ctx context.Context) (*stream, error) {
	u, err := url.Parse(c.cfg.Coordinator)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/v1/ws/node"
	q := u.Query()
	q.Set("nodeId", c.id.NodeID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if token := c.bearer(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.log.Warn("stream dial failed", zap.String("url", u.String()), zap.Int("status", status), zap.Error(err))
		return nil, err
	}
	return &stream{
		conn:   conn,
		log:    c.log,
		nodeID: c.id.NodeID,
		logs:   make(chan string, logBuffer),
	}, nil
}

func (s *stream) send(msg api.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

// read blocks for the next inbound message. Only the command loop calls it.
func (s *stream) read() (api.Message, error) {
	var msg api.Message
	err := s.conn.ReadJSON(&msg)
	return msg, err
}

func (s *stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.Close()
}

// pushLog buffers a log line for upstream delivery, dropping when full.
func (s *stream) pushLog(line string) {
	select {
	case s.logs <- line:
	default:
	}
}

// flushLogs periodically batches buffered log lines to the coordinator,
// best effort.
func (s *stream) flushLogs(ctx context.Context) {
	ticker := time.NewTicker(logFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drainLogs()
		}
	}
}

func (s *stream) drainLogs() {
	var lines []string
Loop:
	for len(lines) < logBatchMax {
		select {
		case l := <-s.logs:
			lines = append(lines, l)
		default:
			break Loop
		}
	}
	if len(lines) == 0 {
		return
	}
	_ = s.send(api.NewMessage(api.MsgNodeLog, api.LogBatch{
		NodeID: s.nodeID,
		Lines:  lines,
		Ts:     time.Now().Unix(),
	}))
}
