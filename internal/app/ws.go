package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// socketChannel serializes writes to one websocket connection.
type socketChannel struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *socketChannel) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

type inboundFrame struct {
	Type    string
	Content string
	IsLog   bool
}

// parseFrame reports whether data is JSON and, if so, whether it is a log
// frame with string content.
func parseFrame(data []byte) (inboundFrame, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return inboundFrame{}, err
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return inboundFrame{}, nil
	}
	frameType, _ := obj["type"].(string)
	content, isString := obj["content"].(string)
	return inboundFrame{
		Type:    frameType,
		Content: content,
		IsLog:   frameType == "log" && isString,
	}, nil
}

func (s *HTTPServer) handleExecutionSocket(w http.ResponseWriter, r *http.Request, executionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "websocket upgrade failed", "execution_id", executionID, "error", err)
		return
	}
	ctx := r.Context()

	channel := &socketChannel{conn: conn}
	registry := s.service.Registry()
	registry.Register(executionID, channel)
	s.logger.Info(ctx, "websocket connected", "execution_id", executionID)

	defer func() {
		registry.Unregister(executionID, channel)
		_ = conn.Close()
		s.logger.Info(ctx, "websocket disconnected", "execution_id", executionID)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				s.logger.Warn(ctx, "websocket read failed", "execution_id", executionID, "error", err)
			}
			return
		}

		frame, err := parseFrame(data)
		if err != nil {
			s.logger.Warn(ctx, "websocket frame is not JSON", "execution_id", executionID)
			_ = channel.closeWith(websocket.CloseUnsupportedData, "invalid JSON")
			return
		}
		if !frame.IsLog {
			continue
		}

		if err := s.service.AppendLog(ctx, executionID, frame.Content); err != nil {
			s.logger.Warn(ctx, "append execution log failed", "execution_id", executionID, "error", err)
		}
		registry.Deliver(ctx, executionID, json.RawMessage(data))
	}
}

func (c *socketChannel) closeWith(code int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
}
