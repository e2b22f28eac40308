package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Conn is one connected surface.
type Conn struct {
	id       string
	pluginID string
	hub      *Hub
	ws       *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	inflight  chan struct{}
	pending   sync.WaitGroup
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// trySend queues msg without blocking. It reports false when the buffer is
// full.
func (c *Conn) trySend(msg []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return true
	default:
		return false
	}
}

// reply queues a response, waiting for buffer space until the connection
// closes.
func (c *Conn) reply(resp Response) {
	msg, err := json.Marshal(resp)
	if err != nil {
		c.hub.logger.Error("response not encodable", zap.String("id", resp.ID), zap.Error(err))
		msg, _ = json.Marshal(failed(resp.ID, err))
	}
	select {
	case c.send <- msg:
	case <-c.done:
	}
}

func (c *Conn) readPump(ctx context.Context) {
	defer func() {
		c.close()
		c.pending.Wait()
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("surface read failed", zap.String("conn", c.id), zap.Error(err))
			}
			return
		}

		req, err := DecodeRequest(data)
		if err != nil {
			c.reply(failed(req.ID, err))
			continue
		}

		select {
		case c.inflight <- struct{}{}:
		case <-c.done:
			return
		}
		c.pending.Add(1)
		go func() {
			defer func() {
				<-c.inflight
				c.pending.Done()
			}()
			c.reply(c.hub.bridge.Dispatch(ctx, req))
		}()
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
