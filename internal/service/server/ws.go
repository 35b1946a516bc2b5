package server

import (
	"context"
	"group_chat/internal/service/registry"
	"group_chat/internal/utils/log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsTransport adapts a websocket to registry.Transport. Each envelope is one
// binary message.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	deadline := time.Now().Add(t.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

func (t *wsTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (s *HttpServer) HandleWS() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied
			log.Debug("websocket upgrade failed", zap.Error(err))
			return
		}
		if s.cfg.ReadLimit > 0 {
			ws.SetReadLimit(s.cfg.ReadLimit)
		}

		conn := registry.NewConnection(&wsTransport{conn: ws, writeTimeout: s.cfg.WriteTimeout})
		s.registry.Register(conn)
		log.Debug("connection opened", zap.String("conn", conn.ID()), zap.String("remote", conn.RemoteAddr()))

		go s.processWSMessage(conn, ws)
	}
}

// processWSMessage is the connection's worker: frames are handled one at a
// time in arrival order.
func (s *HttpServer) processWSMessage(conn *registry.Connection, ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	defer func() {
		s.registry.Remove(conn)
		_ = conn.Close()
	}()

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			log.Debug("worker web socket closed", zap.String("conn", conn.ID()), zap.Error(err))
			return
		}
		if msgType != websocket.BinaryMessage {
			log.Debug("ignore non-binary frame", zap.String("conn", conn.ID()), zap.Int("type", msgType))
			continue
		}
		s.dispatcher.Submit(ctx, conn, data)
	}
}
