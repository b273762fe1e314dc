package api

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chartvision/internal/ai"
	"chartvision/internal/events"
)

// readTimeout is how long a socket may stay silent before a keepalive
// frame is pushed.
const readTimeout = 60 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn serializes writes; gorilla connections allow one writer at a
// time.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

// wsRequest is the inbound frame shape.
type wsRequest struct {
	Type             string          `json:"type"`
	Charts           []ai.ChartImage `json:"charts,omitempty"`
	StrategyContext  string          `json:"strategy_context,omitempty"`
	PreviousAnalysis string          `json:"previous_analysis,omitempty"`
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] upgrade failed: %v", err)
		return
	}

	sid := c.Param("session_id")
	if _, ok := s.Sessions.Get(sid); !ok {
		msg := websocket.FormatCloseMessage(4001, "Invalid session")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}

	ws := &wsConn{conn: conn}
	defer conn.Close()

	log.Printf("[WS] session %s connected", sid[:8])

	// Bus events for this session are forwarded as push frames.
	done := make(chan struct{})
	defer close(done)
	go s.forwardEvents(ws, sid, done)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			// A quiet socket gets a keepalive instead of a hangup.
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				if ws.writeJSON(gin.H{"type": "keepalive"}) == nil {
					continue
				}
			}
			return
		}

		// The session can expire while the socket is open.
		if _, ok := s.Sessions.Get(sid); !ok {
			msg := websocket.FormatCloseMessage(4001, "Session expired")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}

		var req wsRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			_ = ws.writeJSON(gin.H{"type": "error", "message": "invalid JSON"})
			continue
		}

		switch req.Type {
		case "ping":
			_ = ws.writeJSON(gin.H{"type": "pong"})

		case "analyze":
			client := s.analyzer()
			if client == nil {
				_ = ws.writeJSON(gin.H{"type": "error", "message": "Gemini not configured"})
				continue
			}
			if err := ai.ValidateCharts(req.Charts); err != nil {
				_ = ws.writeJSON(gin.H{"type": "error", "message": err.Error()})
				continue
			}
			sig, err := client.AnalyzeMultiChart(c.Request.Context(), req.Charts, req.StrategyContext, req.PreviousAnalysis)
			if err != nil {
				_ = ws.writeJSON(gin.H{"type": "error", "message": err.Error()})
				continue
			}
			if accepted, reason := s.Risk.ValidateSignal(sig); !accepted {
				sig.Warnings = append(sig.Warnings, "⚠ Risk: "+reason)
			}
			s.Metrics.IncrementSignals()
			_ = ws.writeJSON(gin.H{"type": "signal", "data": sig})

		default:
			_ = ws.writeJSON(gin.H{"type": "error", "message": "unknown message type"})
		}
	}
}

// forwardEvents relays signal and order events for one session until
// the socket closes.
func (s *Server) forwardEvents(ws *wsConn, sid string, done <-chan struct{}) {
	signals, unsubSignals := s.Bus.Subscribe(events.TopicSignal, 8)
	defer unsubSignals()
	orders, unsubOrders := s.Bus.Subscribe(events.TopicOrderPlaced, 8)
	defer unsubOrders()

	for {
		select {
		case <-done:
			return
		case ev := <-signals:
			if sig, ok := ev.(events.SignalEvent); ok && sig.SessionID == sid {
				_ = ws.writeJSON(gin.H{"type": "signal", "data": sig.Signal})
			}
		case ev := <-orders:
			if ord, ok := ev.(events.OrderEvent); ok && ord.SessionID == sid {
				_ = ws.writeJSON(gin.H{"type": "order", "data": ord.Result, "mode": ord.Mode})
			}
		}
	}
}
