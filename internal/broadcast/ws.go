package broadcast

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/screenhub/screen-hub-go/internal/apperrors"
	"github.com/screenhub/screen-hub-go/internal/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	wsPingInterval = 30 * time.Second
	wsReadTimeout  = 90 * time.Second
)

type wsFrame struct {
	Type       string `json:"type,omitempty"`
	Action     string `json:"action,omitempty"`
	ScreenID   string `json:"screen_id,omitempty"`
	BookingID  string `json:"booking_id,omitempty"`
	ContentURL string `json:"content_url,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

type wsResponse struct {
	Type      string         `json:"type"`
	Action    string         `json:"action,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	Error     *wsError       `json:"error,omitempty"`
	Timestamp string         `json:"timestamp"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wsConn serializes writes; gorilla allows only one concurrent writer and the
// ping loop runs beside the frame loop.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// handleWebSocket upgrades the connection and serves broadcast actions as
// JSON frames. The operator console holds one of these open per session
// instead of polling the HTTP endpoint.
func handleWebSocket(coordinator *Coordinator, authorizer Authorizer) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		caller, ok := auth.UserFromContext(r.Context())
		if !ok {
			return apperrors.NewUnauthorizedError("Missing caller identity")
		}
		if caller.IsDevice() {
			return apperrors.NewForbiddenError("devices cannot open a broadcast control session")
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error response.
			log.Printf("broadcast ws: upgrade failed: %v", err)
			return nil
		}

		wc := &wsConn{conn: conn}
		stopPing := make(chan struct{})
		go pingLoop(wc, stopPing)

		defer func() {
			close(stopPing)
			conn.Close()
		}()

		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		})

		for {
			var frame wsFrame
			if err := conn.ReadJSON(&frame); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("broadcast ws: connection dropped: %v", err)
				}
				return nil
			}
			conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

			if frame.Type == "ping" {
				wc.writeJSON(wsResponse{Type: "pong", Timestamp: nowISO()})
				continue
			}

			result, err := dispatchAction(coordinator, authorizer, caller, actionRequest{
				Action:     frame.Action,
				ScreenID:   frame.ScreenID,
				BookingID:  frame.BookingID,
				ContentURL: frame.ContentURL,
				Limit:      frame.Limit,
			})

			response := wsResponse{
				Type:      "result",
				Action:    frame.Action,
				Timestamp: nowISO(),
			}
			if err != nil {
				appErr := apperrors.EnsureAppError(err)
				response.Type = "error"
				response.Error = &wsError{Code: string(appErr.Code), Message: appErr.Message}
			} else {
				response.Result = result
			}

			if err := wc.writeJSON(response); err != nil {
				log.Printf("broadcast ws: write failed: %v", err)
				return nil
			}
		}
	}
}

func pingLoop(wc *wsConn, stop chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := wc.ping(); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
