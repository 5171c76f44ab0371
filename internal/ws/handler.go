// Package ws streams lobby snapshots to a local UI and takes its actions.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/rts-lobby/internal/hub"
	"github.com/DoyleJ11/rts-lobby/internal/lobby"
	"github.com/DoyleJ11/rts-lobby/internal/types"
)

const (
	writeTimeout  = 3 * time.Second
	actionTimeout = 5 * time.Second
)

func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		room := r.URL.Query().Get("room")
		if room == "" {
			http.Error(w, "missing room", http.StatusBadRequest)
			return
		}

		reply := make(chan *lobby.Lobby, 1)
		h.Inbox() <- hub.GetLobby{Room: room, Reply: reply}
		lb := <-reply
		if lb == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
		})
		if err != nil {
			log.Debug("websocket accept", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan lobby.Snapshot, 8)
		clientID := uuid.NewString()
		if !lb.Deliver(lobby.Join{ClientID: clientID, Outbox: out}) {
			conn.Close(websocket.StatusGoingAway, "room closed")
			return
		}
		defer lb.Deliver(lobby.Leave{ClientID: clientID})
		log := log.With(zap.String("room", room), zap.String("client", clientID))

		// Writer goroutine. out is closed when the lobby ends or drops us.
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go func() {
			defer cancel()
			for snap := range out {
				view := types.NewRoomView(snap)
				write(ctx, conn, types.ServerMessage{Type: "StateSnapshot", Version: snap.Version, Room: &view})
			}
			conn.Close(websocket.StatusGoingAway, "room closed")
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("websocket read", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				write(ctx, conn, types.ServerMessage{Type: "Error", Error: "bad json"})
				continue
			}
			if cm.Type != "Action" || cm.Action == nil {
				write(ctx, conn, types.ServerMessage{Type: "Error", Error: "unknown type"})
				continue
			}

			res := types.ServerMessage{Type: "ActionResult"}
			if err := Perform(ctx, lb, *cm.Action); err != nil {
				res.Error = err.Error()
			}
			write(ctx, conn, res)
		}
	}
}

// Perform hands a to the lobby and waits for its verdict.
func Perform(ctx context.Context, lb *lobby.Lobby, a lobby.Action) error {
	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()

	errc := make(chan error, 1)
	if !lb.Deliver(lobby.FromClient{Action: a, Reply: errc}) {
		return hub.ErrRoomClosed
	}
	select {
	case err := <-errc:
		return err
	case <-lb.Done():
		select {
		case err := <-errc:
			return err
		default:
			return hub.ErrRoomClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}
