package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/rts-lobby/internal/engine"
	"github.com/DoyleJ11/rts-lobby/internal/hub"
	"github.com/DoyleJ11/rts-lobby/internal/lobby"
	"github.com/DoyleJ11/rts-lobby/internal/storage"
	"github.com/DoyleJ11/rts-lobby/internal/tunnel"
	"github.com/DoyleJ11/rts-lobby/internal/types"
	"github.com/DoyleJ11/rts-lobby/internal/ws"
)

const (
	roomPrefix   = "game-"
	recentLimit  = 50
	maxBodyBytes = 64 << 10
)

type MapLister interface {
	Modes() []*engine.GameMode
}

type TunnelLister interface {
	Tunnels() []tunnel.Tunnel
	Current() (tunnel.Tunnel, bool)
}

type HistoryReader interface {
	RecentMatches(ctx context.Context, limit int) ([]storage.Match, error)
	DownloadedMaps(ctx context.Context) ([]storage.DownloadedMap, error)
}

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

type hostRequest struct {
	Name     string `json:"name"`
	GameMode string `json:"game_mode"`
	MapHash  string `json:"map_hash"`
}

type joinRequest struct {
	Host string `json:"host"`
}

type roomResponse struct {
	Room string `json:"room"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func HostRoom(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req hostRequest
		if r.ContentLength != 0 {
			if err := decode(w, r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		}

		var room string
		for {
			c, err := GenerateCode()
			if err != nil {
				writeError(w, http.StatusInternalServerError, errors.New("failed to generate room code"))
				return
			}
			reply := make(chan *lobby.Lobby, 1)
			h.Inbox() <- hub.GetLobby{Room: roomPrefix + c, Reply: reply}
			if <-reply == nil {
				room = roomPrefix + c
				break
			}
			log.Debug("collision on room code, regenerating", zap.String("code", c))
		}
		if req.Name == "" {
			req.Name = room
		}

		reply := make(chan hub.Result, 1)
		h.Inbox() <- hub.HostRoom{Room: room, Name: req.Name, GameMode: req.GameMode, MapHash: req.MapHash, Reply: reply}
		if res := <-reply; res.Err != nil {
			log.Warn("hosting room", zap.String("room", room), zap.Error(res.Err))
			writeError(w, http.StatusBadRequest, res.Err)
			return
		}
		writeJSON(w, http.StatusCreated, roomResponse{Room: room})
	}
}

func JoinRoom(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := chi.URLParam(r, "room")
		var req joinRequest
		if r.ContentLength != 0 {
			if err := decode(w, r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		}

		reply := make(chan hub.Result, 1)
		h.Inbox() <- hub.JoinRoom{Room: room, Host: req.Host, Reply: reply}
		res := <-reply
		switch {
		case errors.Is(res.Err, hub.ErrUnknownRoom):
			writeError(w, http.StatusNotFound, res.Err)
		case errors.Is(res.Err, hub.ErrRoomClosed):
			writeError(w, http.StatusConflict, res.Err)
		case res.Err != nil:
			log.Warn("joining room", zap.String("room", room), zap.Error(res.Err))
			writeError(w, http.StatusBadGateway, res.Err)
		default:
			writeJSON(w, http.StatusOK, roomResponse{Room: room})
		}
	}
}

func RoomState(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lb := lookup(h, w, r)
		if lb == nil {
			return
		}
		reply := make(chan lobby.View, 1)
		if !lb.Deliver(lobby.GetState{Reply: reply}) {
			writeError(w, http.StatusGone, hub.ErrRoomClosed)
			return
		}
		select {
		case v := <-reply:
			writeJSON(w, http.StatusOK, types.NewRoomView(v.Snapshot))
		case <-r.Context().Done():
		}
	}
}

func PerformAction(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lb := lookup(h, w, r)
		if lb == nil {
			return
		}
		var a lobby.Action
		if err := decode(w, r, &a); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		err := ws.Perform(r.Context(), lb, a)
		if err == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		var lf *engine.LaunchFailure
		switch {
		case errors.As(err, &lf):
			writeJSON(w, http.StatusConflict, errorResponse{Error: lf.Error(), Reason: string(lf.Reason)})
		case errors.Is(err, lobby.ErrHostOnly), errors.Is(err, lobby.ErrGuestOnly):
			writeError(w, http.StatusForbidden, err)
		case errors.Is(err, lobby.ErrLaunchInProgress):
			writeError(w, http.StatusConflict, err)
		case errors.Is(err, hub.ErrRoomClosed):
			writeError(w, http.StatusGone, err)
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusGatewayTimeout, err)
		default:
			writeError(w, http.StatusBadRequest, err)
		}
	}
}

func LeaveRoom(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if lookup(h, w, r) == nil {
			return
		}
		h.Inbox() <- hub.RemoveLobby{Room: chi.URLParam(r, "room")}
		w.WriteHeader(http.StatusNoContent)
	}
}

func ListGames(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan []hub.Game, 1)
		h.Inbox() <- hub.ListGames{Reply: reply}
		writeJSON(w, http.StatusOK, <-reply)
	}
}

func ListMaps(m MapLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		modes := m.Modes()
		out := make([]types.ModeView, 0, len(modes))
		for _, gm := range modes {
			out = append(out, types.NewModeView(gm))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func ListTunnels(t TunnelLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cur, ok := t.Current()
		list := t.Tunnels()
		out := make([]types.TunnelView, 0, len(list))
		for _, tn := range list {
			out = append(out, types.NewTunnelView(tn, ok && tn.Key() == cur.Key()))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func RecentMatches(hist HistoryReader, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matches, err := hist.RecentMatches(r.Context(), recentLimit)
		if err != nil {
			log.Error("reading match history", zap.Error(err))
			writeError(w, http.StatusInternalServerError, errors.New("failed to read match history"))
			return
		}
		out := make([]types.MatchView, 0, len(matches))
		for _, m := range matches {
			out = append(out, types.NewMatchView(m))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func DownloadedMaps(hist HistoryReader, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		maps, err := hist.DownloadedMaps(r.Context())
		if err != nil {
			log.Error("reading downloaded maps", zap.Error(err))
			writeError(w, http.StatusInternalServerError, errors.New("failed to read downloaded maps"))
			return
		}
		out := make([]types.DownloadView, 0, len(maps))
		for _, d := range maps {
			out = append(out, types.NewDownloadView(d))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func lookup(h *hub.Hub, w http.ResponseWriter, r *http.Request) *lobby.Lobby {
	reply := make(chan *lobby.Lobby, 1)
	h.Inbox() <- hub.GetLobby{Room: chi.URLParam(r, "room"), Reply: reply}
	lb := <-reply
	if lb == nil {
		writeError(w, http.StatusNotFound, errors.New("room not found"))
	}
	return lb
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("bad json")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
