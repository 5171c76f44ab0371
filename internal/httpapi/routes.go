package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/rts-lobby/internal/hub"
	"github.com/DoyleJ11/rts-lobby/internal/ws"
)

// Deps are what the control API serves from. Maps, Tunnels and History may
// be nil; their routes are then not mounted.
type Deps struct {
	Hub     *hub.Hub
	Maps    MapLister
	Tunnels TunnelLister
	History HistoryReader
	Log     *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(d.Hub, log))

	r.Get("/games", ListGames(d.Hub))
	r.Route("/rooms", func(r chi.Router) {
		r.Post("/", HostRoom(d.Hub, log))
		r.Post("/{room}/join", JoinRoom(d.Hub, log))
		r.Get("/{room}", RoomState(d.Hub))
		r.Post("/{room}/actions", PerformAction(d.Hub))
		r.Delete("/{room}", LeaveRoom(d.Hub))
	})

	if d.Maps != nil {
		r.Get("/maps", ListMaps(d.Maps))
	}
	if d.Tunnels != nil {
		r.Get("/tunnels", ListTunnels(d.Tunnels))
	}
	if d.History != nil {
		r.Get("/history/matches", RecentMatches(d.History, log))
		r.Get("/history/downloads", DownloadedMaps(d.History, log))
	}
	return r
}
