package maprepo

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/DoyleJ11/rts-lobby/internal/maps"
)

type Server struct {
	store Store
	log   *zap.Logger
	dec   *zstd.Decoder
}

func NewServer(store Store, log *zap.Logger) (*Server, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxMapSize))
	if err != nil {
		return nil, err
	}
	return &Server{store: store, log: log, dec: dec}, nil
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/maps/{hash}", s.getMap)
	r.Put("/maps/{hash}", s.putMap)
	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getMap(w http.ResponseWriter, r *http.Request) {
	hash := strings.ToUpper(chi.URLParam(r, "hash"))
	rec, err := s.store.Get(r.Context(), hash)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "map not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("loading map", zap.String("hash", hash), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if !strings.Contains(r.Header.Get("Accept-Encoding"), contentEncoding) {
		data, err := s.dec.DecodeAll(rec.Compressed, nil)
		if err != nil {
			s.log.Error("decompressing stored map", zap.String("hash", hash), zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/x-yaml")
		_, _ = w.Write(data)
		return
	}
	w.Header().Set("Content-Encoding", contentEncoding)
	w.Header().Set("Content-Type", "application/x-yaml")
	_, _ = w.Write(rec.Compressed)
}

func (s *Server) putMap(w http.ResponseWriter, r *http.Request) {
	hash := strings.ToUpper(chi.URLParam(r, "hash"))
	if r.Header.Get("Content-Encoding") != contentEncoding {
		http.Error(w, "body must be zstd encoded", http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMapSize))
	if err != nil {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}
	data, err := s.dec.DecodeAll(body, nil)
	if err != nil {
		http.Error(w, "bad zstd body", http.StatusBadRequest)
		return
	}
	if got := maps.Hash(data); got != hash {
		http.Error(w, "hash mismatch", http.StatusUnprocessableEntity)
		return
	}
	m, err := maps.Parse(data, false)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	rec := MapRecord{Hash: hash, Name: m.Name, Compressed: body, Size: len(data), CreatedAt: time.Now()}
	if err := s.store.Put(r.Context(), rec); err != nil {
		s.log.Error("storing map", zap.String("hash", hash), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.log.Info("map stored", zap.String("hash", hash), zap.String("name", m.Name),
		zap.String("request_id", w.Header().Get("X-Request-ID")))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(struct {
		Hash string `json:"hash"`
		Name string `json:"name"`
	}{Hash: hash, Name: m.Name})
}
