// Package api exposes the graph engine over HTTP: publish, search and
// subscription management, with subscription results delivered through
// webhooks or WebSockets.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/topograph/topograph/pkg/topograph"
	"github.com/topograph/topograph/pkg/types"
)

// Version is stamped at build time.
var Version = "dev"

// Server wires the HTTP surface to a graph handle.
type Server struct {
	db       *topograph.DB
	log      *zap.Logger
	notifier *Notifier
	upgrader websocket.Upgrader
}

// New creates the HTTP server for db.
func New(db *topograph.DB, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		db:       db,
		log:      log,
		notifier: NewNotifier(log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/version", s.handleVersion)
		r.Post("/publish", s.handlePublish)
		r.Post("/search", s.handleSearch)
		r.Get("/graph", s.handleGraph)
		r.Get("/identifiers/{id}", s.handleGetIdentifier)
		r.Post("/subscriptions", s.handleSubscribe)
		r.Delete("/subscriptions/{id}", s.handleUnsubscribe)
		r.Get("/subscriptions/{id}/ws", s.handleSubscriptionWS)
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Close drops delivery connections.
func (s *Server) Close() {
	s.notifier.Close()
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	opts, err := req.options()
	if err != nil {
		s.writeError(w, err)
		return
	}
	entries := make([]types.Entry, 0, len(req.Entries))
	for _, e := range req.Entries {
		entry, err := e.entry()
		if err != nil {
			s.writeError(w, err)
			return
		}
		entries = append(entries, entry)
	}

	if err := s.db.Publish(r.Context(), entries, opts); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	opts, err := req.options()
	if err != nil {
		s.writeError(w, err)
		return
	}

	acc, err := s.db.Search(collectStep, []visitedNode{}, req.Start, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: acc.([]visitedNode)})
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	ids, links := s.db.Export()
	resp := graphResponse{
		Identifiers: make([]identifierDump, 0, len(ids)),
		Links:       make([]linkDump, 0, len(links)),
	}
	for id, meta := range ids {
		resp.Identifiers = append(resp.Identifiers, identifierDump{ID: id, Meta: meta})
	}
	for _, l := range links {
		resp.Links = append(resp.Links, linkDump{A: l.A, B: l.B, Meta: l.Meta})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetIdentifier(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	meta, neighbors, err := s.db.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, identifierResponse{ID: id, Meta: meta, Neighbors: neighbors})
}

// subscriptionTarget carries the delivery configuration into the delivery
// callback. The subscription id is only known after registration, so a
// delivery racing the registration reply waits on ready before reading it.
type subscriptionTarget struct {
	id      string
	ready   chan struct{}
	webhook string
	ws      bool
}

func newSubscriptionTarget(webhook string, ws bool) *subscriptionTarget {
	return &subscriptionTarget{ready: make(chan struct{}), webhook: webhook, ws: ws}
}

func (t *subscriptionTarget) setID(id string) {
	t.id = id
	close(t.ready)
}

func (t *subscriptionTarget) subscriptionID() string {
	<-t.ready
	return t.id
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	searchOpts, err := req.options()
	if err != nil {
		s.writeError(w, err)
		return
	}
	trigger, err := req.trigger()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.Webhook == "" && !req.WebSocket {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: "subscription needs a webhook url or websocket delivery"})
		return
	}

	target := newSubscriptionTarget(req.Webhook, req.WebSocket)
	opts := types.SubscribeOptions{
		SearchOptions: searchOpts,
		Trigger:       trigger,
		Delivery:      s.deliverTo(target),
	}

	id, err := s.db.Subscribe(r.Context(), collectStep, []visitedNode{}, req.Start, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	target.setID(id)
	writeJSON(w, http.StatusOK, subscribeResponse{ID: id})
}

// deliverTo builds the delivery function for an HTTP-registered
// subscription: the delta (the new search result) goes out as a
// notification over the configured channels.
func (s *Server) deliverTo(target *subscriptionTarget) types.DeliveryFunc {
	return func(delta any) types.DeliveryControl {
		results, _ := delta.([]visitedNode)
		notification := Notification{
			SubscriptionID: target.subscriptionID(),
			DeliveredAt:    time.Now().UTC(),
			Results:        results,
		}
		if target.webhook != "" {
			if err := s.notifier.SendWebhook(target.webhook, notification); err != nil {
				s.log.Warn("dropping webhook delivery",
					zap.String("subscription", notification.SubscriptionID), zap.Error(err))
			}
		}
		if target.ws {
			s.notifier.SendWebSocket(notification.SubscriptionID, notification)
		}
		return types.DeliveryOK
	}
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.db.Unsubscribe(id)
	s.notifier.UnregisterWSClient(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubscriptionWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.String("subscription", id), zap.Error(err))
		return
	}
	s.notifier.RegisterWSClient(id, conn)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrMalformedEntry):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
