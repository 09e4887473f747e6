// Package httpapi exposes a gateway over HTTP.
//
// Routes:
//
//	POST /api/v1/tables/{table}/rows    insert one row (409 on duplicate key)
//	POST /api/v1/tables/{table}/query   run a query.Query
//	PUT  /api/v1/blobs/*                upload an object, returns its URL
//	GET  /api/v1/blobs/*                download an object
//	GET  /api/v1/zones/resolve          resolve ?lat=&lon= to a zone
//	GET  /api/v1/realtime               SSE stream of inserts (?user_id= filters)
//	GET  /health                        liveness
package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
	"github.com/go-playground/validator/v10"

	"github.com/vivacius/asistenciacampo/internal/blobstore"
	"github.com/vivacius/asistenciacampo/internal/gateway"
	"github.com/vivacius/asistenciacampo/internal/gateway/query"
)

// MaxBlobSize bounds uploaded objects.
const MaxBlobSize = 10 << 20

// Options configures the router.
type Options struct {
	// Blobs serves GET /api/v1/blobs/*. Downloads return 404 when nil.
	Blobs blobstore.Storage

	AllowedOrigins []string

	// Logger receives request and error logs. Defaults to an ECS JSON
	// handler on stdout.
	Logger *slog.Logger

	// Keepalive is the SSE ping period. Defaults to 30s.
	Keepalive time.Duration
}

// Server holds the handlers.
type Server struct {
	gw        gateway.Gateway
	blobs     blobstore.Storage
	hub       *Hub
	validate  *validator.Validate
	logger    *slog.Logger
	origins   []string
	keepalive time.Duration
}

type zoneRequest struct {
	Lat float64 `validate:"gte=-90,lte=90"`
	Lon float64 `validate:"gte=-180,lte=180"`
}

// insertNotice is the payload of realtime insert events.
type insertNotice struct {
	Table gateway.Table `json:"table"`
	Key   string        `json:"key"`
	Row   gateway.Row   `json:"row"`
}

// NewServer wraps gw.
func NewServer(gw gateway.Gateway, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logFormat := httplog.SchemaECS.Concise(false)
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			ReplaceAttr: logFormat.ReplaceAttr,
		})).With(slog.String("app", "asistencia-gateway"))
	}
	keepalive := opts.Keepalive
	if keepalive <= 0 {
		keepalive = 30 * time.Second
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		gw:        gw,
		blobs:     opts.Blobs,
		hub:       NewHub(),
		validate:  validator.New(),
		logger:    logger,
		origins:   origins,
		keepalive: keepalive,
	}
}

// Hub returns the realtime hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Routes builds the chi router.
func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Use(httplog.RequestLogger(s.logger, &httplog.Options{
		Level:  slog.LevelDebug,
		Schema: httplog.SchemaECS,
	}))

	r.Use(chiMiddleware.CleanPath)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/tables/{table}", func(r chi.Router) {
			r.Post("/rows", s.insertRow)
			r.Post("/query", s.queryRows)
		})
		r.Put("/blobs/*", s.uploadBlob)
		r.Get("/blobs/*", s.downloadBlob)
		r.Get("/zones/resolve", s.resolveZone)
		r.Get("/realtime", s.realtime)
	})

	return r
}

func (s *Server) table(w http.ResponseWriter, r *http.Request) (gateway.Table, bool) {
	table, err := gateway.ParseTable(chi.URLParam(r, "table"))
	if err != nil {
		handleError(w, err)
		return "", false
	}
	return table, true
}

func (s *Server) insertRow(w http.ResponseWriter, r *http.Request) {
	table, ok := s.table(w, r)
	if !ok {
		return
	}

	var row gateway.Row
	if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
		badRequest(w, "invalid request payload")
		return
	}
	if err := table.Validate(row); err != nil {
		validationFailed(w, err)
		return
	}

	if err := s.gw.InsertRecord(r.Context(), table, row); err != nil {
		if !gateway.IsDuplicate(err) {
			s.logger.Error("insert failed", "table", table, "error", err)
		}
		handleError(w, err)
		return
	}

	key, _ := table.Key(row)
	userID, _ := row["user_id"].(string)
	s.hub.Publish(Event{
		UserID: userID,
		Event:  "insert",
		Data:   insertNotice{Table: table, Key: key, Row: row},
	})
	created(w, "Row inserted", map[string]string{"key": key})
}

func (s *Server) queryRows(w http.ResponseWriter, r *http.Request) {
	table, ok := s.table(w, r)
	if !ok {
		return
	}

	var q query.Query
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil && err != io.EOF {
			badRequest(w, "invalid query payload")
			return
		}
	}
	if err := s.validate.Struct(q); err != nil {
		validationFailed(w, err)
		return
	}
	if err := q.Validate(table.Columns()); err != nil {
		validationFailed(w, err)
		return
	}

	rows, err := s.gw.QueryRecords(r.Context(), table, q)
	if err != nil {
		s.logger.Error("query failed", "table", table, "query", q.String(), "error", err)
		handleError(w, err)
		return
	}
	success(w, rows)
}

func (s *Server) uploadBlob(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	if path == "" {
		badRequest(w, "blob path is required")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBlobSize))
	if err != nil {
		badRequest(w, fmt.Sprintf("read blob: %v", err))
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	url, err := s.gw.UploadBlob(r.Context(), path, data, contentType)
	if err != nil {
		s.logger.Error("upload failed", "path", path, "error", err)
		handleError(w, err)
		return
	}
	created(w, "Blob stored", map[string]string{"url": url})
}

func (s *Server) downloadBlob(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		handleError(w, blobstore.ErrNotFound)
		return
	}
	path := chi.URLParam(r, "*")

	rc, err := s.blobs.Download(r.Context(), path)
	if err != nil {
		handleError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

func (s *Server) resolveZone(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if errLat != nil || errLon != nil {
		badRequest(w, "lat and lon must be numbers")
		return
	}
	req := zoneRequest{Lat: lat, Lon: lon}
	if err := s.validate.Struct(req); err != nil {
		validationFailed(w, err)
		return
	}

	zone, err := s.gw.ResolveZone(r.Context(), req.Lat, req.Lon)
	if err != nil {
		s.logger.Error("resolve zone failed", "error", err)
		handleError(w, err)
		return
	}
	success(w, zone)
}

func (s *Server) realtime(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		failure(w, http.StatusInternalServerError, CodeInternal, "Streaming unsupported", nil)
		return
	}

	userID := r.URL.Query().Get("user_id")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	events, cleanup := s.hub.Subscribe(userID)
	defer cleanup()

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(s.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Event, data)
			flusher.Flush()

		case <-keepalive.C:
			fmt.Fprintf(w, "event: ping\ndata: {\"timestamp\":%d}\n\n", time.Now().Unix())
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
