package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/snapdesk/internal/capture"
	"github.com/bryanchriswhite/snapdesk/internal/config"
	"github.com/bryanchriswhite/snapdesk/internal/display"
	"github.com/bryanchriswhite/snapdesk/internal/ipc"
	"github.com/bryanchriswhite/snapdesk/internal/logger"
	"github.com/bryanchriswhite/snapdesk/internal/session"
	"github.com/bryanchriswhite/snapdesk/internal/store"
)

const (
	// maxSelectionBytes bounds uploaded selection images
	maxSelectionBytes = 64 << 20

	// finishedRetention is how long a stopped recording stays queryable
	finishedRetention = 5 * time.Minute
)

// Deps are the services exposed by the server. Config and Previews are optional.
type Deps struct {
	Capturer *capture.Capturer
	Sources  capture.SourceEnumerator
	Sessions *session.Orchestrator
	Previews http.Handler
	Config   *config.Manager
}

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	deps     Deps
	upgrader websocket.Upgrader
	httpSrv  *http.Server

	// ctx outlives requests: recordings and sessions started over HTTP keep
	// running after the response is sent
	ctx    context.Context
	cancel context.CancelFunc

	maxSelection int64
	retention    time.Duration

	mu         sync.Mutex
	recordings map[string]*capture.Recording
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		upgrader: websocket.Upgrader{
			// Overlay content is loaded from file:// or another local origin
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		ctx:          ctx,
		cancel:       cancel,
		maxSelection: maxSelectionBytes,
		retention:    finishedRetention,
		recordings:   make(map[string]*capture.Recording),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Displays and stills
	api.HandleFunc("/displays", s.handleGetDisplays).Methods("GET")
	api.HandleFunc("/displays/{id}/screenshot", s.handleScreenshot).Methods("GET")
	api.HandleFunc("/screenshots", s.handleScreenshots).Methods("POST")

	// Video
	api.HandleFunc("/recordings", s.handleStartRecording).Methods("POST")
	api.HandleFunc("/recordings/{id}/pause", s.handlePauseRecording).Methods("POST")
	api.HandleFunc("/recordings/{id}/resume", s.handleResumeRecording).Methods("POST")
	api.HandleFunc("/recordings/{id}/stop", s.handleStopRecording).Methods("POST")
	api.HandleFunc("/recordings/{id}/live", s.handleLiveRecording).Methods("GET")

	// Interactive capture
	api.HandleFunc("/capture/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/capture/sessions", s.handleStartSession).Methods("POST")
	api.HandleFunc("/capture/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/capture/sessions/{id}", s.handleCancelSession).Methods("DELETE")
	api.HandleFunc("/capture/sessions/{id}/selection", s.handleSelection).Methods("POST")
	api.HandleFunc("/capture/sessions/{id}/ws", s.handleSessionSocket)

	// Configuration
	if s.deps.Config != nil {
		api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
		api.HandleFunc("/config", s.handleUpdateConfig).Methods("PUT")
	}

	if s.deps.Previews != nil {
		s.router.PathPrefix("/previews/").Handler(http.StripPrefix("/previews/", s.deps.Previews))
	}

	s.router.PathPrefix("/").HandlerFunc(s.handleIndex)
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.WithComponent("api").Info().
		Str("addr", "http://localhost"+addr).
		Msg("Starting server")

	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, stops every running recording and
// cancels interactive sessions started over HTTP
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	for id, rec := range s.recordings {
		if _, err := rec.Stop(); err != nil && !errors.Is(err, capture.ErrAlreadyStopped) {
			logger.WithComponent("api").Warn().Err(err).Str("recording_id", id).Msg("Failed to stop recording")
		}
	}
	s.mu.Unlock()

	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, display.ErrDisplayNotFound),
		errors.Is(err, capture.ErrSourceNotFound),
		errors.Is(err, ipc.ErrUnknownSession):
		status = http.StatusNotFound
	case errors.Is(err, capture.ErrAlreadyStopped),
		errors.Is(err, ipc.ErrAlreadyResolved):
		status = http.StatusConflict
	case errors.Is(err, capture.ErrSourceEnumeration),
		errors.Is(err, capture.ErrStreamAcquisition):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, session.ErrSelectionTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, config.ErrInvalidConfig):
		status = http.StatusBadRequest
	case errors.Is(err, capture.ErrEncoding),
		errors.Is(err, store.ErrPersistence):
		status = http.StatusInternalServerError
	}

	if status >= 500 {
		logger.WithComponent("api").Error().Err(err).Int("status", status).Msg("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// displayInfo is a display with the capture source matched to it
type displayInfo struct {
	display.Display
	SourceID string `json:"source_id,omitempty"`
}

func (s *Server) handleGetDisplays(w http.ResponseWriter, r *http.Request) {
	displays, err := s.deps.Capturer.Displays().Displays()
	if err != nil {
		writeError(w, err)
		return
	}

	var sources []capture.Source
	if s.deps.Sources != nil {
		sources, err = s.deps.Sources.Sources(r.Context(), capture.KindScreen)
		if err != nil {
			logger.WithComponent("api").Warn().Err(err).Msg("Failed to enumerate capture sources")
		}
	}

	infos := make([]displayInfo, 0, len(displays))
	for i, d := range displays {
		info := displayInfo{Display: d}
		if i < len(sources) {
			info.SourceID = sources[i].ID
		}
		infos = append(infos, info)
	}
	writeJSON(w, http.StatusOK, infos)
}

// parseDisplayID accepts a numeric ID or "primary"
func parseDisplayID(raw string) (display.ID, error) {
	if raw == "primary" {
		return display.Primary, nil
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid display id %q", raw)
	}
	return display.ID(id), nil
}

// regionFromQuery reads x, y, width and height query parameters
func regionFromQuery(r *http.Request, id display.ID) (capture.Region, error) {
	region := capture.Region{DisplayID: id}
	fields := map[string]*int{
		"x":      &region.X,
		"y":      &region.Y,
		"width":  &region.Width,
		"height": &region.Height,
	}
	q := r.URL.Query()
	for name, dst := range fields {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return capture.Region{}, fmt.Errorf("invalid %s %q", name, raw)
		}
		*dst = v
	}
	return region, nil
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	id, err := parseDisplayID(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	region, err := regionFromQuery(r, id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	img, err := s.deps.Capturer.TakeScreenshot(r.Context(), region)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", img.MIMEType())
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Write(img.Data)
}

// imageResponse is a still capture in a JSON body. Data is base64 encoded.
type imageResponse struct {
	*capture.Image
	MIMEType string `json:"mime_type"`
}

func (s *Server) handleScreenshots(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Regions []capture.Region `json:"regions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	regions := req.Regions
	if len(regions) == 0 {
		displays, err := s.deps.Capturer.Displays().Displays()
		if err != nil {
			writeError(w, err)
			return
		}
		for _, d := range displays {
			regions = append(regions, capture.FullRegion(d))
		}
	}

	images, err := s.deps.Capturer.TakeAllScreenshots(r.Context(), regions...)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]imageResponse, 0, len(images))
	for _, img := range images {
		resp = append(resp, imageResponse{Image: img, MIMEType: img.MIMEType()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) recording(w http.ResponseWriter, r *http.Request) (string, *capture.Recording, bool) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	rec, ok := s.recordings[id]
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "recording not found"})
		return id, nil, false
	}
	return id, rec, true
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	var region capture.Region
	if err := json.NewDecoder(r.Body).Decode(&region); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := s.deps.Capturer.CaptureVideo(s.ctx, region)
	if err != nil {
		writeError(w, err)
		return
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.recordings[id] = rec
	s.mu.Unlock()

	logger.WithComponent("api").Info().
		Str("recording_id", id).
		Uint32("display_id", uint32(rec.Display.ID)).
		Msg("Recording started")

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":     id,
		"region": rec.Region,
		"state":  rec.State().String(),
	})
}

func (s *Server) handlePauseRecording(w http.ResponseWriter, r *http.Request) {
	_, rec, ok := s.recording(w, r)
	if !ok {
		return
	}
	if err := rec.Pause(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": rec.State().String()})
}

func (s *Server) handleResumeRecording(w http.ResponseWriter, r *http.Request) {
	_, rec, ok := s.recording(w, r)
	if !ok {
		return
	}
	if err := rec.Resume(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": rec.State().String()})
}

// handleStopRecording returns the encoded video. The recording stays known
// for the retention period so that a repeated stop reports a conflict.
func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	id, rec, ok := s.recording(w, r)
	if !ok {
		return
	}

	result, err := rec.Stop()
	if !errors.Is(err, capture.ErrAlreadyStopped) {
		s.forgetRecording(id, s.retention)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", result.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.Header().Set("X-Frames", strconv.FormatUint(result.Frames, 10))
	w.Header().Set("X-Duration", result.Duration.String())
	w.Write(result.Data)
}

func (s *Server) forgetRecording(id string, after time.Duration) {
	time.AfterFunc(after, func() {
		s.mu.Lock()
		delete(s.recordings, id)
		s.mu.Unlock()
	})
}

func (s *Server) handleLiveRecording(w http.ResponseWriter, r *http.Request) {
	_, rec, ok := s.recording(w, r)
	if !ok {
		return
	}
	live := rec.LiveHandler()
	if live == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "live view not available for this encoder"})
		return
	}
	live.ServeHTTP(w, r)
}

// handleListSessions reports the sessions still waiting on a selection
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	hub := s.deps.Sessions.Hub()
	pending := make([]ipc.Event, 0)
	for _, id := range hub.Sessions() {
		ev, err := hub.State(id)
		if err != nil {
			continue
		}
		pending = append(pending, ev)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].SessionID < pending[j].SessionID })
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req session.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess := s.deps.Sessions.Start(s.ctx, req)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": sess.ID})
}

// sessionStatus is the JSON view of a session
type sessionStatus struct {
	ID     string          `json:"id"`
	State  session.State   `json:"state"`
	Error  string          `json:"error,omitempty"`
	Result *session.Result `json:"result,omitempty"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, ok := s.deps.Sessions.Session(id)
	if !ok {
		writeError(w, fmt.Errorf("%w: %s", ipc.ErrUnknownSession, id))
		return
	}

	status := sessionStatus{ID: id, State: sess.State()}
	select {
	case <-sess.Done():
		result, err := sess.Wait(r.Context())
		if err != nil {
			status.Error = err.Error()
		} else {
			status.Result = &result
		}
	default:
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, ok := s.deps.Sessions.Session(id)
	if !ok {
		writeError(w, fmt.Errorf("%w: %s", ipc.ErrUnknownSession, id))
		return
	}
	sess.Cancel()
	<-sess.Done()
	writeJSON(w, http.StatusOK, sessionStatus{ID: id, State: sess.State()})
}

// handleSelection takes the selected image as the raw request body. An
// empty body cancels the capture.
func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxSelection))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": fmt.Sprintf("selection exceeds %d bytes", tooLarge.Limit),
			})
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sel := ipc.Selection{Image: data}
	if raw := r.URL.Query().Get("display_id"); raw != "" {
		did, err := parseDisplayID(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sel.DisplayID = did
	}

	if err := s.deps.Sessions.Hub().Deliver(id, sel); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"cancelled": sel.Cancelled()})
}

// socketMessage is sent by overlay content over the session WebSocket
type socketMessage struct {
	Type      string     `json:"type"`
	Data      []byte     `json:"data,omitempty"`
	DisplayID display.ID `json:"display_id,omitempty"`
}

// handleSessionSocket streams session state events to overlay content and
// accepts its selection
func (s *Server) handleSessionSocket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	log := logger.WithSession("api", id)

	hub := s.deps.Sessions.Hub()
	events, unsubscribe, err := hub.Subscribe(id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.maxSelection)

	// Only this goroutine writes to conn; the reader hands replies over
	replies := make(chan ipc.Event, 1)
	done := make(chan struct{})
	defer close(done)

	reply := func(ev ipc.Event) {
		select {
		case replies <- ev:
		case <-done:
		}
	}

	go func() {
		defer close(replies)
		for {
			var msg socketMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug().Err(err).Msg("WebSocket read ended")
				}
				return
			}

			var sel ipc.Selection
			switch msg.Type {
			case "selection":
				sel = ipc.Selection{Image: msg.Data, DisplayID: msg.DisplayID}
			case "cancel":
			default:
				reply(ipc.Event{Type: "error", SessionID: id, Error: fmt.Sprintf("unknown message type %q", msg.Type)})
				continue
			}

			if err := hub.Deliver(id, sel); err != nil {
				reply(ipc.Event{Type: "error", SessionID: id, Error: err.Error()})
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		case ev, ok := <-replies:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		}
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Config.Get())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Config.Get()
	if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.deps.Config.Update(cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	html := `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>SnapDesk</title>
</head>
<body>
    <h1>SnapDesk</h1>
    <ul>
        <li><a href="/api/health">/api/health</a> - Server health check</li>
        <li><a href="/api/displays">/api/displays</a> - Connected displays</li>
        <li><a href="/api/displays/primary/screenshot">/api/displays/primary/screenshot</a> - Screenshot of the primary display</li>
    </ul>
</body>
</html>`

	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(html))
}
