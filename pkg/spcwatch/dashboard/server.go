package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/chosenoffset/spcwatch/pkg/spcwatch/actions"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/store"
)

var errAlreadyStarted = errors.New("dashboard already started")

const (
	eventBufferSize = 50
	maxBodyBytes    = 4 << 20
)

// Server is the dashboard: a JSON API over the Monitor's charts plus a
// WebSocket feed of reports, events and alerts.
type Server struct {
	port     int
	server   *http.Server
	logger   *slog.Logger
	upgrader websocket.Upgrader
	validate *validator.Validate
	limiter  *rate.Limiter
	gatherer prometheus.Gatherer
	store    *store.Store

	clients      map[*client]bool
	clientsMutex sync.RWMutex
	maxClients   int

	updates   chan wsMessage
	stop      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once

	mutex       sync.RWMutex
	eventBuffer []actions.Action
	eventIndex  int
	eventCount  int
	alerts      []*Alert

	providers Providers
}

// Providers supply chart data owned by the Monitor. Errors from Report and
// History are reported to clients as 404s. History receives the since= window,
// zero when the client asked for everything.
type Providers struct {
	Charts   func() any
	Report   func(name string) (any, error)
	History  func(name string, since time.Duration) (any, error)
	Policies func() any
}

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// client serialises writes to one connection; gorilla connections allow a
// single concurrent writer.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(messageType, data)
}

type ServerOption func(*Server)

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithRateLimit limits /api requests to r per second with the given burst.
// A zero rate disables limiting.
func WithRateLimit(r float64, burst int) ServerOption {
	return func(s *Server) {
		if r <= 0 {
			s.limiter = nil
			return
		}
		if burst <= 0 {
			burst = int(r) + 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// WithGatherer exposes g on /metrics.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) { s.gatherer = g }
}

// WithStore persists alerts and restores them on startup.
func WithStore(st *store.Store) ServerOption {
	return func(s *Server) { s.store = st }
}

func NewServer(port int, opts ...ServerOption) *Server {
	s := &Server{
		port:   port,
		logger: slog.Default(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return origin == fmt.Sprintf("http://localhost:%d", port) ||
					origin == fmt.Sprintf("http://127.0.0.1:%d", port)
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		validate:    validator.New(),
		limiter:     rate.NewLimiter(20, 40),
		clients:     make(map[*client]bool),
		maxClients:  100,
		updates:     make(chan wsMessage, 100),
		stop:        make(chan struct{}),
		eventBuffer: make([]actions.Action, eventBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store != nil {
		s.restoreAlerts()
	}
	return s
}

func (s *Server) SetChartsProvider(f func() any) { s.setProvider(func(p *Providers) { p.Charts = f }) }
func (s *Server) SetReportProvider(f func(string) (any, error)) { s.setProvider(func(p *Providers) { p.Report = f }) }
func (s *Server) SetHistoryProvider(f func(string, time.Duration) (any, error)) {
	s.setProvider(func(p *Providers) { p.History = f })
}
func (s *Server) SetPoliciesProvider(f func() any) { s.setProvider(func(p *Providers) { p.Policies = f }) }

func (s *Server) setProvider(set func(*Providers)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	set(&s.providers)
}

func (s *Server) getProviders() Providers {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.providers
}

// Handler returns the dashboard's routes and starts the broadcaster.
func (s *Server) Handler() http.Handler {
	s.startOnce.Do(func() { go s.broadcast() })

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)

	mux.HandleFunc("/api/charts", s.limit(s.handleCharts))
	mux.HandleFunc("/api/charts/report", s.limit(s.handleChartReport))
	mux.HandleFunc("/api/charts/history", s.limit(s.handleChartHistory))
	mux.HandleFunc("/api/events", s.limit(s.handleEvents))
	mux.HandleFunc("/api/policies", s.limit(s.handlePolicies))
	mux.HandleFunc("/api/policies/validate", s.limit(s.handlePolicyValidation))
	mux.HandleFunc("/api/evaluate", s.limit(s.handleEvaluate))
	mux.HandleFunc("/api/limits", s.limit(s.handleLimits))
	mux.HandleFunc("/api/capability", s.limit(s.handleCapability))
	mux.HandleFunc("/api/alerts", s.limit(s.handleAlerts))
	mux.HandleFunc("/api/alerts/acknowledge", s.limit(s.alertTransition(AlertStatusAcknowledged)))
	mux.HandleFunc("/api/alerts/resolve", s.limit(s.alertTransition(AlertStatusResolved)))
	mux.HandleFunc("/api/alerts/suppress", s.limit(s.alertTransition(AlertStatusSuppressed)))
	mux.HandleFunc("/api/alerts/note", s.limit(s.handleAddAlertNote))

	mux.HandleFunc("/ws", s.handleWebSocket)

	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start binds the dashboard port and serves in the background until Stop.
// The listener is open when Start returns.
func (s *Server) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.server != nil {
		return errAlreadyStarted
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.server = srv

	s.logger.Info("starting spcwatch dashboard", "port", s.port)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("dashboard serve", "port", s.port, "error", err)
		}
	}()
	return nil
}

func (s *Server) Stop() error {
	s.stopOnce.Do(func() { close(s.stop) })

	s.mutex.RLock()
	srv := s.server
	s.mutex.RUnlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func (s *Server) limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// PublishReport pushes a chart update to WebSocket clients. Updates are
// dropped while the feed is backed up.
func (s *Server) PublishReport(update any) {
	s.enqueue(wsMessage{Type: "report", Data: update})
}

// SendAction records an action in the event feed and raises or refreshes
// an alert for alert and violation actions.
func (s *Server) SendAction(a actions.Action) {
	s.mutex.Lock()
	s.eventBuffer[s.eventIndex] = a
	s.eventIndex = (s.eventIndex + 1) % len(s.eventBuffer)
	if s.eventCount < len(s.eventBuffer) {
		s.eventCount++
	}
	s.mutex.Unlock()

	s.enqueue(wsMessage{Type: "event", Data: a})

	if a.Type == actions.AlertAction || a.Type == actions.ViolationAction {
		alert := s.raiseAlert(a)
		s.enqueue(wsMessage{Type: "alert", Data: alert})
	}
}

// RecentEvents returns the buffered events, newest first.
func (s *Server) RecentEvents() []actions.Action {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]actions.Action, 0, s.eventCount)
	for i := 0; i < s.eventCount; i++ {
		idx := (s.eventIndex - 1 - i + len(s.eventBuffer)) % len(s.eventBuffer)
		out = append(out, s.eventBuffer[idx])
	}
	return out
}

func (s *Server) enqueue(m wsMessage) {
	select {
	case s.updates <- m:
	default:
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.clientsMutex.RLock()
	clientCount := len(s.clients)
	s.clientsMutex.RUnlock()

	if clientCount >= s.maxClients {
		http.Error(w, "Maximum clients reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &client{conn: conn}
	s.clientsMutex.Lock()
	s.clients[c] = true
	s.clientsMutex.Unlock()

	defer func() {
		s.clientsMutex.Lock()
		delete(s.clients, c)
		s.clientsMutex.Unlock()
	}()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					s.logger.Debug("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readDone:
			return
		case <-s.stop:
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (s *Server) broadcast() {
	for {
		select {
		case m := <-s.updates:
			s.broadcastMessage(m)
		case <-s.stop:
			return
		}
	}
}

func (s *Server) broadcastMessage(message any) {
	s.clientsMutex.RLock()
	if len(s.clients) == 0 {
		s.clientsMutex.RUnlock()
		return
	}
	clientsCopy := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clientsCopy = append(clientsCopy, c)
	}
	s.clientsMutex.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		s.logger.Error("marshal websocket message", "error", err)
		return
	}

	var failed []*client
	for _, c := range clientsCopy {
		if err := c.write(websocket.TextMessage, data); err != nil {
			c.conn.Close()
			failed = append(failed, c)
		}
	}
	if len(failed) > 0 {
		s.clientsMutex.Lock()
		for _, c := range failed {
			delete(s.clients, c)
		}
		s.clientsMutex.Unlock()
	}
}

// ClientCount reports the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()
	return len(s.clients)
}

func writeJSON(w http.ResponseWriter, data any) {
	body, err := json.Marshal(map[string]any{
		"status": "ok",
		"data":   data,
	})
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(append(body, '\n'))
}

// decode reads a JSON body into v and runs struct validation.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid JSON request", http.StatusBadRequest)
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}
