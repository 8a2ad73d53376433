// Package furnace models a heat-treatment line for the spcwatch example
// application. Each furnace reports a soak temperature per load; the HTTP
// handlers accept readings from the line and forward them to a Recorder,
// normally a *spcwatch.Monitor.
//
// Endpoints:
//   - POST /furnace: register a furnace with its setpoint
//   - GET /furnace?id=<id>: current setpoint and last reading
//   - POST /reading: record a soak temperature
package furnace

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Recorder receives accepted readings.
type Recorder interface {
	RecordAt(chart string, value float64, at time.Time) error
}

// Furnace is the state of one furnace on the line.
type Furnace struct {
	ID       string    `json:"id"`
	Setpoint float64   `json:"setpoint"`
	Last     float64   `json:"last"`
	Loads    int       `json:"loads"`
	Updated  time.Time `json:"updated"`
}

// Line tracks every furnace and is safe for concurrent use.
type Line struct {
	mu       sync.RWMutex
	furnaces map[string]*Furnace
	recorder Recorder
	// AddChart is called for every new furnace so its chart exists before
	// the first reading.
	AddChart func(id string, setpoint float64) error
}

func NewLine(recorder Recorder) *Line {
	return &Line{
		furnaces: make(map[string]*Furnace),
		recorder: recorder,
	}
}

// CreateFurnaceRequest is the input for POST /furnace.
type CreateFurnaceRequest struct {
	ID       string  `json:"id"`
	Setpoint float64 `json:"setpoint"`
}

func (l *Line) HandleCreateFurnace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CreateFurnaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" || req.Setpoint <= 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	l.mu.Lock()
	if _, exists := l.furnaces[req.ID]; exists {
		l.mu.Unlock()
		http.Error(w, "furnace already exists", http.StatusConflict)
		return
	}
	l.furnaces[req.ID] = &Furnace{ID: req.ID, Setpoint: req.Setpoint}
	l.mu.Unlock()

	if l.AddChart != nil {
		if err := l.AddChart(req.ID, req.Setpoint); err != nil {
			l.mu.Lock()
			delete(l.furnaces, req.ID)
			l.mu.Unlock()
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	w.WriteHeader(http.StatusCreated)
}

func (l *Line) HandleGetFurnace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	l.mu.RLock()
	f, ok := l.furnaces[id]
	var snapshot Furnace
	if ok {
		snapshot = *f
	}
	l.mu.RUnlock()

	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshot)
}

type ReadingRequest struct {
	Furnace     string    `json:"furnace"`
	Temperature float64   `json:"temperature"`
	At          time.Time `json:"at"`
}

// maxDeviation rejects readings that cannot come from a working thermocouple.
const maxDeviation = 0.5

func (l *Line) HandleReading(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ReadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.At.IsZero() {
		req.At = time.Now()
	}

	l.mu.Lock()
	f, ok := l.furnaces[req.Furnace]
	if !ok {
		l.mu.Unlock()
		http.Error(w, "unknown furnace", http.StatusNotFound)
		return
	}
	if req.Temperature < f.Setpoint*(1-maxDeviation) || req.Temperature > f.Setpoint*(1+maxDeviation) {
		l.mu.Unlock()
		http.Error(w, "temperature out of sensor range", http.StatusUnprocessableEntity)
		return
	}
	f.Last = req.Temperature
	f.Loads++
	f.Updated = req.At
	l.mu.Unlock()

	if err := l.recorder.RecordAt(req.Furnace, req.Temperature, req.At); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
