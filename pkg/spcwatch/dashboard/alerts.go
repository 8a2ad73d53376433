package dashboard

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/chosenoffset/spcwatch/pkg/spcwatch/actions"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/store"
)

type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
	AlertStatusSuppressed   AlertStatus = "suppressed"
)

type AlertSeverity string

const (
	AlertSeverityLow      AlertSeverity = "low"
	AlertSeverityMedium   AlertSeverity = "medium"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityCritical AlertSeverity = "critical"
)

// Alert groups repeated actions from the same chart and source (rule or
// policy) until it is resolved.
type Alert struct {
	ID             string        `json:"id"`
	Chart          string        `json:"chart"`
	Source         string        `json:"source"`
	Message        string        `json:"message"`
	Severity       AlertSeverity `json:"severity"`
	Status         AlertStatus   `json:"status"`
	Occurrences    int           `json:"occurrences"`
	LastValue      float64       `json:"last_value"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
	AcknowledgedBy *string       `json:"acknowledged_by,omitempty"`
	Notes          []AlertNote   `json:"notes"`
}

type AlertNote struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

type AlertActionRequest struct {
	AlertID string `json:"alert_id" validate:"required,max=64"`
	User    string `json:"user,omitempty" validate:"max=100"`
	Note    string `json:"note,omitempty" validate:"max=1000"`
}

func severityOf(a actions.Action) AlertSeverity {
	switch AlertSeverity(a.Severity) {
	case AlertSeverityLow, AlertSeverityMedium, AlertSeverityHigh, AlertSeverityCritical:
		return AlertSeverity(a.Severity)
	}
	return AlertSeverityMedium
}

// raiseAlert opens an alert for the action or, when one is already open for
// the same chart and source, counts another occurrence on it.
func (s *Server) raiseAlert(a actions.Action) Alert {
	source := a.Policy
	if source == "" {
		source = a.Rule
	}
	now := time.Now()

	s.mutex.Lock()
	var alert *Alert
	for _, existing := range s.alerts {
		if existing.Chart == a.Chart && existing.Source == source &&
			(existing.Status == AlertStatusActive || existing.Status == AlertStatusAcknowledged || existing.Status == AlertStatusSuppressed) {
			alert = existing
			break
		}
	}
	if alert == nil {
		alert = &Alert{
			ID:        uuid.NewString(),
			Chart:     a.Chart,
			Source:    source,
			Status:    AlertStatusActive,
			CreatedAt: now,
			Notes:     []AlertNote{},
		}
		s.alerts = append(s.alerts, alert)
	}
	alert.Occurrences++
	alert.Message = a.Message
	alert.LastValue = a.Value
	alert.UpdatedAt = now
	if sev := severityOf(a); severityRank[sev] > severityRank[alert.Severity] {
		alert.Severity = sev
	}
	snapshot := copyAlert(alert)
	s.mutex.Unlock()

	s.persistAlert(snapshot)
	return snapshot
}

var severityRank = map[AlertSeverity]int{
	AlertSeverityLow:      1,
	AlertSeverityMedium:   2,
	AlertSeverityHigh:     3,
	AlertSeverityCritical: 4,
}

func copyAlert(a *Alert) Alert {
	c := *a
	c.Notes = append([]AlertNote(nil), a.Notes...)
	if c.Notes == nil {
		c.Notes = []AlertNote{}
	}
	return c
}

// Alerts returns alerts matching the optional status and severity, newest first.
func (s *Server) Alerts(status AlertStatus, severity AlertSeverity) []Alert {
	s.mutex.RLock()
	out := make([]Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if status != "" && a.Status != status {
			continue
		}
		if severity != "" && a.Severity != severity {
			continue
		}
		out = append(out, copyAlert(a))
	}
	s.mutex.RUnlock()

	sortAlertsByTime(out)
	return out
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, s.Alerts(AlertStatus(q.Get("status")), AlertSeverity(q.Get("severity"))))
}

// updateAlert applies fn to the alert with id and persists the result.
func (s *Server) updateAlert(id string, fn func(*Alert)) (Alert, bool) {
	s.mutex.Lock()
	var found *Alert
	for _, a := range s.alerts {
		if a.ID == id {
			found = a
			break
		}
	}
	if found == nil {
		s.mutex.Unlock()
		return Alert{}, false
	}
	fn(found)
	found.UpdatedAt = time.Now()
	snapshot := copyAlert(found)
	s.mutex.Unlock()

	s.persistAlert(snapshot)
	s.enqueue(wsMessage{Type: "alert", Data: snapshot})
	return snapshot, true
}

func newNote(req AlertActionRequest) AlertNote {
	return AlertNote{
		ID:        uuid.NewString(),
		Message:   req.Note,
		Author:    req.User,
		CreatedAt: time.Now(),
	}
}

func (s *Server) alertTransition(status AlertStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AlertActionRequest
		if !s.decode(w, r, &req) {
			return
		}

		alert, ok := s.updateAlert(req.AlertID, func(a *Alert) {
			a.Status = status
			switch status {
			case AlertStatusAcknowledged:
				if req.User != "" {
					user := req.User
					a.AcknowledgedBy = &user
				}
			case AlertStatusResolved:
				now := time.Now()
				a.ResolvedAt = &now
			}
			if req.Note != "" {
				a.Notes = append(a.Notes, newNote(req))
			}
		})
		if !ok {
			http.Error(w, "Alert not found", http.StatusNotFound)
			return
		}
		writeJSON(w, alert)
	}
}

func (s *Server) handleAddAlertNote(w http.ResponseWriter, r *http.Request) {
	var req AlertActionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Note == "" {
		http.Error(w, "Note message is required", http.StatusBadRequest)
		return
	}

	alert, ok := s.updateAlert(req.AlertID, func(a *Alert) {
		a.Notes = append(a.Notes, newNote(req))
	})
	if !ok {
		http.Error(w, "Alert not found", http.StatusNotFound)
		return
	}
	writeJSON(w, alert)
}

func (s *Server) persistAlert(a Alert) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveAlert(context.Background(), a.ID, a); err != nil {
		s.logger.Warn("persist alert failed", "alert", a.ID, "error", err)
	}
}

func (s *Server) restoreAlerts() {
	loaded, err := store.LoadAlerts[Alert](context.Background(), s.store)
	if err != nil {
		s.logger.Warn("restore alerts failed", "error", err)
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for i := range loaded {
		a := loaded[i]
		if a.Notes == nil {
			a.Notes = []AlertNote{}
		}
		s.alerts = append(s.alerts, &a)
	}
}

func sortAlertsByTime(alerts []Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
}
