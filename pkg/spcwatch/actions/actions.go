package actions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ActionType string

const (
	// AlertAction is raised by a policy's alert() call.
	AlertAction ActionType = "alert"
	// LogAction is raised by a policy's log() call.
	LogAction ActionType = "log"
	// ViolationAction is raised once for every new rule violation.
	ViolationAction ActionType = "violation"
)

// Action is a single notification produced by the Monitor.
type Action struct {
	ID        string     `json:"id"`
	Type      ActionType `json:"type"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
	Policy    string     `json:"policy,omitempty"`
	Chart     string     `json:"chart,omitempty"`
	Rule      string     `json:"rule,omitempty"`
	Severity  string     `json:"severity,omitempty"`
	Value     float64    `json:"value"`
	Index     int        `json:"index"`
}

type ActionHandler interface {
	Handle(ctx context.Context, action Action) error
}

// HandlerFunc adapts a plain function to ActionHandler.
type HandlerFunc func(ctx context.Context, action Action) error

func (f HandlerFunc) Handle(ctx context.Context, action Action) error {
	return f(ctx, action)
}

type ActionRegistry struct {
	mu       sync.RWMutex
	handlers map[ActionType][]ActionHandler
}

func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{
		handlers: make(map[ActionType][]ActionHandler),
	}
}

func (r *ActionRegistry) RegisterHandler(actionType ActionType, handler ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = append(r.handlers[actionType], handler)
}

func (r *ActionRegistry) HandlerCount(actionType ActionType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[actionType])
}

// ExecuteAction runs every handler registered for the action's type. A
// failing handler does not stop the others; all failures are joined.
func (r *ActionRegistry) ExecuteAction(ctx context.Context, action Action) error {
	r.mu.RLock()
	handlers, exists := r.handlers[action.Type]
	if !exists {
		r.mu.RUnlock()
		return fmt.Errorf("no handlers registered for action type: %s", action.Type)
	}
	handlersCopy := make([]ActionHandler, len(handlers))
	copy(handlersCopy, handlers)
	r.mu.RUnlock()

	var errs []error
	for _, handler := range handlersCopy {
		if err := handler.Handle(ctx, action); err != nil {
			errs = append(errs, fmt.Errorf("handler error for %s: %w", action.Type, err))
		}
	}
	return errors.Join(errs...)
}

func (r *ActionRegistry) CreateAction(actionType ActionType, message, policy string) Action {
	return Action{
		ID:        uuid.NewString(),
		Type:      actionType,
		Message:   message,
		Timestamp: time.Now(),
		Policy:    policy,
	}
}
