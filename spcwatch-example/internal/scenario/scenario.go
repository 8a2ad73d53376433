// Package scenario defines process disturbances the load generator can
// inject into the furnace line.
package scenario

import (
	"context"
	"net/http"
)

// Scenario drives a furnace through one disturbance. Plugins export a
// Scenario named ScenarioInstance.
type Scenario interface {
	Name() string
	Run(ctx context.Context, client *http.Client, baseURL, furnace string, setpoint float64) error
}
