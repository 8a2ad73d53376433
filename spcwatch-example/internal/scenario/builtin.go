package scenario

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
)

// Post sends one reading to the furnace line.
func Post(ctx context.Context, client *http.Client, baseURL, furnace string, temp float64) error {
	body, err := json.Marshal(map[string]any{"furnace": furnace, "temperature": temp})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/reading", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("reading rejected: %s", resp.Status)
	}
	return nil
}

// series posts readings produced by next, one per step.
type series struct {
	name  string
	steps int
	next  func(step int, setpoint float64) float64
}

func (s series) Name() string { return s.name }

func (s series) Run(ctx context.Context, client *http.Client, baseURL, furnace string, setpoint float64) error {
	for i := 0; i < s.steps; i++ {
		if err := Post(ctx, client, baseURL, furnace, s.next(i, setpoint)); err != nil {
			return err
		}
	}
	return nil
}

// Noise is the in-control standard deviation of every furnace, in degrees.
const Noise = 2.0

// Builtin returns the scenarios shipped with the load generator.
func Builtin() []Scenario {
	return []Scenario{
		// Thermocouple spike: one reading far beyond the limits.
		series{name: "spike", steps: 1, next: func(_ int, sp float64) float64 {
			return sp + 5*Noise
		}},
		// Burner drift: a steady climb that trips the trend rule.
		series{name: "drift", steps: 8, next: func(i int, sp float64) float64 {
			return sp + float64(i)*0.8*Noise
		}},
		// Setpoint offset: the mean moves by 1.5 sigma for a while.
		series{name: "offset", steps: 12, next: func(_ int, sp float64) float64 {
			return sp + 1.5*Noise + rand.NormFloat64()*Noise/2
		}},
		// Controller hunting: readings alternate around the setpoint.
		series{name: "hunting", steps: 16, next: func(i int, sp float64) float64 {
			if i%2 == 0 {
				return sp + Noise
			}
			return sp - Noise
		}},
	}
}
