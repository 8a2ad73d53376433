// Command loadgen feeds the example furnace line with readings and now and
// then injects a disturbance so the control charts have something to flag.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"plugin"
	"time"

	"github.com/chosenoffset/spcwatch/spcwatch-example/internal/scenario"
)

// loadPlugins opens every *.so in dir that exports ScenarioInstance.
func loadPlugins(dir string, logger *slog.Logger) []scenario.Scenario {
	var scenarios []scenario.Scenario
	files, err := filepath.Glob(filepath.Join(dir, "*.so"))
	if err != nil {
		logger.Warn("scan plugins", "error", err)
		return nil
	}

	for _, f := range files {
		p, err := plugin.Open(f)
		if err != nil {
			logger.Warn("load plugin", "file", f, "error", err)
			continue
		}
		sym, err := p.Lookup("ScenarioInstance")
		if err != nil {
			logger.Warn("plugin has no ScenarioInstance", "file", f)
			continue
		}
		sc, ok := sym.(scenario.Scenario)
		if !ok {
			logger.Warn("invalid ScenarioInstance type", "file", f)
			continue
		}
		logger.Info("loaded scenario plugin", "name", sc.Name())
		scenarios = append(scenarios, sc)
	}
	return scenarios
}

func main() {
	var (
		baseURL   = flag.String("url", "http://localhost:8080", "furnace line base URL")
		furnaces  = flag.Int("furnaces", 3, "number of furnaces")
		setpoint  = flag.Float64("setpoint", 850, "soak temperature setpoint")
		pluginDir = flag.String("plugins", "./plugins", "directory of scenario plugins")
		disturb   = flag.Float64("disturb", 0.05, "probability of running a scenario per step")
		interval  = flag.Duration("interval", 200*time.Millisecond, "delay between rounds")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	client := &http.Client{Timeout: 5 * time.Second}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	scenarios := append(scenario.Builtin(), loadPlugins(*pluginDir, logger)...)

	ids := make([]string, *furnaces)
	for i := range ids {
		ids[i] = fmt.Sprintf("furnace-%d", i+1)
		if err := createFurnace(ctx, client, *baseURL, ids[i], *setpoint); err != nil {
			logger.Warn("create furnace", "id", ids[i], "error", err)
		}
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, id := range ids {
			if rand.Float64() < *disturb {
				sc := scenarios[rand.IntN(len(scenarios))]
				logger.Info("running scenario", "scenario", sc.Name(), "furnace", id)
				if err := sc.Run(ctx, client, *baseURL, id, *setpoint); err != nil {
					logger.Warn("scenario failed", "scenario", sc.Name(), "error", err)
				}
				continue
			}
			temp := *setpoint + rand.NormFloat64()*scenario.Noise
			if err := scenario.Post(ctx, client, *baseURL, id, temp); err != nil {
				logger.Warn("reading failed", "furnace", id, "error", err)
			}
		}
	}
}

func createFurnace(ctx context.Context, client *http.Client, baseURL, id string, setpoint float64) error {
	body, err := json.Marshal(map[string]any{"id": id, "setpoint": setpoint})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/furnace", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
