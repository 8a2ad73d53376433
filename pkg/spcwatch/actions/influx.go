package actions

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// ActionMeasurement is the InfluxDB measurement InfluxSink writes to.
const ActionMeasurement = "spc_action"

// InfluxSink records actions as points so they can be overlaid on the
// measurement series in InfluxDB dashboards.
type InfluxSink struct {
	writer api.WriteAPIBlocking
}

func NewInfluxSink(client influxdb2.Client, org, bucket string) *InfluxSink {
	return &InfluxSink{writer: client.WriteAPIBlocking(org, bucket)}
}

func (s *InfluxSink) Handle(ctx context.Context, action Action) error {
	tags := map[string]string{"type": string(action.Type)}
	for k, v := range map[string]string{
		"chart":    action.Chart,
		"rule":     action.Rule,
		"policy":   action.Policy,
		"severity": action.Severity,
	} {
		if v != "" {
			tags[k] = v
		}
	}

	fields := map[string]interface{}{
		"id":      action.ID,
		"message": action.Message,
		"value":   action.Value,
		"index":   action.Index,
	}

	p := influxdb2.NewPoint(ActionMeasurement, tags, fields, action.Timestamp)
	if err := s.writer.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}
