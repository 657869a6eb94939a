package influxdb

import (
	"context"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/linklight/internal/lifecycle"
)

// MeasurementTransition is the measurement name for lifecycle transitions.
const MeasurementTransition = "lifecycle_transition"

// WriteTransition queues one lifecycle transition point.
//
// The write is non-blocking; data is batched and sent asynchronously and
// failures surface through SetOnError. The context is unused but keeps
// the signature shared with the journal sinks.
//
// Returns:
//   - error: ErrNotConnected after Close, otherwise nil
func (c *Client) WriteTransition(_ context.Context, tr lifecycle.Transition) error {
	if !c.IsOpen() {
		return ErrNotConnected
	}
	c.writeAPI.WritePoint(transitionPoint(c.deviceID, tr))
	return nil
}

// transitionPoint builds the point for tr.
//
// Tags stay low cardinality (device and state names); the attempt count
// and error text are fields.
func transitionPoint(deviceID string, tr lifecycle.Transition) *write.Point {
	fields := map[string]interface{}{
		"attempt": tr.Attempt,
	}
	if tr.Err != "" {
		fields["error"] = tr.Err
	}

	return write.NewPoint(
		MeasurementTransition,
		map[string]string{
			"device": deviceID,
			"from":   tr.From.String(),
			"to":     tr.To.String(),
			"cause":  tr.Cause,
		},
		fields,
		tr.At,
	)
}
