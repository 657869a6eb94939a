// Package influxdb provides optional InfluxDB telemetry for linklight.
//
// It wraps the official influxdb-client-go v2 library and records one
// lifecycle_transition point per committed state change, so a fleet of
// devices can be charted for flapping links and broker outages.
//
// # Usage
//
//	client, err := influxdb.New(cfg.InfluxDB, cfg.Device.ID)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	rec := journal.NewRecorder(msgBus, repo, client)
//
// # Points
//
//	lifecycle_transition,device=porch,from=associating,to=associated,cause=associated attempt=0i
//
// # Error Handling
//
// Writes are non-blocking and batch errors are delivered via SetOnError.
// Health check errors are returned directly.
package influxdb
