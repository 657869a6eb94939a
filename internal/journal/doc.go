// Package journal keeps a local record of lifecycle transitions.
//
// The controller publishes each committed lifecycle.Transition on the bus;
// a Recorder subscribes and writes it to every configured Sink. The
// SQLite repository is the durable sink and survives reboots, so the last
// few hundred transitions are available even when InfluxDB is not.
//
// # Usage
//
//	repo := journal.NewSQLiteRepository(db.DB)
//	rec := journal.NewRecorder(msgBus, repo)
//	go rec.Run(ctx)
//
//	entries, err := repo.Recent(ctx, 20)
package journal
