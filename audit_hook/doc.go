// Package audithook is a backlog extension that turns job lifecycle events
// into structured audit records.
//
// Every hook emits an [AuditEvent] through the [Recorder] interface with a
// severity (info for normal operations, warning for retries and reaps,
// critical for terminal failures) and metadata such as job name, queue and
// elapsed time.
//
//	eng, _ := engine.New(store, engine.WithExtension(
//	    audithook.New(audithook.LogRecorder(logger, slog.LevelInfo)),
//	))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobCancelled,
//	    ),
//	)
package audithook
