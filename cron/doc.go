// Package cron enqueues jobs on a recurring schedule.
//
// An [Entry] pairs a cron expression with the job to enqueue. The
// [Scheduler] keeps its entries in memory and checks them on every tick;
// a due entry is enqueued through an [EnqueueFunc] and its next run time
// recomputed from the expression.
//
// Expressions use the standard five fields or a descriptor:
//
//	"0 9 * * 1-5"   09:00 on weekdays
//	"@hourly"
//	"@every 30s"
//
// Run one scheduler per deployment: entries are not shared between
// processes, so two schedulers with the same entries enqueue twice.
//
//	s := eng.NewScheduler()
//	_ = s.Add(cron.Entry{Name: "nightly", Schedule: "0 3 * * *", JobName: "cleanup"})
//	_ = s.Start(ctx)
//	defer s.Stop(ctx)
package cron
