// Package trigger turns schedules (cron, interval or HH:MM) into named jobs
// enqueued on the job engine.
//
// The trigger never executes work itself. Each app instance owns its own
// Service; there is no package-level scheduler. The sweep and the reminder
// dispatcher are registered here and are also callable directly, so a CLI
// run and a timer-driven run share one code path.
package trigger
