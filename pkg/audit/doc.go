// Package audit records an immutable trail of permission changes.
//
// A Subscriber listens on the rbac event bus and turns every committed
// mutation into an AuditEvent, which is written to one or more sinks:
//
//	file, _ := audit.NewFileLogger(audit.FileLoggerConfig{BasePath: "/var/log/gatekeeper"})
//	db, _ := audit.NewDBLogger(ctx, sqlDB)
//	sink := audit.NewMultiLogger(log, file, db)
//	sink.SetAsync(ctx, 2)
//	unsubscribe := audit.NewSubscriber(sink, log).Attach(bus)
//
// A failing sink never fails the mutation that produced the event.
package audit
