package main

import (
	"context"
	"fmt"

	"github.com/gocoredump/procdump/internal/auditlog"
	"github.com/gocoredump/procdump/internal/history"
	"github.com/gocoredump/procdump/internal/monitor"
)

// auditingInvoker decorates a monitor.DumpInvoker with the two ambient
// side effects every dump needs outside the monitor core's specified
// scope (spec §1 Non-goals: "no dump-file management"): a diagnostic
// ledger entry and a durable metadata row, neither of which touches the
// dump image gcore writes.
type auditingInvoker struct {
	inner     monitor.DumpInvoker
	audit     *auditlog.Logger
	history   *history.Store
	runID     string
	outputDir string
}

// Invoke implements monitor.DumpInvoker.
func (a *auditingInvoker) Invoke(ctx context.Context, pid int, reason string, pidReady func(childPID int)) error {
	recordEvent(a.audit, auditlog.EventDumpInvoked, map[string]any{"pid": pid, "reason": reason})

	err := a.inner.Invoke(ctx, pid, reason, pidReady)

	detail := map[string]any{"pid": pid, "reason": reason}
	if err != nil {
		detail["error"] = err.Error()
	}
	recordEvent(a.audit, auditlog.EventDumpCompleted, detail)

	if err == nil {
		dumpPath := fmt.Sprintf("%d_%s", pid, reason)
		if a.outputDir != "" {
			dumpPath = a.outputDir + "/" + dumpPath
		}
		if _, insertErr := a.history.Insert(ctx, history.Record{
			RunID:    a.runID,
			PID:      pid,
			Reason:   reason,
			DumpPath: dumpPath,
		}); insertErr != nil {
			return fmt.Errorf("procdump: recording dump history: %w", insertErr)
		}
	}

	return err
}
