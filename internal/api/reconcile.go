package api

import (
	"context"
	"errors"

	"surfacescan/internal/database"
	"surfacescan/internal/queue"
)

// ReconciledStatus is the reconciled view GET /scans/:id/status
// returns: DB status overlaid with the scan-queue's observable job
// state, per spec §4.1.
type ReconciledStatus struct {
	Status   database.ScanStatus `json:"status"`
	Progress int                 `json:"progress"`
	Stage    string              `json:"stage"`
}

// reconcileStatus overlays scan's queue-observable state onto its DB
// row. Queue state waiting/delayed/active/stalled maps to "running";
// failed/dead maps to "failed". A job is expected to have been
// deleted from the queue once the scan reaches a terminal DB status
// (RenderWorker.Process never calls queue.Complete on the scan-queue
// job itself — that is the dispatcher's job, done strictly after
// Process returns success — see internal/worker's waitForAnalysis
// doc comment for the same completed-job-deletion consideration on
// the analysis queue). When the job is absent, the DB's own status is
// authoritative and, if terminal, progress is reported as 100.
//
// When the overlay disagrees with the stored status and the new
// status is running or terminal, the disagreement is written back
// with a CAS (UpdateScanStatus's prevStatus check) so a concurrent
// worker write is never clobbered, per the Design Note in spec §9.
func ReconcileStatus(ctx context.Context, db database.Database, q queue.Queue, scan *database.Scan) (ReconciledStatus, error) {
	job, err := q.GetJob(ctx, queue.ScanQueueName, scan.ID)
	if err != nil && !errors.Is(err, queue.ErrNotFound) {
		return ReconciledStatus{}, err
	}

	if job == nil {
		progress := 0
		if isTerminal(scan.Status) {
			progress = 100
		}
		return ReconciledStatus{Status: scan.Status, Progress: progress, Stage: stageFor(progress)}, nil
	}

	overlaid := scan.Status
	switch job.Status {
	case queue.StatusWaiting, queue.StatusDelayed, queue.StatusActive, queue.StatusStalled:
		overlaid = database.ScanRunning
	case queue.StatusFailed, queue.StatusDead:
		overlaid = database.ScanFailed
	case queue.StatusDone:
		overlaid = database.ScanCompleted
	}

	if overlaid != scan.Status && (overlaid == database.ScanRunning || isTerminal(overlaid)) {
		var errMsg *string
		if overlaid == database.ScanFailed {
			reason := job.FailReason
			if reason == "" {
				reason = "job moved to failed/dead-letter state"
			}
			errMsg = &reason
		}
		if ok, err := db.UpdateScanStatus(ctx, scan.ID, scan.Status, overlaid, errMsg); err == nil && ok {
			scan.Status = overlaid
		}
	}

	progress := job.Progress
	if isTerminal(scan.Status) {
		progress = 100
	}
	return ReconciledStatus{Status: scan.Status, Progress: progress, Stage: stageFor(progress)}, nil
}

func isTerminal(s database.ScanStatus) bool {
	return s == database.ScanCompleted || s == database.ScanFailed
}

// stageFor derives a UX label from a progress percentage, per spec §4.1.
func stageFor(progress int) string {
	switch {
	case progress < 10:
		return "initializing"
	case progress < 40:
		return "rendering"
	case progress < 70:
		return "fetching_scripts"
	case progress < 85:
		return "dispatching_analysis"
	case progress < 95:
		return "analyzing"
	default:
		return "saving_results"
	}
}
