package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// pendingReport is the room's single outstanding report job. At most one
// exists per room; a second request is rejected without creating another.
type pendingReport struct {
	submittedAt time.Time
	timer       *time.Timer
	settled     bool
	result      chan reportResult
}

type reportResult struct {
	report Report
	err    error
}

func newPendingReport() *pendingReport {
	return &pendingReport{
		submittedAt: time.Now(),
		result:      make(chan reportResult, 1),
	}
}

// settleLocked resolves or rejects the slot exactly once and clears its
// timer. Callers hold the room mutex.
func (p *pendingReport) settleLocked(res reportResult) {
	if p.settled {
		return
	}
	p.settled = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.result <- res
}

// RequestReport submits a meeting-report job on the backend's side channel
// and blocks until the result arrives as a meeting_report frame on the
// room's connection, the job times out, or ctx is cancelled. The side-channel
// acknowledgment only confirms queuing, never the result.
func (m *Manager) RequestReport(ctx context.Context, roomID string) (Report, error) {
	r := m.lookupRoom(roomID)
	if r == nil {
		return Report{}, fmt.Errorf("%w: room %s", ErrNotConnected, roomID)
	}

	r.mu.Lock()
	if r.state != stateConnected || r.conn == nil {
		r.mu.Unlock()
		return Report{}, fmt.Errorf("%w: room %s", ErrNotConnected, roomID)
	}
	if r.pendingReport != nil {
		r.mu.Unlock()
		return Report{}, fmt.Errorf("%w: room %s", ErrReportInProgress, roomID)
	}
	p := newPendingReport()
	r.pendingReport = p
	p.timer = time.AfterFunc(m.cfg.ReportTimeout, func() {
		m.expireReport(r, p)
	})
	r.touchLocked()
	r.mu.Unlock()

	if m.jobs == nil {
		m.failReport(r, p, errors.New("no report job client configured"))
	} else if err := m.jobs.SubmitReportJob(ctx, roomID); err != nil {
		m.failReport(r, p, fmt.Errorf("submit report job: %w", err))
	}

	select {
	case res := <-p.result:
		return res.report, res.err
	case <-ctx.Done():
		m.failReport(r, p, ctx.Err())
		res := <-p.result
		return res.report, res.err
	}
}

// failReport clears the slot and settles p with err unless a dispatched
// result won the race.
func (m *Manager) failReport(r *room, p *pendingReport, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pendingReport == p {
		r.pendingReport = nil
	}
	p.settleLocked(reportResult{err: err})
}

// expireReport rejects the slot once its timeout elapses. A report frame
// arriving after that finds no slot and is discarded, never surfaced as a
// late success or failure.
func (m *Manager) expireReport(r *room, p *pendingReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.settled {
		return
	}
	if r.pendingReport == p {
		r.pendingReport = nil
	}
	m.logger.Warn("report job timed out", "room_id", r.id)
	p.settleLocked(reportResult{err: fmt.Errorf("%w: meeting report", ErrRequestTimeout)})
}

// resolveReport settles the room's report slot from a meeting_report frame.
// With no slot set the frame is a late or unexpected delivery; it is logged
// and dropped.
func (m *Manager) resolveReport(r *room, f *meetingReportFrame) {
	r.mu.Lock()
	p := r.pendingReport
	r.pendingReport = nil
	if p == nil {
		r.mu.Unlock()
		m.logger.Info("late meeting report discarded", "room_id", r.id, "status", f.Status)
		return
	}
	if f.Status == reportStatusSuccess {
		p.settleLocked(reportResult{report: Report{
			Status:       f.Status,
			MeetingTitle: f.MeetingTitle,
			SummaryType:  f.SummaryType,
			Content:      f.ReportContent,
		}})
	} else {
		p.settleLocked(reportResult{err: fmt.Errorf("report job failed with status %q", f.Status)})
	}
	r.mu.Unlock()
}
