// Package report emits the machine's exception and status reports.
// Reports are JSON payloads written through a structured logger; the
// transport that carries them to a host is outside the core.
package report

import (
	"encoding/json"

	"github.com/edaniels/golog"

	"gocnc/status"
)

// Reporter serializes status, exception and queue reports.
type Reporter struct {
	logger golog.Logger

	statusRequested bool
	statusProvider  func() map[string]interface{}
}

// New creates a reporter on the given logger.
func New(logger golog.Logger) *Reporter {
	return &Reporter{logger: logger}
}

// SetStatusProvider installs the callback that assembles the status
// report payload (machine state, positions, velocity, line number).
func (r *Reporter) SetStatusProvider(fn func() map[string]interface{}) {
	r.statusProvider = fn
}

// Exception emits an exception report with the originating status code
// and a short message, and schedules an immediate status report.
func (r *Reporter) Exception(st status.Status, msg string) {
	payload, _ := json.Marshal(map[string]interface{}{
		"er": map[string]interface{}{
			"fb":  1,
			"st":  int(st),
			"msg": msg,
		},
	})
	r.logger.Warnw("exception report", "status", int(st), "msg", msg, "json", string(payload))
	r.RequestStatusReport(true)
}

// RequestStatusReport schedules a status report; immediate requests emit
// on the spot, timed requests emit at the next Flush.
func (r *Reporter) RequestStatusReport(immediate bool) {
	r.statusRequested = true
	if immediate {
		r.Flush()
	}
}

// Flush emits any pending status report.
func (r *Reporter) Flush() {
	if !r.statusRequested || r.statusProvider == nil {
		return
	}
	r.statusRequested = false
	payload, err := json.Marshal(map[string]interface{}{"sr": r.statusProvider()})
	if err != nil {
		r.logger.Errorw("status report marshal", "error", err)
		return
	}
	r.logger.Infow("status report", "json", string(payload))
}

// QueueReport emits the planner buffer availability after queue changes.
func (r *Reporter) QueueReport(available int) {
	payload, _ := json.Marshal(map[string]interface{}{"qr": available})
	r.logger.Debugw("queue report", "json", string(payload))
}

// Message relays a G-code comment message (MSG) to the console.
func (r *Reporter) Message(msg string) {
	r.logger.Infow("message", "msg", msg)
}
