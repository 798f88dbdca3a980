package stage

import "fmt"

// Health is a stage handler's readiness self-report. The daemon collects one
// per registered stage at startup and on status requests; an unready stage
// keeps polling, so Detail should tell the operator what to fix rather than
// why the stage stopped.
type Health struct {
	// Stage is the reporting handler's name, e.g. "copier" or "transcriber".
	Stage  string
	Ready  bool
	Detail string
}

// Healthy reports a stage that is ready to accept work.
func Healthy(stage string) Health {
	return Health{Stage: stage, Ready: true}
}

// Unhealthy reports a stage that cannot do useful work yet, with an
// operator-facing reason.
func Unhealthy(stage, detail string) Health {
	return Health{Stage: stage, Ready: false, Detail: detail}
}

// String renders the report in a single log- and table-friendly line.
func (h Health) String() string {
	if h.Ready {
		return fmt.Sprintf("%s: ready", h.Stage)
	}
	return fmt.Sprintf("%s: %s", h.Stage, h.Detail)
}
