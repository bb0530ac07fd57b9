// Package metrics defines the observability hooks of the transfer core.
package metrics

// ReinitResult labels the outcome of one (re)initialization attempt.
type ReinitResult string

const (
	ReinitSuccess  ReinitResult = "success"
	ReinitFailed   ReinitResult = "failed"
	ReinitDisabled ReinitResult = "disabled"
	ReinitSkipped  ReinitResult = "skipped"
)

// Recorder receives lifecycle, quote and tracking events. Implementations may
// forward to Prometheus or drop them.
type Recorder interface {
	IncReinitialization(result ReinitResult)
	SetServiceState(state int)
	IncQuoteEvent(kind string)
	SetTrackedTransfers(n int)
	IncTransferUpdate(status string)
}

// NoopRecorder is the default when metrics are not configured.
type NoopRecorder struct{}

func (NoopRecorder) IncReinitialization(ReinitResult) {}
func (NoopRecorder) SetServiceState(int)              {}
func (NoopRecorder) IncQuoteEvent(string)             {}
func (NoopRecorder) SetTrackedTransfers(int)          {}
func (NoopRecorder) IncTransferUpdate(string)         {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
