package blob

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/lgulliver/mediabin/pkg/utils"
)

// ProgressEvent reports upload progress. Speed is in bytes per second since
// the upload began. The last event of a successful upload has Done set.
type ProgressEvent struct {
	Sent  int64   `json:"sent"`
	Total int64   `json:"total"`
	Speed float64 `json:"speed"`
	Done  bool    `json:"done"`
}

// ProgressSink receives progress events. Progress must not block for long;
// it runs on the upload path.
type ProgressSink interface {
	Progress(ProgressEvent)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(ProgressEvent)

func (f ProgressFunc) Progress(e ProgressEvent) { f(e) }

// ChannelSink delivers events to a channel, dropping them when the channel
// is full.
type ChannelSink chan<- ProgressEvent

func (c ChannelSink) Progress(e ProgressEvent) {
	select {
	case c <- e:
	default:
	}
}

type progressReporter struct {
	sink     ProgressSink
	interval time.Duration
	throttle rate.Sometimes
	start    time.Time
	now      func() time.Time
}

func newProgressReporter(sink ProgressSink, interval time.Duration, now func() time.Time) *progressReporter {
	return &progressReporter{
		sink:     sink,
		interval: interval,
		throttle: rate.Sometimes{Interval: interval},
		start:    now(),
		now:      now,
	}
}

func (r *progressReporter) update(sent, total int64) {
	if r.sink == nil {
		return
	}
	if r.interval <= 0 {
		r.emit(sent, total, false)
		return
	}
	r.throttle.Do(func() { r.emit(sent, total, false) })
}

func (r *progressReporter) finish(total int64) {
	if r.sink == nil {
		return
	}
	r.emit(total, total, true)
}

func (r *progressReporter) emit(sent, total int64, done bool) {
	r.sink.Progress(ProgressEvent{
		Sent:  sent,
		Total: total,
		Speed: utils.TransferSpeed(sent, r.start, r.now()),
		Done:  done,
	})
}
