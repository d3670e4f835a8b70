package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Queue and clock metrics
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cadence_queue_depth",
		Help: "Compressed units waiting in a stream queue",
	}, []string{"stream"})

	presentationClock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cadence_presentation_clock_seconds",
		Help: "Current presentation time of a stream",
	}, []string{"stream"})

	// Sync metrics
	avDrift = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cadence_av_drift_seconds",
		Help: "Video clock minus audio clock at the last presentation tick",
	})

	frameDelay = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cadence_frame_delay_seconds",
		Help:    "Delay scheduled before the next video refresh",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 8), // 5ms to 640ms
	})

	framesPresented = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cadence_frames_presented_total",
		Help: "Video frames pushed to the display",
	})

	// Decode and dispatch metrics
	decodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cadence_decode_errors_total",
		Help: "Units the codec rejected",
	}, []string{"stream"})

	unitsRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cadence_units_routed_total",
		Help: "Compressed units routed to a stream queue",
	}, []string{"stream"})

	unitsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cadence_units_dropped_total",
		Help: "Compressed units dropped by the dispatcher or a flush",
	}, []string{"reason"})

	dispatcherThrottles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cadence_dispatcher_throttles_total",
		Help: "Dispatcher sleeps instead of reading",
	}, []string{"reason"})

	// Control metrics
	seeksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cadence_seeks_total",
		Help: "Seek requests by result",
	}, []string{"result"})

	audioUnderruns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cadence_audio_underruns_total",
		Help: "Audio pulls filled with silence because no decoded audio was ready",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cadence_sessions_total",
		Help: "Playback sessions by end reason",
	}, []string{"reason"})

	playbackStopped = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cadence_playback_stopped",
		Help: "1 while playback is stopped",
	})

	volumeLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cadence_volume_level",
		Help: "Output volume in [0,1]",
	})

	// Debug metrics
	activeGoroutines = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cadence_goroutines_active",
		Help: "Number of active pipeline goroutines",
	}, []string{"component"})
)

// SetQueueDepth records the backlog of a stream queue.
func SetQueueDepth(stream string, depth int) {
	queueDepth.WithLabelValues(stream).Set(float64(depth))
}

// SetPresentationClock records a stream clock.
func SetPresentationClock(stream string, seconds float64) {
	presentationClock.WithLabelValues(stream).Set(seconds)
}

// SetDrift records the latest A/V drift.
func SetDrift(seconds float64) {
	avDrift.Set(seconds)
}

// ObserveFrameDelay records a scheduled refresh delay.
func ObserveFrameDelay(d time.Duration) {
	frameDelay.Observe(d.Seconds())
}

// IncrementFramesPresented counts a displayed frame.
func IncrementFramesPresented() {
	framesPresented.Inc()
}

// IncrementDecodeError counts a rejected unit.
func IncrementDecodeError(stream string) {
	decodeErrors.WithLabelValues(stream).Inc()
}

// IncrementUnitsRouted counts a unit placed on a stream queue.
func IncrementUnitsRouted(stream string) {
	unitsRouted.WithLabelValues(stream).Inc()
}

// AddUnitsDropped counts discarded units.
func AddUnitsDropped(reason string, n int) {
	unitsDropped.WithLabelValues(reason).Add(float64(n))
}

// IncrementDispatcherThrottle counts a throttle sleep.
func IncrementDispatcherThrottle(reason string) {
	dispatcherThrottles.WithLabelValues(reason).Inc()
}

// IncrementSeek counts a seek by result.
func IncrementSeek(result string) {
	seeksTotal.WithLabelValues(result).Inc()
}

// IncrementAudioUnderrun counts a silent fill.
func IncrementAudioUnderrun() {
	audioUnderruns.Inc()
}

// IncrementSession counts a finished session.
func IncrementSession(reason string) {
	sessionsTotal.WithLabelValues(reason).Inc()
}

// SetPlaybackStopped records the stop flag.
func SetPlaybackStopped(stopped bool) {
	if stopped {
		playbackStopped.Set(1)
		return
	}
	playbackStopped.Set(0)
}

// SetVolume records the output volume.
func SetVolume(level float64) {
	volumeLevel.Set(level)
}

// IncrementGoroutineActive tracks a pipeline goroutine start.
func IncrementGoroutineActive(component string) {
	activeGoroutines.WithLabelValues(component).Inc()
}

// DecrementGoroutineActive tracks a pipeline goroutine exit.
func DecrementGoroutineActive(component string) {
	activeGoroutines.WithLabelValues(component).Dec()
}
