package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/cadence/internal/audio"
	"github.com/zsiec/cadence/internal/avsync"
	"github.com/zsiec/cadence/internal/clock"
	"github.com/zsiec/cadence/internal/config"
	"github.com/zsiec/cadence/internal/control"
	"github.com/zsiec/cadence/internal/decode"
	"github.com/zsiec/cadence/internal/dispatch"
	apperrors "github.com/zsiec/cadence/internal/errors"
	"github.com/zsiec/cadence/internal/handoff"
	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/media"
	"github.com/zsiec/cadence/internal/metrics"
	"github.com/zsiec/cadence/internal/present"
	"github.com/zsiec/cadence/internal/queue"
	"github.com/zsiec/cadence/internal/subtitle"
)

// session is one open media file with its pipeline. A restart builds a new one.
type session struct {
	id       string
	url      string
	started  time.Time
	duration time.Duration

	container media.Container
	ctl       *control.Playback

	queues  map[media.Kind]*queue.PacketQueue
	clocks  map[media.Kind]*clock.Presentation
	workers map[media.Kind]*decode.Worker

	dispatcher *dispatch.Dispatcher
	slot       *handoff.Slot
	subs       *subtitle.Track
	syncer     *avsync.Syncer
	driver     *present.Driver

	stream *audio.Stream
	device audio.Device

	cancel context.CancelFunc
	group  *errgroup.Group

	seekMu   sync.Mutex
	lastSeek *SeekReport

	teardownOnce sync.Once
	log          logger.Logger
}

type sessionDeps struct {
	cfg     *config.Config
	opener  media.Opener
	display present.Display
	audio   audio.DeviceOpener
	volume  float64
	log     logger.Logger
}

// openSession opens url and assembles the pipeline without starting it.
func openSession(url string, deps sessionDeps) (*session, error) {
	container, err := deps.opener.Open(url)
	if err != nil {
		return nil, apperrors.NewStreamOpenError(url, err)
	}

	streams := container.Streams()
	videoInfo, ok := media.FindStream(streams, media.KindVideo)
	if !ok {
		_ = container.Close()
		return nil, apperrors.NewNoVideoError(url)
	}

	id := uuid.New().String()
	s := &session{
		id:        id,
		url:       url,
		started:   time.Now(),
		duration:  container.Duration(),
		container: container,
		ctl:       control.NewPlayback(),
		queues:    make(map[media.Kind]*queue.PacketQueue),
		clocks:    make(map[media.Kind]*clock.Presentation),
		workers:   make(map[media.Kind]*decode.Worker),
		slot:      handoff.New(),
		subs:      subtitle.NewTrack(),
		log:       logger.WithSession(logger.WithComponent(deps.log, "player"), id, url),
	}

	pcfg := deps.cfg.Playback
	s.dispatcher = dispatch.New(container, s.ctl, dispatch.Options{
		Threshold: pcfg.QueueThreshold,
		Throttle:  pcfg.ThrottleInterval,
		Logger:    s.log,
	})

	format := media.S16(deps.cfg.Audio.SampleRate, deps.cfg.Audio.Channels)

	video, err := s.addWorker(videoInfo, format, deps, frameSink{slot: s.slot}, true)
	if err != nil {
		_ = container.Close()
		return nil, apperrors.NewDecodeError(media.KindVideo.String(), err)
	}
	s.dispatcher.Route(videoInfo.Index, s.queues[media.KindVideo])

	s.syncer = avsync.New(deps.cfg.Sync, s.clocks[media.KindVideo], nil, s.log)

	if info, ok := media.FindStream(streams, media.KindSubtitle); ok {
		if _, err := s.addWorker(info, format, deps, decode.SinkFunc(s.pushCue), false); err != nil {
			s.log.WithError(err).Warn("Subtitle stream unavailable, continuing without subtitles")
		} else {
			s.dispatcher.Route(info.Index, s.queues[media.KindSubtitle])
		}
	}

	if info, ok := media.FindStream(streams, media.KindAudio); ok {
		s.openAudio(info, format, deps)
	}

	s.driver = present.NewDriver(present.Options{
		Display:   deps.display,
		Slot:      s.slot,
		Syncer:    s.syncer,
		Video:     s.clocks[media.KindVideo],
		Subtitles: s.subs,
		Control:   s.ctl,
		Playback:  pcfg,
		Overlay:   deps.cfg.Display.Overlay,
		Logger:    s.log,
	})

	s.log.WithFields(logger.Fields{
		"video_codec": videoInfo.Codec,
		"width":       videoInfo.Width,
		"height":      videoInfo.Height,
		"duration":    s.duration.String(),
		"sync_mode":   string(s.syncer.Mode()),
		"video_state": video.State().String(),
	}).Info("Media opened")
	return s, nil
}

func (s *session) addWorker(info media.StreamInfo, format media.AudioFormat, deps sessionDeps, sink decode.Sink, terminal bool) (*decode.Worker, error) {
	dec, err := s.container.OpenDecoder(info, media.DecoderOptions{AudioFormat: format})
	if err != nil {
		return nil, fmt.Errorf("open %s decoder: %w", info.Kind, err)
	}
	q := queue.NewPacketQueue(info.Kind)
	clk := clock.New(info.Kind)
	w := decode.New(decode.Options{
		Kind:        info.Kind,
		Queue:       q,
		Decoder:     dec,
		Clock:       clk,
		TimeBase:    info.TimeBase,
		Control:     s.ctl,
		Sink:        sink,
		Terminal:    terminal,
		StoppedPoll: deps.cfg.Playback.StoppedPoll,
		Logger:      s.log,
	})
	s.queues[info.Kind] = q
	s.clocks[info.Kind] = clk
	s.workers[info.Kind] = w
	return w, nil
}

// openAudio wires the audio pull path. Without a working device the audio
// stream is not routed and video free-runs.
func (s *session) openAudio(info media.StreamInfo, format media.AudioFormat, deps sessionDeps) {
	if !deps.cfg.Audio.Enabled || deps.audio == nil {
		s.log.Info("Audio output disabled, video runs free")
		return
	}

	w, err := s.addWorker(info, format, deps, nil, false)
	if err != nil {
		s.log.WithError(err).Warn("Audio stream unavailable, video runs free")
		return
	}

	stream := audio.NewStream(w, s.clocks[media.KindAudio], format, s.ctl, deps.cfg.Audio.UnderrunWait, s.log)
	device, err := deps.audio.Open(format, stream)
	if err != nil {
		s.log.WithError(apperrors.NewAudioDeviceError(err)).Warn("Audio device unavailable, video runs free")
		_ = w.Quit()
		delete(s.workers, media.KindAudio)
		delete(s.queues, media.KindAudio)
		delete(s.clocks, media.KindAudio)
		return
	}

	stream.Attach(device)
	device.SetVolume(deps.volume)
	s.stream = stream
	s.device = device
	s.syncer.SetMaster(stream)
	s.dispatcher.Route(info.Index, s.queues[media.KindAudio])
}

// frameSink feeds decoded pictures to the handoff slot, discarding pictures
// decoded before the last flush.
type frameSink struct {
	slot *handoff.Slot
}

func (f frameSink) Epoch() uint64 { return f.slot.Epoch() }

func (f frameSink) Emit(ctx context.Context, u media.DecodedUnit) error {
	return f.EmitAt(ctx, f.slot.Epoch(), u)
}

func (f frameSink) EmitAt(ctx context.Context, epoch uint64, u media.DecodedUnit) error {
	if u.Video == nil {
		return nil
	}
	return f.slot.OfferAt(ctx, epoch, u.Video)
}

func (s *session) pushCue(_ context.Context, u media.DecodedUnit) error {
	if u.Subtitle == nil {
		return nil
	}
	s.subs.Push(media.SubtitleSpan{
		Start: u.Time + u.Subtitle.StartOffset,
		End:   u.Time + u.Subtitle.EndOffset,
		Text:  u.Subtitle.Text,
	})
	return nil
}

// start launches the dispatcher and the push-driven workers. A failing
// goroutine ends the session with its error.
func (s *session) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	s.group = g

	g.Go(func() error {
		return s.supervise(s.dispatcher.Run(gctx), "dispatcher")
	})
	for _, kind := range []media.Kind{media.KindVideo, media.KindSubtitle} {
		w, ok := s.workers[kind]
		if !ok {
			continue
		}
		g.Go(func() error {
			err := w.Run(gctx)
			if err != nil {
				err = apperrors.NewDecodeError(w.Kind().String(), err)
			}
			return s.supervise(err, "decoder")
		})
	}

	if s.device != nil {
		s.device.Play()
	}
	metrics.SetPlaybackStopped(false)
}

func (s *session) supervise(err error, component string) error {
	if err == nil || s.ctl.Quitting() {
		return nil
	}
	s.log.WithError(err).WithField("source", component).Error("Playback goroutine failed")
	if errors.Is(err, media.ErrNoVideoStream) {
		err = apperrors.NewNoVideoError(s.url)
	}
	s.ctl.Quit(err)
	return err
}

// pause stops consumption and the audio device.
func (s *session) pause() {
	s.ctl.Stop()
	if s.device != nil {
		s.device.Pause()
	}
	metrics.SetPlaybackStopped(true)
}

func (s *session) resume() {
	s.ctl.Resume()
	if s.device != nil {
		s.device.Play()
	}
	metrics.SetPlaybackStopped(false)
}

// position is the video clock, the user-visible playback position.
func (s *session) position() float64 {
	return s.clocks[media.KindVideo].Now()
}

func (s *session) queueLens() map[string]int {
	lens := make(map[string]int, len(s.queues))
	for kind, q := range s.queues {
		lens[kind.String()] = q.Len()
		metrics.SetQueueDepth(kind.String(), q.Len())
	}
	return lens
}

// teardown stops every goroutine of the session and releases the container.
// Safe to call more than once.
func (s *session) teardown() {
	s.teardownOnce.Do(func() {
		s.ctl.Quit(control.ErrUserQuit)
		s.slot.Close()
		for _, q := range s.queues {
			q.Close()
		}
		if s.cancel != nil {
			s.cancel()
		}
		if s.device != nil {
			if err := s.device.Close(); err != nil {
				s.log.WithError(err).Warn("Failed to close audio device")
			}
		}
		if s.group != nil {
			// Failures were already logged and recorded as the quit reason.
			_ = s.group.Wait()
		}
		for kind, w := range s.workers {
			if err := w.Quit(); err != nil {
				s.log.WithError(err).WithField("stream", kind.String()).Warn("Failed to close decoder")
			}
		}
		if err := s.container.Close(); err != nil {
			s.log.WithError(err).Warn("Failed to close container")
		}
	})
}
