// Package ingest consumes audio frames from the bus and runs one
// consolidation stream per session: segmenter, recognizer session, and a
// pipeline goroutine that is the sole writer of the session's state.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/prattlelabs/prattle-core/internal/bus"
	"github.com/prattlelabs/prattle-core/internal/config"
	"github.com/prattlelabs/prattle-core/internal/consolidate"
	"github.com/prattlelabs/prattle-core/internal/hypothesis"
	"github.com/prattlelabs/prattle-core/internal/observe"
	"github.com/prattlelabs/prattle-core/internal/pcm"
	"github.com/prattlelabs/prattle-core/internal/protocol"
	"github.com/prattlelabs/prattle-core/internal/recognizer"
	"github.com/prattlelabs/prattle-core/internal/segment"
	"github.com/prattlelabs/prattle-core/internal/sink"
	"github.com/prattlelabs/prattle-core/internal/transcriptstore"
)

// closeTimeout bounds store writes during stream teardown, which may run
// after the service context is already cancelled.
const closeTimeout = 5 * time.Second

type Service struct {
	cfg     config.Config
	bus     *bus.Client
	rec     recognizer.Recognizer
	sink    sink.Sink
	store   *transcriptstore.Store
	log     *slog.Logger
	metrics *observe.Metrics
	clock   func() time.Time

	// reapEvery is how often idle streams are checked for.
	reapEvery time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	sub    *nats.Subscription
	wg     sync.WaitGroup

	mu      sync.Mutex
	ready   bool
	closed  bool
	streams map[string]*stream
}

// stream is the per-session state. The segmenter and frame bookkeeping are
// guarded by mu because both the frame handler and teardown touch them; the
// consolidation session itself is driven only by the pipeline goroutine.
type stream struct {
	id     string
	format pcm.Format

	mu        sync.Mutex
	seg       *segment.Segmenter
	rec       recognizer.Session
	lastSeq   int
	lastFrame time.Time
	flushed   bool

	closing  bool
	once     sync.Once
	pipeDone chan struct{}
}

func NewService(parent context.Context, cfg config.Config, busClient *bus.Client, rec recognizer.Recognizer, out sink.Sink, store *transcriptstore.Store, log *slog.Logger, metrics *observe.Metrics) *Service {
	ctx, cancel := context.WithCancel(parent)
	if metrics == nil {
		metrics = observe.Discard()
	}
	return &Service{
		cfg:       cfg,
		bus:       busClient,
		rec:       rec,
		sink:      out,
		store:     store,
		log:       log.With(slog.String("component", "ingest")),
		metrics:   metrics,
		clock:     time.Now,
		reapEvery: time.Second,
		ctx:       ctx,
		cancel:    cancel,
		streams:   make(map[string]*stream),
	}
}

// Start subscribes to the audio frame subjects and begins reaping idle
// streams.
func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectAudioFramePrefix+".>", s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub

	s.wg.Add(1)
	go s.reapIdle()

	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	return nil
}

// Close stops frame intake, then finishes every live stream: segmenter
// remainders are flushed, recognizer sessions closed, and pipelines drained
// before the service returns.
func (s *Service) Close() {
	s.mu.Lock()
	s.ready = false
	s.closed = true
	victims := make([]*stream, 0, len(s.streams))
	for _, st := range s.streams {
		st.closing = true
		victims = append(victims, st)
	}
	s.mu.Unlock()

	if s.sub != nil {
		_ = s.sub.Drain()
	}

	for _, st := range victims {
		s.teardown(st)
	}

	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// ActiveStreams reports how many sessions are currently consolidating.
func (s *Service) ActiveStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.log.Warn("failed to decode audio frame", slog.String("error", err.Error()))
		return
	}
	if frame.SessionID == "" {
		s.log.Warn("audio frame without session id", slog.String("subject", msg.Subject))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	st, ok := s.streams[frame.SessionID]
	if ok && st.closing {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	// Frame callbacks are dispatched one at a time, so this handler is the
	// only stream creator and the map cannot gain the session behind us.
	if !ok {
		var err error
		st, err = s.openStream(frame)
		if err != nil {
			s.log.Error("failed to open stream",
				slog.String("session", frame.SessionID),
				slog.String("error", err.Error()))
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			st.closing = true
			s.teardown(st)
			return
		}
		s.streams[frame.SessionID] = st
		s.mu.Unlock()
	}

	if frame.Final {
		s.mu.Lock()
		st.closing = true
		s.mu.Unlock()
	}

	s.feed(st, frame)

	if frame.Final {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.teardown(st)
		}()
	}
}

// feed appends a frame's audio and forwards every completed window. Frames
// that regress in sequence or disagree with the stream's format are dropped.
func (s *Service) feed(st *stream, frame protocol.AudioFrame) {
	st.mu.Lock()
	defer st.mu.Unlock()

	// A frame admitted just before teardown marked the stream closing must
	// not reach the recognizer session after it was flushed and closed.
	if st.flushed {
		return
	}

	if frame.SampleRate != 0 && frame.SampleRate != st.format.SampleRate ||
		frame.Channels != 0 && frame.Channels != st.format.Channels {
		s.log.Warn("audio frame format mismatch, dropping",
			slog.String("session", st.id),
			slog.Int("sample_rate", frame.SampleRate),
			slog.Int("channels", frame.Channels))
		return
	}
	if frame.Sequence <= st.lastSeq && !(frame.Final && len(frame.PCM) == 0) {
		s.log.Warn("audio frame out of order, dropping",
			slog.String("session", st.id),
			slog.Int("sequence", frame.Sequence),
			slog.Int("last_sequence", st.lastSeq))
		return
	}
	if frame.Sequence > st.lastSeq+1 {
		s.log.Debug("audio frame gap",
			slog.String("session", st.id),
			slog.Int("from", st.lastSeq),
			slog.Int("to", frame.Sequence))
	}
	if frame.Sequence > st.lastSeq {
		st.lastSeq = frame.Sequence
	}
	st.lastFrame = s.clock()

	for _, seg := range st.seg.Push(frame.PCM) {
		s.sendSegment(st, seg)
	}
}

// sendSegment hands one window to the recognizer. Callers hold st.mu.
func (s *Service) sendSegment(st *stream, seg segment.Segment) {
	s.metrics.SegmentsEmitted.Add(s.ctx, 1)
	if err := st.rec.SendSegment(s.ctx, seg); err != nil {
		s.log.Warn("failed to send segment",
			slog.String("session", st.id),
			slog.Uint64("segment", seg.Seq),
			slog.String("error", err.Error()))
	}
}

// openStream builds the per-session machinery. The stream becomes visible
// to the reaper only once the caller inserts it into the map.
func (s *Service) openStream(frame protocol.AudioFrame) (*stream, error) {
	format := pcm.Format{SampleRate: frame.SampleRate, Channels: frame.Channels}
	if format.SampleRate == 0 {
		format.SampleRate = s.cfg.Audio.SampleRate
	}
	if format.Channels == 0 {
		format.Channels = s.cfg.Audio.Channels
	}

	window := time.Duration(s.cfg.Segmenter.SegmentMS) * time.Millisecond
	overlap := time.Duration(s.cfg.Segmenter.OverlapMS) * time.Millisecond
	seg, err := segment.New(format, window, overlap)
	if err != nil {
		return nil, err
	}

	recSess, err := s.rec.Open(s.ctx, recognizer.StreamConfig{
		Format:   format,
		Language: s.cfg.Recognizer.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("open recognizer session: %w", err)
	}

	// Overlapped windows repeat audio at their seams, so only then is the
	// deduplicator wired in.
	var dedup *consolidate.Deduplicator
	if s.cfg.Segmenter.OverlapMS > 0 {
		dedup = consolidate.NewDeduplicator(s.cfg.Consolidator.Dedup)
	}

	now := s.clock()
	session := consolidate.NewSession(consolidate.SessionConfig{
		ID:        frame.SessionID,
		Sink:      s.sink,
		Dedup:     dedup,
		Stability: time.Duration(s.cfg.Consolidator.StabilityThresholdMS) * time.Millisecond,
		Start:     now,
		Log:       s.log,
		Metrics:   s.metrics,
		Clock:     s.clock,
	})
	pipe := consolidate.NewPipeline(session, hypothesis.Normalizer{Clock: s.clock}, s.log, s.metrics)

	st := &stream{
		id:        frame.SessionID,
		format:    format,
		seg:       seg,
		rec:       recSess,
		lastSeq:   frame.Sequence - 1,
		lastFrame: now,
		pipeDone:  make(chan struct{}),
	}

	if err := s.store.StartSession(s.ctx, frame.SessionID); err != nil {
		s.log.Warn("failed to record session start",
			slog.String("session", frame.SessionID),
			slog.String("error", err.Error()))
	}
	s.metrics.ActiveSessions.Add(s.ctx, 1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(st.pipeDone)
		if err := pipe.Run(s.ctx, recSess.Results()); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("pipeline ended with error",
				slog.String("session", frame.SessionID),
				slog.String("error", err.Error()))
		}
	}()

	s.log.Info("session started",
		slog.String("session", frame.SessionID),
		slog.Int("sample_rate", format.SampleRate),
		slog.Int("channels", format.Channels))
	return st, nil
}

// teardown finishes a stream exactly once: flush the segmenter remainder,
// close the recognizer session so its results drain, wait for the pipeline,
// then stamp the stored session closed.
func (s *Service) teardown(st *stream) {
	st.once.Do(func() {
		st.mu.Lock()
		if tail, ok := st.seg.Flush(); ok {
			s.sendSegment(st, tail)
		}
		st.flushed = true
		st.mu.Unlock()

		if err := st.rec.Close(); err != nil {
			s.log.Warn("recognizer session close failed",
				slog.String("session", st.id),
				slog.String("error", err.Error()))
		}
		<-st.pipeDone

		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := s.store.CloseSession(ctx, st.id); err != nil {
			s.log.Warn("failed to record session close",
				slog.String("session", st.id),
				slog.String("error", err.Error()))
		}
		s.metrics.ActiveSessions.Add(ctx, -1)

		s.mu.Lock()
		delete(s.streams, st.id)
		s.mu.Unlock()

		s.log.Info("session closed", slog.String("session", st.id))
	})
}

// reapIdle closes streams that stopped receiving frames without a Final
// marker, applying the same end-of-stream flush a Final frame would.
func (s *Service) reapIdle() {
	defer s.wg.Done()

	idle := time.Duration(s.cfg.Consolidator.SessionIdleTimeoutMS) * time.Millisecond
	ticker := time.NewTicker(s.reapEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			now := s.clock()
			s.mu.Lock()
			var victims []*stream
			for _, st := range s.streams {
				st.mu.Lock()
				last := st.lastFrame
				st.mu.Unlock()
				if !st.closing && now.Sub(last) > idle {
					st.closing = true
					victims = append(victims, st)
				}
			}
			s.mu.Unlock()

			for _, st := range victims {
				s.log.Info("session idle, closing", slog.String("session", st.id))
				s.wg.Add(1)
				go func(st *stream) {
					defer s.wg.Done()
					s.teardown(st)
				}(st)
			}
		}
	}
}
