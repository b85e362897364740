package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
	"golang.org/x/sync/errgroup"

	"github.com/prattlelabs/prattle-core/internal/config"
	"github.com/prattlelabs/prattle-core/internal/observe"
	"github.com/prattlelabs/prattle-core/internal/pcm"
	"github.com/prattlelabs/prattle-core/internal/segment"
)

// execRecognizer shells out once per segment to a whisper-cli style command
// that reads a WAV file and prints a JSON hypothesis on stdout. Segments are
// transcribed by a small worker pool and re-sequenced before delivery.
type execRecognizer struct {
	argv    []string
	cfg     config.RecognizerConfig
	log     *slog.Logger
	metrics *observe.Metrics
}

var _ Recognizer = (*execRecognizer)(nil)

type execResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewExec(cfg config.RecognizerConfig, log *slog.Logger, metrics *observe.Metrics) (Recognizer, error) {
	parser := shellwords.NewParser()
	argv, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse recognizer command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("recognizer command is empty")
	}
	if metrics == nil {
		metrics = observe.Discard()
	}
	return &execRecognizer{argv: argv, cfg: cfg, log: log, metrics: metrics}, nil
}

func (r *execRecognizer) Open(ctx context.Context, stream StreamConfig) (Session, error) {
	if err := stream.Format.Validate(); err != nil {
		return nil, fmt.Errorf("open recognizer session: %w", err)
	}
	workers := r.cfg.Workers
	if workers < 1 {
		workers = 1
	}

	s := &execSession{
		rec:     r,
		stream:  stream,
		jobs:    make(chan segment.Segment),
		done:    make(chan Result, workers),
		results: make(chan Result, workers*2),
	}
	s.group, s.ctx = errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		s.group.Go(s.worker)
	}
	go func() {
		// Workers have all returned; nothing sends on done anymore.
		_ = s.group.Wait()
		close(s.done)
	}()
	go s.deliver()
	return s, nil
}

type execSession struct {
	rec    *execRecognizer
	stream StreamConfig

	jobs    chan segment.Segment
	done    chan Result
	results chan Result

	group     *errgroup.Group
	ctx       context.Context
	closeOnce sync.Once
}

var _ Session = (*execSession)(nil)

func (s *execSession) SendSegment(ctx context.Context, seg segment.Segment) error {
	select {
	case s.jobs <- seg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *execSession) Results() <-chan Result {
	return s.results
}

// Close stops intake and blocks until queued segments are transcribed and
// delivered. Safe to call more than once.
func (s *execSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.jobs)
		err = s.group.Wait()
	})
	return err
}

func (s *execSession) worker() error {
	for seg := range s.jobs {
		res := s.transcribe(seg)
		select {
		case s.done <- res:
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}
	return nil
}

// deliver re-sequences completions and forwards them in segment order.
func (s *execSession) deliver() {
	defer close(s.results)
	buffer := newOrderBuffer(0)
	for res := range s.done {
		for _, ready := range buffer.Add(res) {
			select {
			case s.results <- ready:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *execSession) transcribe(seg segment.Segment) Result {
	start := time.Now()
	resp, err := s.rec.run(s.ctx, seg.PCM, s.stream.Format)
	s.rec.metrics.RecordRecognition(s.ctx, time.Since(start), err == nil)
	if err != nil {
		s.rec.log.Warn("segment recognition failed", "segment", seg.Seq, "error", err)
		return Result{SegmentSeq: seg.Seq, Err: fmt.Errorf("recognize segment %d: %w", seg.Seq, err)}
	}
	return Result{
		Text:       resp.Text,
		Confidence: resp.Confidence,
		Final:      true,
		SegmentSeq: seg.Seq,
	}
}

func (r *execRecognizer) run(ctx context.Context, audio []byte, format pcm.Format) (execResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.RequestTimeoutMS)*time.Millisecond)
	defer cancel()

	file, err := os.CreateTemp("", "prattle_seg_*.wav")
	if err != nil {
		return execResponse{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := pcm.WriteWAV(file, audio, format); err != nil {
		return execResponse{}, err
	}

	args := append([]string{}, r.argv[1:]...)
	args = append(args, "--audio", file.Name())
	if r.cfg.ModelPath != "" {
		args = append(args, "--model", r.cfg.ModelPath)
	}
	if r.cfg.Language != "" {
		args = append(args, "--language", r.cfg.Language)
	}

	command := exec.CommandContext(ctx, r.argv[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return execResponse{}, fmt.Errorf("recognizer command failed: %w: %s", err, stderr.String())
	}

	var resp execResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return execResponse{}, fmt.Errorf("decode recognizer response: %w", err)
	}
	return resp, nil
}
