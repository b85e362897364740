package recognizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/prattlelabs/prattle-core/internal/config"
	"github.com/prattlelabs/prattle-core/internal/segment"
)

// wsRecognizer streams audio to a Deepgram-style WebSocket endpoint: binary
// PCM in, JSON result events out. Servers of this style settle text one
// utterance at a time, so the session folds utterances into a cumulative
// transcript and every delivered hypothesis is the full text so far.
type wsRecognizer struct {
	cfg config.RecognizerConfig
	log *slog.Logger
}

var _ Recognizer = (*wsRecognizer)(nil)

func NewWebSocket(cfg config.RecognizerConfig, log *slog.Logger) (Recognizer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("recognizer url is empty")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("parse recognizer url: %w", err)
	}
	return &wsRecognizer{cfg: cfg, log: log}, nil
}

func (r *wsRecognizer) Open(ctx context.Context, stream StreamConfig) (Session, error) {
	if err := stream.Format.Validate(); err != nil {
		return nil, fmt.Errorf("open recognizer session: %w", err)
	}
	wsURL, err := r.buildURL(stream)
	if err != nil {
		return nil, fmt.Errorf("build recognizer url: %w", err)
	}

	headers := http.Header{}
	if r.cfg.APIKey != "" {
		headers.Set("Authorization", "Token "+r.cfg.APIKey)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("dial recognizer: %w", err)
	}

	s := &wsSession{
		conn:       conn,
		log:        r.log,
		results:    make(chan Result, 64),
		readerDone: make(chan struct{}),
	}
	go s.readLoop(ctx)
	return s, nil
}

func (r *wsRecognizer) buildURL(stream StreamConfig) (string, error) {
	u, err := url.Parse(r.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(stream.Format.SampleRate))
	q.Set("channels", strconv.Itoa(stream.Format.Channels))
	q.Set("interim_results", "true")
	lang := stream.Language
	if lang == "" {
		lang = r.cfg.Language
	}
	if lang != "" {
		q.Set("language", lang)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type wsSession struct {
	conn *websocket.Conn
	log  *slog.Logger

	results    chan Result
	readerDone chan struct{}
	lastSeq    atomic.Uint64
	closeOnce  sync.Once
}

var _ Session = (*wsSession)(nil)

func (s *wsSession) SendSegment(ctx context.Context, seg segment.Segment) error {
	s.lastSeq.Store(seg.Seq)
	if err := s.conn.Write(ctx, websocket.MessageBinary, seg.PCM); err != nil {
		return fmt.Errorf("send segment %d: %w", seg.Seq, err)
	}
	return nil
}

func (s *wsSession) Results() <-chan Result {
	return s.results
}

// Close asks the server to flush remaining results, waits for the read side
// to drain them, then closes the socket. Safe to call more than once.
func (s *wsSession) Close() error {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
			s.log.Warn("recognizer close message failed", "error", err)
		}
		select {
		case <-s.readerDone:
		case <-ctx.Done():
			s.log.Warn("recognizer drain timed out")
		}
		s.conn.Close(websocket.StatusNormalClosure, "stream complete")
	})
	return nil
}

// wsResponse is the Results event shape shared by Deepgram-compatible
// servers.
type wsResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *wsSession) readLoop(ctx context.Context) {
	defer close(s.results)
	defer close(s.readerDone)

	var settled string
	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				return
			}
			s.deliver(ctx, Result{SegmentSeq: s.lastSeq.Load(), Err: fmt.Errorf("recognizer stream: %w", err)})
			return
		}

		var resp wsResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
			continue
		}
		alt := resp.Channel.Alternatives[0]

		res := Result{
			Confidence: alt.Confidence,
			Final:      resp.IsFinal,
			SegmentSeq: s.lastSeq.Load(),
		}
		if resp.IsFinal {
			settled = joinUtterance(settled, alt.Transcript)
			res.Text = settled
		} else {
			res.Text = joinUtterance(settled, alt.Transcript)
		}
		if !s.deliver(ctx, res) {
			return
		}
	}
}

func (s *wsSession) deliver(ctx context.Context, res Result) bool {
	select {
	case s.results <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

// joinUtterance concatenates utterance texts with a single space, skipping
// empties.
func joinUtterance(a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
