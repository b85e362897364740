// prattle-feed is a development client for the consolidation runtime: it
// streams audio files onto the bus as framed PCM and watches the transcript
// fragments coming back.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/prattlelabs/prattle-core/internal/pcm"
	"github.com/prattlelabs/prattle-core/internal/protocol"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'stream', 'watch' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "stream":
		opts := parseStreamFlags(os.Args[2:])
		if err := runStream(opts); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "watch":
		opts := parseWatchFlags(os.Args[2:])
		if err := runWatch(opts); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

type streamOptions struct {
	server   string
	session  string
	file     string
	rate     int
	channels int
	frameMS  int
	realtime bool
}

func parseStreamFlags(args []string) streamOptions {
	var opts streamOptions
	fs := flag.NewFlagSet("stream", flag.ExitOnError)
	fs.StringVar(&opts.server, "server", nats.DefaultURL, "NATS server URL")
	fs.StringVar(&opts.session, "session", "", "Session ID (default: random UUID)")
	fs.StringVar(&opts.file, "file", "-", "Audio file to stream; .wav is decoded, anything else is raw PCM, '-' reads raw PCM from stdin")
	fs.IntVar(&opts.rate, "rate", 16000, "Sample rate for raw PCM input")
	fs.IntVar(&opts.channels, "channels", 1, "Channel count for raw PCM input")
	fs.IntVar(&opts.frameMS, "frame-ms", 100, "Audio per published frame in milliseconds")
	fs.BoolVar(&opts.realtime, "realtime", false, "Pace frames at playback speed instead of publishing as fast as possible")
	fs.Parse(args)
	if opts.session == "" {
		opts.session = uuid.NewString()
	}
	return opts
}

func runStream(opts streamOptions) error {
	data, format, err := loadAudio(opts)
	if err != nil {
		return err
	}
	if err := format.Validate(); err != nil {
		return err
	}

	frameBytes := format.BytesFor(time.Duration(opts.frameMS) * time.Millisecond)
	if frameBytes == 0 {
		return fmt.Errorf("frame-ms %d too short for %d Hz audio", opts.frameMS, format.SampleRate)
	}

	nc, err := nats.Connect(opts.server, nats.Name("prattle-feed"))
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer nc.Close()

	subject := protocol.AudioFrameSubject(opts.session)
	seq := 0
	publish := func(chunk []byte, final bool) error {
		frame := protocol.AudioFrame{
			SessionID:  opts.session,
			Sequence:   seq,
			SampleRate: format.SampleRate,
			Channels:   format.Channels,
			PCM:        chunk,
			Final:      final,
		}
		payload, err := json.Marshal(frame)
		if err != nil {
			return fmt.Errorf("marshal frame %d: %w", seq, err)
		}
		if err := nc.Publish(subject, payload); err != nil {
			return fmt.Errorf("publish frame %d: %w", seq, err)
		}
		seq++
		return nil
	}

	if len(data) == 0 {
		if err := publish(nil, true); err != nil {
			return err
		}
	}
	for off := 0; off < len(data); off += frameBytes {
		end := off + frameBytes
		final := end >= len(data)
		if final {
			end = len(data)
		}
		if err := publish(data[off:end], final); err != nil {
			return err
		}
		if opts.realtime && !final {
			time.Sleep(time.Duration(opts.frameMS) * time.Millisecond)
		}
	}

	if err := nc.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	fmt.Printf("streamed %d frames (%v of audio) as session %s\n",
		seq, format.Duration(len(data)).Round(time.Millisecond), opts.session)
	return nil
}

// loadAudio reads the input into memory. WAV carries its own format; raw
// PCM uses the rate and channel flags.
func loadAudio(opts streamOptions) ([]byte, pcm.Format, error) {
	rawFormat := pcm.Format{SampleRate: opts.rate, Channels: opts.channels}

	if opts.file == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, pcm.Format{}, fmt.Errorf("read stdin: %w", err)
		}
		return data, rawFormat, nil
	}

	if strings.EqualFold(filepath.Ext(opts.file), ".wav") {
		f, err := os.Open(opts.file)
		if err != nil {
			return nil, pcm.Format{}, err
		}
		defer f.Close()
		return pcm.DecodeWAV(f)
	}

	data, err := os.ReadFile(opts.file)
	if err != nil {
		return nil, pcm.Format{}, err
	}
	return data, rawFormat, nil
}

type watchOptions struct {
	server  string
	asJSON  bool
	interim bool
}

func parseWatchFlags(args []string) watchOptions {
	var opts watchOptions
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	fs.StringVar(&opts.server, "server", nats.DefaultURL, "NATS server URL")
	fs.BoolVar(&opts.asJSON, "json", false, "Print raw fragment JSON instead of text lines")
	fs.BoolVar(&opts.interim, "interim", false, "Include volatile partial records")
	fs.Parse(args)
	return opts
}

func runWatch(opts watchOptions) error {
	nc, err := nats.Connect(opts.server, nats.Name("prattle-feed"))
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer nc.Close()

	subjects := []string{protocol.SubjectFragmentConfirmed, protocol.SubjectFragmentFinal}
	if opts.interim {
		subjects = []string{protocol.SubjectFragmentWildcard}
	}

	msgs := make(chan *nats.Msg, 64)
	for _, subj := range subjects {
		sub, err := nc.ChanSubscribe(subj, msgs)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subj, err)
		}
		defer sub.Unsubscribe()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(os.Stderr, "watching transcript fragments, ctrl-c to stop")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgs:
			printFragment(msg.Data, opts.asJSON)
		}
	}
}

func printFragment(data []byte, asJSON bool) {
	if asJSON {
		fmt.Println(string(data))
		return
	}
	var frag protocol.Fragment
	if err := json.Unmarshal(data, &frag); err != nil {
		fmt.Fprintf(os.Stderr, "bad fragment: %v\n", err)
		return
	}
	fmt.Printf("[%s %s] %s\n", frag.SessionID, frag.Kind, frag.Text)
}
