package protocol

import "time"

// AudioFrame represents PCM audio data streamed from capture clients.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Fragment kinds. Confirmed and Final fragments are committed output and
// append to the consolidated transcript; Partial records are volatile
// snapshots of text still held by the stability gate and may be superseded.
const (
	KindPartial   = "partial"
	KindConfirmed = "confirmed"
	KindFinal     = "final"
)

// Fragment is one unit of consolidated transcript output broadcast on the
// bus. Committed fragments concatenate, in order, into the session
// transcript.
type Fragment struct {
	SessionID  string    `json:"session_id"`
	Kind       string    `json:"kind"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Committed reports whether the fragment is append-only transcript output
// rather than a volatile partial snapshot.
func (f Fragment) Committed() bool {
	return f.Kind == KindConfirmed || f.Kind == KindFinal
}

const (
	SubjectAudioFramePrefix = "audio.frame"

	SubjectFragmentPartial   = "transcript.fragment.partial"
	SubjectFragmentConfirmed = "transcript.fragment.confirmed"
	SubjectFragmentFinal     = "transcript.fragment.final"
	SubjectFragmentWildcard  = "transcript.fragment.>"

	SubjectNodeAnnounce        = "ctrl.node.announce"
	SubjectNodeHeartbeatPrefix = "ctrl.node.heartbeat"
	SubjectNodeHeartbeatAll    = "ctrl.node.heartbeat.*"
)

// AudioFrameSubject returns the bus subject carrying frames for a session.
func AudioFrameSubject(sessionID string) string {
	return SubjectAudioFramePrefix + "." + sessionID
}

// NodeHeartbeatSubject returns the bus subject carrying heartbeats for a node.
func NodeHeartbeatSubject(nodeID string) string {
	return SubjectNodeHeartbeatPrefix + "." + nodeID
}

// FragmentSubject returns the bus subject for a fragment kind.
func FragmentSubject(kind string) string {
	switch kind {
	case KindConfirmed:
		return SubjectFragmentConfirmed
	case KindFinal:
		return SubjectFragmentFinal
	default:
		return SubjectFragmentPartial
	}
}
