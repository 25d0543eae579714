package voice

import "context"

// Chunk is raw μ-law 8 kHz mono audio. A chunk is owned by whichever stage
// last received it from a channel.
type Chunk []byte

// Transcript is one recognition result.
type Transcript struct {
	Text       string
	Confidence float64
	IsFinal    bool
}

// Reply is one item on a call's playback queue. Key is set for fixed
// phrases whose audio is cached in the store under that key.
type Reply struct {
	Text string
	Key  string
}

// Generator produces the spoken reply for a caller utterance.
type Generator interface {
	Generate(ctx context.Context, text, name, convContext string) (string, error)
}

// Synthesizer turns text into compressed audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// AudioStore hosts synthesized audio at a URL the telephony provider can fetch.
type AudioStore interface {
	Upload(ctx context.Context, key string, data []byte) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	URL(key string) string
}

// Player starts playback of a hosted audio URL on a call.
type Player interface {
	PlayAudio(ctx context.Context, callID, audioURL string) error
}

// Transcriber starts the telephony provider's own transcription for a call.
type Transcriber interface {
	StartTranscription(ctx context.Context, callID string) error
}
