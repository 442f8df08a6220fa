package transcription

import "context"

// SpeechResult is the output of one speech-to-text call.
type SpeechResult struct {
	Text       string
	Language   string
	Confidence float64
}

// Transcriber converts call audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, extension string) (*SpeechResult, error)
	Engine() string
}
