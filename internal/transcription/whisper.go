package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/atticusjxn/FlynnAIapp-sub006/pkg/logging"
)

const defaultWhisperBaseURL = "https://api.openai.com/v1"

// WhisperClient calls the OpenAI audio transcription REST endpoint.
type WhisperClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewWhisperClient(apiKey, model string, timeout time.Duration, logger *logging.Logger) *WhisperClient {
	if logger == nil {
		logger = logging.Default()
	}
	if model == "" {
		model = "whisper-1"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &WhisperClient{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultWhisperBaseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *WhisperClient) Engine() string { return c.model }

type whisperSegment struct {
	AvgLogprob float64 `json:"avg_logprob"`
}

type whisperResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []whisperSegment `json:"segments"`
}

// Transcribe uploads the audio as multipart form data and returns the text.
func (c *WhisperClient) Transcribe(ctx context.Context, audio []byte, extension string) (*SpeechResult, error) {
	if c.apiKey == "" {
		return nil, errors.New("transcription: api key missing")
	}
	if len(audio) == 0 {
		return nil, errors.New("transcription: empty audio")
	}
	if extension == "" {
		extension = "mp3"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", c.model); err != nil {
		return nil, fmt.Errorf("transcription: build form: %w", err)
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fmt.Errorf("transcription: build form: %w", err)
	}
	part, err := mw.CreateFormFile("file", "recording."+extension)
	if err != nil {
		return nil, fmt.Errorf("transcription: build form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("transcription: write audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("transcription: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, fmt.Errorf("transcription: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription: post: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcription: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed whisperResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("transcription: decode response: %w", err)
	}

	return &SpeechResult{
		Text:       strings.TrimSpace(parsed.Text),
		Language:   parsed.Language,
		Confidence: confidenceFromSegments(parsed.Segments),
	}, nil
}

// confidenceFromSegments folds per-segment log probabilities into a 0-1
// score. Responses without segments report zero, meaning "unknown".
func confidenceFromSegments(segments []whisperSegment) float64 {
	if len(segments) == 0 {
		return 0
	}
	var sum float64
	for _, s := range segments {
		p := math.Exp(s.AvgLogprob)
		if p > 1 {
			p = 1
		}
		sum += p
	}
	return sum / float64(len(segments))
}
