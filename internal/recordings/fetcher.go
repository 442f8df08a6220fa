package recordings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/atticusjxn/FlynnAIapp-sub006/pkg/logging"
)

// ErrAllCandidatesFailed means no candidate URL produced usable audio.
var ErrAllCandidatesFailed = errors.New("recordings: no candidate url returned audio")

const maxRecordingBytes = 50 << 20

// Recording is downloaded call audio plus the extension inferred for it.
type Recording struct {
	Audio       []byte
	Extension   string
	ContentType string
	SourceURL   string
}

// Fetcher downloads completed call recordings from the telephony provider.
// Providers are inconsistent about whether the recording locator carries an
// extension and what content-type they serve, so Fetch walks a small set of
// candidate URLs until one looks like audio.
type Fetcher struct {
	accountSID string
	authToken  string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewFetcher(accountSID, authToken string, logger *logging.Logger) *Fetcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Fetcher{
		accountSID: accountSID,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// Fetch tries the locator verbatim, then with .mp3 and .wav appended when it
// has no audio extension. Exhausting all candidates is a hard failure.
func (f *Fetcher) Fetch(ctx context.Context, locator string) (*Recording, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, errors.New("recordings: locator required")
	}

	candidates := []string{locator}
	if !hasAudioExtension(locator) {
		candidates = append(candidates, locator+".mp3", locator+".wav")
	}

	var lastErr error
	for _, candidate := range candidates {
		rec, err := f.fetchOne(ctx, candidate)
		if err != nil {
			lastErr = err
			f.logger.Warn("recording candidate failed", "url", candidate, "error", err)
			continue
		}
		return rec, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrAllCandidatesFailed, lastErr)
}

func (f *Fetcher) fetchOne(ctx context.Context, candidateURL string) (*Recording, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidateURL, nil)
	if err != nil {
		return nil, fmt.Errorf("recordings: build request: %w", err)
	}
	if f.accountSID != "" {
		req.SetBasicAuth(f.accountSID, f.authToken)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recordings: get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("recordings: status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !isAudioContentType(contentType) && !hasAudioExtension(candidateURL) {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("recordings: response is not audio (content-type %q)", contentType)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxRecordingBytes))
	if err != nil {
		return nil, fmt.Errorf("recordings: read body: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("recordings: empty body")
	}

	return &Recording{
		Audio:       audio,
		Extension:   inferExtension(contentType, candidateURL),
		ContentType: contentType,
		SourceURL:   candidateURL,
	}, nil
}

func hasAudioExtension(u string) bool {
	lower := strings.ToLower(u)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range []string{".mp3", ".wav", ".m4a", ".ogg", ".flac", ".webm"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func isAudioContentType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if strings.HasPrefix(ct, "audio/") {
		return true
	}
	// Providers occasionally serve audio as a generic stream.
	return strings.HasPrefix(ct, "application/octet-stream")
}

// inferExtension prefers the content-type, then the URL, defaulting to mp3.
func inferExtension(contentType, u string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "mpeg"), strings.Contains(ct, "mp3"):
		return "mp3"
	case strings.Contains(ct, "wav"), strings.Contains(ct, "x-wav"):
		return "wav"
	case strings.Contains(ct, "ogg"):
		return "ogg"
	case strings.Contains(ct, "mp4"), strings.Contains(ct, "m4a"):
		return "m4a"
	case strings.Contains(ct, "flac"):
		return "flac"
	case strings.Contains(ct, "webm"):
		return "webm"
	}

	lower := strings.ToLower(u)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range []string{"mp3", "wav", "m4a", "ogg", "flac", "webm"} {
		if strings.HasSuffix(lower, "."+ext) {
			return ext
		}
	}
	return "mp3"
}
