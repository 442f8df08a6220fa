package telephony

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// InboundVoiceForm captures the fields sent on the call-start webhook.
// The provider posts application/x-www-form-urlencoded.
type InboundVoiceForm struct {
	CallSid string
	From    string
	To      string
}

// ParseInboundVoice decodes the inbound-voice webhook form.
func ParseInboundVoice(r *http.Request) (InboundVoiceForm, error) {
	if err := r.ParseForm(); err != nil {
		return InboundVoiceForm{}, fmt.Errorf("telephony: parse form: %w", err)
	}
	return InboundVoiceForm{
		CallSid: strings.TrimSpace(r.PostFormValue("CallSid")),
		From:    strings.TrimSpace(r.PostFormValue("From")),
		To:      strings.TrimSpace(r.PostFormValue("To")),
	}, nil
}

// RecordingCompleteForm captures the fields sent when a recording finishes.
type RecordingCompleteForm struct {
	CallSid           string
	From              string
	To                string
	RecordingSid      string
	RecordingURL      string
	RecordingDuration int
	Timestamp         time.Time
}

// ParseRecordingComplete decodes the recording-complete webhook form.
// Duration and timestamp are best-effort: the provider occasionally omits
// or mangles them and neither blocks transcription.
func ParseRecordingComplete(r *http.Request) (RecordingCompleteForm, error) {
	if err := r.ParseForm(); err != nil {
		return RecordingCompleteForm{}, fmt.Errorf("telephony: parse form: %w", err)
	}
	f := RecordingCompleteForm{
		CallSid:      strings.TrimSpace(r.PostFormValue("CallSid")),
		From:         strings.TrimSpace(r.PostFormValue("From")),
		To:           strings.TrimSpace(r.PostFormValue("To")),
		RecordingSid: strings.TrimSpace(r.PostFormValue("RecordingSid")),
		RecordingURL: strings.TrimSpace(r.PostFormValue("RecordingUrl")),
	}
	if v := r.PostFormValue("RecordingDuration"); v != "" {
		if d, err := strconv.Atoi(v); err == nil {
			f.RecordingDuration = d
		}
	}
	if v := r.PostFormValue("Timestamp"); v != "" {
		if ts, err := time.Parse(time.RFC1123Z, v); err == nil {
			f.Timestamp = ts
		}
	}
	return f, nil
}
