package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// VoiceInstruction tells the provider how to treat a live call: hand it to
// the AI receptionist over a media stream, or take a voicemail recording.
type VoiceInstruction struct {
	Action VoiceAction

	// Greeting is spoken before recording starts (voicemail only).
	Greeting string
	// RecordingCallback receives the recording-complete webhook.
	RecordingCallback string
	// MaxRecordingSeconds caps voicemail length. Zero uses the provider default.
	MaxRecordingSeconds int

	// StreamURL is the wss endpoint of the AI receptionist (intake only).
	StreamURL string
}

type VoiceAction string

const (
	VoiceActionIntake    VoiceAction = "intake"
	VoiceActionVoicemail VoiceAction = "voicemail"
)

type voiceResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type verbSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type verbRecord struct {
	XMLName                 xml.Name `xml:"Record"`
	RecordingStatusCallback string   `xml:"recordingStatusCallback,attr,omitempty"`
	MaxLength               int      `xml:"maxLength,attr,omitempty"`
	PlayBeep                bool     `xml:"playBeep,attr"`
}

type verbConnect struct {
	XMLName xml.Name   `xml:"Connect"`
	Stream  verbStream `xml:"Stream"`
}

type verbStream struct {
	URL string `xml:"url,attr"`
}

// RenderVoiceResponse maps a VoiceInstruction to the provider's XML control
// document.
func RenderVoiceResponse(instr VoiceInstruction) (string, error) {
	var resp voiceResponse

	switch instr.Action {
	case VoiceActionIntake:
		if strings.TrimSpace(instr.StreamURL) == "" {
			return "", errors.New("telephony: stream url required for intake")
		}
		resp.Verbs = append(resp.Verbs, verbConnect{Stream: verbStream{URL: instr.StreamURL}})
	case VoiceActionVoicemail:
		if greeting := strings.TrimSpace(instr.Greeting); greeting != "" {
			resp.Verbs = append(resp.Verbs, verbSay{Text: greeting})
		}
		resp.Verbs = append(resp.Verbs, verbRecord{
			RecordingStatusCallback: instr.RecordingCallback,
			MaxLength:               instr.MaxRecordingSeconds,
			PlayBeep:                true,
		})
	default:
		return "", errors.New("telephony: unknown voice action")
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
