package telephony

import (
	"strings"
	"testing"
)

func TestRenderVoiceResponseIntake(t *testing.T) {
	out, err := RenderVoiceResponse(VoiceInstruction{
		Action:    VoiceActionIntake,
		StreamURL: "wss://receptionist.example.com/stream",
	})
	if err != nil {
		t.Fatalf("RenderVoiceResponse: %v", err)
	}
	if !strings.Contains(out, "<Connect>") || !strings.Contains(out, `url="wss://receptionist.example.com/stream"`) {
		t.Errorf("expected Connect/Stream verbs, got:\n%s", out)
	}
}

func TestRenderVoiceResponseVoicemail(t *testing.T) {
	out, err := RenderVoiceResponse(VoiceInstruction{
		Action:              VoiceActionVoicemail,
		Greeting:            "Please leave a message after the beep.",
		RecordingCallback:   "https://api.example.com/telephony/recording-complete",
		MaxRecordingSeconds: 120,
	})
	if err != nil {
		t.Fatalf("RenderVoiceResponse: %v", err)
	}
	for _, want := range []string{
		"<Say>Please leave a message after the beep.</Say>",
		`recordingStatusCallback="https://api.example.com/telephony/recording-complete"`,
		`maxLength="120"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestRenderVoiceResponseIntakeRequiresStreamURL(t *testing.T) {
	if _, err := RenderVoiceResponse(VoiceInstruction{Action: VoiceActionIntake}); err == nil {
		t.Error("expected error for intake without stream url")
	}
}

func TestRenderVoiceResponseUnknownAction(t *testing.T) {
	if _, err := RenderVoiceResponse(VoiceInstruction{Action: "transfer"}); err == nil {
		t.Error("expected error for unknown action")
	}
}
