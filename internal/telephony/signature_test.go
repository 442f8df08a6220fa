package telephony

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

const testToken = "test-auth-token"

func TestValidateSignatureAccepts(t *testing.T) {
	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("From", "+15550001111")
	form.Set("To", "+15558882222")

	webhookURL := "https://api.example.com/telephony/inbound-voice"
	req := httptest.NewRequest("POST", "/telephony/inbound-voice", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(SignatureHeader, SignPayload(webhookURL, form, testToken))

	if !ValidateSignature(req, testToken, webhookURL) {
		t.Error("expected valid signature to be accepted")
	}
}

func TestValidateSignatureRejectsTampered(t *testing.T) {
	form := url.Values{}
	form.Set("CallSid", "CA123")

	webhookURL := "https://api.example.com/telephony/inbound-voice"
	sig := SignPayload(webhookURL, form, testToken)

	// Mutate the body after signing.
	form.Set("CallSid", "CA999")
	req := httptest.NewRequest("POST", "/telephony/inbound-voice", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(SignatureHeader, sig)

	if ValidateSignature(req, testToken, webhookURL) {
		t.Error("expected tampered body to be rejected")
	}
}

func TestValidateSignatureRejectsMissingHeader(t *testing.T) {
	req := httptest.NewRequest("POST", "/telephony/inbound-voice", strings.NewReader("CallSid=CA123"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if ValidateSignature(req, testToken, "https://api.example.com/telephony/inbound-voice") {
		t.Error("expected missing signature header to be rejected")
	}
}

func TestValidateSignatureRejectsEmptyToken(t *testing.T) {
	form := url.Values{}
	form.Set("CallSid", "CA123")
	webhookURL := "https://api.example.com/telephony/inbound-voice"

	req := httptest.NewRequest("POST", "/telephony/inbound-voice", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(SignatureHeader, SignPayload(webhookURL, form, ""))

	if ValidateSignature(req, "", webhookURL) {
		t.Error("expected empty auth token to always reject")
	}
}
