package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// SignatureHeader carries the provider's signature on every webhook.
const SignatureHeader = "X-Twilio-Signature"

// ValidateSignature checks that a webhook genuinely came from the telephony
// provider. The expected signature is HMAC-SHA1 over the canonical webhook
// URL followed by every POST parameter, sorted by name, with the shared auth
// token as the key.
func ValidateSignature(r *http.Request, authToken, webhookURL string) bool {
	signature := r.Header.Get(SignatureHeader)
	if signature == "" || authToken == "" {
		return false
	}

	if err := r.ParseForm(); err != nil {
		return false
	}

	expected := computeSignature(buildSignaturePayload(webhookURL, r.PostForm), authToken)
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}

// buildSignaturePayload concatenates the URL with sorted key/value pairs.
func buildSignaturePayload(webhookURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(webhookURL)
	for _, key := range keys {
		for _, value := range params[key] {
			payload.WriteString(key)
			payload.WriteString(value)
		}
	}
	return payload.String()
}

func computeSignature(data, key string) string {
	h := hmac.New(sha1.New, []byte(key))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// SignPayload is exported for tests and local tooling that need to forge a
// valid signature against a known token.
func SignPayload(webhookURL string, params url.Values, authToken string) string {
	return computeSignature(buildSignaturePayload(webhookURL, params), authToken)
}
