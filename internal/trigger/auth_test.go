package trigger

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"
)

func sign256(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func sign1(secret string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyAuth(t *testing.T) {
	body := []byte(`{"x":1}`)

	tests := []struct {
		name    string
		auth    AuthMode
		secret  string
		headers map[string]string
		want    bool
	}{
		{"none always passes", AuthNone, "", nil, true},
		{"bearer ok", AuthBearer, "tok", map[string]string{"Authorization": "Bearer tok"}, true},
		{"bearer case-insensitive scheme", AuthBearer, "tok", map[string]string{"Authorization": "bearer tok"}, true},
		{"bearer wrong token", AuthBearer, "tok", map[string]string{"Authorization": "Bearer other"}, false},
		{"bearer missing header", AuthBearer, "tok", nil, false},
		{"bearer malformed", AuthBearer, "tok", map[string]string{"Authorization": "tok"}, false},
		{"hmac256 hub header with prefix", AuthHMACSHA256, "s3", map[string]string{
			"X-Hub-Signature-256": "sha256=" + sign256("s3", body)}, true},
		{"hmac256 generic header bare", AuthHMACSHA256, "s3", map[string]string{
			"X-Signature": sign256("s3", body)}, true},
		{"hmac256 wrong secret", AuthHMACSHA256, "s3", map[string]string{
			"X-Hub-Signature-256": "sha256=" + sign256("other", body)}, false},
		{"hmac256 missing header", AuthHMACSHA256, "s3", nil, false},
		{"hmac1 hub header", AuthHMACSHA1, "s1", map[string]string{
			"X-Hub-Signature": "sha1=" + sign1("s1", body)}, true},
		{"secret required", AuthBearer, "", map[string]string{"Authorization": "Bearer tok"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wh := &Webhook{Auth: tt.auth, Secret: tt.secret}
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			if got := verifyAuth(wh, h, body); got != tt.want {
				t.Errorf("verifyAuth = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerifyHMACBodyMatters(t *testing.T) {
	wh := &Webhook{Auth: AuthHMACSHA256, Secret: "s"}
	h := http.Header{}
	h.Set("X-Hub-Signature-256", "sha256="+sign256("s", []byte("original")))
	if verifyAuth(wh, h, []byte("tampered")) {
		t.Error("signature over a different body accepted")
	}
}
