package urlutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertValidationCode(t *testing.T, err error, code string) {
	t.Helper()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, code, verr.Code)
}

func TestValidateVideoURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantCode string
	}{
		{name: "plain https", url: "https://example.com/v.mp4"},
		{name: "plain http", url: "http://cdn.example.net/video/10s.mp4"},
		{name: "ftp scheme", url: "ftp://example.com/v.mp4", wantCode: CodeInvalidScheme},
		{name: "file scheme", url: "file:///etc/passwd", wantCode: CodeInvalidScheme},
		{name: "private 10/8", url: "http://10.0.0.1/v.mp4", wantCode: CodePrivateAddress},
		{name: "private 192.168/16", url: "http://192.168.1.5/v.mp4", wantCode: CodePrivateAddress},
		{name: "private 172.16/12", url: "http://172.16.0.9/v.mp4", wantCode: CodePrivateAddress},
		{name: "loopback", url: "http://127.0.0.1:8080/v.mp4", wantCode: CodePrivateAddress},
		{name: "loopback v6", url: "http://[::1]/v.mp4", wantCode: CodePrivateAddress},
		{name: "link local", url: "http://169.254.169.254/latest/meta-data", wantCode: CodePrivateAddress},
		{name: "unspecified", url: "http://0.0.0.0/v.mp4", wantCode: CodePrivateAddress},
		{name: "localhost name", url: "http://localhost/v.mp4", wantCode: CodePrivateAddress},
		{name: "localhost subdomain", url: "http://api.localhost/v.mp4", wantCode: CodePrivateAddress},
		{name: "no host", url: "https:///v.mp4", wantCode: CodeInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVideoURL(tt.url)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			assertValidationCode(t, err, tt.wantCode)
		})
	}
}

func TestValidateFilename(t *testing.T) {
	assert.NoError(t, ValidateFilename("video.mp4"))
	assert.NoError(t, ValidateFilename("my clip (1).mov"))

	for _, bad := range []string{"", "../etc/passwd", "a/b.mp4", `a\b.mp4`, "..", "x..y"} {
		err := ValidateFilename(bad)
		assert.Error(t, err, "filename %q should be rejected", bad)
	}
}

func TestValidationErrorUnwrap(t *testing.T) {
	err := ValidateVideoURL("http://10.0.0.1/v.mp4")
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Error(), CodePrivateAddress)
}

func TestNormalizeBaseURL(t *testing.T) {
	assert.Equal(t, "http://models:8090", NormalizeBaseURL("models:8090"))
	assert.Equal(t, "https://svc.example.com", NormalizeBaseURL("https://svc.example.com/"))
	assert.Equal(t, "", NormalizeBaseURL("  "))
}
