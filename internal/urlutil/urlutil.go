// Package urlutil provides URL and filename validation for job submission.
//
// Submitted video URLs are fetched server-side, so they must be screened
// against SSRF: only http/https schemes are accepted and the host may not be
// a loopback, private, or link-local address.
package urlutil

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validation error codes surfaced to submitters.
const (
	CodeInvalidScheme   = "invalid_scheme"
	CodePrivateAddress  = "private_address"
	CodeInvalidURL      = "invalid_url"
	CodeInvalidFilename = "invalid_filename"
)

// ValidationError describes a rejected submitter input.
type ValidationError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newValidationError(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ValidateVideoURL checks that a submitted video URL is safe to fetch.
// The scheme must be http or https and the host must not point at a
// loopback, private, link-local, or unspecified address.
func ValidateVideoURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return newValidationError(CodeInvalidURL, "parsing url: %v", err)
	}

	switch u.Scheme {
	case "http", "https":
	default:
		return newValidationError(CodeInvalidScheme, "scheme %q is not allowed", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return newValidationError(CodeInvalidURL, "url has no host")
	}

	if isBlockedHostname(host) {
		return newValidationError(CodePrivateAddress, "host %q resolves to a private address", host)
	}

	if ip := net.ParseIP(host); ip != nil && isBlockedIP(ip) {
		return newValidationError(CodePrivateAddress, "address %s is not routable from this service", ip)
	}

	return nil
}

// ValidateFilename rejects filenames that could escape the job temp
// directory: path separators and parent-directory references.
func ValidateFilename(name string) error {
	if name == "" {
		return newValidationError(CodeInvalidFilename, "filename is required")
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return newValidationError(CodeInvalidFilename, "filename %q contains path traversal characters", name)
	}
	return nil
}

// isBlockedHostname catches names that always map to local targets without
// needing DNS.
func isBlockedHostname(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	return host == "localhost" || strings.HasSuffix(host, ".localhost")
}

// isBlockedIP reports whether the literal IP must not be fetched.
func isBlockedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

// NormalizeBaseURL normalizes a service base URL: adds an http scheme when
// missing and strips the trailing slash for clean path joining.
func NormalizeBaseURL(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return ""
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return strings.TrimSuffix(baseURL, "/")
}
