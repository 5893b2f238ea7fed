// Package digest implements RFC 2617 challenge/response authentication for
// direct-device providers (ISAPI NVR/DVR endpoints). MD5 is what the
// protocol mandates; nothing else in the system uses it.
package digest

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/ternarybob/arbor"
	"github.com/warewatch/camsync/internal/interfaces"
)

// Session issues digest-authenticated requests against one device. The
// nonce count increments per request within the session so devices that
// check for replay accept consecutive calls.
type Session struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	nonceCount uint64
	logger     arbor.ILogger
}

// SessionOption configures the Session.
type SessionOption func(*Session)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) SessionOption {
	return func(s *Session) {
		s.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// NewSession creates a digest session for the device at baseURL
// (e.g. "http://192.168.1.64:80").
func NewSession(baseURL, username, password string, opts ...SessionOption) *Session {
	s := &Session{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		httpClient: &http.Client{
			// Download streams run long; rely on context for cancellation
			Timeout: 0,
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Do issues the request unauthenticated first; on a digest challenge it
// computes the response and resubmits once. A second 401 is terminal
// ErrAuthFailed — wrong credentials, never a third attempt.
func (s *Session) Do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	resp, err := s.send(ctx, method, path, body, "")
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	challenge := resp.Header.Get("WWW-Authenticate")
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if !strings.HasPrefix(challenge, "Digest ") {
		return nil, fmt.Errorf("device %s: unsupported challenge %q: %w", s.baseURL, challenge, interfaces.ErrAuthFailed)
	}

	params := parseChallenge(challenge)
	authHeader, err := s.authorization(method, path, params)
	if err != nil {
		return nil, err
	}

	resp, err = s.send(ctx, method, path, body, authHeader)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if s.logger != nil {
			s.logger.Warn().Str("device", s.baseURL).Msg("Digest retry rejected, credentials invalid")
		}
		return nil, fmt.Errorf("device %s rejected digest response: %w", s.baseURL, interfaces.ErrAuthFailed)
	}

	return resp, nil
}

func (s *Session) send(ctx context.Context, method, path string, body []byte, authHeader string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/xml")
	}
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("device %s request failed: %w", s.baseURL, err)
	}
	return resp, nil
}

// authorization computes the Digest Authorization header for one request.
func (s *Session) authorization(method, path string, params map[string]string) (string, error) {
	realm := params["realm"]
	nonce := params["nonce"]
	qop := params["qop"]
	opaque := params["opaque"]

	cnonce, err := newCnonce()
	if err != nil {
		return "", err
	}
	nc := atomic.AddUint64(&s.nonceCount, 1)

	ha1 := md5hex(s.username + ":" + realm + ":" + s.password)
	ha2 := md5hex(method + ":" + path)

	var response string
	if qop == "" {
		response = md5hex(ha1 + ":" + nonce + ":" + ha2)
	} else {
		// qop may list alternatives ("auth,auth-int"); we always use auth
		qop = "auth"
		response = md5hex(fmt.Sprintf("%s:%s:%08x:%s:%s:%s", ha1, nonce, nc, cnonce, qop, ha2))
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username=%q, realm=%q, nonce=%q, uri=%q, response=%q`,
		s.username, realm, nonce, path, response)
	if qop != "" {
		fmt.Fprintf(&b, `, qop=%s, nc=%08x, cnonce=%q`, qop, nc, cnonce)
	}
	if opaque != "" {
		fmt.Fprintf(&b, `, opaque=%q`, opaque)
	}
	if alg := params["algorithm"]; alg != "" {
		fmt.Fprintf(&b, `, algorithm=%s`, alg)
	}

	return b.String(), nil
}

// parseChallenge splits a WWW-Authenticate Digest header into its
// key/value parameters.
func parseChallenge(header string) map[string]string {
	params := make(map[string]string)
	rest := strings.TrimPrefix(header, "Digest ")

	for _, part := range splitChallenge(rest) {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		value := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		params[key] = value
	}

	return params
}

// splitChallenge splits on commas outside quoted strings; qop values like
// "auth,auth-int" must not be broken apart.
func splitChallenge(s string) []string {
	var parts []string
	var cur strings.Builder
	inQuotes := false

	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case r == ',' && !inQuotes:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}

	return parts
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func newCnonce() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
