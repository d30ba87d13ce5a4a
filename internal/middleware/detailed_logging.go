package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"whatsrelay/internal/privacy"
	"whatsrelay/internal/security"
	"whatsrelay/internal/service"
	"whatsrelay/internal/tracing"

	"github.com/sirupsen/logrus"
)

const redactedValue = "[redacted]"

// DetailedLoggingConfig selects what the verbose request logger records
type DetailedLoggingConfig struct {
	Headers      bool
	Bodies       bool
	MaxBodyBytes int
	SkipPrefixes []string
}

// DefaultDetailedLoggingConfig logs headers only and skips scrape and stream endpoints
func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		Headers:      true,
		MaxBodyBytes: 4096,
		SkipPrefixes: []string{"/metrics", "/health", "/ws"},
	}
}

var redactedHeaders = map[string]bool{
	"Authorization": true,
	"Cookie":        true,
	"Set-Cookie":    true,
	"X-Api-Key":     true,
	http.CanonicalHeaderKey(security.WAHAHmacHeader):         true,
	http.CanonicalHeaderKey(security.ForwardSignatureHeader): true,
}

// DetailedLoggingMiddleware writes a debug line for every request and response.
// Signature and credential headers are redacted and JSON bodies go through
// the privacy masks, so forwarded text and phone numbers never reach the log.
func DetailedLoggingMiddleware(logger *logrus.Logger, cfg DetailedLoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hasAnyPrefix(r.URL.Path, cfg.SkipPrefixes) {
				next.ServeHTTP(w, r)
				return
			}

			info := tracing.GetRequestInfo(r.Context())
			entry := logger.WithFields(logrus.Fields{
				service.LogFieldRequestID: info.RequestID,
				service.LogFieldTraceID:   info.TraceID,
				service.LogFieldMethod:    r.Method,
				service.LogFieldURL:       r.URL.RequestURI(),
				service.LogFieldRemoteIP:  GetClientIP(r),
			})

			in := logrus.Fields{service.LogFieldSize: r.ContentLength}
			if cfg.Headers {
				in["request_headers"] = redactHeaders(r.Header)
			}
			if cfg.Bodies && isJSON(r.Header) {
				if body, ok := peekBody(r, cfg.MaxBodyBytes); ok {
					in["request_body"] = maskJSON(body)
				}
			}
			entry.WithFields(in).Debug("Request received")

			rec := &bodyRecorder{
				responseWrapper: responseWrapper{ResponseWriter: w, statusCode: http.StatusOK},
				limit:           cfg.MaxBodyBytes,
			}
			next.ServeHTTP(rec, r)

			out := logrus.Fields{
				service.LogFieldStatusCode: rec.statusCode,
				service.LogFieldSize:       rec.responseSize,
			}
			if cfg.Headers {
				out["response_headers"] = redactHeaders(w.Header())
			}
			if cfg.Bodies && rec.responseSize > 0 {
				if rec.truncated {
					out["response_body"] = fmt.Sprintf("[%d bytes, not logged]", rec.responseSize)
				} else {
					out["response_body"] = maskJSON(rec.body.Bytes())
				}
			}
			entry.WithFields(out).Debug("Response sent")
		})
	}
}

// bodyRecorder keeps the first limit bytes of a response for logging
type bodyRecorder struct {
	responseWrapper
	body      bytes.Buffer
	limit     int
	truncated bool
}

func (b *bodyRecorder) Write(data []byte) (int, error) {
	n, err := b.responseWrapper.Write(data)
	if b.body.Len()+n > b.limit {
		b.truncated = true
	} else if !b.truncated {
		b.body.Write(data[:n])
	}
	return n, err
}

// peekBody reads a small request body and puts it back for the handler
func peekBody(r *http.Request, limit int) ([]byte, bool) {
	if r.Body == nil || r.ContentLength <= 0 || r.ContentLength > int64(limit) {
		return nil, false
	}
	body, err := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, err == nil
}

func maskJSON(body []byte) interface{} {
	var obj map[string]interface{}
	if err := json.Unmarshal(body, &obj); err != nil {
		return privacy.MaskText(string(body))
	}
	return privacy.MaskSensitiveFields(obj)
}

func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if redactedHeaders[http.CanonicalHeaderKey(name)] {
			out[name] = redactedValue
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

func isJSON(h http.Header) bool {
	return strings.Contains(h.Get("Content-Type"), "json")
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
