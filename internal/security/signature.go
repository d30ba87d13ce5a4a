package security

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

const (
	// WAHAHmacHeader carries a hex HMAC-SHA512 of the webhook body
	WAHAHmacHeader = "X-Webhook-Hmac"
	// ForwardSignatureHeader carries "sha256=<hex>" of the forward request body
	ForwardSignatureHeader = "X-Forward-Signature"
)

// VerifySignature reads the request body, checks its HMAC against the named
// header and restores the body for later readers. An empty secret skips the
// check outside production.
func VerifySignature(r *http.Request, secretKey string, signatureHeaderName string) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))

	if secretKey == "" {
		if os.Getenv("WHATSRELAY_ENV") == "production" {
			return nil, fmt.Errorf("signature secret is required in production mode")
		}
		return body, nil
	}

	signatureHeader := r.Header.Get(signatureHeaderName)
	if signatureHeader == "" {
		return nil, fmt.Errorf("missing signature header: %s", signatureHeaderName)
	}

	if signatureHeaderName == WAHAHmacHeader {
		if err := verifyHex(body, signatureHeader, secretKey); err != nil {
			return nil, err
		}
		return body, nil
	}

	if err := verifyPrefixed(body, signatureHeader, secretKey); err != nil {
		return nil, fmt.Errorf("%w in header %s", err, signatureHeaderName)
	}
	return body, nil
}

// SignSHA256 returns the "sha256=<hex>" signature of body
func SignSHA256(body []byte, secretKey string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// SignSHA512Hex returns the hex HMAC-SHA512 of body
func SignSHA512Hex(body []byte, secretKey string) string {
	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHex(body []byte, expected, secretKey string) error {
	computed := SignSHA512Hex(body, secretKey)
	if !hmac.Equal([]byte(computed), []byte(strings.ToLower(expected))) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func verifyPrefixed(body []byte, header, secretKey string) error {
	parts := strings.SplitN(header, "=", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "sha256" {
		return fmt.Errorf("invalid signature format")
	}
	computed := SignSHA256(body, secretKey)
	if !hmac.Equal([]byte(computed[len("sha256="):]), []byte(strings.ToLower(parts[1]))) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
