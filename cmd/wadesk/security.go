package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"

	"wadesk/internal/config"
)

const signatureHeader = "X-Webhook-Signature"

// verifySignature authenticates a webhook delivery and returns its body.
// With no secret configured, verification is skipped outside production.
func verifySignature(r *http.Request, secretKey string) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))

	if secretKey == "" {
		if config.IsProduction() {
			return nil, fmt.Errorf("webhook secret is required in production mode")
		}
		return body, nil
	}

	header := r.Header.Get(signatureHeader)
	if header == "" {
		return nil, fmt.Errorf("missing signature header: %s", signatureHeader)
	}

	// Accept both "sha256=<hex>" and bare hex.
	signatureHex := header
	if parts := strings.SplitN(header, "=", 2); len(parts) == 2 {
		if strings.ToLower(parts[0]) != "sha256" {
			return nil, fmt.Errorf("invalid signature format in header %s", signatureHeader)
		}
		signatureHex = parts[1]
	}

	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write(body)
	computedHex := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(computedHex), []byte(signatureHex)) {
		return nil, fmt.Errorf("signature mismatch")
	}
	return body, nil
}
