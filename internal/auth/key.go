package auth

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"
)

// decodeKey turns the manifest's base64 key into verification key material
// for alg. An empty input yields a nil key, meaning signatures are not
// checked.
func decodeKey(pubKeyBase64, alg string) (interface{}, error) {
	trimmed := strings.Join(strings.Fields(pubKeyBase64), "")
	if trimmed == "" {
		return nil, nil
	}

	raw, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode public key base64: %w", err)
	}

	// HMAC algorithms use the decoded bytes as the shared secret
	if strings.HasPrefix(alg, "HS") {
		return raw, nil
	}

	// Accept a PEM block wrapped in base64 as well as bare DER
	if block, _ := pem.Decode(raw); block != nil {
		raw = block.Bytes
	}

	if key, err := x509.ParsePKIXPublicKey(raw); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PublicKey(raw); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("public key is neither PKIX nor PKCS#1 DER")
}
