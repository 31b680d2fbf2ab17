// Package verify checks downloaded packages before they are extracted.
//
// Two methods are supported and may be combined:
//   - SHA256 digest declared by the manifest entry (integrity)
//   - OpenPGP detached signature checked against the keyring bundled
//     into the installer at build time (authenticity and integrity)
package verify

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
)

// Method indicates how a package was verified
type Method int

const (
	// MethodNone indicates the manifest declared no verification material
	MethodNone Method = iota
	// MethodOpenPGP indicates OpenPGP signature verification was used
	MethodOpenPGP
	// MethodSHA256 indicates SHA256 digest verification was used
	MethodSHA256
)

// String returns the string representation of the verification method
func (m Method) String() string {
	switch m {
	case MethodOpenPGP:
		return "OpenPGP"
	case MethodSHA256:
		return "SHA256"
	case MethodNone:
		return "None"
	default:
		return "Unknown"
	}
}

// ErrNoKeyring is returned when a signature must be checked but the
// installer was built without a package keyring.
var ErrNoKeyring = errors.New("package keyring not configured")

// Request lists the verification material for one package file.
type Request struct {
	// SHA256 is the expected hex digest, empty to skip
	SHA256 string
	// SignaturePath is a downloaded detached signature, empty to skip
	SignaturePath string
}

// Result contains the outcome of a verification
type Result struct {
	Methods []Method
}

// Verified reports whether any verification method was applied.
func (r *Result) Verified() bool {
	for _, m := range r.Methods {
		if m != MethodNone {
			return true
		}
	}
	return false
}

// Verifier handles cryptographic verification of packages
type Verifier struct {
	keyring openpgp.EntityList
}

// NewVerifier creates a verifier from an armored (or binary) public keyring.
// An empty keyring is allowed; signature checks then fail with ErrNoKeyring.
func NewVerifier(keyring string) (*Verifier, error) {
	if strings.TrimSpace(keyring) == "" {
		return &Verifier{}, nil
	}

	entities, err := readKeyring([]byte(keyring))
	if err != nil {
		return nil, err
	}
	return &Verifier{keyring: entities}, nil
}

// HasKeyring reports whether signature verification is possible.
func (v *Verifier) HasKeyring() bool {
	return len(v.keyring) > 0
}

// VerifyFile verifies a downloaded package file against every method the
// request provides.
func (v *Verifier) VerifyFile(path string, req Request) (*Result, error) {
	result := &Result{}

	if req.SignaturePath != "" {
		if err := v.verifySignature(path, req.SignaturePath); err != nil {
			return nil, fmt.Errorf("OpenPGP verification failed: %w", err)
		}
		result.Methods = append(result.Methods, MethodOpenPGP)
	}

	if req.SHA256 != "" {
		if err := verifySHA256(path, req.SHA256); err != nil {
			return nil, fmt.Errorf("SHA256 verification failed: %w", err)
		}
		result.Methods = append(result.Methods, MethodSHA256)
	}

	if len(result.Methods) == 0 {
		result.Methods = append(result.Methods, MethodNone)
	}
	return result, nil
}

// verifySignature verifies a file using a detached OpenPGP signature
func (v *Verifier) verifySignature(path, signaturePath string) error {
	if !v.HasKeyring() {
		return ErrNoKeyring
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open package: %w", err)
	}
	defer file.Close()

	sigFile, err := os.Open(signaturePath)
	if err != nil {
		return fmt.Errorf("open signature: %w", err)
	}
	defer sigFile.Close()

	// Try armored first
	_, err = openpgp.CheckArmoredDetachedSignature(v.keyring, file, sigFile, nil)
	if err != nil {
		// Try non-armored signature
		if _, seekErr := file.Seek(0, io.SeekStart); seekErr != nil {
			return fmt.Errorf("rewind package: %w", seekErr)
		}
		if _, seekErr := sigFile.Seek(0, io.SeekStart); seekErr != nil {
			return fmt.Errorf("rewind signature: %w", seekErr)
		}
		_, err = openpgp.CheckDetachedSignature(v.keyring, file, sigFile, nil)
	}
	if err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	return nil
}

// verifySHA256 compares a file's digest against the expected hex digest
func verifySHA256(path, expected string) error {
	actual, err := CalculateSHA256(path)
	if err != nil {
		return fmt.Errorf("calculate checksum: %w", err)
	}

	// Compare checksums (case-insensitive)
	if !strings.EqualFold(actual, strings.TrimSpace(expected)) {
		return fmt.Errorf("checksum mismatch:\nactual:   %s\nexpected: %s", actual, expected)
	}
	return nil
}

// readKeyring parses an armored keyring, falling back to binary form.
func readKeyring(data []byte) (openpgp.EntityList, error) {
	keyring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		keyring, err = openpgp.ReadKeyRing(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("read keyring: %w", err)
		}
	}

	if len(keyring) == 0 {
		return nil, fmt.Errorf("keyring is empty")
	}
	return keyring, nil
}

// CalculateSHA256 calculates the SHA256 checksum of a file
func CalculateSHA256(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
