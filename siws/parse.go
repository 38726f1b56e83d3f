package siws

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxClockSkew bounds how far in the future Issued At may be.
const MaxClockSkew = 5 * time.Minute

// ParseMessage extracts the fields of a SIWS message so they can be checked
// against server expectations after the signature verifies.
func ParseMessage(message string) (SignInInput, error) {
	var input SignInInput

	lines := strings.Split(message, "\n")
	if len(lines) < 2 {
		return input, errors.New("message too short")
	}
	domain, ok := strings.CutSuffix(lines[0], headerSuffix)
	if !ok || domain == "" {
		return input, errors.New("invalid header format")
	}
	input.Domain = domain
	input.Address = strings.TrimSpace(lines[1])
	if input.Address == "" {
		return input, errors.New("missing address")
	}

	fieldsAt := len(lines)
	for i := 2; i < len(lines); i++ {
		if isFieldLine(lines[i]) {
			fieldsAt = i
			break
		}
	}
	if stmt := strings.TrimSpace(strings.Join(lines[2:fieldsAt], "\n")); stmt != "" {
		input.Statement = &stmt
	}

	setters := map[string]func(string){
		labelURI:       func(v string) { input.URI = &v },
		labelVersion:   func(v string) { input.Version = &v },
		labelChainID:   func(v string) { input.ChainID = &v },
		labelNonce:     func(v string) { input.Nonce = v },
		labelIssuedAt:  func(v string) { input.IssuedAt = v },
		labelExpires:   func(v string) { input.ExpirationTime = &v },
		labelNotBefore: func(v string) { input.NotBefore = &v },
		labelRequestID: func(v string) { input.RequestID = &v },
	}

	inResources := false
	for _, line := range lines[fieldsAt:] {
		if inResources {
			if r, ok := strings.CutPrefix(line, "- "); ok {
				input.Resources = append(input.Resources, r)
				continue
			}
			inResources = false
		}
		if line == labelResources+":" {
			inResources = true
			continue
		}
		label, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		if set, known := setters[label]; known {
			set(value)
		}
	}
	return input, nil
}

func isFieldLine(line string) bool {
	line = strings.TrimSpace(line)
	for _, l := range []string{labelURI, labelVersion, labelChainID, labelNonce, labelIssuedAt} {
		if strings.HasPrefix(line, l+":") {
			return true
		}
	}
	return false
}

// ValidateTimestamps rejects expired, not-yet-valid or future-dated messages.
func ValidateTimestamps(input SignInInput) error {
	return validateTimestampsAt(input, time.Now().UTC())
}

func validateTimestampsAt(input SignInInput, now time.Time) error {
	if v := deref(input.ExpirationTime); v != "" {
		exp, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fmt.Errorf("invalid expiration time format: %w", err)
		}
		if now.After(exp) {
			return fmt.Errorf("message expired at %s", v)
		}
	}
	if v := deref(input.NotBefore); v != "" {
		nb, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fmt.Errorf("invalid not-before time format: %w", err)
		}
		if now.Before(nb) {
			return fmt.Errorf("message not valid until %s", v)
		}
	}
	if input.IssuedAt != "" {
		issued, err := time.Parse(time.RFC3339, input.IssuedAt)
		if err != nil {
			return fmt.Errorf("invalid issued-at time format: %w", err)
		}
		if issued.After(now.Add(MaxClockSkew)) {
			return fmt.Errorf("message issued in the future: %s", input.IssuedAt)
		}
	}
	return nil
}

// ValidateDomain checks the message was produced for expectedDomain.
func ValidateDomain(input SignInInput, expectedDomain string) error {
	if input.Domain != expectedDomain {
		return fmt.Errorf("domain mismatch: got %s, expected %s", input.Domain, expectedDomain)
	}
	return nil
}
