package adminauth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"
)

// backupCodeManager generates and consumes single-use recovery codes.
// Codes are 8 uppercase hex characters (4 random bytes each).
type backupCodeManager struct {
	config BackupCodeConfig
}

func newBackupCodeManager(cfg BackupCodeConfig) *backupCodeManager {
	return &backupCodeManager{config: cfg}
}

// Generate returns a fresh, duplicate-free batch of codes.
func (m *backupCodeManager) Generate() ([]string, error) {
	codes := make([]string, 0, m.config.Count)
	seen := make(map[string]struct{}, m.config.Count)

	for len(codes) < m.config.Count {
		var raw [4]byte
		if _, err := rand.Read(raw[:]); err != nil {
			return nil, err
		}
		code := strings.ToUpper(hex.EncodeToString(raw[:]))
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}

	return codes, nil
}

// Consume matches candidate against remaining (case-insensitive) and, on a
// hit, returns the set with the matched code removed. The returned slice is
// always a copy; the input is never mutated.
func (m *backupCodeManager) Consume(remaining []string, candidate string) (matched bool, left []string) {
	normalized := strings.ToUpper(strings.TrimSpace(candidate))
	if normalized == "" {
		return false, append([]string(nil), remaining...)
	}

	left = make([]string, 0, len(remaining))
	for _, code := range remaining {
		if !matched && subtle.ConstantTimeCompare([]byte(strings.ToUpper(code)), []byte(normalized)) == 1 {
			matched = true
			continue
		}
		left = append(left, code)
	}
	return matched, left
}

// LowWarning returns a human-readable warning when the remaining count has
// reached the configured threshold, empty otherwise.
func (m *backupCodeManager) LowWarning(remaining int) string {
	if remaining > m.config.WarnThreshold {
		return ""
	}
	if remaining == 0 {
		return "no backup codes remaining; regenerate a new set now"
	}
	if remaining == 1 {
		return "only 1 backup code remaining; regenerate a new set soon"
	}
	return "only " + strconv.Itoa(remaining) + " backup codes remaining; regenerate a new set soon"
}
