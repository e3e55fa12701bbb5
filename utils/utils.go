package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/gorilla/mux"
	"github.com/sethvargo/go-password/password"
)

// NewRouter constructs the application's root router.
func NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.SkipClean(true)
	return r
}

// NewID returns a prefixed random identifier, e.g. NewID("str") -> "str_ab12...".
func NewID(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
	}
	return prefix + "_" + hex.EncodeToString(b)
}

// GeneratePIN returns a random 6-digit PIN.
func GeneratePIN() (string, error) {
	return password.Generate(6, 6, 0, false, true)
}

// SecondsToTimestamp formats a duration in seconds as HH:MM:SS (or MM:SS when
// under an hour), matching what players show in their seek bars.
func SecondsToTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
