package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
)

// ShowError prints the unified error box. Hints attached with errors.WithHint
// are listed under the details so the user sees what to change.
func ShowError(w io.Writer, context string, err error) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "🚨 FACED ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(w, "DETAILS: %v\n", err)
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintf(w, "HINT: %s\n", hint)
		}
	}
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

// GenerateImageID returns a deterministic digest of the encoded image bytes.
// Log lines carry it so repeated uploads of one file can be correlated.
func GenerateImageID(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// ShortID trims a digest for display.
func ShortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
