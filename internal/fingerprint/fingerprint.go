// Package fingerprint derives deduplication keys from request payloads.
package fingerprint

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Size is the length of every fingerprint string.
const Size = 16

// Generate returns a 16-character hex xxhash64 of method, path, body and the
// body's byte length. Headers and arrival time are not part of the key, so
// identical payloads sent to the same path collide on purpose.
func Generate(method, path string, body []byte) string {
	d := xxhash.New()
	// xxhash.Digest writes never fail.
	_, _ = d.WriteString(method)
	_, _ = d.WriteString("-")
	_, _ = d.WriteString(path)
	_, _ = d.WriteString("-")
	_, _ = d.Write(body)
	_, _ = d.WriteString("-")
	_, _ = d.WriteString(strconv.Itoa(len(body)))
	return fmt.Sprintf("%016x", d.Sum64())
}
