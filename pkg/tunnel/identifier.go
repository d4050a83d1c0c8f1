package tunnel

import (
	"regexp"
	"strconv"
	"time"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9]`)

// Sanitize replaces every character other than ASCII letters and digits
// with an underscore.
func Sanitize(s string) string {
	return unsafeChars.ReplaceAllString(s, "_")
}

// GenerateTunnelIdentifier returns "<sanitized job name>-<unix millis>".
func GenerateTunnelIdentifier(jobName string, now time.Time) string {
	return Sanitize(jobName) + "-" + strconv.FormatInt(now.UnixMilli(), 10)
}
