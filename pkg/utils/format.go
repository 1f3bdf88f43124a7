package utils

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatSize renders a byte count with binary units and short suffixes (KB, MB, ...).
func FormatSize(bytes int64) string {
	if bytes < 0 {
		return "-" + FormatSize(-bytes)
	}
	return strings.Replace(humanize.IBytes(uint64(bytes)), "iB", "B", 1)
}

// FormatDuration renders an elapsed time as h:mm:ss, or m:ss under an hour.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

var nonIDChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// IDFromName derives an account id from its display name.
func IDFromName(name string) string {
	return nonIDChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "")
}
