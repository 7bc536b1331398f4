package utils

import (
	"strconv"
	"time"
)

// Now returns the current time in UTC timezone
func Now() time.Time {
	return time.Now().UTC()
}

// UnixToTime converts a unix timestamp to a UTC time.Time
func UnixToTime(timestamp int64) time.Time {
	if timestamp <= 0 {
		return time.Time{}
	}
	return time.Unix(timestamp, 0).UTC()
}

// FormatISO8601 formats a time.Time to ISO8601 format in UTC
func FormatISO8601(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
} 
// FormatUnix renders t as a unix-seconds string, the format the WhatsApp
// webhooks use for timestamps.
func FormatUnix(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
