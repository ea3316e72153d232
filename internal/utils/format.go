// Package utils holds small formatting helpers shared across the HTTP edge
// and status reporting.
package utils

import "fmt"

// TimeFormat renders a duration given in seconds as a compact "XdXhXmXs"
// string, dropping any leading zero components.
func TimeFormat(totalSeconds uint64) string {
	days := totalSeconds / 86400
	hours := (totalSeconds % 86400) / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd%dh%dm%ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
