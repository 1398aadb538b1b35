package lifecycle

import (
	"fmt"
	"strconv"
	"strings"
)

// MsToHms formats milliseconds as HH:MM:SS, truncating sub-second parts.
// Negative input formats as 00:00:00.
func MsToHms(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	secs := ms / 1000
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}

// HmsToMs parses HH:MM:SS into milliseconds. Hours may exceed two digits;
// minutes and seconds must be within 0..59.
func HmsToMs(s string) (int64, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, ErrInvalidHms
	}
	var v [3]int64
	for i, p := range parts {
		if p == "" || len(p) > 9 || strings.TrimLeft(p, "0123456789") != "" {
			return 0, ErrInvalidHms
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return 0, ErrInvalidHms
		}
		v[i] = n
	}
	if v[1] > 59 || v[2] > 59 {
		return 0, ErrInvalidHms
	}
	return ((v[0]*60+v[1])*60 + v[2]) * 1000, nil
}
