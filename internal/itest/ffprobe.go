//go:build integration

package itest

import (
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// mediaDurationUs asks ffprobe for the container duration, independently of
// the code under test.
func mediaDurationUs(path string) (int64, error) {
	out, err := exec.Command("ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	sec, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || sec <= 0 {
		return 0, fmt.Errorf("ffprobe %s: unexpected duration %q", path, strings.TrimSpace(string(out)))
	}
	return int64(math.Round(sec * 1e6)), nil
}
