package uploader

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPartSize  = int64(64 * 1024 * 1024)
	minPartSize      = int64(5 * 1024 * 1024)
	maxPartCount     = 10000
	defaultPartTimeout = 30 * time.Minute
)

// selectPartSize picks a part size starting from override (or the
// default), floors it at minPartSize, and doubles it until the resulting
// part count is within maxPartCount.
func selectPartSize(size, override int64) (int64, int) {
	partSize := defaultPartSize
	if override > 0 {
		partSize = override
	}
	if partSize < minPartSize {
		partSize = minPartSize
	}

	partCount := ceilDiv(size, partSize)
	for partCount > maxPartCount {
		partSize *= 2
		partCount = ceilDiv(size, partSize)
	}
	return partSize, partCount
}

func ceilDiv(a, b int64) int {
	if b <= 0 {
		return 0
	}
	return int((a + b - 1) / b)
}

// partSizeOverride reads SBDEV_PART_SIZE ("<n>B|KB|MB|GB") if set.
func partSizeOverride() int64 {
	v := strings.TrimSpace(os.Getenv("SBDEV_PART_SIZE"))
	if v == "" {
		return 0
	}
	return parseByteSize(v)
}

func parseByteSize(v string) int64 {
	v = strings.ToUpper(strings.TrimSpace(v))
	mult := int64(1)
	switch {
	case strings.HasSuffix(v, "GB"):
		mult = 1 << 30
		v = strings.TrimSuffix(v, "GB")
	case strings.HasSuffix(v, "MB"):
		mult = 1 << 20
		v = strings.TrimSuffix(v, "MB")
	case strings.HasSuffix(v, "KB"):
		mult = 1 << 10
		v = strings.TrimSuffix(v, "KB")
	case strings.HasSuffix(v, "B"):
		v = strings.TrimSuffix(v, "B")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0
	}
	return n * mult
}

// partUploadTimeout resolves the per-part PUT timeout from, in priority
// order, SBDEV_PART_UPLOAD_TIMEOUT ("<n>ms|s|m|h"), then
// SYFTBOX_PART_UPLOAD_TIMEOUT_MS (plain milliseconds), then the default.
func partUploadTimeout() time.Duration {
	if v := strings.TrimSpace(os.Getenv("SBDEV_PART_UPLOAD_TIMEOUT")); v != "" {
		if d := parseDuration(v); d > 0 {
			return d
		}
	}
	if v := strings.TrimSpace(os.Getenv("SYFTBOX_PART_UPLOAD_TIMEOUT_MS")); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultPartTimeout
}

func parseDuration(v string) time.Duration {
	units := []struct {
		suffix string
		unit   time.Duration
	}{
		{"ms", time.Millisecond},
		{"h", time.Hour},
		{"m", time.Minute},
		{"s", time.Second},
	}
	for _, u := range units {
		if strings.HasSuffix(v, u.suffix) {
			n, err := strconv.ParseInt(strings.TrimSuffix(v, u.suffix), 10, 64)
			if err != nil {
				return 0
			}
			return time.Duration(n) * u.unit
		}
	}
	return 0
}

// interPartSleep injects an artificial delay between parts for test harnesses.
func interPartSleep() {
	v := strings.TrimSpace(os.Getenv("SYFTBOX_UPLOAD_PART_SLEEP_MS"))
	if v == "" {
		return
	}
	if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
		time.Sleep(time.Duration(ms) * time.Millisecond)
	}
}
