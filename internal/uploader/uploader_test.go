package uploader

import (
	"testing"
)

func TestSelectPartSizeStaysUnderMaxPartCount(t *testing.T) {
	size := int64(700) * 1024 * 1024 * 1024 // 700 GiB
	partSize, partCount := selectPartSize(size, 0)
	if partCount > maxPartCount {
		t.Fatalf("partCount %d exceeds max %d", partCount, maxPartCount)
	}
	if partSize < minPartSize {
		t.Fatalf("partSize %d below floor %d", partSize, minPartSize)
	}
}

func TestSelectPartSizeDefaultForSmallMultipart(t *testing.T) {
	size := int64(40) * 1024 * 1024 // just above the 32MiB single-upload threshold
	partSize, partCount := selectPartSize(size, 0)
	if partSize != defaultPartSize {
		t.Fatalf("expected default part size for small multipart file, got %d", partSize)
	}
	if partCount != 1 {
		t.Fatalf("expected 1 part for a file smaller than the default part size, got %d", partCount)
	}
}

func TestCompletedBytesAccountsForFinalShortPart(t *testing.T) {
	s := &Session{
		Size:      int64(100),
		PartSize:  int64(60),
		PartCount: 2,
		Completed: map[int]string{1: "etag-1", 2: "etag-2"},
	}
	if got := completedBytes(s); got != 100 {
		t.Fatalf("expected full 100 bytes accounted for, got %d", got)
	}
	if got := partSizeFor(s, 2); got != 40 {
		t.Fatalf("expected final part to be the 40-byte remainder, got %d", got)
	}
}

func TestRemainingPartsExcludesCompleted(t *testing.T) {
	s := &Session{PartCount: 3, Completed: map[int]string{2: "etag-2"}}
	remaining := remainingParts(s)
	if len(remaining) != 2 || remaining[0] != 1 || remaining[1] != 3 {
		t.Fatalf("expected [1 3], got %v", remaining)
	}
}

func TestParseByteSizeUnits(t *testing.T) {
	cases := map[string]int64{
		"5MB":  5 * 1024 * 1024,
		"10KB": 10 * 1024,
		"1GB":  1 << 30,
		"100B": 100,
		"":     0,
		"junk": 0,
	}
	for in, want := range cases {
		if got := parseByteSize(in); got != want {
			t.Fatalf("parseByteSize(%q) = %d, want %d", in, got, want)
		}
	}
}
