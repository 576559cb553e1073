package archive

import "testing"

func TestShouldArchiveThreshold(t *testing.T) {
	small := make([]byte, 10)
	large := make([]byte, InlineThresholdBytes+1)

	if ShouldArchive(small, 0) {
		t.Fatal("small payload should not be archived")
	}
	if !ShouldArchive(large, 0) {
		t.Fatal("large payload should be archived")
	}
	if !ShouldArchive(small, 5) {
		t.Fatal("custom threshold should be respected")
	}
}
