package chunk

import "testing"

func TestComputeRangesEvenSplit(t *testing.T) {
	ranges := computeRanges(1000, 4)
	want := []byteRange{{0, 249}, {250, 499}, {500, 749}, {750, 999}}
	if len(ranges) != len(want) {
		t.Fatalf("got %d ranges, want %d", len(ranges), len(want))
	}
	for i := range want {
		if ranges[i] != want[i] {
			t.Errorf("range %d: got %+v, want %+v", i, ranges[i], want[i])
		}
	}
}

func TestComputeRangesUnevenSplit(t *testing.T) {
	ranges := computeRanges(10, 3)
	// chunkSize = ceil(10/3) = 4: [0,3] [4,7] [8,9]
	want := []byteRange{{0, 3}, {4, 7}, {8, 9}}
	if len(ranges) != len(want) {
		t.Fatalf("got %d ranges, want %d", len(ranges), len(want))
	}
	for i := range want {
		if ranges[i] != want[i] {
			t.Errorf("range %d: got %+v, want %+v", i, ranges[i], want[i])
		}
	}
}

func TestComputeRangesFewerBytesThanChunks(t *testing.T) {
	ranges := computeRanges(2, 8)
	// chunkSize = ceil(2/8) = 1: only 2 chunks fit before exceeding contentLength
	if len(ranges) != 2 {
		t.Fatalf("got %d ranges, want 2", len(ranges))
	}
	if ranges[0] != (byteRange{0, 0}) || ranges[1] != (byteRange{1, 1}) {
		t.Errorf("unexpected ranges: %+v", ranges)
	}
}

func TestComputeRangesSingleChunk(t *testing.T) {
	ranges := computeRanges(500, 1)
	if len(ranges) != 1 || ranges[0] != (byteRange{0, 499}) {
		t.Errorf("got %+v, want single full-file range", ranges)
	}
}

func TestComputeRangesClampsBelowOne(t *testing.T) {
	ranges := computeRanges(100, 0)
	if len(ranges) != 1 || ranges[0] != (byteRange{0, 99}) {
		t.Errorf("n<1 should behave like n=1, got %+v", ranges)
	}
}
