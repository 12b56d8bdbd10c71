package retrieval

import (
	"slices"
	"strings"
	"testing"
)

const mib = 1024 * 1024

func chunkBytes(chunk []string) int {
	return len(strings.Join(chunk, "\n"))
}

func TestChunk_Empty(t *testing.T) {
	if got := Chunk(nil, 10, 100); got != nil {
		t.Errorf("Chunk(nil) = %v, want nil", got)
	}
}

func TestChunk_FastPath(t *testing.T) {
	in := []string{"a", "b", "c"}
	got := Chunk(in, 10, 100)
	if len(got) != 1 || !slices.Equal(got[0], in) {
		t.Errorf("Chunk = %v, want one chunk %v", got, in)
	}
}

func TestChunk_ByteLimitExample(t *testing.T) {
	s1 := strings.Repeat("a", mib/2)
	s2 := strings.Repeat("b", mib/2)
	s3 := strings.Repeat("c", mib/10)

	got := Chunk([]string{s1, s2, s3}, DefaultMaxBatchCount, DefaultMaxBatchBytes)
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
	if len(got[0]) != 1 || got[0][0] != s1 {
		t.Errorf("chunk 0 should be [s1]")
	}
	if len(got[1]) != 2 || got[1][0] != s2 || got[1][1] != s3 {
		t.Errorf("chunk 1 should be [s2 s3]")
	}
}

func TestChunk_CountLimit(t *testing.T) {
	in := make([]string, 7)
	for i := range in {
		in[i] = "x"
	}
	got := Chunk(in, 3, 1000)
	want := []int{3, 3, 1}
	if len(got) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(got), len(want))
	}
	for i, n := range want {
		if len(got[i]) != n {
			t.Errorf("chunk %d has %d items, want %d", i, len(got[i]), n)
		}
	}
}

func TestChunk_SeparatorCounts(t *testing.T) {
	// "aaaa" + sep + "bbbb" = 9 bytes, which exceeds 8.
	got := Chunk([]string{"aaaa", "bbbb"}, 10, 8)
	if len(got) != 2 {
		t.Errorf("got %d chunks, want 2", len(got))
	}
	got = Chunk([]string{"aaaa", "bbbb"}, 10, 9)
	if len(got) != 1 {
		t.Errorf("got %d chunks, want 1", len(got))
	}
}

func TestChunk_OversizedStatementAlone(t *testing.T) {
	big := strings.Repeat("z", 50)
	got := Chunk([]string{"a", big, "b"}, 10, 10)
	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3: %v", len(got), got)
	}
	if len(got[1]) != 1 || got[1][0] != big {
		t.Errorf("oversized statement should form its own chunk")
	}
}

func TestChunk_Invariants(t *testing.T) {
	var in []string
	for i := range 500 {
		in = append(in, strings.Repeat("s", (i*37)%113+1))
	}

	for _, limits := range []struct{ count, bytes int }{
		{1, 1000}, {5, 200}, {50, 120}, {1000, 64}, {3, 10_000},
	} {
		chunks := Chunk(in, limits.count, limits.bytes)

		var flat []string
		for _, c := range chunks {
			if len(c) == 0 {
				t.Fatalf("limits %+v: empty chunk", limits)
			}
			if len(c) > limits.count {
				t.Errorf("limits %+v: chunk has %d items", limits, len(c))
			}
			if len(c) > 1 && chunkBytes(c) > limits.bytes {
				t.Errorf("limits %+v: chunk has %d bytes", limits, chunkBytes(c))
			}
			flat = append(flat, c...)
		}
		if !slices.Equal(flat, in) {
			t.Errorf("limits %+v: concatenated chunks differ from input", limits)
		}
	}
}

func TestChunk_DefaultsForNonPositiveLimits(t *testing.T) {
	got := Chunk([]string{"a", "b"}, 0, -1)
	if len(got) != 1 {
		t.Errorf("got %d chunks, want 1", len(got))
	}
}
