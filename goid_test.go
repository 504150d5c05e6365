package rtsync

import (
	"sync"
	"testing"
)

func TestParseGoid(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"goroutine 1 [running]:\nmain.main()", 1},
		{"goroutine 123456 [chan receive]:", 123456},
		{"goroutine ", 0},
		{"gorout", 0},
		{"thread 7 [running]:", 0},
	}
	for _, c := range cases {
		if got := parseGoid([]byte(c.in)); got != c.want {
			t.Errorf("parseGoid(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestGoidDistinct(t *testing.T) {
	const n = 32
	ids := make([]int64, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		go func() {
			defer wg.Done()
			ids[i] = goid()
		}()
	}
	wg.Wait()

	self := goid()
	if self <= 0 {
		t.Fatalf("goid = %d, want > 0", self)
	}
	seen := map[int64]bool{self: true}
	for _, id := range ids {
		if id <= 0 || seen[id] {
			t.Fatalf("goid %d is not a fresh positive id", id)
		}
		seen[id] = true
	}
	if again := goid(); again != self {
		t.Fatalf("goid changed within one goroutine: %d then %d", self, again)
	}
}
