package driver

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDedupe(t *testing.T) {
	t.Parallel()
	tt := []struct {
		Name string
		In   []string
		Want []string
	}{
		{Name: "Empty", In: nil, Want: nil},
		{Name: "NoDups", In: []string{"a", "b"}, Want: []string{"a", "b"}},
		{Name: "FirstWins", In: []string{"a", "b", "a", "c", "b"}, Want: []string{"a", "b", "c"}},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			got := Dedupe(tc.In, func(s string) string { return s })
			if !cmp.Equal(got, tc.Want) {
				t.Error(cmp.Diff(got, tc.Want))
			}
		})
	}
}

func TestChunks(t *testing.T) {
	t.Parallel()
	xs := []int{1, 2, 3, 4, 5}
	got := Chunks(xs, 2)
	want := [][]int{{1, 2}, {3, 4}, {5}}
	if !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
	if got := Chunks(xs, 10); len(got) != 1 || len(got[0]) != 5 {
		t.Errorf("oversized chunk: got %#v", got)
	}
	if got := Chunks([]int{}, 3); len(got) != 0 {
		t.Errorf("empty input: got %#v", got)
	}
}
