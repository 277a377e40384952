package indexer

import "testing"

func TestRangeSplit(t *testing.T) {
	tests := []struct {
		name string
		r    Range
		size uint64
		want []Range
	}{
		{"fits", Range{100, 149}, 50, []Range{{100, 149}}},
		{"even", Range{100, 139}, 20, []Range{{100, 119}, {120, 139}}},
		{"remainder", Range{100, 149}, 20, []Range{{100, 119}, {120, 139}, {140, 149}}},
		{"single block", Range{7, 7}, 20, []Range{{7, 7}}},
		{"no limit", Range{1, 1000}, 0, []Range{{1, 1000}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.r.Split(tt.size)
			if len(got) != len(tt.want) {
				t.Fatalf("Split(%d) = %v, want %v", tt.size, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}
