package postgres

import (
	"slices"
	"strings"
	"testing"
)

func TestDecodeOptionIDs(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{"empty column", "", nil, false},
		{"json null", "null", nil, false},
		{"selection", `["a","c"]`, []string{"a", "c"}, false},
		{"corrupt", `["a",`, nil, true},
		{"wrong shape", `{"a":1}`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeOptionIDs("ans-1", []byte(tt.raw))
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), "ans-1") {
					t.Fatalf("err = %v, want an error naming the answer", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeOptionIDs: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
