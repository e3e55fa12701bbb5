package stream

import (
	"reflect"
	"testing"

	"github.com/spf13/afero"
)

func TestParseSegmentName(t *testing.T) {
	tests := []struct {
		name string
		num  int
		ok   bool
	}{
		{"output-0.ts", 0, true},
		{"output-17.ts", 17, true},
		{"output-3.m4s", 3, true},
		{"output-abc.ts", 0, false},
		{"output--1.ts", 0, false},
		{"init.mp4", 0, false},
		{"output.m3u8", 0, false},
		{"segment-5.ts", 0, false},
	}
	for _, tt := range tests {
		num, ok := ParseSegmentName(tt.name)
		if ok != tt.ok || num != tt.num {
			t.Errorf("ParseSegmentName(%q) = (%d, %v), want (%d, %v)", tt.name, num, ok, tt.num, tt.ok)
		}
	}
}

func TestScanSegments(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := "/sessions/str_test"
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"output-0.ts", "output-1.ts", "output-4.ts", "output.m3u8", "files.txt"} {
		if err := afero.WriteFile(fs, dir+"/"+name, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cov := ScanSegments(fs, dir)
	if len(cov.Segments) != 3 {
		t.Errorf("expected 3 segments, got %d", len(cov.Segments))
	}
	if cov.Furthest != 4 {
		t.Errorf("expected furthest 4, got %d", cov.Furthest)
	}
}

func TestScanSegmentsMissingDir(t *testing.T) {
	cov := ScanSegments(afero.NewMemMapFs(), "/nope")
	if len(cov.Segments) != 0 || cov.Furthest != -1 {
		t.Errorf("expected empty coverage, got %+v", cov)
	}
}

func TestChunkSummary(t *testing.T) {
	tests := []struct {
		name     string
		segments []int
		want     []string
	}{
		{"empty", nil, []string{}},
		{"single", []int{3}, []string{"3"}},
		{"one run", []int{0, 1, 2}, []string{"0-2"}},
		{"gaps", []int{0, 1, 2, 5, 6, 9}, []string{"0-2", "5-6", "9"}},
		{"unordered input", []int{6, 0, 5, 2, 1}, []string{"0-2", "5-6"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := make(map[int]struct{})
			for _, n := range tt.segments {
				set[n] = struct{}{}
			}
			got := ChunkSummary(set)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ChunkSummary(%v) = %v, want %v", tt.segments, got, tt.want)
			}
		})
	}
}
