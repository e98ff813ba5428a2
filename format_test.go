package compute

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFormatArray(t *testing.T) {
	tests := []struct {
		name string
		in   []uint32
		want string
	}{
		{"empty", nil, "inputs: "},
		{"single", []uint32{2}, "inputs: 2"},
		{"eight listed", SuccessiveArray(8), "inputs: 1,2,3,4,5,6,7,8"},
		{"nine elided", SuccessiveArray(9), "inputs: 1,2,3,4,...,9"},
		{"large", SuccessiveArray(32), "inputs: 1,2,3,4,...,32"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatArray("inputs", tt.in); got != tt.want {
				t.Errorf("FormatArray() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintArray(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintArray(&buf, "outputs", []uint32{2, 4}); err != nil {
		t.Fatalf("PrintArray() error = %v", err)
	}
	if got, want := buf.String(), "outputs: 2,4\n"; got != want {
		t.Errorf("PrintArray() wrote %q, want %q", got, want)
	}
}

type failingWriter struct{}

var errWrite = errors.New("write failed")

func (failingWriter) Write([]byte) (int, error) { return 0, errWrite }

func TestPrintArrayWriteError(t *testing.T) {
	if err := PrintArray(failingWriter{}, "outputs", []uint32{1}); !errors.Is(err, errWrite) {
		t.Errorf("PrintArray() error = %v, want %v", err, errWrite)
	}
}

func TestSuccessiveArray(t *testing.T) {
	if diff := cmp.Diff([]uint32{1, 2, 3, 4}, SuccessiveArray(4)); diff != "" {
		t.Errorf("SuccessiveArray(4) mismatch (-want +got):\n%s", diff)
	}
	if got := SuccessiveArray(0); got != nil {
		t.Errorf("SuccessiveArray(0) = %v, want nil", got)
	}
}
