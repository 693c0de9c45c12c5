package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"metadata fault", Metadata("probe page count", base), KindMetadata},
		{"storage fault", Storage("download", base), KindStorage},
		{"page fault", Page("extract page 3", base), KindPage},
		{"persistence fault", Persistence("complete job", base), KindPersistence},
		{"validation fault", Validation("check upload", base), KindValidation},
		{"wrapped fault", fmt.Errorf("dispatch: %w", Page("extract", base)), KindPage},
		{"plain error", base, KindUnknown},
		{"nil", nil, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFaultUnwrapsToCause(t *testing.T) {
	cause := errors.New("connection reset")
	f := Persistence("commit page text", cause)
	if !errors.Is(f, cause) {
		t.Error("fault does not unwrap to its cause")
	}
	if msg := f.Error(); msg != "persistence: commit page text: connection reset" {
		t.Errorf("Error() = %q", msg)
	}
}

func TestFaultWithoutCause(t *testing.T) {
	f := Validation("file name is required", nil)
	if msg := f.Error(); msg != "validation: file name is required" {
		t.Errorf("Error() = %q", msg)
	}
}
