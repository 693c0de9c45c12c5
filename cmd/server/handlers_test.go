package main

import (
	"testing"

	"github.com/pageq/pageq/internal/faults"
)

func TestValidateUpload(t *testing.T) {
	const maxBytes = 50 << 20

	tests := []struct {
		name        string
		fileName    string
		contentType string
		size        int64
		wantReject  bool
	}{
		{"valid pdf", "report.pdf", "application/pdf", 1024, false},
		{"missing content type accepted", "report.pdf", "", 1024, false},
		{"wrong content type", "report.png", "image/png", 1024, true},
		{"missing file name", "", "application/pdf", 1024, true},
		{"over size cap", "report.pdf", "application/pdf", maxBytes + 1, true},
		{"exactly at size cap", "report.pdf", "application/pdf", maxBytes, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validateUpload(tt.fileName, tt.contentType, tt.size, maxBytes)
			if !tt.wantReject {
				if f != nil {
					t.Fatalf("validateUpload rejected valid input: %v", f)
				}
				return
			}
			if f == nil {
				t.Fatal("validateUpload accepted bad input")
			}
			if faults.KindOf(f) != faults.KindValidation {
				t.Errorf("fault kind = %q, want %q", faults.KindOf(f), faults.KindValidation)
			}
			if f.Op == "" {
				t.Error("rejection carries no user-facing message")
			}
		})
	}
}
