package hashing

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const helloWorldDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestSum(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Digest
	}{
		{"hello world", []byte("hello world"), helloWorldDigest},
		{"empty", []byte{}, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"nil", nil, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sum(tt.data)
			if got != tt.want {
				t.Errorf("Sum() = %s, want %s", got, tt.want)
			}
			if len(got) != Size {
				t.Errorf("digest length = %d, want %d", len(got), Size)
			}
			if strings.ToLower(got.String()) != got.String() {
				t.Errorf("digest should be lowercase: %s", got)
			}
		})
	}
}

func TestSumReaderMatchesSum(t *testing.T) {
	data := bytes.Repeat([]byte("scanchain"), 10000)

	got, n, err := SumReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("SumReader failed: %v", err)
	}
	if n != int64(len(data)) {
		t.Errorf("expected %d bytes, got %d", len(data), n)
	}
	if got != Sum(data) {
		t.Errorf("SumReader = %s, Sum = %s", got, Sum(data))
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestSumReaderError(t *testing.T) {
	if _, _, err := SumReader(failingReader{}); err == nil {
		t.Error("expected error from failing reader")
	}
}

func TestSumFileAndVerifyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "certificate.pdf")
	if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	got, n, err := SumFile(path)
	if err != nil {
		t.Fatalf("SumFile failed: %v", err)
	}
	if got != helloWorldDigest || n != 11 {
		t.Errorf("SumFile = (%s, %d)", got, n)
	}

	if err := VerifyFile(path, strings.ToUpper(helloWorldDigest)); err != nil {
		t.Errorf("VerifyFile should accept uppercase digest: %v", err)
	}
	if err := VerifyFile(path, Sum([]byte("other")).String()); err == nil {
		t.Error("VerifyFile should fail for a different digest")
	}
	if _, _, err := SumFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("SumFile should fail for a missing file")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Digest
		wantErr bool
	}{
		{"lowercase", helloWorldDigest, helloWorldDigest, false},
		{"uppercase normalized", strings.ToUpper(helloWorldDigest), helloWorldDigest, false},
		{"surrounding space", "  " + helloWorldDigest + "\n", helloWorldDigest, false},
		{"too short", helloWorldDigest[:63], "", true},
		{"not hex", strings.Repeat("z", 64), "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDigest) {
					t.Errorf("expected ErrInvalidDigest, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Parse() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEqual(t *testing.T) {
	if !Equal(helloWorldDigest, strings.ToUpper(helloWorldDigest)) {
		t.Error("Equal should ignore case")
	}
	if Equal(helloWorldDigest, Sum(nil).String()) {
		t.Error("different digests should not be equal")
	}
	if Equal("", "") {
		t.Error("empty digests should never compare equal")
	}
}
