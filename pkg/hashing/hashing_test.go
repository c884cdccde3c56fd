package hashing

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDigestKnownValues(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"abc", "abc", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Digest(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("Digest() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Digest() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	inputs := [][]byte{
		{},
		[]byte("x"),
		bytes.Repeat([]byte("rule package "), 20000), // spans several blocks
	}

	for _, data := range inputs {
		sum := DigestBytes(data)
		ok, err := Verify(bytes.NewReader(data), sum)
		if err != nil {
			t.Fatalf("Verify() error: %v", err)
		}
		if !ok {
			t.Errorf("Verify(len=%d) = false, want true", len(data))
		}
	}
}

func TestVerifyDetectsSingleByteChange(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 3*BlockSize+17)
	sum := DigestBytes(data)

	for _, pos := range []int{0, BlockSize, len(data) - 1} {
		mutated := bytes.Clone(data)
		mutated[pos] ^= 0x01
		ok, err := Verify(bytes.NewReader(mutated), sum)
		if err != nil {
			t.Fatalf("Verify() error: %v", err)
		}
		if ok {
			t.Errorf("Verify() after flipping byte %d = true, want false", pos)
		}
	}
}

func TestEqual(t *testing.T) {
	sum := DigestBytes([]byte("abc"))
	if !Equal(sum, strings.ToUpper(sum)+"\n") {
		t.Error("Equal() should ignore case and surrounding whitespace")
	}
	if Equal("", "") {
		t.Error("Equal() of two empty digests should be false")
	}
}

func TestHashFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dice-0.1.0.ipk")
	if err := os.WriteFile(path, []byte("archive bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	written, err := WriteHashFile(path)
	if err != nil {
		t.Fatalf("WriteHashFile() error: %v", err)
	}
	read, err := ReadHashFile(path)
	if err != nil {
		t.Fatalf("ReadHashFile() error: %v", err)
	}
	if read != written {
		t.Errorf("ReadHashFile() = %s, want %s", read, written)
	}

	ok, err := VerifyFile(path, read)
	if err != nil || !ok {
		t.Errorf("VerifyFile() = %v, %v; want true, nil", ok, err)
	}
}

func TestReadHashFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pkg.ipk")
	if err := os.WriteFile(path+HashSuffix, []byte("not-a-digest"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadHashFile(path); err == nil {
		t.Error("ReadHashFile() should reject a malformed digest")
	}
}
