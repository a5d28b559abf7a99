// Package testutil provides testing utilities for PARVM tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// TempProgram creates a temporary assembly file and returns its path.
// The file is automatically cleaned up when the test finishes.
func TempProgram(t *testing.T, source string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pasm")
	if err := os.WriteFile(path, []byte(source), 0644); err != nil {
		t.Fatalf("failed to write temp program: %v", err)
	}
	return path
}

// TempFile creates a temporary file with the given content and extension.
func TempFile(t *testing.T, content, ext string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test"+ext)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// CountdownSource returns a standard single-threaded test program that
// counts R0 down from the data word at 200 and stores a result at 201.
func CountdownSource() string {
	return `
.entry start
.word 200 5
start:
    LOAD R0, @200
loop:
    SUB R0, R0, #1
    JNZ loop
    STORE R0, @201
    HALT
`
}

// DeadlockSource returns a two-thread program that takes two locks in
// opposite orders and deadlocks.
func DeadlockSource() string {
	return `
    LOCK  @500
    SPAWN R1, child, #0
    NOP
    NOP
    NOP
    NOP
    LOCK  @600
    HALT
child:
    LOCK  @600
    NOP
    LOCK  @500
    HALT
`
}

// AssertUint32Equal checks if two uint32 values are equal.
func AssertUint32Equal(t *testing.T, expected, actual uint32) {
	t.Helper()
	if expected != actual {
		t.Errorf("expected %d, got %d", expected, actual)
	}
}

// AssertFloat64Near checks if two float64 values are approximately equal.
func AssertFloat64Near(t *testing.T, expected, actual, tolerance float64) {
	t.Helper()
	if actual < expected-tolerance || actual > expected+tolerance {
		t.Errorf("expected %.6f, got %.6f (tolerance: %.6f)", expected, actual, tolerance)
	}
}
