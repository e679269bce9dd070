package app

import (
	"bytes"
	"testing"
)

func TestAnonUserIDStable(t *testing.T) {
	salt := bytes.Repeat([]byte{0x01}, 32)
	a := AnonUserID(salt, "auth0|abc123")
	b := AnonUserID(salt, "auth0|abc123")
	if a != b {
		t.Fatalf("same subject produced different keys: %s vs %s", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("anon key length = %d, want 32 hex chars", len(a))
	}
}

func TestAnonUserIDDistinct(t *testing.T) {
	salt := bytes.Repeat([]byte{0x01}, 32)
	if AnonUserID(salt, "auth0|abc123") == AnonUserID(salt, "auth0|abc124") {
		t.Fatal("distinct subjects collided")
	}
}

func TestAnonUserIDSaltDependent(t *testing.T) {
	saltA := bytes.Repeat([]byte{0x01}, 32)
	saltB := bytes.Repeat([]byte{0x02}, 32)
	if AnonUserID(saltA, "auth0|abc123") == AnonUserID(saltB, "auth0|abc123") {
		t.Fatal("different salts produced the same key")
	}
}
