package auth

import (
	"strings"
	"testing"
)

// testParams keeps hashing cheap in unit tests.
var testParams = Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

func newTestHasher(t *testing.T) *PasswordHasher {
	t.Helper()
	h, err := NewPasswordHasher(testParams)
	if err != nil {
		t.Fatalf("NewPasswordHasher failed: %v", err)
	}
	return h
}

func TestHash_Format(t *testing.T) {
	t.Parallel()

	h, err := NewPasswordHasher(DefaultParams)
	if err != nil {
		t.Fatalf("NewPasswordHasher failed: %v", err)
	}

	hash, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	// Verify PHC format: $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
	if !strings.HasPrefix(hash, "$argon2id$v=") {
		t.Errorf("Hash should be in PHC format, got: %s", hash)
	}

	parts := strings.Split(hash, "$")
	if len(parts) != 6 {
		t.Fatalf("Hash should have 6 parts, got: %d", len(parts))
	}
	if parts[2] != "v=19" {
		t.Errorf("Expected v=19, got: %s", parts[2])
	}
	if parts[3] != "m=65536,t=3,p=4" {
		t.Errorf("Expected m=65536,t=3,p=4, got: %s", parts[3])
	}
}

func TestHash_NeverContainsPlaintext(t *testing.T) {
	t.Parallel()

	h := newTestHasher(t)
	password := "plaintext-should-not-leak"

	hash, err := h.Hash(password)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if strings.Contains(hash, password) {
		t.Error("hash must not contain the plaintext password")
	}
}

func TestHash_Uniqueness(t *testing.T) {
	t.Parallel()

	h := newTestHasher(t)
	password := "the_same_password_12345"

	hash1, err := h.Hash(password)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	hash2, err := h.Hash(password)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	// Same password should produce different hashes (different salts)
	if hash1 == hash2 {
		t.Error("Same password should produce different hashes due to random salt")
	}

	match1, _ := h.Verify(password, hash1)
	match2, _ := h.Verify(password, hash2)
	if !match1 || !match2 {
		t.Error("Both hashes should verify correctly")
	}
}

func TestVerify_Correct(t *testing.T) {
	t.Parallel()

	h := newTestHasher(t)
	hash, err := h.Hash("s3cret-pass")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	match, err := h.Verify("s3cret-pass", hash)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !match {
		t.Error("Correct password should match")
	}
}

func TestVerify_Incorrect(t *testing.T) {
	t.Parallel()

	h := newTestHasher(t)
	hash, err := h.Hash("s3cret-pass")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	// Wrong password should not verify (but no error)
	match, err := h.Verify("wrong-pass", hash)
	if err != nil {
		t.Fatalf("Verify should not return error for wrong password: %v", err)
	}
	if match {
		t.Error("Wrong password should not match")
	}
}

func TestVerify_InvalidHashFormat(t *testing.T) {
	t.Parallel()

	h := newTestHasher(t)

	tests := []struct {
		name    string
		hash    string
		wantErr error
	}{
		{"empty", "", ErrInvalidHash},
		{"wrong format", "not-a-hash", ErrInvalidHash},
		{"wrong algorithm", "$bcrypt$v=19$m=65536,t=3,p=4$salt$hash", ErrInvalidHash},
		{"missing parts", "$argon2id$v=19$m=65536", ErrInvalidHash},
		{"bad params", "$argon2id$v=19$garbage$c2FsdA$aGFzaA", ErrInvalidHash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := h.Verify("password", tt.hash)
			if err != tt.wantErr {
				t.Errorf("Verify with %q error = %v, want %v", tt.name, err, tt.wantErr)
			}
		})
	}
}

func TestVerify_WrongVersion(t *testing.T) {
	t.Parallel()

	h := newTestHasher(t)
	invalidVersionHash := "$argon2id$v=18$m=65536,t=3,p=4$c29tZXNhbHRoZXJl$c29tZWhhc2hoZXJl"

	match, err := h.Verify("password", invalidVersionHash)
	if err != ErrIncompatibleVersion {
		t.Errorf("Expected ErrIncompatibleVersion, got: %v", err)
	}
	if match {
		t.Error("Should not match with incompatible version")
	}
}

func TestVerify_ParamsReadFromHash(t *testing.T) {
	t.Parallel()

	older := newTestHasher(t)
	hash, err := older.Hash("rotate-me")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	newer, err := NewPasswordHasher(Params{Time: 2, Memory: 2048, Threads: 1, KeyLen: 32, SaltLen: 16})
	if err != nil {
		t.Fatalf("NewPasswordHasher failed: %v", err)
	}

	match, err := newer.Verify("rotate-me", hash)
	if err != nil || !match {
		t.Errorf("hash from older params should verify, match=%v err=%v", match, err)
	}
}
