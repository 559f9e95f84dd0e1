package password

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashVerifyRoundTrip(t *testing.T) {
	h := New(bcrypt.MinCost)

	for _, pw := range []string{"correct horse", "p@ssw0rd!", "ünïcødé-secret", " leading space"} {
		digest, err := h.Hash(pw)
		if err != nil {
			t.Fatalf("Hash(%q): %v", pw, err)
		}
		if digest == pw {
			t.Fatalf("digest equals plaintext for %q", pw)
		}
		if !h.Verify(pw, digest) {
			t.Errorf("Verify(%q) = false, want true", pw)
		}
	}
}

func TestVerifyRejectsOtherPassword(t *testing.T) {
	h := New(bcrypt.MinCost)
	digest, err := h.Hash("first-password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if h.Verify("second-password", digest) {
		t.Error("Verify accepted a different password")
	}
	if h.Verify("", digest) {
		t.Error("Verify accepted an empty password")
	}
}

func TestVerifyMalformedDigest(t *testing.T) {
	h := New(bcrypt.MinCost)
	for _, digest := range []string{"", "not-a-hash", "$2a$10$short", strings.Repeat("x", 60)} {
		if h.Verify("anything", digest) {
			t.Errorf("Verify accepted malformed digest %q", digest)
		}
	}
}

func TestHashSaltsEachCall(t *testing.T) {
	h := New(bcrypt.MinCost)
	a, _ := h.Hash("same-password")
	b, _ := h.Hash("same-password")
	if a == b {
		t.Error("expected distinct digests for repeated hashing")
	}
}

func TestHashTooLong(t *testing.T) {
	h := New(bcrypt.MinCost)
	if _, err := h.Hash(strings.Repeat("a", 73)); err != ErrTooLong {
		t.Errorf("expected ErrTooLong, got %v", err)
	}
}

func TestNewClampsCost(t *testing.T) {
	if got := New(0).Cost(); got != DefaultCost {
		t.Errorf("New(0).Cost() = %d, want %d", got, DefaultCost)
	}
	if got := New(1).Cost(); got != bcrypt.MinCost {
		t.Errorf("New(1).Cost() = %d, want %d", got, bcrypt.MinCost)
	}
	if got := New(99).Cost(); got != bcrypt.MaxCost {
		t.Errorf("New(99).Cost() = %d, want %d", got, bcrypt.MaxCost)
	}
}

func TestNeedsRehash(t *testing.T) {
	low := New(bcrypt.MinCost)
	higher := New(bcrypt.MinCost + 1)

	digest, _ := low.Hash("rehash-me")
	if low.NeedsRehash(digest) {
		t.Error("digest at configured cost should not need rehash")
	}
	if !higher.NeedsRehash(digest) {
		t.Error("digest at lower cost should need rehash")
	}
	if !low.NeedsRehash("garbage") {
		t.Error("unparseable digest should need rehash")
	}
}
