package crypto

import (
	"errors"
	"strings"
	"testing"
)

func TestHashPassword(t *testing.T) {
	// sha256("secret")
	const want = "2bb80d537b1da3e38bd30361aa855686bde0eacd7162fef6a25fe97bf527a25b"
	if got := HashPassword("secret"); got != want {
		t.Errorf("HashPassword = %q, want %q", got, want)
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	hash := HashPassword("secret")
	cred, err := HashCredential(hash)
	if err != nil {
		t.Fatalf("HashCredential: %v", err)
	}
	if !strings.HasPrefix(cred, "argon2id$") {
		t.Errorf("credential %q missing scheme", cred)
	}
	if strings.Contains(cred, hash) {
		t.Error("credential leaks the password hash")
	}

	ok, err := VerifyCredential(cred, hash)
	if err != nil || !ok {
		t.Errorf("VerifyCredential(correct) = %v, %v", ok, err)
	}
	ok, err = VerifyCredential(cred, HashPassword("wrong"))
	if err != nil || ok {
		t.Errorf("VerifyCredential(wrong) = %v, %v", ok, err)
	}
}

func TestHashCredentialSalted(t *testing.T) {
	a, _ := HashCredential("x")
	b, _ := HashCredential("x")
	if a == b {
		t.Error("two credentials for the same input are identical")
	}
}

func TestVerifyCredentialInvalid(t *testing.T) {
	for _, cred := range []string{"", "plain", "bcrypt$aa$bb", "argon2id$zz$bb", "argon2id$aa$zz"} {
		if _, err := VerifyCredential(cred, "x"); !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("VerifyCredential(%q) error = %v, want ErrInvalidCredential", cred, err)
		}
	}
}
