package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashToken(t *testing.T) {
	id := HashToken("sha256~secret")

	// Should be 32 character hex string (md5)
	assert.Len(t, id, 32, "MD5 hash should be 32 characters")
	assert.Equal(t, id, HashToken("sha256~secret"), "Same inputs should produce same hash")
	assert.NotEqual(t, id, HashToken("sha256~other"), "Different token should produce different hash")
	assert.Empty(t, HashToken(""))
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("https://api.example:6443", "automation", "tok")

	assert.True(t, strings.HasPrefix(fp, "https://api.example:6443|automation|"))
	assert.NotContains(t, fp, "tok|", "raw token must not appear")
	assert.Equal(t, fp, Fingerprint("https://api.example:6443/", "automation", "tok"), "trailing slash should be ignored")

	assert.NotEqual(t, fp, Fingerprint("https://api.example:6443", "other", "tok"))
	assert.NotEqual(t, fp, Fingerprint("https://api.example:6443", "automation", "tok2"))
	assert.NotEqual(t, fp, Fingerprint("https://other:6443", "automation", "tok"))
}
