package idgen

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// HashToken returns a 32-character md5 hex digest of a credential so it can
// be compared and logged without exposing the raw value. An empty token
// hashes to "".
func HashToken(token string) string {
	if token == "" {
		return ""
	}
	hash := md5.Sum([]byte(token))
	return hex.EncodeToString(hash[:])
}

// Fingerprint identifies one set of cluster credentials as
// "clusterURL|namespace|md5(token)". A trailing slash on the URL is ignored.
func Fingerprint(clusterURL, namespace, token string) string {
	return strings.Join([]string{
		strings.TrimRight(clusterURL, "/"),
		namespace,
		HashToken(token),
	}, "|")
}
