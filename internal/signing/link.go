package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// LinkSigner generates and validates the HMAC signed links recipients use to
// open a document for signing.
type LinkSigner struct {
	secret  []byte
	ttl     time.Duration
	baseURL string
	now     func() time.Time
}

// NewLinkSigner creates a LinkSigner. Links expire ttl after they are minted
// and point at baseURL.
func NewLinkSigner(secret []byte, ttl time.Duration, baseURL string) *LinkSigner {
	return &LinkSigner{
		secret:  secret,
		ttl:     ttl,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// Sign returns the hex signature binding a recipient to a document until
// expiresUnix.
func (s *LinkSigner) Sign(documentID, recipientID string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	// The payload is canonical so both sides hash identical bytes.
	fmt.Fprintf(mac, "%s:%s:%d", documentID, recipientID, expiresUnix)
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate checks the signature and that the link has not expired.
func (s *LinkSigner) Validate(documentID, recipientID, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	if s.now().Unix() > exp {
		return false
	}
	expected := s.Sign(documentID, recipientID, exp)
	// hmac.Equal compares in constant time.
	return hmac.Equal([]byte(expected), []byte(signature))
}

// URL mints a signing link for the recipient and returns it with its expiry.
func (s *LinkSigner) URL(documentID, recipientID string) (string, time.Time) {
	expires := s.now().Add(s.ttl).UTC().Truncate(time.Second)
	q := url.Values{}
	q.Set("recipientId", recipientID)
	q.Set("expires", strconv.FormatInt(expires.Unix(), 10))
	q.Set("signature", s.Sign(documentID, recipientID, expires.Unix()))
	return fmt.Sprintf("%s/sign/%s?%s", s.baseURL, url.PathEscape(documentID), q.Encode()), expires
}
