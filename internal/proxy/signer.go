package proxy

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// signer issues short-lived stream URLs so only the local player can use the proxy
type signer struct {
	secret []byte
}

func newSigner() (*signer, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return &signer{secret: secret}, nil
}

func (s *signer) sign(key string, exp time.Time) string {
	return s.signValue(key, exp.Unix())
}

func (s *signer) verify(key string, exp int64, sig string) bool {
	if time.Now().Unix() > exp {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(s.signValue(key, exp)))
}

func (s *signer) signValue(key string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(key))
	mac.Write([]byte("|"))
	mac.Write([]byte(strconv.FormatInt(exp, 10)))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (s *signer) streamURL(base, key string, exp time.Time) string {
	q := url.Values{}
	q.Set("exp", strconv.FormatInt(exp.Unix(), 10))
	q.Set("sig", s.sign(key, exp))
	return strings.TrimRight(base, "/") + "/stream/" + url.PathEscape(key) + "?" + q.Encode()
}

func extractSigned(query url.Values) (int64, string, error) {
	expStr := strings.TrimSpace(query.Get("exp"))
	sig := strings.TrimSpace(query.Get("sig"))
	if expStr == "" || sig == "" {
		return 0, "", fmt.Errorf("missing signed params")
	}
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return 0, "", err
	}
	return exp, sig, nil
}
