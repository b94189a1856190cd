package filter

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/matt-hans/shipagent/internal/domain"
)

func (c *Compiler) sign(spec domain.FilterSpec) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(spec.Canonical()))
	return hex.EncodeToString(mac.Sum(nil))
}

func hmacEqual(a, b string) bool {
	ab, err1 := hex.DecodeString(a)
	bb, err2 := hex.DecodeString(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return hmac.Equal(ab, bb)
}
