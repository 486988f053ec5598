package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ScanKey derives the cache key of a scan from the raw CSV body and every
// setting that changes its output.
func ScanKey(body []byte, cfg domain.RuleConfig, mode domain.ProfileMode, includeAll bool) string {
	h := sha256.New()
	h.Write(body)
	h.Write([]byte{0})

	// encoding/json sorts map keys, so overrides hash deterministically.
	rules, _ := json.Marshal(cfg)
	h.Write(rules)
	h.Write([]byte{0})

	h.Write([]byte(mode))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatBool(includeAll)))

	return hex.EncodeToString(h.Sum(nil))
}
