package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/kirillkom/paper-rag-service/internal/core/domain"
)

// requestFingerprint derives the stable cache key for a request.
// Query text is normalized so requests differing only in casing or
// whitespace collide; every other field that changes the answer is part
// of the key, so requests differing in topK, mode, filter or model never
// collide.
func requestFingerprint(req domain.AskRequest) string {
	categories := append([]string(nil), req.Categories...)
	sort.Strings(categories)

	canonical := strings.Join([]string{
		"q=" + normalizeQuery(req.Query),
		"k=" + strconv.Itoa(req.TopK),
		"h=" + strconv.FormatBool(req.UseHybrid),
		"c=" + strings.Join(categories, ","),
		"m=" + req.ModelID,
	}, "|")

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
