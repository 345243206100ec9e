package domain

import "time"

// CacheEntry is an immutable cached answer keyed by request fingerprint.
// The cache owns its entries; callers always receive copies.
type CacheEntry struct {
	Fingerprint string     `json:"fingerprint"`
	AnswerText  string     `json:"answer_text"`
	SourceIDs   []string   `json:"cited_source_ids"`
	SearchMode  SearchMode `json:"search_mode"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

func (e CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Clone returns an independent copy so cached state is never aliased by
// callers.
func (e CacheEntry) Clone() CacheEntry {
	out := e
	out.SourceIDs = append([]string(nil), e.SourceIDs...)
	return out
}
