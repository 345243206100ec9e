package usecase

import (
	"testing"

	"github.com/kirillkom/paper-rag-service/internal/core/domain"
)

func baseRequest() domain.AskRequest {
	return domain.AskRequest{
		Query:      "What is attention?",
		TopK:       5,
		UseHybrid:  true,
		Categories: []string{"nlp", "ml"},
		ModelID:    "llama3",
	}
}

func TestFingerprintNormalizesQuery(t *testing.T) {
	a := baseRequest()
	b := baseRequest()
	b.Query = "  what   IS\tattention?  "

	if requestFingerprint(a) != requestFingerprint(b) {
		t.Fatalf("case and whitespace variants must share a fingerprint")
	}
}

func TestFingerprintIgnoresCategoryOrder(t *testing.T) {
	a := baseRequest()
	b := baseRequest()
	b.Categories = []string{"ml", "nlp"}

	if requestFingerprint(a) != requestFingerprint(b) {
		t.Fatalf("category order must not change the fingerprint")
	}
}

func TestFingerprintDistinguishesParameters(t *testing.T) {
	base := baseRequest()
	fp := requestFingerprint(base)

	topK := baseRequest()
	topK.TopK = 6
	if requestFingerprint(topK) == fp {
		t.Fatalf("different topK must change the fingerprint")
	}

	hybrid := baseRequest()
	hybrid.UseHybrid = false
	if requestFingerprint(hybrid) == fp {
		t.Fatalf("different hybrid flag must change the fingerprint")
	}

	model := baseRequest()
	model.ModelID = "mistral"
	if requestFingerprint(model) == fp {
		t.Fatalf("different model must change the fingerprint")
	}

	cats := baseRequest()
	cats.Categories = []string{"nlp"}
	if requestFingerprint(cats) == fp {
		t.Fatalf("different categories must change the fingerprint")
	}
}

func TestFingerprintStable(t *testing.T) {
	req := baseRequest()
	first := requestFingerprint(req)
	for i := 0; i < 3; i++ {
		if requestFingerprint(req) != first {
			t.Fatalf("fingerprint is not deterministic")
		}
	}
	if len(first) != 64 {
		t.Fatalf("expected sha256 hex fingerprint, got %q", first)
	}
}
