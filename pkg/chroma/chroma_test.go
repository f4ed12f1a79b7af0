package chroma

import (
	"strings"
	"testing"
)

func TestEmbeddingTextTruncates(t *testing.T) {
	got := EmbeddingText("Booking", strings.Repeat("x", maxTextLength*2))
	if len(got) != maxTextLength {
		t.Fatalf("len = %d, want %d", len(got), maxTextLength)
	}
	if !strings.HasPrefix(got, "Subject: Booking\n\nBody: ") {
		t.Errorf("unexpected prefix: %q", got[:30])
	}
}

func TestDocumentMetadata(t *testing.T) {
	md := Document{ID: "m1", OwnerID: "u1", LeadID: "l1", Subject: "Hi"}.Metadata()
	for key, want := range map[string]string{"owner_id": "u1", "lead_id": "l1", "message_id": "m1", "subject": "Hi"} {
		if md[key] != want {
			t.Errorf("metadata[%s] = %v, want %s", key, md[key], want)
		}
	}
}
