package mimetree

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"agency-crm-backend/internal/mailsync/domain"
)

func load(t *testing.T, name string) *domain.MessagePart {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	root, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return root
}

func TestParseInlineImage(t *testing.T) {
	root := load(t, "inline_image.eml")

	if root.MimeType != "multipart/related" {
		t.Fatalf("root mime = %q", root.MimeType)
	}
	if got := root.Header("subject"); got != "Re: Booking" {
		t.Fatalf("subject = %q", got)
	}
	if len(root.Parts) != 2 {
		t.Fatalf("len(root.Parts) = %d, want 2", len(root.Parts))
	}

	alt := root.Parts[0]
	if alt.PartID != "0" || len(alt.Parts) != 2 {
		t.Fatalf("unexpected alternative part: id=%q parts=%d", alt.PartID, len(alt.Parts))
	}
	plain := alt.Parts[0]
	if plain.PartID != "0.0" || plain.MimeType != "text/plain" {
		t.Fatalf("unexpected plain part: %+v", plain)
	}
	if !strings.HasPrefix(string(plain.Data), "Hello") {
		t.Fatalf("plain body = %q", plain.Data)
	}

	img := root.Parts[1]
	if img.MimeType != "image/png" || img.Filename != "pixel.png" {
		t.Fatalf("unexpected image part: %q %q", img.MimeType, img.Filename)
	}
	if img.Header("Content-ID") != "<img1>" {
		t.Fatalf("content-id = %q", img.Header("Content-ID"))
	}
	if img.Size == 0 || string(img.Data[1:4]) != "PNG" {
		t.Fatalf("image bytes were not base64 decoded")
	}
}

func TestParseCharsetAndAttachment(t *testing.T) {
	root := load(t, "html_with_attachment.eml")

	if got := root.Header("Subject"); got != "Café shoot" {
		t.Fatalf("subject = %q, want decoded encoded-word", got)
	}
	html := root.Parts[0]
	if !strings.Contains(string(html.Data), "Café at noon?") {
		t.Fatalf("html body = %q, want charset decoded", html.Data)
	}
	pdf := root.Parts[1]
	if pdf.Filename != "contract.pdf" || pdf.MimeType != "application/pdf" {
		t.Fatalf("unexpected attachment: %+v", pdf)
	}
	if string(pdf.Data) != "%PDF-1.4\n" {
		t.Fatalf("attachment data = %q", pdf.Data)
	}
}
