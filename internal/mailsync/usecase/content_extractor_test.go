package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"agency-crm-backend/internal/mailsync/domain"
	"agency-crm-backend/pkg/mimetree"
)

func loadFixture(t *testing.T, name string) *domain.ProviderMessage {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("..", "..", "..", "pkg", "mimetree", "testdata", name))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	root, err := mimetree.Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return &domain.ProviderMessage{ID: "M1", Payload: root}
}

func TestExtractInlineImage(t *testing.T) {
	uploader := &fakeUploader{}
	extractor := NewContentExtractor(uploader)

	got, err := extractor.Extract(context.Background(), nil, loadFixture(t, "inline_image.eml"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.Text != "Hello" {
		t.Errorf("Text = %q, want %q", got.Text, "Hello")
	}
	if got.HTML == nil || strings.TrimSpace(*got.HTML) != `<p>Hello</p><img src="cid:img1">` {
		t.Errorf("HTML = %v", got.HTML)
	}
	embedded := got.Assets.Embedded()
	if len(embedded) != 1 {
		t.Fatalf("embedded assets = %+v, want exactly one", got.Assets)
	}
	if embedded[0].ContentID != "img1" || embedded[0].MimeType != "image/png" || embedded[0].URL == "" || embedded[0].SizeBytes == 0 {
		t.Errorf("unexpected asset %+v", embedded[0])
	}
}

func TestExtractUploadFailureKeepsMessage(t *testing.T) {
	extractor := NewContentExtractor(&fakeUploader{err: errors.New("bucket unavailable")})

	got, err := extractor.Extract(context.Background(), nil, loadFixture(t, "inline_image.eml"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.Text != "Hello" {
		t.Errorf("Text = %q", got.Text)
	}
	if len(got.Assets.Embedded()) != 0 {
		t.Errorf("failed upload should drop the asset, got %+v", got.Assets)
	}
}

func TestExtractHTMLOnlyWithAttachment(t *testing.T) {
	extractor := NewContentExtractor(&fakeUploader{})

	got, err := extractor.Extract(context.Background(), nil, loadFixture(t, "html_with_attachment.eml"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.Text == "" || got.HTML == nil {
		t.Fatalf("expected text derived from html, got %+v", got)
	}
	var found bool
	for _, a := range got.Assets {
		if a.Kind == domain.AssetAttachment && a.Filename == "contract.pdf" {
			found = true
		}
	}
	if !found {
		t.Errorf("contract.pdf not listed in %+v", got.Assets)
	}
}

func TestExtractFetchesAttachmentBodies(t *testing.T) {
	provider := newFakeProvider()
	provider.attachments["att-1"] = []byte("png-bytes")
	msg := &domain.ProviderMessage{
		ID: "M9",
		Payload: &domain.MessagePart{
			MimeType: "multipart/related",
			Parts: []*domain.MessagePart{
				{PartID: "0", MimeType: "text/plain", Data: []byte("Body text")},
				{
					PartID:       "1",
					MimeType:     "image/png",
					AttachmentID: "att-1",
					Headers:      []domain.Header{{Name: "Content-ID", Value: "<logo>"}},
				},
			},
		},
	}

	uploader := &fakeUploader{}
	got, err := NewContentExtractor(uploader).Extract(context.Background(), provider, msg)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.Text != "Body text" || got.HTML != nil {
		t.Errorf("unexpected body: %+v", got)
	}
	if len(got.Assets) != 1 || got.Assets[0].ContentID != "logo" || got.Assets[0].SizeBytes != int64(len("png-bytes")) {
		t.Fatalf("assets = %+v", got.Assets)
	}
	if len(uploader.names) != 1 {
		t.Errorf("uploads = %v", uploader.names)
	}
}

func TestExtractEmpty(t *testing.T) {
	msg := &domain.ProviderMessage{ID: "M2", Payload: &domain.MessagePart{MimeType: "multipart/mixed"}}
	got, err := NewContentExtractor(nil).Extract(context.Background(), nil, msg)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !got.Empty() {
		t.Errorf("Empty() = false for %+v", got)
	}
}
