package usecase

import (
	"context"
	"fmt"
	"mime"
	"strings"

	"agency-crm-backend/internal/mailsync/domain"
	"agency-crm-backend/pkg/mailtext"
	"agency-crm-backend/pkg/storage"

	"github.com/rs/zerolog/log"
)

// ExtractedContent is the normalized body of a message.
type ExtractedContent struct {
	Text   string
	HTML   *string
	Assets domain.MessageAssets
}

// Empty reports whether neither a text nor an HTML body was found.
func (c *ExtractedContent) Empty() bool {
	return strings.TrimSpace(c.Text) == "" && (c.HTML == nil || strings.TrimSpace(*c.HTML) == "")
}

// ContentExtractor turns a message part tree into text, HTML and re-hosted assets.
type ContentExtractor struct {
	uploader storage.Uploader
}

func NewContentExtractor(uploader storage.Uploader) *ContentExtractor {
	return &ContentExtractor{uploader: uploader}
}

type bodyCandidates struct {
	plain    *domain.MessagePart
	html     *domain.MessagePart
	embedded []*domain.MessagePart
	attached []*domain.MessagePart
}

func (e *ContentExtractor) Extract(ctx context.Context, fetcher AttachmentFetcher, msg *domain.ProviderMessage) (*ExtractedContent, error) {
	if msg == nil || msg.Payload == nil {
		return &ExtractedContent{}, nil
	}

	var found bodyCandidates
	collect(msg.Payload, &found)

	out := &ExtractedContent{Assets: domain.MessageAssets{}}

	if found.plain != nil {
		plain, err := partBytes(ctx, fetcher, msg.ID, found.plain)
		if err != nil {
			return nil, err
		}
		out.Text = mailtext.StripQuotedReply(string(plain))
	}
	if found.html != nil {
		html, err := partBytes(ctx, fetcher, msg.ID, found.html)
		if err != nil {
			return nil, err
		}
		body := string(html)
		out.HTML = &body
		if out.Text == "" {
			out.Text = mailtext.StripQuotedReply(mailtext.HTMLToText(body))
		}
	}

	for _, part := range found.embedded {
		asset, err := e.rehost(ctx, fetcher, msg.ID, part)
		if err != nil {
			// The message is still stored, only this image is lost.
			log.Warn().Err(err).Str("message_id", msg.ID).Str("content_id", asset.ContentID).Msg("[Extractor] embedded asset upload failed")
			continue
		}
		out.Assets = append(out.Assets, asset)
	}

	for _, part := range found.attached {
		out.Assets = append(out.Assets, domain.MessageAsset{
			Kind:               domain.AssetAttachment,
			MimeType:           part.MimeType,
			SizeBytes:          partSize(part),
			SourceAttachmentID: part.AttachmentID,
			Filename:           part.Filename,
			ContentID:          contentID(part),
		})
	}

	return out, nil
}

// collect walks the tree depth-first, keeping the first plain and html bodies.
func collect(p *domain.MessagePart, found *bodyCandidates) {
	if p == nil {
		return
	}
	if len(p.Parts) > 0 || strings.HasPrefix(p.MimeType, "multipart/") {
		for _, child := range p.Parts {
			collect(child, found)
		}
		return
	}

	switch {
	case isEmbeddedImage(p):
		found.embedded = append(found.embedded, p)
	case p.MimeType == "text/plain" && !isAttachment(p):
		if found.plain == nil {
			found.plain = p
		}
	case p.MimeType == "text/html" && !isAttachment(p):
		if found.html == nil {
			found.html = p
		}
	case p.Filename != "":
		found.attached = append(found.attached, p)
	}
}

func isEmbeddedImage(p *domain.MessagePart) bool {
	if !strings.HasPrefix(p.MimeType, "image/") {
		return false
	}
	return disposition(p) == "inline" || contentID(p) != ""
}

func isAttachment(p *domain.MessagePart) bool {
	return disposition(p) == "attachment" && p.Filename != ""
}

func disposition(p *domain.MessagePart) string {
	d, _, err := mime.ParseMediaType(p.Header("Content-Disposition"))
	if err != nil {
		return ""
	}
	return strings.ToLower(d)
}

func contentID(p *domain.MessagePart) string {
	return strings.Trim(strings.TrimSpace(p.Header("Content-ID")), "<>")
}

func partSize(p *domain.MessagePart) int64 {
	if p.Size > 0 {
		return p.Size
	}
	return int64(len(p.Data))
}

func partBytes(ctx context.Context, fetcher AttachmentFetcher, messageID string, p *domain.MessagePart) ([]byte, error) {
	if len(p.Data) > 0 || p.AttachmentID == "" {
		return p.Data, nil
	}
	if fetcher == nil {
		return nil, fmt.Errorf("part %s has no inline data and no fetcher", p.PartID)
	}
	data, err := fetcher.GetAttachment(ctx, messageID, p.AttachmentID)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch part %s: %w", p.PartID, err)
	}
	return data, nil
}

func (e *ContentExtractor) rehost(ctx context.Context, fetcher AttachmentFetcher, messageID string, p *domain.MessagePart) (domain.MessageAsset, error) {
	asset := domain.MessageAsset{
		Kind:               domain.AssetEmbedded,
		ContentID:          contentID(p),
		MimeType:           p.MimeType,
		SourceAttachmentID: p.AttachmentID,
		Filename:           p.Filename,
	}
	if e.uploader == nil {
		return asset, fmt.Errorf("no blob storage configured")
	}

	data, err := partBytes(ctx, fetcher, messageID, p)
	if err != nil {
		return asset, err
	}
	asset.SizeBytes = int64(len(data))

	url, err := e.uploader.Upload(ctx, data, assetName(p, asset.ContentID), p.MimeType)
	if err != nil {
		return asset, err
	}
	asset.URL = url
	return asset, nil
}

func assetName(p *domain.MessagePart, cid string) string {
	if p.Filename != "" {
		return p.Filename
	}
	name := cid
	if name == "" {
		name = "inline"
	}
	if exts, err := mime.ExtensionsByType(p.MimeType); err == nil && len(exts) > 0 {
		name += exts[0]
	}
	return name
}
