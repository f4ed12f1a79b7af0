package gmail

import (
	"encoding/base64"
	"strings"

	"agency-crm-backend/internal/mailsync/domain"

	"google.golang.org/api/gmail/v1"
)

func convertPart(p *gmail.MessagePart) *domain.MessagePart {
	if p == nil {
		return nil
	}
	out := &domain.MessagePart{
		PartID:   p.PartId,
		MimeType: strings.ToLower(p.MimeType),
		Filename: p.Filename,
	}
	for _, h := range p.Headers {
		out.Headers = append(out.Headers, domain.Header{Name: h.Name, Value: h.Value})
	}
	if p.Body != nil {
		out.AttachmentID = p.Body.AttachmentId
		out.Size = p.Body.Size
		if p.Body.Data != "" {
			if data, err := decodeBase64URL(p.Body.Data); err == nil {
				out.Data = data
			}
		}
	}
	for _, child := range p.Parts {
		out.Parts = append(out.Parts, convertPart(child))
	}
	return out
}

func hasContent(p *domain.MessagePart) bool {
	if p == nil {
		return false
	}
	if len(p.Data) > 0 || p.AttachmentID != "" {
		return true
	}
	for _, child := range p.Parts {
		if hasContent(child) {
			return true
		}
	}
	return false
}

// decodeBase64URL accepts both padded and unpadded URL-safe base64.
func decodeBase64URL(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
