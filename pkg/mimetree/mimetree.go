// Package mimetree turns a raw RFC 5322 message into the provider-neutral part tree.
package mimetree

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"agency-crm-backend/internal/mailsync/domain"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
)

// Parse reads a raw message. Transfer encodings and known charsets are decoded.
func Parse(raw []byte) (*domain.MessagePart, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("unable to parse message: %w", err)
	}
	return walk(entity, "")
}

func walk(e *message.Entity, partID string) (*domain.MessagePart, error) {
	mediaType, params, _ := e.Header.ContentType()
	if mediaType == "" {
		mediaType = "text/plain"
	}

	part := &domain.MessagePart{
		PartID:   partID,
		MimeType: strings.ToLower(mediaType),
		Headers:  headers(e.Header),
	}

	_, dispParams, _ := e.Header.ContentDisposition()
	part.Filename = dispParams["filename"]
	if part.Filename == "" {
		part.Filename = params["name"]
	}

	if mr := e.MultipartReader(); mr != nil {
		for i := 0; ; i++ {
			child, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil && !message.IsUnknownCharset(err) {
				return nil, fmt.Errorf("unable to read part %d: %w", i, err)
			}
			childID := fmt.Sprintf("%d", i)
			if partID != "" {
				childID = partID + "." + childID
			}
			sub, err := walk(child, childID)
			if err != nil {
				return nil, err
			}
			part.Parts = append(part.Parts, sub)
		}
		return part, nil
	}

	data, err := io.ReadAll(e.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read body of part %q: %w", partID, err)
	}
	part.Data = data
	part.Size = int64(len(data))
	return part, nil
}

func headers(h message.Header) []domain.Header {
	var out []domain.Header
	fields := h.Fields()
	for fields.Next() {
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		out = append(out, domain.Header{Name: fields.Key(), Value: value})
	}
	return out
}
