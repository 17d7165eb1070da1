// Copyright 2024-2026 Aiku AI

// Package msgfmt converts rendered markdown notifications to Matrix message
// content.
package msgfmt

import (
	"bytes"
	"html"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"
)

// Parse converts a markdown message to an m.text event with a plain body
// and, when the markdown produces formatting, an HTML formatted body.
// Single newlines become line breaks.
func Parse(text string) *event.MessageEventContent {
	if strings.TrimSpace(text) == "" {
		return &event.MessageEventContent{MsgType: event.MsgText, Body: text}
	}
	content := format.RenderMarkdown(strings.TrimRight(text, "\n"), true, true)
	content.MsgType = event.MsgText
	return &content
}

// WithImage appends an inline image to the formatted body of content.
func WithImage(content *event.MessageEventContent, uri id.ContentURI, alt string) {
	if uri.IsEmpty() {
		return
	}
	if content.Format != event.FormatHTML || content.FormattedBody == "" {
		content.Format = event.FormatHTML
		content.FormattedBody = strings.ReplaceAll(html.EscapeString(content.Body), "\n", "<br/>")
	}
	content.FormattedBody += `<br/><img src="` + html.EscapeString(uri.String()) + `" alt="` + html.EscapeString(alt) + `">`
}

// ImageContent builds an m.image event for an uploaded image. Dimensions
// are read from the image header; undecodable data is sent without them.
func ImageContent(uri id.ContentURI, filename string, data []byte) *event.MessageEventContent {
	info := &event.FileInfo{
		MimeType: http.DetectContentType(data),
		Size:     len(data),
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		info.Width = cfg.Width
		info.Height = cfg.Height
	}
	return &event.MessageEventContent{
		MsgType: event.MsgImage,
		Body:    filename,
		URL:     uri.CUString(),
		Info:    info,
	}
}
