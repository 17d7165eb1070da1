// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Transport is the subset of the Matrix client API used for notifications.
type Transport interface {
	ResolveAlias(ctx context.Context, alias id.RoomAlias) (id.RoomID, error)
	SendEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, content any) (id.EventID, error)
	UploadMedia(ctx context.Context, data []byte, filename, contentType string) (id.ContentURI, error)
	WhoAmI(ctx context.Context) (id.UserID, error)
}

// TransportFactory builds a Transport from the current config.
type TransportFactory func(cfg *Config, log zerolog.Logger) (Transport, error)

// matrixTransport implements Transport with a mautrix client.
type matrixTransport struct {
	client *mautrix.Client
	token  string
	log    zerolog.Logger
}

var _ Transport = (*matrixTransport)(nil)

// BuildTransport creates a Transport for the homeserver and token in cfg.
// It is called for every send so credential changes apply immediately.
func BuildTransport(cfg *Config, log zerolog.Logger) (Transport, error) {
	if cfg.Homeserver == "" {
		return nil, &ConfigError{Field: "homeserver", Message: "no homeserver configured"}
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.Username), cfg.AccessToken)
	if err != nil {
		return nil, &ConfigError{Field: "homeserver", Message: "invalid homeserver URL", Err: err}
	}
	log = log.With().Str("component", "matrix").Logger()
	client.Log = log
	return &matrixTransport{client: client, token: cfg.AccessToken, log: log}, nil
}

// redactToken replaces every occurrence of token in s.
func redactToken(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "...")
}

func (t *matrixTransport) logRequest(method string, urlPath ...any) {
	url := t.client.BuildClientURL(urlPath...)
	t.log.Debug().
		Str("method", method).
		Str("url", redactToken(url, t.token)).
		Msg("Matrix request")
}

func (t *matrixTransport) ResolveAlias(ctx context.Context, alias id.RoomAlias) (id.RoomID, error) {
	t.logRequest("GET", "v3", "directory", "room", alias)
	resp, err := t.client.ResolveAlias(ctx, alias)
	if err != nil {
		return "", newNetworkError("resolve alias "+string(alias), err)
	}
	if resp.RoomID == "" {
		return "", &NetworkError{Op: "resolve alias " + string(alias), Err: fmt.Errorf("response without room_id")}
	}
	return resp.RoomID, nil
}

func (t *matrixTransport) SendEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, content any) (id.EventID, error) {
	txnID := uuid.NewString()
	t.logRequest("PUT", "v3", "rooms", roomID, "send", eventType.String(), txnID)
	resp, err := t.client.SendMessageEvent(ctx, roomID, eventType, content, mautrix.ReqSendEvent{TransactionID: txnID})
	if err != nil {
		return "", newNetworkError("send event to "+string(roomID), err)
	}
	return resp.EventID, nil
}

func (t *matrixTransport) UploadMedia(ctx context.Context, data []byte, filename, contentType string) (id.ContentURI, error) {
	t.log.Debug().
		Str("filename", filename).
		Str("content_type", contentType).
		Int("size", len(data)).
		Msg("Uploading media")
	resp, err := t.client.UploadBytesWithName(ctx, data, contentType, filename)
	if err != nil {
		return id.ContentURI{}, &UploadError{Filename: filename, Err: newNetworkError("upload "+filename, err)}
	}
	if resp.ContentURI.IsEmpty() {
		return id.ContentURI{}, &UploadError{Filename: filename, Err: fmt.Errorf("response without content_uri")}
	}
	return resp.ContentURI, nil
}

func (t *matrixTransport) WhoAmI(ctx context.Context) (id.UserID, error) {
	if t.token == "" {
		return "", &ConfigError{Field: "access_token", Message: "no access token is set"}
	}
	t.logRequest("GET", "v3", "account", "whoami")
	resp, err := t.client.Whoami(ctx)
	if err != nil {
		return "", newNetworkError("whoami", err)
	}
	return resp.UserID, nil
}
