// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package notifier posts OctoPrint print notifications to a Matrix room.
//
// Host events (print started, done, failed, paused, progress ticks) are
// filtered against the configured event templates, rendered with printer
// telemetry and sent to a single room, optionally with a webcam snapshot.
// Events arrive from the OctoPrint push socket or from the webhook API at
// POST /api/event and POST /api/progress.
//
// # Core Types
//
// [Notifier] runs the notification pipeline and implements the host
// capability interfaces ([EventHandler], [ProgressHandler],
// [SettingsProvider], [TemplateProvider], [StartupHandler]).
//
// [Transport] is the Matrix client API the notifier needs. [BuildTransport]
// creates one from the current config for every send, so credential changes
// apply without a restart.
//
// [Snapshotter] answers capture requests on the [Bus]. The notifier
// subscribes to the result signals before requesting a capture and consumes
// exactly one result per request.
//
// [Service] wires everything to the host and serves the webhook API.
//
// # Sub-packages
//
//   - msgfmt converts rendered markdown to Matrix message content.
package notifier
