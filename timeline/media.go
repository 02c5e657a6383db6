// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/abekugithub/matrix/lib/netutil"
	"github.com/abekugithub/matrix/messaging"
)

// Resolver turns a MediaReference into a locally usable byte stream.
// Resolution is lazy — the view calls it only when a media message is
// about to be displayed — and nothing is cached here; if the renderer
// wants the bytes again it keeps the handle itself.
type Resolver struct {
	session   *messaging.Session
	decryptor messaging.Decryptor
	logger    *slog.Logger

	// Bounded thumbnail dimensions requested from the server.
	thumbnailWidth  int
	thumbnailHeight int
}

// NewResolver constructs a media resolver. decryptor may be nil for
// conversations without encryption; resolving an encrypted reference
// then fails. Zero thumbnail dimensions default to 640x480.
func NewResolver(session *messaging.Session, decryptor messaging.Decryptor, logger *slog.Logger, thumbnailWidth, thumbnailHeight int) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if thumbnailWidth <= 0 {
		thumbnailWidth = 640
	}
	if thumbnailHeight <= 0 {
		thumbnailHeight = 480
	}
	return &Resolver{
		session:         session,
		decryptor:       decryptor,
		logger:          logger,
		thumbnailWidth:  thumbnailWidth,
		thumbnailHeight: thumbnailHeight,
	}
}

// Resolve fetches the full-resolution content behind a reference.
//
// Encrypted references have exactly one legitimate source: fetch the
// ciphertext from the authenticated endpoint and decrypt it through
// the crypto collaborator. Any failure there is terminal for the
// attempt. Plaintext references try the authenticated download
// endpoint first and fall back to the legacy endpoint for homeservers
// that predate it.
func (r *Resolver) Resolve(ctx context.Context, reference MediaReference) (io.ReadCloser, error) {
	if reference.IsZero() {
		return nil, fmt.Errorf("timeline: media reference is empty")
	}
	if reference.Encrypted() {
		return r.resolveEncrypted(ctx, reference.File)
	}
	return r.resolvePlaintext(ctx, reference.URL)
}

// ResolveThumbnail fetches a bounded-size rendition of a media
// message. A thumbnail failure of any sort falls back to the
// full-resolution source before giving up.
func (r *Resolver) ResolveThumbnail(ctx context.Context, payload *MediaPayload) (io.ReadCloser, error) {
	if payload == nil {
		return nil, fmt.Errorf("timeline: nil media payload")
	}
	if !payload.Thumbnail.IsZero() {
		stream, err := r.resolveThumbnailReference(ctx, payload.Thumbnail)
		if err == nil {
			return stream, nil
		}
		r.logger.Debug("thumbnail resolution failed, falling back to full resolution",
			"locator", payload.Thumbnail.Locator(),
			"error", err,
		)
	}
	return r.Resolve(ctx, payload.Source)
}

func (r *Resolver) resolveEncrypted(ctx context.Context, file *messaging.EncryptedFile) (io.ReadCloser, error) {
	if r.decryptor == nil {
		return nil, fmt.Errorf("timeline: encrypted media %q with no crypto collaborator", file.URL)
	}
	mxc, err := messaging.ParseMXC(file.URL)
	if err != nil {
		return nil, fmt.Errorf("timeline: encrypted media locator: %w", err)
	}

	stream, err := r.session.DownloadMedia(ctx, mxc)
	if err != nil {
		return nil, fmt.Errorf("timeline: encrypted media fetch: %w", err)
	}
	defer stream.Close()
	ciphertext, err := netutil.ReadResponse(stream)
	if err != nil {
		return nil, fmt.Errorf("timeline: encrypted media read: %w", err)
	}

	plaintext, err := r.decryptor.DecryptAttachment(ciphertext, file)
	if err != nil {
		return nil, fmt.Errorf("timeline: attachment decryption: %w", err)
	}
	return io.NopCloser(bytes.NewReader(plaintext)), nil
}

func (r *Resolver) resolvePlaintext(ctx context.Context, locator string) (io.ReadCloser, error) {
	mxc, err := messaging.ParseMXC(locator)
	if err != nil {
		return nil, fmt.Errorf("timeline: media locator: %w", err)
	}

	stream, primaryErr := r.session.DownloadMedia(ctx, mxc)
	if primaryErr == nil {
		return stream, nil
	}
	r.logger.Debug("authenticated media download failed, trying legacy endpoint",
		"locator", locator,
		"error", primaryErr,
	)

	stream, legacyErr := r.session.DownloadMediaLegacy(ctx, mxc)
	if legacyErr == nil {
		return stream, nil
	}
	return nil, fmt.Errorf("timeline: media %q unavailable on both endpoints (authenticated: %v): %w",
		locator, primaryErr, legacyErr)
}

func (r *Resolver) resolveThumbnailReference(ctx context.Context, reference MediaReference) (io.ReadCloser, error) {
	// Encrypted thumbnails are complete encrypted files of their own;
	// the server cannot scale ciphertext, so dimensions do not apply.
	if reference.Encrypted() {
		return r.resolveEncrypted(ctx, reference.File)
	}

	mxc, err := messaging.ParseMXC(reference.URL)
	if err != nil {
		return nil, fmt.Errorf("timeline: thumbnail locator: %w", err)
	}
	options := messaging.ThumbnailOptions{
		Width:  r.thumbnailWidth,
		Height: r.thumbnailHeight,
	}

	stream, primaryErr := r.session.DownloadThumbnail(ctx, mxc, options)
	if primaryErr == nil {
		return stream, nil
	}
	stream, legacyErr := r.session.DownloadThumbnailLegacy(ctx, mxc, options)
	if legacyErr == nil {
		return stream, nil
	}
	return nil, fmt.Errorf("timeline: thumbnail %q unavailable on both endpoints (authenticated: %v): %w",
		reference.URL, primaryErr, legacyErr)
}
