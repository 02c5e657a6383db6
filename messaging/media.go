// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
)

// MXC is a parsed mxc:// content URI.
type MXC struct {
	ServerName string
	MediaID    string
}

// ParseMXC parses an "mxc://server/mediaID" content URI.
func ParseMXC(uri string) (MXC, error) {
	rest, found := strings.CutPrefix(uri, "mxc://")
	if !found {
		return MXC{}, fmt.Errorf("messaging: content URI %q does not start with mxc://", uri)
	}
	serverName, mediaID, found := strings.Cut(rest, "/")
	if !found || serverName == "" || mediaID == "" || strings.Contains(mediaID, "/") {
		return MXC{}, fmt.Errorf("messaging: malformed content URI %q", uri)
	}
	return MXC{ServerName: serverName, MediaID: mediaID}, nil
}

// ThumbnailOptions selects the size of a server-generated thumbnail.
type ThumbnailOptions struct {
	Width  int
	Height int
	Method string // "scale" or "crop"; defaults to "scale"
}

func (o ThumbnailOptions) query() url.Values {
	method := o.Method
	if method == "" {
		method = "scale"
	}
	return url.Values{
		"width":  []string{strconv.Itoa(o.Width)},
		"height": []string{strconv.Itoa(o.Height)},
		"method": []string{method},
	}
}

// DownloadMedia fetches media through the authenticated endpoint
// (GET /_matrix/client/v1/media/download). The caller must close the
// returned reader. Servers that predate authenticated media return
// M_UNRECOGNIZED or 404; fall back to DownloadMediaLegacy then.
func (s *Session) DownloadMedia(ctx context.Context, mxc MXC) (io.ReadCloser, error) {
	path := fmt.Sprintf("/_matrix/client/v1/media/download/%s/%s",
		url.PathEscape(mxc.ServerName), url.PathEscape(mxc.MediaID))
	body, err := s.client.doDownload(ctx, path, s.accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: authenticated media download of %s/%s failed: %w",
			mxc.ServerName, mxc.MediaID, err)
	}
	return body, nil
}

// DownloadMediaLegacy fetches media through the unauthenticated
// endpoint (GET /_matrix/media/v3/download). The caller must close
// the returned reader.
func (s *Session) DownloadMediaLegacy(ctx context.Context, mxc MXC) (io.ReadCloser, error) {
	path := fmt.Sprintf("/_matrix/media/v3/download/%s/%s",
		url.PathEscape(mxc.ServerName), url.PathEscape(mxc.MediaID))
	body, err := s.client.doDownload(ctx, path, "", nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: legacy media download of %s/%s failed: %w",
			mxc.ServerName, mxc.MediaID, err)
	}
	return body, nil
}

// DownloadThumbnail fetches a server-generated thumbnail through the
// authenticated endpoint. The caller must close the returned reader.
func (s *Session) DownloadThumbnail(ctx context.Context, mxc MXC, options ThumbnailOptions) (io.ReadCloser, error) {
	path := fmt.Sprintf("/_matrix/client/v1/media/thumbnail/%s/%s",
		url.PathEscape(mxc.ServerName), url.PathEscape(mxc.MediaID))
	body, err := s.client.doDownload(ctx, path, s.accessToken, options.query())
	if err != nil {
		return nil, fmt.Errorf("messaging: authenticated thumbnail download of %s/%s failed: %w",
			mxc.ServerName, mxc.MediaID, err)
	}
	return body, nil
}

// DownloadThumbnailLegacy fetches a thumbnail through the
// unauthenticated endpoint. The caller must close the returned reader.
func (s *Session) DownloadThumbnailLegacy(ctx context.Context, mxc MXC, options ThumbnailOptions) (io.ReadCloser, error) {
	path := fmt.Sprintf("/_matrix/media/v3/thumbnail/%s/%s",
		url.PathEscape(mxc.ServerName), url.PathEscape(mxc.MediaID))
	body, err := s.client.doDownload(ctx, path, "", options.query())
	if err != nil {
		return nil, fmt.Errorf("messaging: legacy thumbnail download of %s/%s failed: %w",
			mxc.ServerName, mxc.MediaID, err)
	}
	return body, nil
}
