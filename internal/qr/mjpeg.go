package qr

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
)

// OpenMJPEG returns an opener for an HTTP camera publishing multipart/x-mixed-replace JPEG frames.
func OpenMJPEG(client *http.Client, url string) Opener {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) (FrameSource, error) {
		req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoCamera, err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoCamera, err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %s", ErrCameraDenied, resp.Status)
		case resp.StatusCode >= 300:
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %s", ErrNoCamera, resp.Status)
		}

		mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
		if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: stream is not multipart", ErrNoCamera)
		}
		return &mjpegSource{body: resp.Body, parts: multipart.NewReader(resp.Body, params["boundary"])}, nil
	}
}

type mjpegSource struct {
	body  io.ReadCloser
	parts *multipart.Reader
}

func (s *mjpegSource) Next(ctx context.Context) (image.Image, error) {
	// Closing the body unblocks a pending read when the scan is cancelled.
	stop := context.AfterFunc(ctx, func() { s.body.Close() })
	defer stop()

	part, err := s.parts.NextPart()
	if err != nil {
		return nil, err
	}
	defer part.Close()

	img, _, err := image.Decode(part)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	return img, nil
}

func (s *mjpegSource) Close() error {
	return s.body.Close()
}
