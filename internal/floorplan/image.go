// Package floorplan validates uploaded or downloaded floorplan images.
package floorplan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

// MaxImageBytes caps floorplans accepted from uploads and URLs.
const MaxImageBytes = 7 * 1024 * 1024

var (
	ErrEmpty           = errors.New("floorplan: empty image")
	ErrTooLarge        = fmt.Errorf("floorplan: image exceeds %d bytes", MaxImageBytes)
	ErrUnsupportedType = errors.New("floorplan: only png, jpg, jpeg and gif images are supported")
	ErrCorrupt         = errors.New("floorplan: image could not be decoded")
	ErrFetch           = errors.New("floorplan: could not download image")
)

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
}

// Image is a decoded-and-checked floorplan.
type Image struct {
	Data     []byte `json:"-"`
	Filename string `json:"filename,omitempty"`
	MIMEType string `json:"mime_type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Size returns the image length in bytes.
func (i Image) Size() int64 {
	return int64(len(i.Data))
}

// Extension returns the canonical file extension for the image type.
func (i Image) Extension() string {
	return extensions[i.MIMEType]
}

// Decode sniffs the content type from the bytes and reads the image header.
func Decode(data []byte, filename string) (Image, error) {
	if len(data) == 0 {
		return Image{}, ErrEmpty
	}
	if len(data) > MaxImageBytes {
		return Image{}, ErrTooLarge
	}

	mime := http.DetectContentType(data)
	if _, ok := extensions[mime]; !ok {
		return Image{}, fmt.Errorf("%w (got %s)", ErrUnsupportedType, mime)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return Image{
		Data:     data,
		Filename: filepath.Base(strings.TrimSpace(filename)),
		MIMEType: mime,
		Width:    cfg.Width,
		Height:   cfg.Height,
	}, nil
}

// Read consumes at most MaxImageBytes+1 bytes from r and decodes them.
func Read(r io.Reader, filename string) (Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return Image{}, fmt.Errorf("floorplan: read image: %w", err)
	}
	return Decode(data, filename)
}

// Fetch downloads a floorplan from imageURL.
func Fetch(ctx context.Context, client *http.Client, imageURL string) (Image, error) {
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return Image{}, fmt.Errorf("floorplan: empty image URL")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return Image{}, fmt.Errorf("floorplan: fetch %s: %w", imageURL, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return Image{}, fmt.Errorf("%w: status %d", ErrFetch, resp.StatusCode)
	}

	name := filepath.Base(req.URL.Path)
	if name == "." || name == "/" {
		name = ""
	}
	return Read(resp.Body, name)
}
