// Package upload stores classified frames in a cloud bucket, split into
// crosswalk / no-crosswalk prefixes for later retraining. Fire-and-forget:
// an upload failure is logged and never surfaces to the client.
package upload

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

var dataURLRe = regexp.MustCompile(`^data:([^;]+);base64,(.+)$`)

// GCS uploads frames to a Google Cloud Storage bucket.
type GCS struct {
	client            *storage.Client
	bucket            string
	crosswalkPrefix   string
	noCrosswalkPrefix string
	logger            *slog.Logger
}

// NewGCS creates an uploader, or returns nil when no bucket is configured so
// callers can treat uploads as disabled.
func NewGCS(ctx context.Context, bucket, crosswalkPrefix, noCrosswalkPrefix string, logger *slog.Logger) (*GCS, error) {
	if bucket == "" {
		return nil, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCS{
		client:            client,
		bucket:            bucket,
		crosswalkPrefix:   crosswalkPrefix,
		noCrosswalkPrefix: noCrosswalkPrefix,
		logger:            logger,
	}, nil
}

// UploadDataURL decodes a base64 data URL and writes it to the bucket under
// the prefix matching the classification. Returns the gs:// URI.
func (g *GCS) UploadDataURL(ctx context.Context, dataURL string, isCrosswalk bool) (string, error) {
	raw, mimeType, ext, err := parseDataURL(dataURL)
	if err != nil {
		return "", err
	}

	prefix := g.noCrosswalkPrefix
	if isCrosswalk {
		prefix = g.crosswalkPrefix
	}
	name := fmt.Sprintf("%s%d_%s.%s", prefix, time.Now().UnixMilli(), uuid.NewString(), ext)

	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = mimeType
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write object %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close object %s: %w", name, err)
	}

	uri := fmt.Sprintf("gs://%s/%s", g.bucket, name)
	g.logger.Info("uploaded frame", "uri", uri, "is_crosswalk", isCrosswalk)
	return uri, nil
}

// parseDataURL splits a data URL into raw bytes, mime type, and a file
// extension. Bare base64 without the data: header is accepted as JPEG.
func parseDataURL(dataURL string) (raw []byte, mimeType, ext string, err error) {
	mimeType = "image/jpeg"
	b64 := dataURL
	if m := dataURLRe.FindStringSubmatch(dataURL); m != nil {
		mimeType = m[1]
		b64 = m[2]
	} else if i := strings.IndexByte(dataURL, ','); i >= 0 {
		b64 = dataURL[i+1:]
	}

	raw, err = base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, "", "", fmt.Errorf("decode base64 image: %w", err)
	}

	switch {
	case strings.Contains(mimeType, "/png"):
		ext = "png"
	case strings.Contains(mimeType, "/webp"):
		ext = "webp"
	case strings.Contains(mimeType, "/gif"):
		ext = "gif"
	default:
		mimeType = "image/jpeg"
		ext = "jpg"
	}
	return raw, mimeType, ext, nil
}
