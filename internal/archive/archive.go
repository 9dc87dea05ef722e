// Package archive mirrors downloaded episode audio into S3-compatible
// object storage. The mirror is best-effort: the pipeline never fails
// because of it.
package archive

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// Uploader copies audio files into a bucket, keyed by the media URL's path.
type Uploader struct {
	client *minio.Client
	bucket string
}

// NewFromEnv builds an uploader from MINIO_ENDPOINT, MINIO_ACCESS_KEY,
// MINIO_SECRET_KEY and MINIO_BUCKET. It returns (nil, nil) when no endpoint
// is configured, which disables archiving.
func NewFromEnv() (*Uploader, error) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		return nil, nil
	}

	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when MINIO_ENDPOINT is set")
	}

	bucket := os.Getenv("MINIO_BUCKET")
	if bucket == "" {
		bucket = "feedscribe-audio"
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid MINIO_ENDPOINT %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid MINIO_ENDPOINT scheme %q: must be http or https", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid MINIO_ENDPOINT %q: missing hostname", endpoint)
	}

	client, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client for %s: %w", u.Host, err)
	}

	logrus.WithFields(logrus.Fields{
		"endpoint": u.Host,
		"bucket":   bucket,
	}).Info("Audio archive mirror enabled")

	return &Uploader{client: client, bucket: bucket}, nil
}

// ArchiveAudio uploads a local audio file under an object name derived from
// the media URL. Re-uploading the same episode overwrites the same object,
// so retried pipeline passes stay idempotent at the mirror too.
func (u *Uploader) ArchiveAudio(ctx context.Context, mediaURL, localPath string) error {
	objectName, err := objectNameFor(mediaURL)
	if err != nil {
		return err
	}

	info, err := u.client.FPutObject(ctx, u.bucket, objectName, localPath, minio.PutObjectOptions{
		ContentType: "audio/mpeg",
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", objectName, err)
	}

	logrus.WithFields(logrus.Fields{
		"object": objectName,
		"size":   info.Size,
	}).Debug("Archived episode audio")

	return nil
}

// objectNameFor maps a media URL to a stable object name: host plus path.
func objectNameFor(mediaURL string) (string, error) {
	u, err := url.Parse(mediaURL)
	if err != nil {
		return "", fmt.Errorf("invalid media URL: %w", err)
	}
	if u.Host == "" || u.Path == "" {
		return "", fmt.Errorf("media URL %q has no host or path", mediaURL)
	}
	return path.Join(u.Host, u.Path), nil
}
