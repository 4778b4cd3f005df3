package rocforge

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/schollz/progressbar/v3"
)

// MirrorClient wraps the S3 client for the artifact mirror (any
// S3-compatible store: R2, MinIO, plain S3).
type MirrorClient struct {
	Client     *s3.Client
	BucketName string
	Prefix     string
}

// NewMirrorClient initializes a mirror client from configuration values.
func NewMirrorClient(cfg *Config) (*MirrorClient, error) {
	endpoint := cfg.Values["ROCFORGE_MIRROR_ENDPOINT"]
	accessKey := cfg.Values["ROCFORGE_MIRROR_ACCESS_KEY"]
	secretKey := cfg.Values["ROCFORGE_MIRROR_SECRET_KEY"]
	bucketName := cfg.Values["ROCFORGE_MIRROR_BUCKET"]

	if endpoint == "" || accessKey == "" || secretKey == "" || bucketName == "" {
		return nil, fmt.Errorf("mirror credentials missing in configuration (ROCFORGE_MIRROR_ENDPOINT, ROCFORGE_MIRROR_ACCESS_KEY, ROCFORGE_MIRROR_SECRET_KEY, ROCFORGE_MIRROR_BUCKET)")
	}

	region := cfg.Values["ROCFORGE_MIRROR_REGION"]
	if region == "" {
		region = "auto"
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: endpoint}, nil
	})

	options := []func(*config.LoadOptions) error{
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		config.WithRegion(region),
	}

	if Debug {
		options = append(options, config.WithClientLogMode(aws.LogSigning|aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := config.LoadDefaultConfig(context.TODO(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load mirror config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &MirrorClient{
		Client:     client,
		BucketName: bucketName,
		Prefix:     cfg.Values["ROCFORGE_MIRROR_PREFIX"],
	}, nil
}

func contentTypeForKey(key string) string {
	switch {
	case strings.HasSuffix(key, ".whl"):
		return "application/zip"
	case strings.HasSuffix(key, ".zst"):
		return "application/zstd"
	case strings.HasSuffix(key, ".gz"):
		return "application/gzip"
	}
	return "application/octet-stream"
}

// UploadLocalFile uploads a file from disk to the mirror, rendering byte
// progress on the terminal (wheels run to a couple of GiB).
func (m *MirrorClient) UploadLocalFile(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	bar := progressbar.DefaultBytes(stat.Size(), filepath.Base(filePath))
	defer bar.Close()
	body := io.TeeReader(file, bar)

	_, err = m.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.BucketName),
		Key:           aws.String(m.Prefix + key),
		Body:          body,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String(contentTypeForKey(key)),
	})
	return err
}

// MirrorObject represents metadata for an object on the mirror.
type MirrorObject struct {
	Key  string
	Size int64
}

// ListObjects returns the objects on the mirror under the configured prefix.
func (m *MirrorClient) ListObjects(ctx context.Context) ([]MirrorObject, error) {
	var objects []MirrorObject
	paginator := s3.NewListObjectsV2Paginator(m.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.BucketName),
		Prefix: aws.String(m.Prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			objects = append(objects, MirrorObject{
				Key:  *obj.Key,
				Size: *obj.Size,
			})
		}
	}
	return objects, nil
}

// handleUploadCommand pushes artifacts to the mirror. With no arguments it
// uploads the newest wheel plus the checksum manifest; explicit file paths
// override that set.
func handleUploadCommand(ctx context.Context, args []string, cfg *Config) error {
	client, err := NewMirrorClient(cfg)
	if err != nil {
		return err
	}

	var files []string
	if len(args) > 0 {
		files = args
	} else {
		wheel, err := newestWheel(distDir)
		if err != nil {
			return fmt.Errorf("nothing to upload: %w", err)
		}
		files = []string{wheel}
		manifest := filepath.Join(distDir, checksumManifest)
		if _, err := os.Stat(manifest); err != nil {
			// Artifacts must never reach the mirror without a verifiable hash.
			if err := writeChecksumManifest(distDir); err != nil {
				return err
			}
		}
		files = append(files, manifest)
	}

	for _, path := range files {
		key := filepath.Base(path)
		colArrow.Print("-> ")
		colSuccess.Printf("Uploading %s\n", key)
		if err := client.UploadLocalFile(ctx, key, path); err != nil {
			return fmt.Errorf("upload of %s failed: %w", key, err)
		}
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Uploaded %d file(s) to %s\n", len(files), client.BucketName)
	return nil
}
