// Package snapshot archives fetched metric tables to S3 so a report can be
// reproduced later without calling the connector again.
package snapshot

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ignite/adinsights/internal/pkg/logger"
	"github.com/ignite/adinsights/internal/windsor"
)

// ErrNotFound is returned when no snapshot exists for the requested range.
var ErrNotFound = errors.New("snapshot: not found")

// ObjectAPI is the subset of the S3 client the store uses.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Snapshot is a table plus the parameters that produced it.
type Snapshot struct {
	Platform    string         `json:"platform"`
	Dataset     string         `json:"dataset"`
	DateFrom    string         `json:"date_from"`
	DateTo      string         `json:"date_to"`
	Account     string         `json:"account,omitempty"`
	GeneratedAt time.Time      `json:"generated_at"`
	Table       *windsor.Table `json:"table"`
}

// Info describes a stored snapshot object.
type Info struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Store reads and writes snapshots under a bucket prefix.
type Store struct {
	client ObjectAPI
	bucket string
	prefix string
}

// NewStore wraps an S3 client.
func NewStore(client ObjectAPI, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// NewS3Store loads the default AWS config for region and builds a store.
func NewS3Store(ctx context.Context, bucket, region, prefix string) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for snapshot store: %w", err)
	}
	return NewStore(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string { return s.bucket }

// Ping checks the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("HeadBucket %s: %w", s.bucket, err)
	}
	return nil
}

// Key returns the object key for a snapshot. Accounts are hex encoded since
// they are free text.
func (s *Store) Key(platform, dataset, dateFrom, dateTo, account string) string {
	name := dateFrom + "_" + dateTo
	if account != "" {
		name += "_" + hex.EncodeToString([]byte(account))
	}
	return path.Join(s.prefix, platform, dataset, name+".json")
}

// Save writes snap and returns its key.
func (s *Store) Save(ctx context.Context, snap Snapshot) (string, error) {
	if snap.GeneratedAt.IsZero() {
		snap.GeneratedAt = time.Now().UTC()
	}
	key := s.Key(snap.Platform, snap.Dataset, snap.DateFrom, snap.DateTo, snap.Account)

	body, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshaling snapshot: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("S3 PutObject %s/%s: %w", s.bucket, key, err)
	}

	logger.Info("snapshot: saved",
		"key", key,
		"rows", snap.Table.Len(),
		"bytes", len(body),
	)
	return key, nil
}

// Load reads the snapshot for the given parameters.
func (s *Store) Load(ctx context.Context, platform, dataset, dateFrom, dateTo, account string) (*Snapshot, error) {
	key := s.Key(platform, dataset, dateFrom, dateTo, account)

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("S3 GetObject %s/%s: %w", s.bucket, key, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading S3 object body: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot %s: %w", key, err)
	}
	if snap.Table == nil {
		return nil, fmt.Errorf("snapshot %s has no table", key)
	}
	return &snap, nil
}

// List returns the snapshots stored for a platform dataset.
func (s *Store) List(ctx context.Context, platform, dataset string) ([]Info, error) {
	prefix := path.Join(s.prefix, platform, dataset) + "/"
	var out []Info

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	for {
		resp, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("S3 ListObjectsV2 %s/%s: %w", s.bucket, prefix, err)
		}
		for _, obj := range resp.Contents {
			out = append(out, Info{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
		if !aws.ToBool(resp.IsTruncated) {
			break
		}
		input.ContinuationToken = resp.NextContinuationToken
	}
	return out, nil
}
