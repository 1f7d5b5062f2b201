package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/adinsights/internal/windsor"
)

// memS3 is an in-memory ObjectAPI.
type memS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	pageSize int
	failPut  error
}

func newMemS3() *memS3 { return &memS3{objects: map[string][]byte{}, pageSize: 1000} }

func (m *memS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (m *memS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.failPut != nil {
		return nil, m.failPut
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if aws.ToString(in.Bucket) == "" {
		return nil, errors.New("bucket required")
	}
	return &s3.HeadBucketOutput{}, nil
}

func (m *memS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Prefix)
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, strings.TrimPrefix(k, aws.ToString(in.Bucket)+"/"))
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == aws.ToString(in.ContinuationToken) {
				start = i
			}
		}
	}
	end := start + m.pageSize
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	} else {
		end = len(keys)
	}
	now := time.Now()
	for _, k := range keys[start:end] {
		size := int64(len(m.objects[aws.ToString(in.Bucket)+"/"+k]))
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(size), LastModified: &now})
	}
	return out, nil
}

func sampleTable(t *testing.T) *windsor.Table {
	t.Helper()
	var tbl windsor.Table
	require.NoError(t, json.Unmarshal([]byte(`{"rows":1,"columns":[
		{"name":"date","kind":"date","dates":["2024-01-01"]},
		{"name":"spend","kind":"number","numbers":[42.5]}
	]}`), &tbl))
	return &tbl
}

func TestStore_SaveLoad(t *testing.T) {
	s3c := newMemS3()
	store := NewStore(s3c, "reports", "/windsor-snapshots/")
	ctx := context.Background()

	key, err := store.Save(ctx, Snapshot{
		Platform: "facebook", Dataset: "campaigns",
		DateFrom: "2024-01-01", DateTo: "2024-01-31",
		Account: "Acme Store",
		Table:   sampleTable(t),
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "windsor-snapshots/facebook/campaigns/2024-01-01_2024-01-31_"))
	assert.True(t, strings.HasSuffix(key, ".json"))
	assert.NotContains(t, key, " ")

	snap, err := store.Load(ctx, "facebook", "campaigns", "2024-01-01", "2024-01-31", "Acme Store")
	require.NoError(t, err)
	assert.Equal(t, "Acme Store", snap.Account)
	assert.False(t, snap.GeneratedAt.IsZero())
	assert.Equal(t, []float64{42.5}, snap.Table.Numbers("spend"))
}

func TestStore_LoadMissing(t *testing.T) {
	store := NewStore(newMemS3(), "reports", "snapshots")
	_, err := store.Load(context.Background(), "ga4", "traffic", "2024-01-01", "2024-01-31", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Ping(t *testing.T) {
	assert.NoError(t, NewStore(newMemS3(), "reports", "snapshots").Ping(context.Background()))
	assert.Error(t, NewStore(newMemS3(), "", "snapshots").Ping(context.Background()))
}

func TestStore_SaveError(t *testing.T) {
	s3c := newMemS3()
	s3c.failPut = errors.New("AccessDenied")
	store := NewStore(s3c, "reports", "snapshots")

	_, err := store.Save(context.Background(), Snapshot{Platform: "ga4", Dataset: "traffic", Table: sampleTable(t)})
	assert.ErrorContains(t, err, "AccessDenied")
}

func TestStore_ListPaginates(t *testing.T) {
	s3c := newMemS3()
	s3c.pageSize = 2
	store := NewStore(s3c, "reports", "snapshots")
	ctx := context.Background()

	for _, from := range []string{"2024-01-01", "2024-02-01", "2024-03-01"} {
		_, err := store.Save(ctx, Snapshot{Platform: "ga4", Dataset: "traffic", DateFrom: from, DateTo: "2024-12-31", Table: sampleTable(t)})
		require.NoError(t, err)
	}
	_, err := store.Save(ctx, Snapshot{Platform: "ga4", Dataset: "pages", DateFrom: "2024-01-01", DateTo: "2024-12-31", Table: sampleTable(t)})
	require.NoError(t, err)

	infos, err := store.List(ctx, "ga4", "traffic")
	require.NoError(t, err)
	require.Len(t, infos, 3)
	for _, info := range infos {
		assert.True(t, strings.HasPrefix(info.Key, "snapshots/ga4/traffic/"))
		assert.Positive(t, info.Size)
	}
}
