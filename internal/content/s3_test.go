package content_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/ocrbatch/internal/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory S3API with a fixed page size.
type fakeS3 struct {
	mu          sync.Mutex
	objects     map[string][]byte
	types       map[string]string
	pageSize    int
	deleteCalls [][]string
	failKeys    map[string]bool
	listErr     error
}

func newFakeS3(pageSize int) *fakeS3 {
	return &fakeS3{
		objects:  map[string][]byte{},
		types:    map[string]string{},
		pageSize: pageSize,
		failKeys: map[string]bool{},
	}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == *in.ContinuationToken {
				start = i
				break
			}
		}
	}
	end := start + f.pageSize
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[end])
	} else {
		end = len(keys)
	}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k])))})
	}
	return out, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var call []string
	out := &s3.DeleteObjectsOutput{}
	for _, id := range in.Delete.Objects {
		k := aws.ToString(id.Key)
		call = append(call, k)
		if f.failKeys[k] {
			out.Errors = append(out.Errors, types.Error{Key: id.Key, Message: aws.String("AccessDenied")})
			continue
		}
		delete(f.objects, k)
	}
	f.deleteCalls = append(f.deleteCalls, call)
	return out, nil
}

func TestS3Store_PutGet(t *testing.T) {
	api := newFakeS3(10)
	s := content.NewS3Store(api, "bucket")
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "jobs/a/b.png", []byte("img"), "image/png"))
	assert.Equal(t, "image/png", api.types["jobs/a/b.png"])

	data, err := s.Get(ctx, "jobs/a/b.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("img"), data)
	assert.Equal(t, "bucket", s.Bucket())
}

func TestS3Store_GetMissing(t *testing.T) {
	s := content.NewS3Store(newFakeS3(10), "bucket")

	_, err := s.Get(context.Background(), "jobs/missing")
	assert.ErrorIs(t, err, content.ErrNotFound)
}

func TestS3Store_ListPages(t *testing.T) {
	api := newFakeS3(2)
	s := content.NewS3Store(api, "bucket")
	ctx := context.Background()
	for _, k := range []string{"jobs/a/1", "jobs/a/2", "jobs/a/3", "jobs/b/1"} {
		require.NoError(t, s.Put(ctx, k, []byte("x"), "text/plain"))
	}

	first, err := s.List(ctx, "jobs/a/", "")
	require.NoError(t, err)
	require.Len(t, first.Objects, 2)
	require.NotEmpty(t, first.NextCursor)

	second, err := s.List(ctx, "jobs/a/", first.NextCursor)
	require.NoError(t, err)
	require.Len(t, second.Objects, 1)
	assert.Equal(t, "jobs/a/3", second.Objects[0].Key)
	assert.Empty(t, second.NextCursor)
}

func TestS3Store_ListError(t *testing.T) {
	api := newFakeS3(2)
	api.listErr = errors.New("throttled")
	s := content.NewS3Store(api, "bucket")

	_, err := s.List(context.Background(), "jobs/", "")
	assert.ErrorContains(t, err, "throttled")
}

func TestS3Store_DeleteBatch(t *testing.T) {
	api := newFakeS3(10)
	s := content.NewS3Store(api, "bucket")
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k1", []byte("x"), "text/plain"))
	require.NoError(t, s.Put(ctx, "k2", []byte("x"), "text/plain"))

	n, err := s.DeleteBatch(ctx, []string{"k1", "k2"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, api.objects)
}

func TestS3Store_DeleteBatchEmpty(t *testing.T) {
	api := newFakeS3(10)
	s := content.NewS3Store(api, "bucket")

	n, err := s.DeleteBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, api.deleteCalls)
}

func TestS3Store_DeleteBatchTooLarge(t *testing.T) {
	s := content.NewS3Store(newFakeS3(10), "bucket")

	_, err := s.DeleteBatch(context.Background(), make([]string, content.MaxDeleteBatch+1))
	assert.ErrorIs(t, err, content.ErrBatchTooLarge)
}

func TestS3Store_DeleteBatchPartialFailure(t *testing.T) {
	api := newFakeS3(10)
	api.failKeys["k2"] = true
	s := content.NewS3Store(api, "bucket")

	n, err := s.DeleteBatch(context.Background(), []string{"k1", "k2"})
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, err.Error(), "k2")
}

func TestKeys(t *testing.T) {
	jobID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	itemID := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	assert.Equal(t, "jobs/11111111-1111-1111-1111-111111111111/", content.JobPrefix(jobID))
	assert.Equal(t,
		"jobs/11111111-1111-1111-1111-111111111111/22222222-2222-2222-2222-222222222222.png",
		content.ItemKey(jobID, itemID, ".png"))
}
