package report

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockObjectStore struct {
	mock.Mock
}

func (m *mockObjectStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	args := m.Called(ctx, bucket)
	return args.Bool(0), args.Error(1)
}

func (m *mockObjectStore) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	return m.Called(ctx, bucket, opts).Error(0)
}

func (m *mockObjectStore) FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, bucket, object, filePath, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *mockObjectStore) PresignedGetObject(ctx context.Context, bucket, object string, expires time.Duration, reqParams url.Values) (*url.URL, error) {
	args := m.Called(ctx, bucket, object, expires, reqParams)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*url.URL), args.Error(1)
}

func TestPublisher_Publish(t *testing.T) {
	ms := new(mockObjectStore)
	link, _ := url.Parse("https://s3.local/reports/runs/r1/PDF_Analysis_Report.xlsx?sig=abc")
	key := "runs/r1/" + DefaultFilename

	ms.On("BucketExists", mock.Anything, "reports").Return(false, nil)
	ms.On("MakeBucket", mock.Anything, "reports", minio.MakeBucketOptions{Region: "us-east-1"}).Return(nil)
	ms.On("FPutObject", mock.Anything, "reports", key, "/tmp/r.xlsx", mock.MatchedBy(func(o minio.PutObjectOptions) bool {
		return o.ContentType == ContentType
	})).Return(minio.UploadInfo{Size: 1234}, nil)
	ms.On("PresignedGetObject", mock.Anything, "reports", key, time.Hour, mock.Anything).Return(link, nil)

	p := NewPublisher(ms, PublisherConfig{Bucket: "reports", Region: "us-east-1", Prefix: "runs/", LinkTTL: time.Hour})
	got, err := p.Publish(context.Background(), "r1", "/tmp/r.xlsx")
	require.NoError(t, err)
	assert.Equal(t, link.String(), got)
	ms.AssertExpectations(t)
}

func TestPublisher_ExistingBucket(t *testing.T) {
	ms := new(mockObjectStore)
	link, _ := url.Parse("https://s3.local/x")
	ms.On("BucketExists", mock.Anything, "b").Return(true, nil)
	ms.On("FPutObject", mock.Anything, "b", "r2/"+DefaultFilename, "f.xlsx", mock.Anything).Return(minio.UploadInfo{}, nil)
	ms.On("PresignedGetObject", mock.Anything, "b", "r2/"+DefaultFilename, 24*time.Hour, mock.Anything).Return(link, nil)

	_, err := NewPublisher(ms, PublisherConfig{Bucket: "b"}).Publish(context.Background(), "r2", "f.xlsx")
	require.NoError(t, err)
	ms.AssertNotCalled(t, "MakeBucket", mock.Anything, mock.Anything, mock.Anything)
}

func TestPublisher_UploadError(t *testing.T) {
	ms := new(mockObjectStore)
	ms.On("BucketExists", mock.Anything, "b").Return(true, nil)
	ms.On("FPutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(minio.UploadInfo{}, errors.New("denied"))

	_, err := NewPublisher(ms, PublisherConfig{Bucket: "b"}).Publish(context.Background(), "r3", "f.xlsx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "report: upload")
}

func TestNewMinioClient(t *testing.T) {
	cli, err := NewMinioClient(PublisherConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"})
	require.NoError(t, err)
	assert.NotNil(t, cli)
}
