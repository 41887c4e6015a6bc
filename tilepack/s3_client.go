package tilepack

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// s3Fetcher serves s3://bucket/key endpoints, for mirrors kept in a bucket.
type s3Fetcher struct {
	client s3iface.S3API
}

func newS3Fetcher() (*s3Fetcher, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, err
	}
	return &s3Fetcher{client: s3.New(sess)}, nil
}

func (f *s3Fetcher) get(ctx context.Context, bucket, key string) (int, []byte, error) {
	out, err := f.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(strings.TrimPrefix(key, "/")),
	})
	if err != nil {
		if reqErr, ok := err.(awserr.RequestFailure); ok {
			if reqErr.Code() == s3.ErrCodeNoSuchKey {
				return http.StatusNotFound, nil, nil
			}
			return reqErr.StatusCode(), nil, nil
		}
		return 0, nil, err
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, body, nil
}
