package aws_s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/sharedcode/lakemark/fs"
)

type s3FileIO struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewFileIO returns a FileIO storing file paths as object keys in bucket.
// Directories are implicit (key prefixes); MkdirAll is a no-op.
func NewFileIO(client *s3.Client, bucket string) fs.FileIO {
	return &s3FileIO{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
	}
}

func (sio *s3FileIO) WriteFile(ctx context.Context, name string, data []byte, perm os.FileMode) error {
	_, err := sio.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(sio.bucket),
		Key:    aws.String(toKey(name)),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (sio *s3FileIO) ReadFile(ctx context.Context, name string) ([]byte, error) {
	out, err := sio.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(sio.bucket),
		Key:    aws.String(toKey(name)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, os.ErrNotExist
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (sio *s3FileIO) CreateFile(ctx context.Context, name string, overwrite bool) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(sio.bucket),
		Key:    aws.String(toKey(name)),
		Body:   bytes.NewReader(nil),
	}
	if !overwrite {
		// Conditional put is the atomic create-if-absent primitive: a losing
		// racer gets PreconditionFailed back from S3.
		in.IfNoneMatch = aws.String("*")
	}
	_, err := sio.client.PutObject(ctx, in)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
			return os.ErrExist
		}
		return err
	}
	return nil
}

func (sio *s3FileIO) Remove(ctx context.Context, name string) error {
	_, err := sio.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(sio.bucket),
		Key:    aws.String(toKey(name)),
	})
	return err
}

func (sio *s3FileIO) Exists(ctx context.Context, path string) bool {
	key := toKey(path)
	if _, err := sio.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(sio.bucket),
		Key:    aws.String(key),
	}); err == nil {
		return true
	}
	// Maybe a "directory": any object under the prefix makes it exist.
	out, err := sio.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(sio.bucket),
		Prefix:  aws.String(key + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false
	}
	return len(out.Contents) > 0
}

func (sio *s3FileIO) RemoveAll(ctx context.Context, path string) error {
	keys, err := sio.listKeys(ctx, toKey(path)+"/")
	if err != nil {
		return err
	}
	if k := toKey(path); sio.objectExists(ctx, k) {
		keys = append(keys, k)
	}
	// DeleteObjects takes at most 1000 keys per request.
	for len(keys) > 0 {
		n := len(keys)
		if n > 1000 {
			n = 1000
		}
		objs := make([]types.ObjectIdentifier, n)
		for i := 0; i < n; i++ {
			objs[i] = types.ObjectIdentifier{Key: aws.String(keys[i])}
		}
		if _, err := sio.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(sio.bucket),
			Delete: &types.Delete{Objects: objs, Quiet: aws.Bool(true)},
		}); err != nil {
			return err
		}
		keys = keys[n:]
	}
	return nil
}

func (sio *s3FileIO) MkdirAll(ctx context.Context, path string, perm os.FileMode) error {
	// Directories are implicit in object keys.
	return nil
}

func (sio *s3FileIO) ReadDir(ctx context.Context, sourceDir string) ([]os.DirEntry, error) {
	prefix := toKey(sourceDir) + "/"
	var entries []os.DirEntry
	p := s3.NewListObjectsV2Paginator(sio.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(sio.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(*cp.Prefix, prefix), "/")
			entries = append(entries, objDirEntry{name: name, isDir: true})
		}
		for _, obj := range page.Contents {
			entries = append(entries, objDirEntry{name: strings.TrimPrefix(*obj.Key, prefix)})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

func (sio *s3FileIO) ListRecursive(ctx context.Context, root string) ([]string, error) {
	keys, err := sio.listKeys(ctx, toKey(root)+"/")
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(keys))
	for _, k := range keys {
		paths = append(paths, "/"+k)
	}
	return paths, nil
}

func (sio *s3FileIO) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(sio.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(sio.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, *obj.Key)
		}
	}
	return keys, nil
}

func (sio *s3FileIO) objectExists(ctx context.Context, key string) bool {
	_, err := sio.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(sio.bucket),
		Key:    aws.String(key),
	})
	return err == nil
}

// toKey maps a file path to an object key: forward slashes, no leading slash.
func toKey(path string) string {
	return strings.TrimPrefix(strings.ReplaceAll(path, string(os.PathSeparator), "/"), "/")
}

type objDirEntry struct {
	name  string
	isDir bool
}

func (e objDirEntry) Name() string               { return e.name }
func (e objDirEntry) IsDir() bool                { return e.isDir }
func (e objDirEntry) Type() os.FileMode          { return 0 }
func (e objDirEntry) Info() (os.FileInfo, error) { return objFileInfo{e}, nil }

type objFileInfo struct{ e objDirEntry }

func (fi objFileInfo) Name() string       { return fi.e.name }
func (fi objFileInfo) Size() int64        { return 0 }
func (fi objFileInfo) Mode() os.FileMode  { return 0 }
func (fi objFileInfo) ModTime() time.Time { return time.Time{} }
func (fi objFileInfo) IsDir() bool        { return fi.e.isDir }
func (fi objFileInfo) Sys() any           { return nil }
