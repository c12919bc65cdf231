// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// BlobBucket stores oversized snapshot sections outside the document
// store.
type BlobBucket interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
	Close() error
}

// NewBlobBucket creates a bucket from a location string. A
// "gcs://<bucket>" location selects Google Cloud Storage, anything
// else is treated as a local directory.
func NewBlobBucket(location string, credentialsFile string) (BlobBucket, error) {
	if location == "" {
		return nil, errors.New("blob: location not set")
	}
	if after, ok := strings.CutPrefix(location, "gcs://"); ok {
		return NewGCSBucket(after, credentialsFile)
	}
	return NewFSBucket(location)
}

// GCSBucket stores blobs in a Google Cloud Storage bucket.
type GCSBucket struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

// NewGCSBucket creates a GCS-backed blob bucket.
func NewGCSBucket(bucketName string, credentialsFile string) (*GCSBucket, error) {
	if bucketName == "" {
		return nil, errors.New("gcs blob: bucket not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	clientOpts := []option.ClientOption{
		storage.WithDisabledClientMetrics(),
	}
	if credentialsFile != "" {
		clientOpts = append(
			clientOpts,
			option.WithCredentialsFile(credentialsFile),
		)
	}
	client, err := storage.NewGRPCClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf(
			"gcs blob: failed in creating storage client: %w",
			err,
		)
	}
	return &GCSBucket{
		client: client,
		bucket: client.Bucket(bucketName),
	}, nil
}

func (b *GCSBucket) Put(ctx context.Context, name string, data []byte) error {
	w := b.bucket.Object(name).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs blob: write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs blob: write %s: %w", name, err)
	}
	return nil
}

func (b *GCSBucket) Get(ctx context.Context, name string) ([]byte, error) {
	r, err := b.bucket.Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("gcs blob: read %s: %w", name, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs blob: read %s: %w", name, err)
	}
	return data, nil
}

func (b *GCSBucket) Delete(ctx context.Context, name string) error {
	err := b.bucket.Object(name).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs blob: delete %s: %w", name, err)
	}
	return nil
}

func (b *GCSBucket) Close() error {
	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	return err
}

// FSBucket stores blobs as files under a local directory. It exists
// for single-node deployments and tests.
type FSBucket struct {
	dir string
}

// NewFSBucket creates a directory-backed blob bucket.
func NewFSBucket(dir string) (*FSBucket, error) {
	if err := os.MkdirAll(dir, fs.ModePerm); err != nil {
		return nil, fmt.Errorf("fs blob: create dir: %w", err)
	}
	return &FSBucket{dir: dir}, nil
}

func (b *FSBucket) path(name string) string {
	return filepath.Join(b.dir, filepath.FromSlash(name))
}

func (b *FSBucket) Put(_ context.Context, name string, data []byte) error {
	path := b.path(name)
	if err := os.MkdirAll(filepath.Dir(path), fs.ModePerm); err != nil {
		return fmt.Errorf("fs blob: write %s: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("fs blob: write %s: %w", name, err)
	}
	return nil
}

func (b *FSBucket) Get(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(b.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fs blob: read %s: %w", name, err)
	}
	return data, nil
}

func (b *FSBucket) Delete(_ context.Context, name string) error {
	err := os.Remove(b.path(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("fs blob: delete %s: %w", name, err)
	}
	return nil
}

func (b *FSBucket) Close() error {
	return nil
}
