// Package storagetest provides in-memory SourceStore and TargetStore
// implementations for engine and transfer tests.
package storagetest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xiyadong1/obs2oss/internal/storage"
)

type object struct {
	data        []byte
	etag        string
	contentType string
}

// FakeStore is a memory-backed store implementing both SourceStore and
// TargetStore. Failures can be injected per operation.
type FakeStore struct {
	mu      sync.Mutex
	buckets map[string]map[string]object

	failPuts int
	listErr  error
	getErr   error
	putETag  func(data []byte) string
	putDelay time.Duration

	puts          int
	multipartPuts int
	stats         int
	gets          int
	streams       int
}

// NewFakeStore creates an empty fake store
func NewFakeStore() *FakeStore {
	return &FakeStore{buckets: make(map[string]map[string]object)}
}

// ETagFor returns the checksum the store computes for content
func ETagFor(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Seed stores an object with its content checksum
func (s *FakeStore) Seed(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buckets[bucket] == nil {
		s.buckets[bucket] = make(map[string]object)
	}
	s.buckets[bucket][key] = object{data: append([]byte(nil), data...), etag: ETagFor(data)}
}

// FailPuts makes the next n put operations fail
func (s *FakeStore) FailPuts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPuts = n
}

// FailList makes listing fail with err
func (s *FakeStore) FailList(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// FailGets makes object reads fail with err
func (s *FakeStore) FailGets(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErr = err
}

// CorruptPuts makes put operations report a wrong checksum
func (s *FakeStore) CorruptPuts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putETag = func([]byte) string { return "corrupted" }
}

// SetPutDelay slows every put down by d
func (s *FakeStore) SetPutDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putDelay = d
}

// PutCount returns how many put operations ran (single plus multipart)
func (s *FakeStore) PutCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts + s.multipartPuts
}

// MultipartPutCount returns how many multipart uploads ran
func (s *FakeStore) MultipartPutCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.multipartPuts
}

// Has reports whether the object exists
func (s *FakeStore) Has(bucket, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.buckets[bucket][key]
	return ok
}

// ListObjects implements storage.SourceStore
func (s *FakeStore) ListObjects(ctx context.Context, bucket, prefix string) (<-chan storage.ObjectInfo, <-chan error) {
	objCh := make(chan storage.ObjectInfo)
	errCh := make(chan error, 1)

	s.mu.Lock()
	if s.listErr != nil {
		err := s.listErr
		s.mu.Unlock()
		go func() {
			defer close(objCh)
			defer close(errCh)
			errCh <- err
		}()
		return objCh, errCh
	}

	var infos []storage.ObjectInfo
	for key, obj := range s.buckets[bucket] {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		infos = append(infos, storage.ObjectInfo{
			Key:  key,
			Size: int64(len(obj.data)),
			ETag: obj.etag,
		})
	}
	s.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })

	go func() {
		defer close(objCh)
		defer close(errCh)
		for _, info := range infos {
			select {
			case objCh <- info:
			case <-ctx.Done():
				return
			}
		}
	}()

	return objCh, errCh
}

// GetObject implements storage.SourceStore
func (s *FakeStore) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.getErr != nil {
		return nil, s.getErr
	}
	obj, ok := s.buckets[bucket][key]
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", bucket, key)
	}
	return append([]byte(nil), obj.data...), nil
}

// GetObjectStream implements storage.SourceStore
func (s *FakeStore) GetObjectStream(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams++
	if s.getErr != nil {
		return nil, s.getErr
	}
	obj, ok := s.buckets[bucket][key]
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", bucket, key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// StatObject implements storage.TargetStore
func (s *FakeStore) StatObject(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats++
	obj, ok := s.buckets[bucket][key]
	if !ok {
		return storage.ObjectInfo{}, fmt.Errorf("object %s/%s not found", bucket, key)
	}
	return storage.ObjectInfo{
		Key:  key,
		Size: int64(len(obj.data)),
		ETag: obj.etag,
	}, nil
}

// PutObject implements storage.TargetStore
func (s *FakeStore) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts storage.PutOptions) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return s.store(bucket, key, data, opts, false)
}

// PutObjectMultipart implements storage.TargetStore
func (s *FakeStore) PutObjectMultipart(ctx context.Context, bucket, key string, reader io.Reader, size, partSize int64, opts storage.PutOptions) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return s.store(bucket, key, data, opts, true)
}

func (s *FakeStore) store(bucket, key string, data []byte, opts storage.PutOptions, multipart bool) (string, error) {
	s.mu.Lock()
	delay := s.putDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if multipart {
		s.multipartPuts++
	} else {
		s.puts++
	}

	if s.failPuts > 0 {
		s.failPuts--
		return "", fmt.Errorf("injected put failure for %s/%s", bucket, key)
	}

	etag := ETagFor(data)
	if s.putETag != nil {
		etag = s.putETag(data)
	}

	if s.buckets[bucket] == nil {
		s.buckets[bucket] = make(map[string]object)
	}
	s.buckets[bucket][key] = object{
		data:        append([]byte(nil), data...),
		etag:        etag,
		contentType: opts.ContentType,
	}

	return etag, nil
}
