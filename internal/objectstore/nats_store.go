// Package objectstore keeps synthesized audio clips in a NATS JetStream
// object store so workers can hand results to consumers by key instead of
// pushing megabytes of WAV data through the message bus.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Store implements core.AudioStore on top of a JetStream object store bucket.
type Store struct {
	bucket string
	store  nats.ObjectStore
}

// New creates the bucket if it does not exist yet and binds to it otherwise,
// so every service instance can start in any order.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*Store, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Synthesized audio clips for the %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("create audio bucket %q: %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("bind to audio bucket %q: %w", bucketName, err)
		}
	}

	return &Store{
		bucket: bucketName,
		store:  store,
	}, nil
}

// Download retrieves a stored audio clip by key.
func (s *Store) Download(_ context.Context, key string) ([]byte, error) {
	obj, err := s.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("get object %q from bucket %q: %w", key, s.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("read object %q: %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("close object %q: %w", key, closeErr)
	}

	return data, nil
}

// Upload stores an audio clip under the given key.
func (s *Store) Upload(_ context.Context, key string, data []byte) error {
	_, err := s.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata:    nil,
		Opts:        nil,
	}, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("put object %q to bucket %q: %w", key, s.bucket, err)
	}

	return nil
}

// Delete removes a stored audio clip. Deleting a key that was already
// removed reports an error from the underlying store.
func (s *Store) Delete(_ context.Context, key string) error {
	err := s.store.Delete(key)
	if err != nil {
		return fmt.Errorf("delete object %q from bucket %q: %w", key, s.bucket, err)
	}

	return nil
}
