package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"k8s.io/klog/v2"

	"spikedeploy/internal/model"
)

const (
	gcsConfigurationPrefix = "configurations/"
	gcsRecordingPrefix     = "recordings/"
)

// GCSStore keeps one JSON object per artifact in a Cloud Storage bucket.
type GCSStore struct {
	Bucket string

	mu     sync.RWMutex
	client *gcs.Client
}

var _ Store = (*GCSStore)(nil)

func NewGCSStore(bucket string) *GCSStore {
	return &GCSStore{Bucket: bucket}
}

func (s *GCSStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Bucket == "" {
		return errors.New("gcs bucket is required")
	}
	if s.client != nil {
		return nil
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating GCS storage client: %w", err)
	}
	s.client = client
	return nil
}

func (s *GCSStore) SaveConfiguration(ctx context.Context, config model.Configuration) error {
	payload, err := EncodeConfiguration(config)
	if err != nil {
		return err
	}
	return s.put(ctx, configurationKey(config.ID), payload)
}

func (s *GCSStore) GetConfiguration(ctx context.Context, id string) (model.Configuration, bool, error) {
	payload, ok, err := s.get(ctx, configurationKey(id))
	if err != nil || !ok {
		return model.Configuration{}, ok, err
	}
	config, err := DecodeConfiguration(payload)
	if err != nil {
		return model.Configuration{}, false, fmt.Errorf("decode configuration %s: %w", id, err)
	}
	return config, true, nil
}

func (s *GCSStore) ListConfigurations(ctx context.Context) ([]string, error) {
	client, err := s.getClient()
	if err != nil {
		return nil, err
	}

	var ids []string
	it := client.Bucket(s.Bucket).Objects(ctx, &gcs.Query{Prefix: gcsConfigurationPrefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing gs://%s/%s: %w", s.Bucket, gcsConfigurationPrefix, err)
		}
		if id, ok := idFromKey(attrs.Name, gcsConfigurationPrefix); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *GCSStore) SaveRecording(ctx context.Context, recording model.Recording) error {
	payload, err := EncodeRecording(recording)
	if err != nil {
		return err
	}
	return s.put(ctx, recordingKey(recording.ID), payload)
}

func (s *GCSStore) GetRecording(ctx context.Context, id string) (model.Recording, bool, error) {
	payload, ok, err := s.get(ctx, recordingKey(id))
	if err != nil || !ok {
		return model.Recording{}, ok, err
	}
	recording, err := DecodeRecording(payload)
	if err != nil {
		return model.Recording{}, false, fmt.Errorf("decode recording %s: %w", id, err)
	}
	return recording, true, nil
}

func (s *GCSStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *GCSStore) put(ctx context.Context, key string, payload []byte) error {
	log := klog.FromContext(ctx)

	client, err := s.getClient()
	if err != nil {
		return err
	}
	gcsURL := "gs://" + s.Bucket + "/" + key

	startedAt := time.Now()
	w := client.Bucket(s.Bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return fmt.Errorf("uploading %q: %w", gcsURL, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing GCS writer for %q: %w", gcsURL, err)
	}

	log.V(2).Info("uploaded artifact to GCS", "url", gcsURL, "bytes", len(payload), "duration", time.Since(startedAt))
	return nil
}

func (s *GCSStore) get(ctx context.Context, key string) ([]byte, bool, error) {
	client, err := s.getClient()
	if err != nil {
		return nil, false, err
	}
	gcsURL := "gs://" + s.Bucket + "/" + key

	r, err := client.Bucket(s.Bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("opening object from GCS %q: %w", gcsURL, err)
	}
	defer r.Close()

	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, false, fmt.Errorf("downloading from GCS %q: %w", gcsURL, err)
	}
	return payload, true, nil
}

func (s *GCSStore) getClient() (*gcs.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.client == nil {
		return nil, errNotInitialized
	}
	return s.client, nil
}

func configurationKey(id string) string {
	return path.Join(gcsConfigurationPrefix, id+".json")
}

func recordingKey(id string) string {
	return path.Join(gcsRecordingPrefix, id+".json")
}

func idFromKey(key, prefix string) (string, bool) {
	if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, ".json") {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".json")
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
