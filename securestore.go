// Package securestore composes the encrypted persistence pipeline: codec,
// cipher engine, content-addressed blob store and versioned metadata store.
//
// Store encrypts a payload under a fresh key, uploads the ciphertext to the
// blob store and appends a version row binding the returned CID to its key
// material. Recover walks the same path backwards from the latest version.
// The metadata store is the sole source of truth for what is recoverable;
// an uploaded blob without a metadata row is tolerated garbage, never
// corruption.
package securestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cyra-app/securestore/internal/workerpool"
	"github.com/cyra-app/securestore/pkg/crypt"
	"github.com/cyra-app/securestore/pkg/metastore"
	"github.com/cyra-app/securestore/pkg/payload"
)

// BlobClient is the content-addressed store the pipeline uploads to.
// *blobstore.Client satisfies it.
type BlobClient interface {
	Upload(ctx context.Context, ciphertext, iv, tag []byte) (cid string, size int64, err error)
	Download(ctx context.Context, cid string) (ciphertext, iv, tag []byte, err error)
}

// MetadataStore is the versioned (user, cid, key material) bookkeeping.
// *metastore.Store satisfies it.
type MetadataStore interface {
	EnsureUser(ctx context.Context, externalID string) (int64, error)
	LookupUser(ctx context.Context, externalID string) (int64, bool, error)
	AppendVersion(ctx context.Context, userID int64, cid string, material metastore.KeyMaterial) (rowID int64, version int, err error)
	LatestVersion(ctx context.Context, userID int64) (*metastore.Version, error)
	AllVersions(ctx context.Context, userID int64) ([]metastore.Version, error)
	DeleteVersion(ctx context.Context, userID, rowID int64) error
}

// MetadataCache is the optional local cache for non-secret hints.
// *kvcache.Cache satisfies it.
type MetadataCache interface {
	Save(key string, value []byte) error
	Load(key string) ([]byte, error)
	Clear(key string) error
}

// Config wires the collaborators together. Blobs is required; Meta and
// Cache may be nil, in which case the affected operations degrade as
// documented instead of crashing.
type Config struct {
	Blobs  BlobClient
	Meta   MetadataStore
	Cache  MetadataCache
	Logger *logrus.Logger
	// Workers bounds StoreMany concurrency. Defaults to a CPU-scaled pool.
	Workers int
}

// SecureStore is the orchestrator. Safe for concurrent use; all mutation
// downstream is append-only.
type SecureStore struct {
	blobs BlobClient
	meta  MetadataStore
	cache MetadataCache
	log   *logrus.Logger
	wp    *workerpool.WorkerPool
}

func New(config Config) (*SecureStore, error) {
	if config.Blobs == nil {
		return nil, fmt.Errorf("securestore: no blob client configured")
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	return &SecureStore{
		blobs: config.Blobs,
		meta:  config.Meta,
		cache: config.Cache,
		log:   config.Logger,
		wp:    workerpool.NewWorkerPool(workerpool.Config{WorkerCount: config.Workers}),
	}, nil
}

// StoreResult reports one completed store operation. When MetadataPending is
// true the blob was uploaded but the version row never landed; the payload
// is safe in the blob store yet unreachable through Recover until
// CommitMetadata succeeds. KeyMaterial is the only secret in here and never
// reaches the blob store.
type StoreResult struct {
	CID          string
	Size         int64
	Version      int
	VersionRowID int64
	KeyMaterial  metastore.KeyMaterial

	MetadataPending bool
	MetadataErr     error
}

// Store runs encode → encrypt → upload → append version for one payload.
// Encode, encrypt and upload failures abort the operation. A metadata
// failure does not: the successful upload is kept, the result is flagged
// MetadataPending and the caller may retry with CommitMetadata.
func (s *SecureStore) Store(ctx context.Context, externalUserID string, p payload.SecurePayload) (StoreResult, error) {
	plaintext, err := payload.Encode(p)
	if err != nil {
		return StoreResult{}, &StageError{Stage: StageEncode, Err: err}
	}

	envelope, err := crypt.Encrypt(plaintext)
	if err != nil {
		return StoreResult{}, &StageError{Stage: StageEncrypt, Err: err}
	}

	cid, size, err := s.blobs.Upload(ctx, envelope.Ciphertext, envelope.IV, envelope.Tag)
	if err != nil {
		return StoreResult{}, &StageError{Stage: StageUpload, Err: err}
	}

	result := StoreResult{
		CID:  cid,
		Size: size,
		KeyMaterial: metastore.KeyMaterial{
			AESKey: envelope.Key,
			IV:     envelope.IV,
			Tag:    envelope.Tag,
		},
	}

	result = s.appendMetadata(ctx, externalUserID, result)
	s.cacheStoreResult(externalUserID, result)

	return result, nil
}

// CommitMetadata retries the metadata step of a store whose result came back
// MetadataPending. The blob is not re-encrypted or re-uploaded.
func (s *SecureStore) CommitMetadata(ctx context.Context, externalUserID string, result StoreResult) (StoreResult, error) {
	if !result.MetadataPending {
		return result, nil
	}
	result = s.appendMetadata(ctx, externalUserID, result)
	if result.MetadataPending {
		return result, &StageError{Stage: StageAppend, Err: result.MetadataErr}
	}
	s.cacheStoreResult(externalUserID, result)
	return result, nil
}

func (s *SecureStore) appendMetadata(ctx context.Context, externalUserID string, result StoreResult) StoreResult {
	if s.meta == nil {
		result.MetadataPending = true
		result.MetadataErr = ErrMetadataUnavailable
		s.log.WithField("cid", result.CID).Warn("no metadata store configured, version row not written")
		return result
	}

	userID, err := s.meta.EnsureUser(ctx, externalUserID)
	if err == nil {
		result.VersionRowID, result.Version, err = s.meta.AppendVersion(ctx, userID, result.CID, result.KeyMaterial)
	}
	if err != nil {
		// The blob is safely uploaded; losing the whole operation over a
		// metadata write would be worse than reporting the pending state.
		result.MetadataPending = true
		result.MetadataErr = err
		s.log.WithFields(logrus.Fields{
			"user": externalUserID,
			"cid":  result.CID,
		}).Warnf("metadata write failed, blob kept: %v", err)
		return result
	}

	result.MetadataPending = false
	result.MetadataErr = nil
	return result
}

// Recovered is the outcome of a successful Recover.
type Recovered struct {
	Payload payload.SecurePayload
	CID     string
	Version int
}

// Recover reconstructs the latest stored payload from its three pieces:
// version row, blob document and key material. It returns (nil, nil) when
// the user has nothing stored. Authentication and not-found failures
// propagate unchanged; retrying them would not change a deterministic
// outcome.
func (s *SecureStore) Recover(ctx context.Context, externalUserID string) (*Recovered, error) {
	if s.meta == nil {
		s.log.Warn("no metadata store configured, recovery not possible")
		return nil, nil
	}

	userID, ok, err := s.meta.LookupUser(ctx, externalUserID)
	if err != nil {
		return nil, &StageError{Stage: StageLookup, Err: err}
	}
	if !ok {
		return nil, nil
	}

	latest, err := s.meta.LatestVersion(ctx, userID)
	if err != nil {
		return nil, &StageError{Stage: StageLookup, Err: err}
	}
	if latest == nil {
		return nil, nil
	}

	// IV and tag from the metadata row are authoritative; the copies inside
	// the blob document only make the blob self-describing.
	ciphertext, _, _, err := s.blobs.Download(ctx, latest.CID)
	if err != nil {
		return nil, &StageError{Stage: StageDownload, Err: err}
	}

	plaintext, err := crypt.Decrypt(ciphertext, latest.KeyMaterial.IV, latest.KeyMaterial.Tag, latest.KeyMaterial.AESKey)
	if err != nil {
		return nil, &StageError{Stage: StageDecrypt, Err: err}
	}

	p, err := payload.Decode(plaintext)
	if err != nil {
		return nil, &StageError{Stage: StageDecode, Err: err}
	}

	return &Recovered{
		Payload: p,
		CID:     latest.CID,
		Version: latest.Version,
	}, nil
}

// StoreItem pairs one StoreMany input with its outcome.
type StoreItem struct {
	Result StoreResult
	Err    error
}

// StoreMany stores independent payloads concurrently. Each item is its own
// full store operation with its own CID and version; one failed item does
// not abort the rest. Results come back in input order.
func (s *SecureStore) StoreMany(ctx context.Context, externalUserID string, payloads []payload.SecurePayload) []StoreItem {
	type indexed struct {
		i    int
		item StoreItem
	}

	room := s.wp.CreateRoom(len(payloads))
	for i, p := range payloads {
		i, p := i, p
		room.NewTask(func() interface{} {
			result, err := s.Store(ctx, externalUserID, p)
			return indexed{i: i, item: StoreItem{Result: result, Err: err}}
		})
	}

	items := make([]StoreItem, len(payloads))
	for _, r := range room.Collect() {
		ix := r.(indexed)
		items[ix.i] = ix.item
	}
	return items
}

// History returns the user's full version history, descending by version.
// A user with no stored versions gets an empty history, not an error.
func (s *SecureStore) History(ctx context.Context, externalUserID string) ([]metastore.Version, error) {
	if s.meta == nil {
		return nil, ErrMetadataUnavailable
	}
	userID, ok, err := s.meta.LookupUser(ctx, externalUserID)
	if err != nil {
		return nil, &StageError{Stage: StageLookup, Err: err}
	}
	if !ok {
		return nil, nil
	}
	return s.meta.AllVersions(ctx, userID)
}

// DeleteVersion removes one version row owned by the user. Deleting rows of
// other users or unknown rows is a silent no-op.
func (s *SecureStore) DeleteVersion(ctx context.Context, externalUserID string, rowID int64) error {
	if s.meta == nil {
		return ErrMetadataUnavailable
	}
	userID, ok, err := s.meta.LookupUser(ctx, externalUserID)
	if err != nil {
		return &StageError{Stage: StageLookup, Err: err}
	}
	if !ok {
		return nil
	}
	return s.meta.DeleteVersion(ctx, userID, rowID)
}

// Close stops the worker pool. The blob client and metadata store are owned
// by the caller.
func (s *SecureStore) Close() {
	s.wp.Close()
}

// cachedMetadata is the non-secret local hint written after each store.
type cachedMetadata struct {
	UserID    string    `json:"userId"`
	CID       string    `json:"ipfsCid"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func cacheKey(externalUserID string) string {
	return "ipfs-metadata-" + externalUserID
}

func (s *SecureStore) cacheStoreResult(externalUserID string, result StoreResult) {
	if s.cache == nil {
		return
	}
	now := time.Now().UTC()
	data, err := json.Marshal(cachedMetadata{
		UserID:    externalUserID,
		CID:       result.CID,
		Size:      result.Size,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err == nil {
		err = s.cache.Save(cacheKey(externalUserID), data)
	}
	if err != nil {
		s.log.Warnf("could not cache store metadata: %v", err)
	}
}

// CachedCID returns the locally cached CID hint for a user, or "" when none
// is cached. The hint is not authoritative; only the metadata store decides
// what is recoverable.
func (s *SecureStore) CachedCID(externalUserID string) string {
	if s.cache == nil {
		return ""
	}
	data, err := s.cache.Load(cacheKey(externalUserID))
	if err != nil || data == nil {
		return ""
	}
	var m cachedMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return ""
	}
	return m.CID
}
