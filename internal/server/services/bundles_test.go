package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/dropbin/internal/bundle"
	"github.com/dmitrijs2005/dropbin/internal/common"
	"github.com/dmitrijs2005/dropbin/internal/dbx"
	"github.com/dmitrijs2005/dropbin/internal/pow"
	"github.com/dmitrijs2005/dropbin/internal/server/auth"
	"github.com/dmitrijs2005/dropbin/internal/server/config"
	"github.com/dmitrijs2005/dropbin/internal/server/models"
	"github.com/dmitrijs2005/dropbin/internal/server/repositories/bundles"
	"github.com/dmitrijs2005/dropbin/internal/server/repositories/files"
	"github.com/dmitrijs2005/dropbin/internal/server/storage"
)

// --- in-memory repositories ---

type memDB struct {
	mu      sync.Mutex
	bundles map[string]*models.Bundle
	files   map[string][]*models.File
}

func newMemDB() *memDB {
	return &memDB{bundles: map[string]*models.Bundle{}, files: map[string][]*models.File{}}
}

func (m *memDB) bySlug(slug string) *models.Bundle {
	for _, b := range m.bundles {
		if strings.EqualFold(b.Slug, slug) {
			return b
		}
	}
	return nil
}

type memBundles struct{ *memDB }

func (r memBundles) Create(_ context.Context, b *models.Bundle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bySlug(b.Slug) != nil {
		return common.ErrSlugTaken
	}
	cp := *b
	r.bundles[b.ID] = &cp
	return nil
}

func (r memBundles) GetBySlug(_ context.Context, slug string) (*models.Bundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bySlug(slug)
	if b == nil {
		return nil, common.ErrorNotFound
	}
	cp := *b
	return &cp, nil
}

func (r memBundles) SlugExists(_ context.Context, slug string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bySlug(slug) != nil, nil
}

func (r memBundles) Commit(_ context.Context, id, jti string, committedAt, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bundles[id]
	if b == nil || b.Status != models.StatusProvisional || b.FinalizeJTI != jti {
		return common.ErrTokenUsed
	}
	b.Status = models.StatusCommitted
	b.CommittedAt = &committedAt
	b.ExpiresAt = &expiresAt
	return nil
}

func (r memBundles) MarkCancelled(_ context.Context, id, jti string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bundles[id]
	if b == nil || b.Status != models.StatusProvisional || b.CancelJTI != jti {
		return common.ErrTokenUsed
	}
	b.Status = models.StatusCancelled
	return nil
}

func (r memBundles) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bundles, id)
	delete(r.files, id)
	return nil
}

func (r memBundles) SelectExpired(_ context.Context, now, before time.Time, limit int) ([]*models.Bundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Bundle
	for _, b := range r.bundles {
		switch {
		case b.Status == models.StatusProvisional && b.CreatedAt.Before(before),
			b.Status == models.StatusCommitted && b.ExpiresAt != nil && b.ExpiresAt.Before(now),
			b.Status == models.StatusCancelled:
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memFiles struct{ *memDB }

func (r memFiles) CreateBatch(_ context.Context, fs []*models.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range fs {
		cp := *f
		r.files[f.BundleID] = append(r.files[f.BundleID], &cp)
	}
	return nil
}

func (r memFiles) ListByBundle(_ context.Context, id string) ([]*models.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.File
	for _, f := range r.files[id] {
		cp := *f
		out = append(out, &cp)
	}
	return out, nil
}

func (r memFiles) MarkCommitted(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files[id] {
		f.UploadStatus = models.UploadCommitted
	}
	return nil
}

func (r memFiles) DeleteByBundle(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.files, id)
	return nil
}

type memManager struct{ db *memDB }

func (m memManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m memManager) Bundles(dbx.DBTX) bundles.Repository          { return memBundles{m.db} }
func (m memManager) Files(dbx.DBTX) files.Repository              { return memFiles{m.db} }

// --- object store ---

type fakeStore struct {
	mu       sync.Mutex
	objects  map[string]int64
	presigns map[string]int
	deleted  []string
	delErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string]int64{}, presigns: map[string]int{}}
}

func (f *fakeStore) PresignPut(_ context.Context, key, _ string, _ int64, _ time.Duration) (string, error) {
	return "https://s3.test/put/" + key, nil
}

func (f *fakeStore) PresignGet(_ context.Context, key, name string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presigns[key]++
	return fmt.Sprintf("https://s3.test/get/%s?name=%s&n=%d", key, name, f.presigns[key]), nil
}

func (f *fakeStore) Head(_ context.Context, key string) (*storage.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	size, ok := f.objects[key]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &storage.ObjectInfo{Size: size}, nil
}

func (f *fakeStore) DeleteObjects(_ context.Context, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delErr != nil {
		return f.delErr
	}
	for _, k := range keys {
		delete(f.objects, k)
		f.deleted = append(f.deleted, k)
	}
	return nil
}

// --- helpers ---

type fixture struct {
	svc   *BundleService
	mock  sqlmock.Sqlmock
	mem   *memDB
	store *fakeStore
	cfg   *config.Config
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.PowDifficulty = 0
	cfg.SecretKey = "k"

	mem := newMemDB()
	store := newFakeStore()
	svc := NewBundleService(db, memManager{mem}, store, cfg, nil, nil)
	t.Cleanup(svc.Close)

	f := &fixture{svc: svc, mock: mock, mem: mem, store: store, cfg: cfg, now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) expectTx() {
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
}

func negotiateReq() bundle.NegotiateRequest {
	return bundle.NegotiateRequest{
		FileNames:         []string{"a.txt", "b.bin", "c.png"},
		ContentTypes:      []string{"text/plain", "application/octet-stream", "image/png"},
		FileSizes:         []int64{10, 20, 0},
		RetentionTimeCode: "24h",
	}
}

func (f *fixture) negotiate(t *testing.T, req bundle.NegotiateRequest) *bundle.NegotiateResponse {
	t.Helper()
	f.expectTx()
	resp, err := f.svc.Negotiate(context.Background(), req, bundle.TierAnonymous, "10.0.0.1")
	require.NoError(t, err)
	return resp
}

// upload marks every slot of resp as stored with its declared size.
func (f *fixture) upload(resp *bundle.NegotiateResponse, sizes []int64) {
	for i, s := range resp.Slots {
		f.store.objects[s.Key] = sizes[i]
	}
}

func manifest(req bundle.NegotiateRequest) []bundle.ManifestFile {
	var out []bundle.ManifestFile
	for i := range req.FileNames {
		out = append(out, bundle.ManifestFile{FileName: req.FileNames[i], Size: req.FileSizes[i], ContentType: req.ContentTypes[i]})
	}
	return out
}

// --- Negotiate ---

func TestNegotiate_Success(t *testing.T) {
	f := newFixture(t)
	req := negotiateReq()

	resp := f.negotiate(t, req)

	require.Len(t, resp.Slots, 3)
	assert.Len(t, resp.Slug, slugLength)
	assert.Equal(t, "24h", resp.RetentionTimeCode)
	for i, s := range resp.Slots {
		assert.Equal(t, "https://s3.test/put/"+s.Key, s.URL)
		assert.True(t, strings.HasPrefix(s.Key, "bundles/2025/03/01/"), s.Key)
		stored := f.mem.files[f.mem.bySlug(resp.Slug).ID][i]
		assert.Equal(t, s.Key, stored.StorageKey)
		assert.Equal(t, req.FileNames[i], stored.FileName)
	}

	jti, err := auth.ParseSessionToken(resp.FinalizeToken, auth.PurposeFinalize, resp.Slug, []byte("k"))
	require.NoError(t, err)
	b := f.mem.bySlug(resp.Slug)
	assert.Equal(t, b.FinalizeJTI, jti)
	assert.NotEqual(t, b.FinalizeJTI, b.CancelJTI)
	assert.Equal(t, models.StatusProvisional, b.Status)
	assert.Equal(t, "10.0.0.1", b.ClientIP)

	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestNegotiate_PrivateHashesCode(t *testing.T) {
	f := newFixture(t)
	req := negotiateReq()
	req.Slug = "myfiles"
	req.IsPrivate = true
	req.IsPubliclyListed = true
	req.AccessCode = "abc123"

	resp := f.negotiate(t, req)
	assert.Equal(t, "myfiles", resp.Slug)

	b := f.mem.bySlug("myfiles")
	assert.True(t, b.IsPrivate)
	assert.False(t, b.IsPublic, "private bundles are never listed")
	assert.NotContains(t, string(b.AccessCodeHash), "abc123")
}

func TestNegotiate_Rejections(t *testing.T) {
	f := newFixture(t)
	f.negotiate(t, func() bundle.NegotiateRequest { r := negotiateReq(); r.Slug = "taken1"; return r }())

	tests := []struct {
		name string
		mut  func(*bundle.NegotiateRequest)
		tier bundle.Tier
		want error
	}{
		{"length mismatch", func(r *bundle.NegotiateRequest) { r.FileSizes = r.FileSizes[:1] }, bundle.TierAnonymous, common.ErrValidation},
		{"too large for tier", func(r *bundle.NegotiateRequest) { r.FileSizes[0] = 60 * bundle.MiB }, bundle.TierFree, common.ErrValidation},
		{"reserved slug", func(r *bundle.NegotiateRequest) { r.Slug = "admin1" }, bundle.TierAnonymous, common.ErrValidation},
		{"slug taken", func(r *bundle.NegotiateRequest) { r.Slug = "TAKEN1" }, bundle.TierAnonymous, common.ErrSlugTaken},
		{"extended retention for free tier", func(r *bundle.NegotiateRequest) { r.RetentionTimeCode = "7d" }, bundle.TierFree, common.ErrForbidden},
		{"bad access code", func(r *bundle.NegotiateRequest) { r.IsPrivate = true; r.AccessCode = "12" }, bundle.TierAnonymous, common.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := negotiateReq()
			tt.mut(&req)
			_, err := f.svc.Negotiate(context.Background(), req, tt.tier, "ip")
			require.ErrorIs(t, err, tt.want)
		})
	}
	assert.Len(t, f.mem.bundles, 1)
}

func TestNegotiate_ExtendedRetentionForPaidTier(t *testing.T) {
	f := newFixture(t)
	req := negotiateReq()
	req.RetentionTimeCode = "7d"
	req.FileSizes[0] = 500 * bundle.MiB

	f.expectTx()
	resp, err := f.svc.Negotiate(context.Background(), req, bundle.TierPlus, "ip")
	require.NoError(t, err)
	assert.Equal(t, "7d", resp.RetentionTimeCode)
}

func TestNegotiate_ProofOfWork(t *testing.T) {
	f := newFixture(t)
	f.cfg.PowDifficulty = 8
	req := negotiateReq()

	_, err := f.svc.Negotiate(context.Background(), req, bundle.TierAnonymous, "ip")
	require.ErrorIs(t, err, common.ErrForbidden)

	token, err := pow.Solve(context.Background(), pow.Challenge(req.FileNames, req.FileSizes), 8)
	require.NoError(t, err)
	req.AntiAbuseToken = token

	f.expectTx()
	_, err = f.svc.Negotiate(context.Background(), req, bundle.TierAnonymous, "ip")
	require.NoError(t, err)
}

// --- Finalize ---

func TestFinalize_CommitsOnce(t *testing.T) {
	f := newFixture(t)
	req := negotiateReq()
	resp := f.negotiate(t, req)
	f.upload(resp, req.FileSizes)

	fin := bundle.FinalizeRequest{Slug: resp.Slug, Files: manifest(req), FinalizeToken: resp.FinalizeToken, CancelToken: resp.CancelToken}

	f.expectTx()
	out, err := f.svc.Finalize(context.Background(), fin)
	require.NoError(t, err)
	assert.Equal(t, resp.Slug, out.Slug)
	assert.Equal(t, f.now.Add(24*time.Hour), out.ExpiresAt)

	b := f.mem.bySlug(resp.Slug)
	assert.Equal(t, models.StatusCommitted, b.Status)
	for _, file := range f.mem.files[b.ID] {
		assert.Equal(t, models.UploadCommitted, file.UploadStatus)
	}

	_, err = f.svc.Finalize(context.Background(), fin)
	require.ErrorIs(t, err, common.ErrTokenUsed)

	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestFinalize_Rejections(t *testing.T) {
	f := newFixture(t)
	req := negotiateReq()
	resp := f.negotiate(t, req)
	f.upload(resp, req.FileSizes)

	base := bundle.FinalizeRequest{Slug: resp.Slug, Files: manifest(req), FinalizeToken: resp.FinalizeToken}

	t.Run("cancel token", func(t *testing.T) {
		r := base
		r.FinalizeToken = resp.CancelToken
		_, err := f.svc.Finalize(context.Background(), r)
		require.ErrorIs(t, err, common.ErrInvalidToken)
	})

	t.Run("manifest mismatch", func(t *testing.T) {
		r := base
		r.Files = append([]bundle.ManifestFile{}, base.Files...)
		r.Files[1].Size = 21
		_, err := f.svc.Finalize(context.Background(), r)
		require.ErrorIs(t, err, common.ErrValidation)
	})

	t.Run("missing object", func(t *testing.T) {
		delete(f.store.objects, resp.Slots[2].Key)
		defer func() { f.store.objects[resp.Slots[2].Key] = 0 }()
		_, err := f.svc.Finalize(context.Background(), base)
		require.ErrorIs(t, err, common.ErrValidation)
		assert.Contains(t, err.Error(), "c.png")
	})

	t.Run("short object", func(t *testing.T) {
		f.store.objects[resp.Slots[0].Key] = 3
		defer func() { f.store.objects[resp.Slots[0].Key] = 10 }()
		_, err := f.svc.Finalize(context.Background(), base)
		require.ErrorIs(t, err, common.ErrValidation)
	})

	t.Run("expired token", func(t *testing.T) {
		b := f.mem.bySlug(resp.Slug)
		tok, err := auth.GenerateSessionToken(resp.Slug, auth.PurposeFinalize, b.FinalizeJTI, []byte("k"), -time.Second)
		require.NoError(t, err)
		r := base
		r.FinalizeToken = tok
		_, err = f.svc.Finalize(context.Background(), r)
		require.ErrorIs(t, err, common.ErrTokenExpired)
	})

	assert.Equal(t, models.StatusProvisional, f.mem.bySlug(resp.Slug).Status)
}

// --- Cancel ---

func TestCancel_RollsBack(t *testing.T) {
	f := newFixture(t)
	req := negotiateReq()
	resp := f.negotiate(t, req)
	f.upload(resp, req.FileSizes)
	id := f.mem.bySlug(resp.Slug).ID

	err := f.svc.Cancel(context.Background(), bundle.CancelRequest{Slug: resp.Slug, CancelToken: resp.CancelToken})
	require.NoError(t, err)

	assert.Equal(t, models.StatusCancelled, f.mem.bySlug(resp.Slug).Status)
	assert.Len(t, f.store.deleted, 3)
	assert.Empty(t, f.store.objects)
	assert.Empty(t, f.mem.files[id])

	err = f.svc.Cancel(context.Background(), bundle.CancelRequest{Slug: resp.Slug, CancelToken: resp.CancelToken})
	require.ErrorIs(t, err, common.ErrTokenUsed)
}

func TestCancel_AfterCommitKeepsBundle(t *testing.T) {
	f := newFixture(t)
	req := negotiateReq()
	resp := f.negotiate(t, req)
	f.upload(resp, req.FileSizes)

	f.expectTx()
	_, err := f.svc.Finalize(context.Background(), bundle.FinalizeRequest{Slug: resp.Slug, Files: manifest(req), FinalizeToken: resp.FinalizeToken})
	require.NoError(t, err)

	err = f.svc.Cancel(context.Background(), bundle.CancelRequest{Slug: resp.Slug, CancelToken: resp.CancelToken})
	require.ErrorIs(t, err, common.ErrTokenUsed)
	assert.Equal(t, models.StatusCommitted, f.mem.bySlug(resp.Slug).Status)
	assert.Empty(t, f.store.deleted)
}

func TestCancel_StorageFailureIsNotReported(t *testing.T) {
	f := newFixture(t)
	req := negotiateReq()
	resp := f.negotiate(t, req)
	f.store.delErr = errors.New("s3 down")
	id := f.mem.bySlug(resp.Slug).ID

	err := f.svc.Cancel(context.Background(), bundle.CancelRequest{Slug: resp.Slug, CancelToken: resp.CancelToken})
	require.NoError(t, err)
	assert.Len(t, f.mem.files[id], 3, "rows stay for the janitor")
}

// --- ReadLocations ---

func committedBundle(t *testing.T, f *fixture, private bool) (*bundle.NegotiateResponse, bundle.NegotiateRequest) {
	t.Helper()
	req := negotiateReq()
	if private {
		req.IsPrivate = true
		req.AccessCode = "Secr3t"
	}
	resp := f.negotiate(t, req)
	f.upload(resp, req.FileSizes)
	f.expectTx()
	_, err := f.svc.Finalize(context.Background(), bundle.FinalizeRequest{Slug: resp.Slug, Files: manifest(req), FinalizeToken: resp.FinalizeToken})
	require.NoError(t, err)
	return resp, req
}

func TestReadLocations(t *testing.T) {
	f := newFixture(t)
	resp, req := committedBundle(t, f, false)

	out, err := f.svc.ReadLocations(context.Background(), bundle.ReadLocationsRequest{Slug: resp.Slug})
	require.NoError(t, err)
	require.Len(t, out.Files, 3)
	for i, loc := range out.Files {
		assert.Equal(t, req.FileNames[i], loc.FileName)
		assert.Equal(t, req.FileSizes[i], loc.Size)
		assert.Equal(t, resp.Slots[i].Key, loc.Key)
	}

	again, err := f.svc.ReadLocations(context.Background(), bundle.ReadLocationsRequest{Slug: resp.Slug, StoragePaths: []string{resp.Slots[1].Key}})
	require.NoError(t, err)
	require.Len(t, again.Files, 1)
	assert.Equal(t, out.Files[1].URL, again.Files[0].URL, "read URL served from cache")
	assert.Equal(t, 1, f.store.presigns[resp.Slots[1].Key])
}

func TestReadLocations_Private(t *testing.T) {
	f := newFixture(t)
	resp, _ := committedBundle(t, f, true)

	_, err := f.svc.ReadLocations(context.Background(), bundle.ReadLocationsRequest{Slug: resp.Slug})
	require.ErrorIs(t, err, common.ErrForbidden)

	_, err = f.svc.ReadLocations(context.Background(), bundle.ReadLocationsRequest{Slug: resp.Slug, AccessCode: "wrong1"})
	require.ErrorIs(t, err, common.ErrForbidden)

	out, err := f.svc.ReadLocations(context.Background(), bundle.ReadLocationsRequest{Slug: resp.Slug, AccessCode: "Secr3t"})
	require.NoError(t, err)
	assert.Len(t, out.Files, 3)
}

func TestReadLocations_NotReadable(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ReadLocations(context.Background(), bundle.ReadLocationsRequest{Slug: "nothing"})
	require.ErrorIs(t, err, common.ErrorNotFound)

	provisional := f.negotiate(t, negotiateReq())
	_, err = f.svc.ReadLocations(context.Background(), bundle.ReadLocationsRequest{Slug: provisional.Slug})
	require.ErrorIs(t, err, common.ErrorNotFound)

	resp, _ := committedBundle(t, f, false)
	f.now = f.now.Add(25 * time.Hour)
	_, err = f.svc.ReadLocations(context.Background(), bundle.ReadLocationsRequest{Slug: resp.Slug})
	require.ErrorIs(t, err, common.ErrorNotFound)
}

// --- Sweep ---

func TestSweep(t *testing.T) {
	f := newFixture(t)

	stale := f.negotiate(t, negotiateReq())
	committed, _ := committedBundle(t, f, false)

	f.now = f.now.Add(f.cfg.ProvisionalTTL + time.Minute)
	fresh := f.negotiate(t, negotiateReq())

	n, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Nil(t, f.mem.bySlug(stale.Slug))
	assert.NotNil(t, f.mem.bySlug(committed.Slug))
	assert.NotNil(t, f.mem.bySlug(fresh.Slug))

	f.now = f.now.Add(24 * time.Hour)
	f.store.delErr = errors.New("s3 down")
	n, err = f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NotNil(t, f.mem.bySlug(committed.Slug))

	f.store.delErr = nil
	n, err = f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Nil(t, f.mem.bySlug(committed.Slug))
	for _, s := range committed.Slots {
		assert.Contains(t, f.store.deleted, s.Key)
	}
}

func TestStorageKey(t *testing.T) {
	k1 := StorageKey("b1", time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))
	k2 := StorageKey("b1", time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))
	assert.True(t, strings.HasPrefix(k1, "bundles/2025/01/02/b1/"))
	assert.NotEqual(t, k1, k2)
}
