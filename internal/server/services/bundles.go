// Package services contains server-side business logic. BundleService runs
// the control-plane side of an upload session: slot negotiation, finalize,
// cancel, bulk read locations and expiry.
package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/FloatTech/ttl"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/dropbin/internal/bundle"
	"github.com/dmitrijs2005/dropbin/internal/common"
	"github.com/dmitrijs2005/dropbin/internal/dbx"
	"github.com/dmitrijs2005/dropbin/internal/descriptor"
	"github.com/dmitrijs2005/dropbin/internal/logging"
	"github.com/dmitrijs2005/dropbin/internal/pow"
	"github.com/dmitrijs2005/dropbin/internal/server/auth"
	"github.com/dmitrijs2005/dropbin/internal/server/config"
	"github.com/dmitrijs2005/dropbin/internal/server/metrics"
	"github.com/dmitrijs2005/dropbin/internal/server/models"
	"github.com/dmitrijs2005/dropbin/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/dropbin/internal/server/storage"
)

const (
	slugAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	slugLength   = 8
	slugAttempts = 5
	headParallel = 4
	sweepBatch   = 100
)

// ObjectStore is the subset of storage.Store used by the service.
type ObjectStore interface {
	PresignPut(ctx context.Context, key, contentType string, size int64, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, key, fileName string, ttl time.Duration) (string, error)
	Head(ctx context.Context, key string) (*storage.ObjectInfo, error)
	DeleteObjects(ctx context.Context, keys []string) error
}

type BundleService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       ObjectStore
	config      *config.Config
	logger      logging.Logger
	metrics     *metrics.Metrics
	readURLs    *ttl.Cache[string, string]
	now         func() time.Time
}

func NewBundleService(db *sql.DB, m repomanager.RepositoryManager, store ObjectStore, cfg *config.Config, logger logging.Logger, mx *metrics.Metrics) *BundleService {
	if logger == nil {
		logger = logging.Nop{}
	}
	// Cached read URLs are handed out for at most half of their lifetime.
	cacheTTL := cfg.ReadURLValidityDuration / 2
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &BundleService{
		db:          db,
		repomanager: m,
		store:       store,
		config:      cfg,
		logger:      logger.With("module", "bundles"),
		metrics:     mx,
		readURLs:    ttl.NewCache[string, string](cacheTTL),
		now:         time.Now,
	}
}

// Close stops the read URL cache.
func (s *BundleService) Close() {
	s.readURLs.Destroy()
}

// StorageKey returns a fresh object key for a file of bundleID.
func StorageKey(bundleID string, now time.Time) string {
	return fmt.Sprintf("bundles/%d/%02d/%02d/%s/%s", now.Year(), now.Month(), now.Day(), bundleID, uuid.NewString())
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrValidation, fmt.Sprintf(format, args...))
}

// Negotiate reserves a provisional bundle and returns one presigned write
// slot per file, in request order, plus the finalize and cancel tokens.
func (s *BundleService) Negotiate(ctx context.Context, req bundle.NegotiateRequest, tier bundle.Tier, clientIP string) (*bundle.NegotiateResponse, error) {
	n := len(req.FileNames)
	if len(req.FileSizes) != n || (len(req.ContentTypes) != 0 && len(req.ContentTypes) != n) {
		return nil, validationf("fileNames, fileSizes and contentTypes must have the same length")
	}

	if err := pow.Verify(req.AntiAbuseToken, pow.Challenge(req.FileNames, req.FileSizes), s.config.PowDifficulty); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrForbidden, err)
	}

	files := make([]bundle.File, n)
	for i := range req.FileNames {
		files[i] = bundle.File{Name: req.FileNames[i], Size: req.FileSizes[i]}
		if len(req.ContentTypes) == n {
			files[i].ContentType = req.ContentTypes[i]
		}
	}
	d, _, err := descriptor.Build(files, bundle.Options{
		Slug:       req.Slug,
		Private:    req.IsPrivate,
		AccessCode: req.AccessCode,
		Public:     req.IsPubliclyListed,
		Retention:  bundle.Retention(req.RetentionTimeCode),
	}, tier)
	if err != nil {
		return nil, err
	}
	opts := d.Options()
	if opts.Retention.Extended() && !tier.Elevated() {
		return nil, fmt.Errorf("%w: retention %s requires a paid plan", common.ErrForbidden, opts.Retention)
	}

	slug, err := s.resolveSlug(ctx, opts.Slug)
	if err != nil {
		return nil, err
	}

	var codeHash []byte
	if opts.Private {
		codeHash, err = bcrypt.GenerateFromPassword([]byte(opts.AccessCode), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash access code: %w", err)
		}
	}

	now := s.now().UTC()
	b := &models.Bundle{
		ID:             uuid.NewString(),
		Slug:           slug,
		Status:         models.StatusProvisional,
		Retention:      string(opts.Retention),
		IsPrivate:      opts.Private,
		IsPublic:       opts.Public,
		AccessCodeHash: codeHash,
		FinalizeJTI:    uuid.NewString(),
		CancelJTI:      uuid.NewString(),
		Tier:           string(tier),
		ClientIP:       clientIP,
		CreatedAt:      now,
	}

	rows := make([]*models.File, 0, n)
	slots := make([]bundle.SlotResponse, 0, n)
	for i, f := range d.Files() {
		key := StorageKey(b.ID, now)
		url, err := s.store.PresignPut(ctx, key, f.ContentType, f.Size, s.config.SlotValidityDuration)
		if err != nil {
			return nil, err
		}
		rows = append(rows, &models.File{
			BundleID:     b.ID,
			Index:        i,
			FileName:     f.Name,
			ContentType:  f.ContentType,
			Size:         f.Size,
			StorageKey:   key,
			UploadStatus: models.UploadPending,
		})
		slots = append(slots, bundle.SlotResponse{URL: url, Key: key})
	}

	finalizeToken, err := auth.GenerateSessionToken(slug, auth.PurposeFinalize, b.FinalizeJTI, []byte(s.config.SecretKey), s.config.SessionTokenValidityDuration)
	if err != nil {
		return nil, err
	}
	cancelToken, err := auth.GenerateSessionToken(slug, auth.PurposeCancel, b.CancelJTI, []byte(s.config.SecretKey), s.config.SessionTokenValidityDuration)
	if err != nil {
		return nil, err
	}

	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Bundles(tx).Create(ctx, b); err != nil {
			return err
		}
		return s.repomanager.Files(tx).CreateBatch(ctx, rows)
	}); err != nil {
		return nil, err
	}

	s.metrics.Negotiated()
	s.logger.Info(ctx, "bundle negotiated", "slug", slug, "files", n, "bytes", d.TotalSize(), "tier", tier)

	return &bundle.NegotiateResponse{
		Slots:             slots,
		Slug:              slug,
		RetentionTimeCode: string(opts.Retention),
		FinalizeToken:     finalizeToken,
		CancelToken:       cancelToken,
	}, nil
}

func (s *BundleService) resolveSlug(ctx context.Context, requested string) (string, error) {
	repo := s.repomanager.Bundles(s.db)

	if requested != "" {
		taken, err := repo.SlugExists(ctx, requested)
		if err != nil {
			return "", err
		}
		if taken {
			return "", common.ErrSlugTaken
		}
		return requested, nil
	}

	for i := 0; i < slugAttempts; i++ {
		slug, err := common.MakeRandString(slugLength, slugAlphabet)
		if err != nil {
			return "", err
		}
		taken, err := repo.SlugExists(ctx, slug)
		if err != nil {
			return "", err
		}
		if !taken {
			return slug, nil
		}
	}
	return "", fmt.Errorf("%w: could not generate a free slug", common.ErrorInternal)
}

// Finalize commits a provisional bundle once every object is present with
// its declared size. A finalize token works once.
func (s *BundleService) Finalize(ctx context.Context, req bundle.FinalizeRequest) (*bundle.FinalizeResponse, error) {
	jti, err := auth.ParseSessionToken(req.FinalizeToken, auth.PurposeFinalize, req.Slug, []byte(s.config.SecretKey))
	if err != nil {
		return nil, err
	}

	b, err := s.repomanager.Bundles(s.db).GetBySlug(ctx, req.Slug)
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusProvisional {
		return nil, common.ErrTokenUsed
	}
	if subtle.ConstantTimeCompare([]byte(b.FinalizeJTI), []byte(jti)) != 1 {
		return nil, common.ErrInvalidToken
	}

	stored, err := s.repomanager.Files(s.db).ListByBundle(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if err := matchManifest(stored, req.Files); err != nil {
		return nil, err
	}
	if err := s.verifyObjects(ctx, stored); err != nil {
		return nil, err
	}

	retention := bundle.Retention(b.Retention)
	dur, err := retention.Duration()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	now := s.now().UTC()
	expiresAt := now.Add(dur)

	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Bundles(tx).Commit(ctx, b.ID, jti, now, expiresAt); err != nil {
			return err
		}
		return s.repomanager.Files(tx).MarkCommitted(ctx, b.ID)
	}); err != nil {
		return nil, err
	}

	s.metrics.Finalized()
	s.logger.Info(ctx, "bundle committed", "slug", b.Slug, "expires_at", expiresAt)

	return &bundle.FinalizeResponse{Slug: b.Slug, RetentionTimeCode: b.Retention, ExpiresAt: expiresAt}, nil
}

func matchManifest(stored []*models.File, manifest []bundle.ManifestFile) error {
	if len(stored) != len(manifest) {
		return validationf("manifest lists %d files, %d were negotiated", len(manifest), len(stored))
	}
	for i, f := range stored {
		m := manifest[i]
		if m.FileName != f.FileName || m.Size != f.Size {
			return validationf("manifest entry %d (%s, %d bytes) does not match %s, %d bytes", i+1, m.FileName, m.Size, f.FileName, f.Size)
		}
	}
	return nil
}

func (s *BundleService) verifyObjects(ctx context.Context, files []*models.File) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(headParallel)
	for _, f := range files {
		g.Go(func() error {
			info, err := s.store.Head(gctx, f.StorageKey)
			if err != nil {
				if errors.Is(err, common.ErrorNotFound) {
					return validationf("file %q was not uploaded", f.FileName)
				}
				return err
			}
			if info.Size != f.Size {
				return validationf("file %q has %d bytes, %d were declared", f.FileName, info.Size, f.Size)
			}
			return nil
		})
	}
	return g.Wait()
}

// Cancel rolls a provisional bundle back. A committed bundle is never
// touched: its cancel token no longer matches the guarded update.
func (s *BundleService) Cancel(ctx context.Context, req bundle.CancelRequest) error {
	jti, err := auth.ParseSessionToken(req.CancelToken, auth.PurposeCancel, req.Slug, []byte(s.config.SecretKey))
	if err != nil {
		return err
	}

	b, err := s.repomanager.Bundles(s.db).GetBySlug(ctx, req.Slug)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(b.CancelJTI), []byte(jti)) != 1 {
		return common.ErrInvalidToken
	}
	if err := s.repomanager.Bundles(s.db).MarkCancelled(ctx, b.ID, jti); err != nil {
		return err
	}

	s.metrics.Cancelled()
	s.logger.Info(ctx, "bundle cancelled", "slug", b.Slug)

	// Object cleanup is best effort; the janitor retries cancelled bundles.
	if err := s.purge(ctx, b, false); err != nil {
		s.logger.Warn(ctx, "cancel cleanup incomplete", "slug", b.Slug, "error", err)
	}
	return nil
}

// purge deletes the objects of b and then its file rows, or the whole
// bundle row when dropBundle is set. Rows stay when object deletion fails.
func (s *BundleService) purge(ctx context.Context, b *models.Bundle, dropBundle bool) error {
	stored, err := s.repomanager.Files(s.db).ListByBundle(ctx, b.ID)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(stored))
	for _, f := range stored {
		keys = append(keys, f.StorageKey)
	}
	if len(keys) > 0 {
		if err := s.store.DeleteObjects(ctx, keys); err != nil {
			return err
		}
	}
	for _, k := range keys {
		s.readURLs.Delete(k)
	}
	if dropBundle {
		return s.repomanager.Bundles(s.db).Delete(ctx, b.ID)
	}
	return s.repomanager.Files(s.db).DeleteByBundle(ctx, b.ID)
}

// ReadLocations returns short-lived read URLs for a committed bundle, in
// bundle order. StoragePaths narrows the result to the listed keys.
func (s *BundleService) ReadLocations(ctx context.Context, req bundle.ReadLocationsRequest) (*bundle.ReadLocationsResponse, error) {
	b, err := s.repomanager.Bundles(s.db).GetBySlug(ctx, req.Slug)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if b.Status != models.StatusCommitted || b.ExpiresAt == nil || !b.ExpiresAt.After(now) {
		return nil, common.ErrorNotFound
	}
	if b.IsPrivate {
		if req.AccessCode == "" || bcrypt.CompareHashAndPassword(b.AccessCodeHash, []byte(req.AccessCode)) != nil {
			return nil, common.ErrForbidden
		}
	}

	stored, err := s.repomanager.Files(s.db).ListByBundle(ctx, b.ID)
	if err != nil {
		return nil, err
	}

	var only map[string]bool
	if len(req.StoragePaths) > 0 {
		only = make(map[string]bool, len(req.StoragePaths))
		for _, p := range req.StoragePaths {
			only[p] = true
		}
	}

	resp := &bundle.ReadLocationsResponse{}
	for _, f := range stored {
		if only != nil && !only[f.StorageKey] {
			continue
		}
		url := s.readURLs.Get(f.StorageKey)
		if url == "" {
			url, err = s.store.PresignGet(ctx, f.StorageKey, f.FileName, s.config.ReadURLValidityDuration)
			if err != nil {
				return nil, err
			}
			s.readURLs.Set(f.StorageKey, url)
		}
		resp.Files = append(resp.Files, bundle.ReadLocation{URL: url, FileName: f.FileName, Size: f.Size, Key: f.StorageKey})
	}
	if len(resp.Files) == 0 {
		return nil, common.ErrorNotFound
	}
	return resp, nil
}

// Sweep removes provisional bundles older than the provisional TTL,
// committed bundles past their retention and cancelled bundles, together
// with their objects. It returns how many bundles were removed.
func (s *BundleService) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()
	expired, err := s.repomanager.Bundles(s.db).SelectExpired(ctx, now, now.Add(-s.config.ProvisionalTTL), sweepBatch)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, b := range expired {
		if ctx.Err() != nil {
			break
		}
		if err := s.purge(ctx, b, true); err != nil {
			s.logger.Warn(ctx, "sweep failed", "slug", b.Slug, "status", b.Status, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.metrics.Swept(removed)
		s.logger.Info(ctx, "swept bundles", "count", removed)
	}
	return removed, nil
}
