package controllers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/chartgate/config"
	"github.com/cppla/chartgate/models"
	"github.com/cppla/chartgate/storage"
	"github.com/cppla/chartgate/utils"
	"github.com/cppla/chartgate/validation"
	"github.com/cppla/chartgate/vision"
)

// multipartOverhead is the allowance for boundaries and part headers when the
// whole-request content-length is compared against a file size ceiling. Only
// requests over limit+overhead are rejected on the header alone; everything
// under that is settled by the streaming guard, which is exact.
const multipartOverhead = 64 * 1024

// analysisTimeout bounds the downstream vision call; it is separate from the
// validation budget, which never waits on external collaborators.
const analysisTimeout = 30 * time.Second

// UploadController exposes the validated upload endpoint. One pipeline per
// upload profile, all sharing a resource manager and recorder.
type UploadController struct {
	db        *gorm.DB
	store     storage.ObjectStore
	analyzer  vision.Analyzer
	recorder  validation.Recorder
	resources *validation.ResourceManager
	pipelines map[string]*validation.Pipeline

	// AbuseGuard toggles the redis-backed per-IP throttling; off in tests.
	AbuseGuard bool

	sem chan struct{}
}

// NewUploadController builds pipelines for every configured upload profile.
// db may be nil when the database is disabled; store and recorder must not be nil.
func NewUploadController(db *gorm.DB, store storage.ObjectStore, analyzer vision.Analyzer, recorder validation.Recorder) *UploadController {
	cfg := config.Get()
	resources := validation.NewResourceManager(utils.Sugar)

	pipelines := make(map[string]*validation.Pipeline, len(cfg.UploadProfiles))
	for name, profile := range cfg.UploadProfiles {
		pipelines[name] = validation.New(validation.Config{
			MaxSizeBytes:     profile.MaxSizeBytes,
			AllowedTypes:     profile.AllowedTypes,
			ScanEnabled:      cfg.UploadScanEnabled,
			ScanWindowBytes:  cfg.UploadScanWindowBytes,
			AnomalyEnabled:   cfg.UploadAnomalyEnabled,
			AnomalyThreshold: cfg.UploadAnomalyThreshold,
			Timeout:          time.Duration(cfg.UploadTimeoutMillis) * time.Millisecond,
		}, resources, recorder, utils.Sugar)
	}

	var sem chan struct{}
	if cfg.UploadMaxConcurrent > 0 {
		sem = make(chan struct{}, cfg.UploadMaxConcurrent)
	}

	return &UploadController{
		db:        db,
		store:     store,
		analyzer:  analyzer,
		recorder:  recorder,
		resources: resources,
		pipelines: pipelines,
		sem:       sem,
	}
}

// Resources exposes the shared resource manager; leak checks in tests use it.
func (u *UploadController) Resources() *validation.ResourceManager {
	return u.resources
}

// Upload handles POST /upload/:profile.
func (u *UploadController) Upload(ctx *gin.Context) {
	profile := ctx.Param("profile")
	pipeline, ok := u.pipelines[profile]
	if !ok {
		utils.Error(ctx, http.StatusNotFound, 40440, "unknown upload profile")
		return
	}

	ip := ctx.ClientIP()
	if u.AbuseGuard {
		if utils.UploadIsBanned(ip) {
			utils.Error(ctx, http.StatusTooManyRequests, 42910, "too many rejected uploads, try again later")
			return
		}
		if !utils.UploadCooldownTry(ip) {
			utils.Error(ctx, http.StatusTooManyRequests, 42911, "uploading too fast")
			return
		}
	}

	// Bound in-flight uploads when configured: each one holds its full
	// buffer in memory until hand-off or release.
	if u.sem != nil {
		select {
		case u.sem <- struct{}{}:
			defer func() { <-u.sem }()
		default:
			utils.Error(ctx, http.StatusServiceUnavailable, 50340, "too many concurrent uploads")
			return
		}
	}

	limit := pipeline.Config().MaxSizeBytes

	// Header check on the whole request before touching the body. The exact
	// per-file ceiling is enforced by the streaming guard inside the pipeline.
	declaredLen := int64(0)
	if cl := ctx.Request.ContentLength; cl > limit+multipartOverhead {
		declaredLen = cl
	}

	part, declaredType, declaredFilename, err := firstFilePart(ctx)
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40030, "no file uploaded")
		return
	}

	out, cand := pipeline.Run(ctx.Request.Context(), part, declaredLen, declaredType, declaredFilename, ip)
	if !out.Accepted {
		u.recordRejection(ip)
		u.respondRejected(ctx, out)
		return
	}

	// Accept: ownership of the buffer transfers to storage.
	buf := u.resources.Handoff(cand)
	stored, err := u.store.Save(ctx.Request.Context(), cand.ID, utils.SanitizeFilename(declaredFilename), out.DetectedType, buf)
	if err != nil {
		if utils.Sugar != nil {
			utils.Sugar.Errorw("store accepted upload failed", "candidate_id", cand.ID, "error", err)
		}
		utils.Error(ctx, http.StatusInternalServerError, 50031, "failed to save file")
		return
	}

	u.recordStoredFile(cand.ID, stored, out)

	resp := gin.H{
		"id":             cand.ID,
		"url":            stored.URL,
		"detected_type":  out.DetectedType,
		"size_bytes":     out.SizeBytes,
		"elapsed_millis": out.ElapsedMillis,
	}
	if u.analyzer != nil && profile == "chart" {
		if verdict, ok := u.analyzeChart(ctx, cand.ID, out.DetectedType, buf); ok {
			resp["analysis"] = verdict
		}
	}

	utils.Success(ctx, resp)
}

// GetAnalysis handles GET /uploads/:id/analysis from the verdict cache.
func (u *UploadController) GetAnalysis(ctx *gin.Context) {
	id := ctx.Param("id")
	var verdict vision.Verdict
	if !utils.CacheGetJSON("analysis:candidate:"+id, &verdict) {
		utils.Error(ctx, http.StatusNotFound, 40441, "no analysis for this upload")
		return
	}
	utils.Success(ctx, verdict)
}

// firstFilePart streams the multipart body up to the first file field without
// buffering it; the pipeline consumes the part reader directly.
func firstFilePart(ctx *gin.Context) (io.Reader, string, string, error) {
	mr, err := ctx.Request.MultipartReader()
	if err != nil {
		return nil, "", "", err
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, "", "", err
		}
		if part.FileName() == "" {
			// Optional text fields precede the file; skip them.
			continue
		}
		return part, part.Header.Get("Content-Type"), part.FileName(), nil
	}
}

func (u *UploadController) respondRejected(ctx *gin.Context, out validation.Outcome) {
	verr := out.Err
	utils.ErrorKind(ctx, verr.HTTPStatus(), rejectionCode(out.FailureKind), string(out.FailureKind), verr.Message)
}

// rejectionCode maps each failure kind onto a stable numeric API code.
func rejectionCode(kind validation.FailureKind) int {
	switch kind {
	case validation.FailureSizeExceededHeader:
		return 41301
	case validation.FailureSizeExceededStream:
		return 41302
	case validation.FailureUnsupportedDeclaredType:
		return 40010
	case validation.FailureSignatureMismatch:
		return 40011
	case validation.FailureMalformedFile:
		return 40012
	case validation.FailureThreatPatternDetected:
		return 40013
	case validation.FailureThreatPatternInMetadata:
		return 40014
	case validation.FailureMetadataParseFailure:
		return 40015
	case validation.FailureAnomalyScore:
		return 40016
	case validation.FailureValidationTimeout:
		return 50010
	default:
		return 50011
	}
}

func (u *UploadController) recordRejection(ip string) {
	if !u.AbuseGuard {
		return
	}
	if n := utils.UploadRejectRecord(ip); n >= utils.UploadRejectLimit() {
		utils.UploadBan(ip)
	}
}

// recordStoredFile registers the accepted upload for the TTL cleaner.
// Best-effort: a database hiccup must not fail an already-stored upload.
func (u *UploadController) recordStoredFile(candidateID string, stored storage.StoredObject, out validation.Outcome) {
	if u.db == nil {
		return
	}
	cfg := config.Get()
	ttl := cfg.UploadsSelfDestructMinutes
	if ttl <= 0 {
		ttl = 60
	}
	rec := models.UploadedFile{
		CandidateID:  candidateID,
		FilePath:     stored.Path,
		URL:          stored.URL,
		DetectedType: out.DetectedType,
		SizeBytes:    out.SizeBytes,
		ExpireAt:     time.Now().Add(time.Duration(ttl) * time.Minute),
	}
	if err := u.db.Create(&rec).Error; err != nil && utils.Sugar != nil {
		utils.Sugar.Warnw("record uploaded file failed", "candidate_id", candidateID, "error", err)
	}
}

// analyzeChart fetches a cached verdict by content hash or calls the
// collaborator, then caches under both the hash and the candidate id.
func (u *UploadController) analyzeChart(ctx *gin.Context, candidateID, detectedType string, buf []byte) (vision.Verdict, bool) {
	sum := sha256.Sum256(buf)
	hashKey := "analysis:sha256:" + hex.EncodeToString(sum[:])

	var verdict vision.Verdict
	if !utils.CacheGetJSON(hashKey, &verdict) {
		actx, cancel := context.WithTimeout(ctx.Request.Context(), analysisTimeout)
		defer cancel()
		v, err := u.analyzer.AnalyzeChart(actx, detectedType, buf)
		if err != nil {
			if utils.Sugar != nil {
				utils.Sugar.Warnw("chart analysis failed", "candidate_id", candidateID, "error", err)
			}
			return vision.Verdict{}, false
		}
		verdict = v
		utils.CacheSetJSON(hashKey, verdict, 0)
	}
	utils.CacheSetJSON("analysis:candidate:"+candidateID, verdict, 0)
	return verdict, true
}
