package usecase

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"tiktok-publisher/domain/dto"
	"tiktok-publisher/domain/model"
	"tiktok-publisher/domain/repository"
	"tiktok-publisher/infrastructure/logger"
)

const (
	DefaultPresignExpiry = 900
	minPresignExpiry     = 60
	maxPresignExpiry     = 3600
)

var extensionUnsafe = regexp.MustCompile(`[^a-z0-9.]+`)

type IFilesUsecase interface {
	Presign(ctx context.Context, userID string, req dto.PresignRequest) (*dto.PresignResponse, error)
}

type filesUsecase struct {
	blobs repository.IBlobStore
}

func NewFilesUsecase(blobs repository.IBlobStore) IFilesUsecase {
	return &filesUsecase{blobs: blobs}
}

func (u *filesUsecase) Presign(ctx context.Context, userID string, req dto.PresignRequest) (*dto.PresignResponse, error) {
	if u.blobs == nil {
		return nil, model.NewPublishError(model.ErrQueueUnavailable, "storage-not-configured", "File uploads are not configured")
	}

	expires := req.ExpiresInSec
	if expires == 0 {
		expires = DefaultPresignExpiry
	}
	if expires < minPresignExpiry || expires > maxPresignExpiry {
		return nil, model.NewPublishError(model.ErrClientRequest, "invalid-expiry",
			fmt.Sprintf("expiresInSec must be between %d and %d", minPresignExpiry, maxPresignExpiry))
	}

	var key string
	switch {
	case strings.TrimSpace(req.Key) != "":
		key = NormalizeObjectKey(req.Key)
	case strings.TrimSpace(req.FileName) != "":
		key = UploadKey(userID, req.FileName)
	default:
		return nil, model.NewPublishError(model.ErrClientRequest, "invalid-file-key", "Invalid file key")
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	uploadURL, publicURL, err := u.blobs.PresignUpload(ctx, key, contentType, time.Duration(expires)*time.Second)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while presigning upload")
		return nil, err
	}
	return &dto.PresignResponse{UploadURL: uploadURL, PublicURL: publicURL, Key: key, ExpiresIn: expires}, nil
}

// NormalizeObjectKey trims the key, turns backslashes into slashes and
// drops a leading slash.
func NormalizeObjectKey(key string) string {
	cleaned := strings.ReplaceAll(strings.TrimSpace(key), `\`, "/")
	return strings.TrimPrefix(cleaned, "/")
}

// UploadKey builds a collision-free key under the user's upload prefix. The
// base name is slugified and the extension kept.
func UploadKey(userID, fileName string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(fileName), `\`, "/"))
	ext := extensionUnsafe.ReplaceAllString(strings.ToLower(path.Ext(name)), "")
	base := slug.Make(strings.TrimSuffix(name, path.Ext(name)))
	if base == "" {
		base = "file"
	}
	if ext == "." {
		ext = ""
	}
	return fmt.Sprintf("uploads/%s/%s-%s%s", userID, uuid.NewString(), base, ext)
}
