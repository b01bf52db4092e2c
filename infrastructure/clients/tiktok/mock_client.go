package tiktok

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"sync"

	"github.com/google/uuid"

	"tiktok-publisher/domain/dto"
	"tiktok-publisher/domain/repository"
)

// MockClient stands in for the Open API when TIKTOK_MOCK is enabled. Every
// publish completes on its first status fetch.
type MockClient struct {
	mu        sync.Mutex
	published map[string]string
}

func NewMockClient() repository.ITikTokClient {
	return &MockClient{published: map[string]string{}}
}

var mockScopes = []string{"user.info.basic", "user.info.profile", "video.upload", "video.publish"}

func (m *MockClient) ExchangeCode(_ context.Context, code, _ string) (*dto.TokenBundle, error) {
	sum := sha1.Sum([]byte(code))
	openID := "mock" + hex.EncodeToString(sum[:8])
	return m.bundle(openID), nil
}

func (m *MockClient) RefreshToken(_ context.Context, _ string) (*dto.TokenBundle, error) {
	return m.bundle(""), nil
}

func (m *MockClient) bundle(openID string) *dto.TokenBundle {
	expires := int64(86400)
	refreshExpires := int64(86400 * 365)
	refresh := "mock-refresh-" + uuid.NewString()
	b := &dto.TokenBundle{
		AccessToken:      "mock-access-" + uuid.NewString(),
		RefreshToken:     &refresh,
		ExpiresIn:        &expires,
		RefreshExpiresIn: &refreshExpires,
		Scopes:           append([]string(nil), mockScopes...),
	}
	if openID != "" {
		b.OpenID = &openID
	}
	return b
}

func (m *MockClient) FetchUserInfo(_ context.Context, accessToken string) (*dto.UserInfo, error) {
	name := "Mock Creator"
	username := "mock.creator"
	return &dto.UserInfo{OpenID: "", DisplayName: &name, Username: &username}, nil
}

func (m *MockClient) InitPublish(_ context.Context, _, _ string, _ dto.PublishInitBody) (string, error) {
	publishID := "mock_publish_" + uuid.NewString()
	m.mu.Lock()
	m.published[publishID] = "7" + hex.EncodeToString([]byte(publishID))[:12]
	m.mu.Unlock()
	return publishID, nil
}

func (m *MockClient) FetchPublishStatus(_ context.Context, _, publishID string) (*dto.StatusSnapshot, error) {
	m.mu.Lock()
	postID, ok := m.published[publishID]
	m.mu.Unlock()
	if !ok {
		return &dto.StatusSnapshot{Status: dto.PlatformStatusProcessing}, nil
	}
	return &dto.StatusSnapshot{Status: dto.PlatformStatusComplete, PostID: &postID}, nil
}
