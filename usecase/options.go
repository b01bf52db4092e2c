package usecase

import (
	"context"
	"time"

	"tiktok-publisher/infrastructure/utils"
)

const (
	DefaultRefreshMargin  = 60 * time.Second
	DefaultStatusAttempts = 30
	DefaultStatusInterval = 10 * time.Second
	DefaultStateTTL       = 5 * time.Minute
	DefaultJobGroup       = "slidescockpit"
	DefaultAuthorizeURL   = "https://www.tiktok.com/v2/auth/authorize/"

	defaultExpiresInSeconds = 3600
	refreshTimeout          = 30 * time.Second
)

// Options carries everything the TikTok usecases would otherwise read from the
// environment. Zero values fall back to the defaults above.
type Options struct {
	ClientKey    string
	RedirectURI  string
	AuthorizeURL string
	ExtraScopes  []string
	ForceVerify  bool

	RefreshMargin        time.Duration
	StatusAttempts       int
	StatusInterval       time.Duration
	ContentPostingMethod string
	StateTTL             time.Duration
	JobGroup             string

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o Options) withDefaults() Options {
	if o.AuthorizeURL == "" {
		o.AuthorizeURL = DefaultAuthorizeURL
	}
	if o.RefreshMargin <= 0 {
		o.RefreshMargin = DefaultRefreshMargin
	}
	if o.StatusAttempts <= 0 {
		o.StatusAttempts = DefaultStatusAttempts
	}
	if o.StatusInterval <= 0 {
		o.StatusInterval = DefaultStatusInterval
	}
	if o.StateTTL <= 0 {
		o.StateTTL = DefaultStateTTL
	}
	if o.JobGroup == "" {
		o.JobGroup = DefaultJobGroup
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = utils.SleepContext
	}
	return o
}
