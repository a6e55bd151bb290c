package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"khmerscribe/internal/model"
	"khmerscribe/internal/repository"
)

// DefaultQuotaMB is the file size limit for users without a custom quota
const DefaultQuotaMB = 50

// QuotaGuard validates a request against the user's size limit.
// Email and quota are looked up at most once per guard.
type QuotaGuard struct {
	store     repository.Store
	userID    string
	defaultMB float64

	email       string
	emailLoaded bool
	quota       *model.CustomQuota
	quotaLoaded bool
}

// NewQuotaGuard creates a guard for userID
func NewQuotaGuard(store repository.Store, userID string, defaultMB float64) *QuotaGuard {
	if defaultMB <= 0 {
		defaultMB = DefaultQuotaMB
	}
	return &QuotaGuard{
		store:     store,
		userID:    userID,
		defaultMB: defaultMB,
	}
}

// Email resolves the user's email. A user without a profile has no email and no error.
func (g *QuotaGuard) Email(ctx context.Context) (string, error) {
	if g.emailLoaded {
		return g.email, nil
	}

	email, err := g.store.GetUserEmail(ctx, g.userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("failed to look up user email: %w", err)
	}
	g.email = email
	g.emailLoaded = true
	return g.email, nil
}

// CustomQuota returns the user's quota overrides, or nil
func (g *QuotaGuard) CustomQuota(ctx context.Context) (*model.CustomQuota, error) {
	if g.quotaLoaded {
		return g.quota, nil
	}

	email, err := g.Email(ctx)
	if err != nil {
		return nil, err
	}
	if email != "" {
		log.Printf("[Quota] Checking customQuotas/%s", email)
		g.quota, err = g.store.GetCustomQuota(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to look up custom quota: %w", err)
		}
	}
	g.quotaLoaded = true
	return g.quota, nil
}

// LimitMB returns the maximum file size in MB for the user
func (g *QuotaGuard) LimitMB(ctx context.Context) (float64, error) {
	quota, err := g.CustomQuota(ctx)
	if err != nil {
		return 0, err
	}
	if quota != nil && quota.AudioFileSizeMB != nil {
		return *quota.AudioFileSizeMB, nil
	}
	return g.defaultMB, nil
}

// ValidateRequest fails with *QuotaExceededError iff the file is larger than the limit
func (g *QuotaGuard) ValidateRequest(ctx context.Context, req *model.Request) error {
	limit, err := g.LimitMB(ctx)
	if err != nil {
		return err
	}

	size := req.SizeInMB()
	if size > limit {
		return &QuotaExceededError{SizeMB: size, LimitMB: limit}
	}
	log.Printf("[Quota] File size (%.2fMB) is within max size (%.2fMB)", size, limit)
	return nil
}

// Whitelist restricts the service to known emails. An empty whitelist allows everyone.
type Whitelist struct {
	emails  map[string]bool
	pattern *regexp.Regexp
}

// NewWhitelist builds a whitelist from exact emails and an optional pattern matched against the whole email
func NewWhitelist(emails []string, pattern string) (*Whitelist, error) {
	w := &Whitelist{emails: make(map[string]bool)}
	for _, e := range emails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			w.emails[e] = true
		}
	}
	if pattern != "" {
		re, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			return nil, fmt.Errorf("invalid whitelist pattern: %w", err)
		}
		w.pattern = re
	}
	return w, nil
}

// Enabled reports whether any restriction is configured
func (w *Whitelist) Enabled() bool {
	return w != nil && (len(w.emails) > 0 || w.pattern != nil)
}

// Allows reports whether email may use the service
func (w *Whitelist) Allows(email string) bool {
	if !w.Enabled() {
		return true
	}
	if email == "" {
		return false
	}
	if w.emails[strings.ToLower(email)] {
		return true
	}
	return w.pattern != nil && w.pattern.MatchString(email)
}
