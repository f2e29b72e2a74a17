package storage

import (
	"context"

	"go.uber.org/zap"
)

// UpdateStatus is the result of comparing a stored version token with the remote one
type UpdateStatus int

const (
	UpdateUnknown UpdateStatus = iota
	UpToDate
	UpdateAvailable
	UpdateError
)

// String returns the string representation of the status
func (s UpdateStatus) String() string {
	switch s {
	case UpToDate:
		return "up_to_date"
	case UpdateAvailable:
		return "update_available"
	case UpdateError:
		return "error"
	default:
		return "unknown"
	}
}

// VersionSource reports the current remote version of a repository
type VersionSource interface {
	CurrentVersion(ctx context.Context, repoID string) (string, error)
}

// UpdateChecker compares stored versions with the hub
type UpdateChecker struct {
	source VersionSource
	store  *MetadataStore
	logger *zap.Logger
}

// NewUpdateChecker creates an update checker
func NewUpdateChecker(source VersionSource, store *MetadataStore, logger *zap.Logger) *UpdateChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UpdateChecker{source: source, store: store, logger: logger}
}

// Check reports the update status of one repository. Repositories without a
// stored token are unknown.
func (u *UpdateChecker) Check(ctx context.Context, repoID string) UpdateStatus {
	local, ok := u.store.Get(repoID)
	if !ok || local.VersionToken == "" {
		return UpdateUnknown
	}

	remote, err := u.source.CurrentVersion(ctx, repoID)
	if err != nil {
		u.logger.Error("failed to check for updates", zap.String("repo", repoID), zap.Error(err))
		return UpdateError
	}
	if remote == "" {
		u.logger.Warn("remote version unavailable", zap.String("repo", repoID))
		return UpdateError
	}

	if remote == local.VersionToken {
		return UpToDate
	}
	u.logger.Info("update available",
		zap.String("repo", repoID),
		zap.String("local", shortToken(local.VersionToken)),
		zap.String("remote", shortToken(remote)))
	return UpdateAvailable
}

// CheckAll checks every stored repository
func (u *UpdateChecker) CheckAll(ctx context.Context) map[string]UpdateStatus {
	results := make(map[string]UpdateStatus)
	for _, repoID := range u.store.Repos() {
		if ctx.Err() != nil {
			break
		}
		results[repoID] = u.Check(ctx, repoID)
	}
	return results
}

func shortToken(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}
