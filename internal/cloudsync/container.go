// Package cloudsync is the reference remote sync engine: it keeps one JSON
// document per container in a remote object store and merges it with the
// local store through the app.ChangeDelegate callbacks.
package cloudsync

import (
	"context"
	"errors"

	"github.com/jaakkos/sharedstore/internal/domain"
)

// ErrNotFound is returned by Container.Get when the object does not exist.
var ErrNotFound = errors.New("object not found")

// ErrAccessDenied is returned by a Container when credentials are refused.
var ErrAccessDenied = errors.New("access denied")

// Container is a remote object store addressed by key.
type Container interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	// Check reports whether the container can be used with the configured account.
	Check(ctx context.Context) (domain.AccountStatus, error)
	// Watch calls onChange whenever key changes remotely, until ctx is done.
	// It returns once the watch is established.
	Watch(ctx context.Context, key string, onChange func()) error
}

// AccountService implements app.AccountService over a Container.
type AccountService struct {
	container Container
}

// NewAccountService returns an AccountService checking container.
func NewAccountService(container Container) *AccountService {
	return &AccountService{container: container}
}

// AccountStatus implements app.AccountService.
func (s *AccountService) AccountStatus(ctx context.Context) (domain.AccountStatus, error) {
	if s.container == nil {
		return domain.AccountNoAccount, nil
	}
	return s.container.Check(ctx)
}
