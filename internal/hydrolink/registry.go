package hydrolink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tejusbharadwaj/hydrolink/internal/api"
	"github.com/tejusbharadwaj/hydrolink/internal/models"
)

// ErrCredentialsMismatch is returned when a username is already registered
// with a different password.
var ErrCredentialsMismatch = errors.New("account already registered with different credentials")

type registryEntry struct {
	password string
	refs     int

	// ready is closed once account or err is set.
	ready   chan struct{}
	account *Account
	err     error
}

// Registry hands out one Account per username. Holders share the account
// and the last Release shuts it down.
type Registry struct {
	opts Options

	mu       sync.Mutex
	accounts map[string]*registryEntry
}

func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:     opts,
		accounts: make(map[string]*registryEntry),
	}
}

// Acquire returns the account for creds.Username, initializing it on first
// use. Later calls for the same username reuse the existing account and wait
// for an initialization in progress. Initialization runs without holding the
// registry lock.
func (r *Registry) Acquire(ctx context.Context, creds models.Credentials) (*Account, error) {
	r.mu.Lock()
	if entry, ok := r.accounts[creds.Username]; ok {
		if entry.password != creds.Password {
			r.mu.Unlock()
			return nil, ErrCredentialsMismatch
		}
		entry.refs++
		r.mu.Unlock()
		return r.await(ctx, creds.Username, entry)
	}
	entry := &registryEntry{
		password: creds.Password,
		refs:     1,
		ready:    make(chan struct{}),
	}
	r.accounts[creds.Username] = entry
	r.mu.Unlock()

	account, err := Initialize(ctx, creds, r.opts)

	r.mu.Lock()
	registered := r.accounts[creds.Username] == entry
	if err == nil && !registered {
		// Close ran while initializing.
		err = api.ErrStopped
	}
	if err != nil && registered {
		delete(r.accounts, creds.Username)
	}
	entry.account, entry.err = account, err
	r.mu.Unlock()
	close(entry.ready)

	if err != nil {
		if account != nil {
			_ = account.Shutdown(ctx)
		}
		return nil, err
	}
	return account, nil
}

// await waits for another caller's initialization of entry.
func (r *Registry) await(ctx context.Context, username string, entry *registryEntry) (*Account, error) {
	select {
	case <-entry.ready:
	case <-ctx.Done():
		r.mu.Lock()
		if r.accounts[username] == entry {
			entry.refs--
		}
		r.mu.Unlock()
		return nil, ctx.Err()
	}
	if entry.err != nil {
		return nil, entry.err
	}
	return entry.account, nil
}

// Release drops one reference to the account of username.
func (r *Registry) Release(ctx context.Context, username string) error {
	r.mu.Lock()
	entry, ok := r.accounts[username]
	if !ok || entry.account == nil {
		r.mu.Unlock()
		return fmt.Errorf("no account registered for %q", username)
	}
	entry.refs--
	if entry.refs > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.accounts, username)
	r.mu.Unlock()

	return entry.account.Shutdown(ctx)
}

// Refs returns the number of holders of username's account.
func (r *Registry) Refs(username string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.accounts[username]; ok {
		return entry.refs
	}
	return 0
}

// Close shuts down every account regardless of outstanding references.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	accounts := r.accounts
	r.accounts = make(map[string]*registryEntry)
	r.mu.Unlock()

	var firstErr error
	for _, entry := range accounts {
		if entry.account == nil {
			continue
		}
		if err := entry.account.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
