// Package storage persists small per-session key-value state: the saved
// container id and the UI's navigation keys.
package storage

import (
	"context"
	"errors"
)

// Well-known keys.
const (
	KeyTagID        = "gtm_id"
	KeyAppView      = "app_view"
	KeyAppChallenge = "app_challenge"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("storage closed")

// KV is namespaced string storage. Namespaces isolate sessions.
type KV interface {
	Get(ctx context.Context, namespace, key string) (string, bool, error)
	Set(ctx context.Context, namespace, key, value string) error
	Delete(ctx context.Context, namespace, key string) error
	// Keys lists a namespace's keys in lexical order.
	Keys(ctx context.Context, namespace string) ([]string, error)
	DeleteNamespace(ctx context.Context, namespace string) error
	Close() error
}

// Scope binds a KV to one namespace.
type Scope struct {
	kv        KV
	namespace string
}

// Scoped returns the view of kv restricted to namespace.
func Scoped(kv KV, namespace string) Scope {
	return Scope{kv: kv, namespace: namespace}
}

func (s Scope) Namespace() string { return s.namespace }

func (s Scope) Get(ctx context.Context, key string) (string, bool, error) {
	return s.kv.Get(ctx, s.namespace, key)
}

func (s Scope) Set(ctx context.Context, key, value string) error {
	return s.kv.Set(ctx, s.namespace, key, value)
}

func (s Scope) Delete(ctx context.Context, key string) error {
	return s.kv.Delete(ctx, s.namespace, key)
}

func (s Scope) Keys(ctx context.Context) ([]string, error) {
	return s.kv.Keys(ctx, s.namespace)
}

// Clear deletes every key in the namespace.
func (s Scope) Clear(ctx context.Context) error {
	return s.kv.DeleteNamespace(ctx, s.namespace)
}
