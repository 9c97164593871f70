package kvstore

import (
	"context"
	"strings"
)

// PrefixLister is implemented by backends that can list a key range without
// walking every key.
type PrefixLister interface {
	KeysWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// Namespaced isolates one scope (a visitor) inside a shared backend.
type Namespaced struct {
	inner  Store
	prefix string
}

// Namespace scopes store to keys prefixed by "<scope>/". An empty scope returns
// store unchanged.
func Namespace(store Store, scope string) Store {
	if scope == "" {
		return store
	}
	return &Namespaced{inner: store, prefix: scope + "/"}
}

func (n *Namespaced) Get(ctx context.Context, key string) (string, error) {
	return n.inner.Get(ctx, n.prefix+key)
}

func (n *Namespaced) Set(ctx context.Context, key, value string) error {
	return n.inner.Set(ctx, n.prefix+key, value)
}

func (n *Namespaced) Delete(ctx context.Context, key string) error {
	return n.inner.Delete(ctx, n.prefix+key)
}

func (n *Namespaced) Keys(ctx context.Context) ([]string, error) {
	var (
		all []string
		err error
	)
	if pl, ok := n.inner.(PrefixLister); ok {
		all, err = pl.KeysWithPrefix(ctx, n.prefix)
	} else {
		all, err = n.inner.Keys(ctx)
	}
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(all))
	for _, k := range all {
		if strings.HasPrefix(k, n.prefix) {
			keys = append(keys, strings.TrimPrefix(k, n.prefix))
		}
	}
	return keys, nil
}
