// Package statevalkey keeps the blog session in Valkey so several processes
// (or hosts) can share one login.
package statevalkey

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/alexjbarnes/blog-client/blogapi"
)

// opTimeout bounds each Valkey round trip. CredentialStore carries no
// context, so every call gets its own deadline.
const opTimeout = 5 * time.Second

// compareAndSwapScript sets KEYS[1] to ARGV[2] only when its current value
// (empty when absent) equals ARGV[1]. Returns 1 on swap.
var compareAndSwapScript = valkey.NewLuaScript(`
local current = redis.call('GET', KEYS[1])
if current == false then current = '' end
if current ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[2])
return 1
`)

var _ blogapi.CredentialStore = (*Store)(nil)

// Store is a blogapi.CredentialStore backed by Valkey.
type Store struct {
	valkey valkey.Client
	prefix string
}

// New wraps an existing client. Keys are stored as "<prefix>:<key>".
func New(client valkey.Client, prefix string) *Store {
	return &Store{
		valkey: client,
		prefix: strings.TrimSuffix(prefix, ":"),
	}
}

// Dial connects to the Valkey server at addr.
func Dial(addr, prefix string) (*Store, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("connecting to valkey at %s: %w", addr, err)
	}

	return New(client, prefix), nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	s.valkey.Close()
	return nil
}

func (s *Store) key(name string) string {
	return s.prefix + ":" + name
}

func (s *Store) Get(key string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	value, err := s.valkey.Do(ctx, s.valkey.B().Get().Key(s.key(key)).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("executing get command: %w", err)
	}

	return value, nil
}

func (s *Store) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := s.valkey.Do(ctx, s.valkey.B().Set().Key(s.key(key)).Value(value).Build()).Error(); err != nil {
		return fmt.Errorf("executing set command: %w", err)
	}

	return nil
}

func (s *Store) Delete(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.key(k)
	}

	if err := s.valkey.Do(ctx, s.valkey.B().Del().Key(prefixed...).Build()).Error(); err != nil {
		return fmt.Errorf("executing del command: %w", err)
	}

	return nil
}

func (s *Store) CompareAndSwap(key, oldValue, newValue string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	swapped, err := compareAndSwapScript.Exec(ctx, s.valkey, []string{s.key(key)}, []string{oldValue, newValue}).AsInt64()
	if err != nil {
		return false, fmt.Errorf("executing compare-and-swap script: %w", err)
	}

	return swapped == 1, nil
}
