package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/kode4food/conduit/internal/util"
)

type (
	// Entity is anything a Store can persist
	Entity interface {
		GetID() string
		GetName() string
	}

	// Store persists entities of one type under a single key namespace
	Store[T Entity] struct {
		client redis.UniversalClient
		prefix string
		match  *regexp.Regexp
	}
)

// KeySeparator joins namespace segments and entity identifiers
const KeySeparator = ":"

const scanBatchSize = 256

var (
	ErrStore     = errors.New("trace store error")
	ErrMarshal   = errors.New("failed to marshal entity")
	ErrUnmarshal = errors.New("failed to unmarshal entity")
)

var globSpecial = strings.NewReplacer(
	`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`,
)

// NewStore creates a Store for the namespace formed by joining segments
func NewStore[T Entity](
	client redis.UniversalClient, segments ...string,
) *Store[T] {
	prefix := strings.Join(segments, KeySeparator)
	return &Store[T]{
		client: client,
		prefix: prefix,
		match: regexp.MustCompile(
			"^" + regexp.QuoteMeta(prefix+KeySeparator) + "([^:]+)$",
		),
	}
}

// Prefix returns the namespace of the store
func (s *Store[T]) Prefix() string {
	return s.prefix
}

// Key returns the Redis key for an entity identifier
func (s *Store[T]) Key(id string) string {
	return s.prefix + KeySeparator + id
}

// Set stores the entity, replacing any previous value
func (s *Store[T]) Set(ctx context.Context, e T) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMarshal, err)
	}
	if err := s.client.Set(ctx, s.Key(e.GetID()), data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	return nil
}

// GetAll returns every entity in the namespace, ordered by key
func (s *Store[T]) GetAll(ctx context.Context) ([]T, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]T, 0, len(keys))
	if len(keys) == 0 {
		return res, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			// removed between the scan and the read
			continue
		}
		e, err := s.decode([]byte(str))
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

// GetByID returns the entity with the given identifier. The boolean result
// is false when no such entity exists
func (s *Store[T]) GetByID(ctx context.Context, id string) (T, bool, error) {
	var zero T
	data, err := s.client.Get(ctx, s.Key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("%w: %w", ErrStore, err)
	}
	e, err := s.decode(data)
	if err != nil {
		return zero, false, err
	}
	return e, true, nil
}

// GetByName returns every entity whose name matches
func (s *Store[T]) GetByName(ctx context.Context, name string) ([]T, error) {
	all, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(e T) bool {
		return e.GetName() != name
	}), nil
}

// Update replaces an existing entity. It returns false, without writing
// anything, when the entity does not exist
func (s *Store[T]) Update(ctx context.Context, e T) (bool, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrMarshal, err)
	}
	return s.replace(ctx, e.GetID(), data)
}

// Merge overlays the top-level fields of partial onto an existing entity.
// The id field is never changed. It returns false, without writing
// anything, when the entity does not exist
func (s *Store[T]) Merge(
	ctx context.Context, id string, partial map[string]any,
) (bool, error) {
	data, err := s.client.Get(ctx, s.Key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrStore, err)
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return false, fmt.Errorf("%w: %w", ErrUnmarshal, err)
	}
	for k, v := range partial {
		if k == "id" {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrMarshal, err)
		}
		fields[k] = raw
	}

	merged, err := json.Marshal(fields)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrMarshal, err)
	}
	if _, err := s.decode(merged); err != nil {
		return false, err
	}
	return s.replace(ctx, id, merged)
}

// Remove deletes an entity, returning whether it existed
func (s *Store[T]) Remove(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Del(ctx, s.Key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return n > 0, nil
}

// Clear deletes every entity in the namespace
func (s *Store[T]) Clear(ctx context.Context) error {
	keys, err := s.keys(ctx)
	if err != nil || len(keys) == 0 {
		return err
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	return nil
}

// Count returns the number of entities in the namespace
func (s *Store[T]) Count(ctx context.Context) (int, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// IDs returns the identifiers of every entity in the namespace, sorted
func (s *Store[T]) IDs(ctx context.Context) ([]string, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]string, len(keys))
	for i, k := range keys {
		res[i] = s.match.FindStringSubmatch(k)[1]
	}
	return res, nil
}

func (s *Store[T]) replace(
	ctx context.Context, id string, data []byte,
) (bool, error) {
	ok, err := s.client.SetXX(ctx, s.Key(id), data, 0).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return ok, nil
}

func (s *Store[T]) keys(ctx context.Context) ([]string, error) {
	pattern := globSpecial.Replace(s.prefix+KeySeparator) + "*"
	seen := util.Set[string]{}
	iter := s.client.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		if k := iter.Val(); s.match.MatchString(k) {
			seen.Add(k)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}

	res := make([]string, 0, len(seen))
	for k := range seen {
		res = append(res, k)
	}
	slices.Sort(res)
	return res, nil
}

func (s *Store[T]) decode(data []byte) (T, error) {
	var e T
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("%w: %w", ErrUnmarshal, err)
	}
	return e, nil
}
