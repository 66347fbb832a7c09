package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Source loads the full tenant set.
type Source interface {
	Load(ctx context.Context) ([]Tenant, error)
}

// Writer is implemented by sources that accept edits at runtime.
type Writer interface {
	Save(ctx context.Context, t Tenant) error
}

// document is the tenants.yaml layout: tenants keyed by tenant id.
type document struct {
	Tenants map[string]Tenant `yaml:"tenants"`
}

// ParseYAML decodes a tenants document. Map keys become tenant ids unless a
// tenant sets tenant_id explicitly.
func ParseYAML(data []byte) ([]Tenant, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("tenant: parse yaml: %w", err)
	}
	keys := make([]string, 0, len(doc.Tenants))
	for k := range doc.Tenants {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Tenant, 0, len(keys))
	for _, key := range keys {
		t := doc.Tenants[key]
		if strings.TrimSpace(t.ID) == "" {
			t.ID = key
		}
		if t.Name == "" {
			t.Name = key
		}
		out = append(out, t)
	}
	return out, nil
}

// StaticSource serves a fixed tenant list.
type StaticSource []Tenant

// Load implements Source.
func (s StaticSource) Load(context.Context) ([]Tenant, error) {
	out := make([]Tenant, len(s))
	copy(out, s)
	return out, nil
}

// FileSource reads a tenants.yaml file from disk on every load.
type FileSource struct {
	Path string
}

// Load implements Source.
func (s FileSource) Load(context.Context) ([]Tenant, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("tenant: read %s: %w", s.Path, err)
	}
	return ParseYAML(data)
}

type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads the tenants document from an S3 object.
type S3Source struct {
	client s3API
	bucket string
	key    string
}

// NewS3Source builds an S3-backed source.
func NewS3Source(client s3API, bucket, key string) *S3Source {
	if client == nil {
		panic("tenant: s3 client cannot be nil")
	}
	return &S3Source{client: client, bucket: bucket, key: key}
}

// Load implements Source.
func (s *S3Source) Load(ctx context.Context) ([]Tenant, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("tenant: get s3://%s/%s: %w", s.bucket, s.key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("tenant: read s3 body: %w", err)
	}
	return ParseYAML(data)
}

const redisIDsKey = "tenant:ids"

// RedisSource keeps one JSON document per tenant under tenant:config:<id>
// and the id set under tenant:ids.
type RedisSource struct {
	redis *redis.Client
}

// NewRedisSource creates a redis-backed source.
func NewRedisSource(client *redis.Client) *RedisSource {
	if client == nil {
		panic("tenant: redis client cannot be nil")
	}
	return &RedisSource{redis: client}
}

func (s *RedisSource) key(tenantID string) string {
	return fmt.Sprintf("tenant:config:%s", tenantID)
}

// Load implements Source.
func (s *RedisSource) Load(ctx context.Context) ([]Tenant, error) {
	ids, err := s.redis.SMembers(ctx, redisIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("tenant: list ids: %w", err)
	}
	sort.Strings(ids)

	out := make([]Tenant, 0, len(ids))
	for _, id := range ids {
		data, err := s.redis.Get(ctx, s.key(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("tenant: get %s: %w", id, err)
		}
		var t Tenant
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("tenant: decode %s: %w", id, err)
		}
		if t.ID == "" {
			t.ID = id
		}
		out = append(out, t)
	}
	return out, nil
}

// Save stores a tenant document and registers its id.
func (s *RedisSource) Save(ctx context.Context, t Tenant) error {
	if err := t.validate(); err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("tenant: marshal %s: %w", t.ID, err)
	}
	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.key(t.ID), data, 0)
	pipe.SAdd(ctx, redisIDsKey, t.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tenant: save %s: %w", t.ID, err)
	}
	return nil
}
