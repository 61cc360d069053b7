// Package settings exposes payment-method configuration with live reload:
// admin edits to the methods file apply without a process restart, but reads
// go through a short TTL cache instead of hitting the file on every call.
package settings

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// PaymentMethod is the admin-editable configuration for one gateway.
type PaymentMethod struct {
	Enabled       bool             `yaml:"enabled"`
	Label         string           `yaml:"label"`
	MinOrderTotal *decimal.Decimal `yaml:"min_order_total"`
	MaxOrderTotal *decimal.Decimal `yaml:"max_order_total"`
	DeliveryAreas []string         `yaml:"delivery_areas"`
}

// Provider serves payment-method settings. Implementations must reflect
// external changes within their refresh interval.
type Provider interface {
	PaymentMethod(ctx context.Context, id string) (PaymentMethod, error)
}

type methodsFile struct {
	PaymentMethods map[string]PaymentMethod `yaml:"payment_methods"`
}

const (
	cacheSize = 64
	cacheTTL  = 10 * time.Second
)

// FileProvider reads a YAML payment-methods file, caching parsed entries for
// a few seconds so per-request Enabled() checks stay cheap.
type FileProvider struct {
	path  string
	cache *expirable.LRU[string, PaymentMethod]
}

func NewFileProvider(path string) *FileProvider {
	return &FileProvider{
		path:  path,
		cache: expirable.NewLRU[string, PaymentMethod](cacheSize, nil, cacheTTL),
	}
}

func (p *FileProvider) PaymentMethod(ctx context.Context, id string) (PaymentMethod, error) {
	if method, ok := p.cache.Get(id); ok {
		return method, nil
	}

	methods, err := p.load()
	if err != nil {
		return PaymentMethod{}, err
	}
	for methodID, method := range methods {
		p.cache.Add(methodID, method)
	}

	method, ok := methods[id]
	if !ok {
		// Unknown methods are disabled, not an error: the registry decides
		// which identifiers exist.
		return PaymentMethod{}, nil
	}
	return method, nil
}

func (p *FileProvider) load() (map[string]PaymentMethod, error) {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read payment methods file: %w", err)
	}

	var file methodsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse payment methods file: %w", err)
	}
	return file.PaymentMethods, nil
}

// StaticProvider serves a fixed method map. Used in tests and as a fallback
// when no methods file is configured.
type StaticProvider map[string]PaymentMethod

func (p StaticProvider) PaymentMethod(_ context.Context, id string) (PaymentMethod, error) {
	return p[id], nil
}
