// Package sites maintains the tenant (site) registry: configured upstream
// instances discovered from the environment, addressable by site id or alias.
package sites

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrSiteNotFound is returned for unknown tenants. The message never
// enumerates configured tenant names.
var ErrSiteNotFound = errors.New("site not found or not configured")

// reservedWords are env tokens that must never be interpreted as a site id
// during discovery (they belong to tuning knobs like WORDPRESS_LIMIT_...).
var reservedWords = map[string]struct{}{
	"limit": {}, "rate": {}, "config": {}, "debug": {}, "log": {},
	"level": {}, "mode": {}, "timeout": {}, "retry": {}, "max": {},
	"min": {}, "default": {}, "global": {}, "enabled": {}, "disabled": {},
	"host": {}, "port": {}, "path": {}, "key": {}, "secret": {},
	"token": {}, "advanced": {}, "basic": {}, "simple": {}, "pro": {},
	"premium": {}, "standard": {},
}

// IsReservedWord reports whether token is excluded from site-id discovery.
func IsReservedWord(token string) bool {
	_, ok := reservedWords[strings.ToLower(token)]
	return ok
}

// SiteConfig is one configured tenant.
type SiteConfig struct {
	SiteID     string            `json:"site_id"`
	PluginType string            `json:"plugin_type"`
	Alias      string            `json:"alias,omitempty"`
	Config     map[string]string `json:"config"`
}

// FullID returns the globally unique tenant id, "{plugin_type}_{site_id}".
func (s *SiteConfig) FullID() string {
	return s.PluginType + "_" + s.SiteID
}

// Registry holds all configured tenants, indexed per plugin type by both
// site id and alias, plus the global alias table.
type Registry struct {
	mu sync.RWMutex

	// byType[pluginType][idOrAlias] -> site
	byType map[string]map[string]*SiteConfig
	// aliases[alias] -> full_id; first writer wins
	aliases map[string]string
	// aliasConflicts[alias] -> full_ids that lost the claim
	aliasConflicts map[string][]string

	logger *zap.Logger
}

// NewRegistry creates an empty site registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byType:         make(map[string]map[string]*SiteConfig),
		aliases:        make(map[string]string),
		aliasConflicts: make(map[string][]string),
		logger:         logger,
	}
}

// RegisterSite installs a site config under its plugin type by site id and,
// when unclaimed, by alias. Alias collisions within the global table are
// resolved first-writer-wins; losers are recorded in the conflicts table and
// must use their full id as endpoint path suffix.
func (r *Registry) RegisterSite(site *SiteConfig) error {
	if site == nil || site.SiteID == "" || site.PluginType == "" {
		return fmt.Errorf("site config requires site_id and plugin_type")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	typed, ok := r.byType[site.PluginType]
	if !ok {
		typed = make(map[string]*SiteConfig)
		r.byType[site.PluginType] = typed
	}

	if existing, dup := typed[site.SiteID]; dup && existing.FullID() != site.FullID() {
		return fmt.Errorf("duplicate site id %q for plugin type %q", site.SiteID, site.PluginType)
	}
	typed[site.SiteID] = site

	if site.Alias != "" && site.Alias != site.SiteID {
		fullID := site.FullID()
		if claimed, taken := r.aliases[site.Alias]; taken && claimed != fullID {
			r.aliasConflicts[site.Alias] = append(r.aliasConflicts[site.Alias], fullID)
			r.logger.Warn("alias already claimed, site must use full id as path suffix",
				zap.String("alias", site.Alias),
				zap.String("claimed_by", claimed),
				zap.String("site", fullID))
		} else {
			r.aliases[site.Alias] = fullID
			// Alias addressing inside the plugin type follows the global claim.
			if _, shadow := typed[site.Alias]; !shadow {
				typed[site.Alias] = site
			}
		}
	}

	r.logger.Info("registered site",
		zap.String("plugin_type", site.PluginType),
		zap.String("site_id", site.SiteID),
		zap.String("alias", site.Alias))
	return nil
}

// GetSiteConfig resolves a tenant by exact site id first, then through the
// alias table. Unknown tenants fail with a non-leaking error.
func (r *Registry) GetSiteConfig(pluginType, site string) (*SiteConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if typed, ok := r.byType[pluginType]; ok {
		if cfg, ok := typed[site]; ok {
			return cfg, nil
		}
	}

	// Alias table fallback: the alias may resolve to a site of this type.
	if fullID, ok := r.aliases[site]; ok {
		if rest, found := strings.CutPrefix(fullID, pluginType+"_"); found {
			if typed, ok := r.byType[pluginType]; ok {
				if cfg, ok := typed[rest]; ok {
					return cfg, nil
				}
			}
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrSiteNotFound, pluginType)
}

// ListSites returns the union of site ids and aliases for a plugin type,
// deduplicated and sorted.
func (r *Registry) ListSites(pluginType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	typed, ok := r.byType[pluginType]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(typed))
	for name := range typed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetCountByType returns distinct-site counts per plugin type.
// Aliases never double-count.
func (r *Registry) GetCountByType() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int, len(r.byType))
	for pluginType, typed := range r.byType {
		distinct := make(map[string]struct{})
		for _, site := range typed {
			distinct[site.SiteID] = struct{}{}
		}
		counts[pluginType] = len(distinct)
	}
	return counts
}

// GetEffectivePathSuffix returns the alias when it maps to this site in the
// global alias table, otherwise the full id.
func (r *Registry) GetEffectivePathSuffix(fullID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for alias, claimed := range r.aliases {
		if claimed == fullID {
			return alias
		}
	}
	return fullID
}

// ResolveAlias returns the full id claimed by alias, if any.
func (r *Registry) ResolveAlias(alias string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fullID, ok := r.aliases[alias]
	return fullID, ok
}

// AliasConflicts returns a copy of the conflicts table.
func (r *Registry) AliasConflicts() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.aliasConflicts))
	for alias, losers := range r.aliasConflicts {
		out[alias] = append([]string(nil), losers...)
	}
	return out
}

// PluginTypes returns the plugin types that have at least one site.
func (r *Registry) PluginTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.byType))
	for pluginType := range r.byType {
		types = append(types, pluginType)
	}
	sort.Strings(types)
	return types
}

// AllSites returns every registered site, deduplicated by full id.
func (r *Registry) AllSites() []*SiteConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []*SiteConfig
	for _, typed := range r.byType {
		for _, site := range typed {
			if _, dup := seen[site.FullID()]; dup {
				continue
			}
			seen[site.FullID()] = struct{}{}
			out = append(out, site)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullID() < out[j].FullID() })
	return out
}
