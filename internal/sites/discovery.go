package sites

import (
	"os"
	"strings"

	"go.uber.org/zap"
)

// Discover scans the process environment for tenant configuration under the
// given plugin types and registers every surviving site. Env keys follow
// {PLUGIN_TYPE}_{SITE_ID}_{KEY}; the SITE_ID token is lowercased and dropped
// when it is a reserved word. Returns the number of sites registered.
func (r *Registry) Discover(pluginTypes []string) int {
	return r.discoverFrom(os.Environ(), pluginTypes)
}

func (r *Registry) discoverFrom(environ, pluginTypes []string) int {
	type siteKey struct {
		pluginType string
		siteID     string
	}
	configs := make(map[siteKey]map[string]string)
	aliases := make(map[siteKey]string)

	for _, pluginType := range pluginTypes {
		prefix := strings.ToUpper(pluginType) + "_"
		for _, entry := range environ {
			envKey, value, ok := strings.Cut(entry, "=")
			if !ok || !strings.HasPrefix(envKey, prefix) {
				continue
			}
			rest := envKey[len(prefix):]
			// First token after the plugin prefix is the candidate site id.
			candidate, subKey, ok := strings.Cut(rest, "_")
			if !ok || candidate == "" || subKey == "" {
				continue
			}
			siteID := strings.ToLower(candidate)
			if IsReservedWord(siteID) {
				r.logger.Debug("skipping reserved env token during site discovery",
					zap.String("plugin_type", pluginType),
					zap.String("token", siteID))
				continue
			}

			key := siteKey{pluginType: pluginType, siteID: siteID}
			if strings.EqualFold(subKey, "ALIAS") {
				aliases[key] = strings.ToLower(strings.TrimSpace(value))
				continue
			}
			if configs[key] == nil {
				configs[key] = make(map[string]string)
			}
			configs[key][strings.ToLower(subKey)] = value
		}
	}

	registered := 0
	for key, cfg := range configs {
		site := &SiteConfig{
			SiteID:     key.siteID,
			PluginType: key.pluginType,
			Alias:      aliases[key],
			Config:     cfg,
		}
		if err := r.RegisterSite(site); err != nil {
			r.logger.Warn("failed to register discovered site",
				zap.String("plugin_type", key.pluginType),
				zap.String("site_id", key.siteID),
				zap.Error(err))
			continue
		}
		registered++
	}

	r.logger.Info("site discovery complete",
		zap.Int("registered", registered),
		zap.Strings("plugin_types", pluginTypes))
	return registered
}
