package runner

import (
	"strings"

	"github.com/teranos/opsdeck/catalog"
)

// awsEnvKeys are replaced rather than inherited from the daemon's environment
var awsEnvKeys = map[string]bool{
	"AWS_ACCESS_KEY_ID":     true,
	"AWS_SECRET_ACCESS_KEY": true,
	"AWS_SESSION_TOKEN":     true,
	"AWS_DEFAULT_REGION":    true,
	"AWS_REGION":            true,
	"AWS_PROFILE":           true,
	"PYTHONUNBUFFERED":      true,
}

// BuildEnv returns base with the profile's credentials layered on top.
// regionOverride wins over the profile's region when set.
func BuildEnv(base []string, profile *catalog.Profile, regionOverride string) []string {
	env := make([]string, 0, len(base)+5)
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if awsEnvKeys[key] {
			continue
		}
		env = append(env, kv)
	}

	region := profile.Region
	if regionOverride != "" {
		region = regionOverride
	}

	env = append(env,
		"AWS_ACCESS_KEY_ID="+profile.AccessKey,
		"AWS_SECRET_ACCESS_KEY="+profile.SecretKey,
		"AWS_DEFAULT_REGION="+region,
		"AWS_REGION="+region,
		// Streaming relies on the interpreter flushing each line
		"PYTHONUNBUFFERED=1",
	)
	return env
}
