package commands

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/opsdeck/catalog"
	"github.com/teranos/opsdeck/errors"
)

// resolveScript accepts a script id or name
func resolveScript(ctx context.Context, s *stores, ref string) (*catalog.Script, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return s.scripts.Get(ctx, id)
	}
	scripts, err := s.scripts.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, sc := range scripts {
		if sc.Name == ref {
			return sc, nil
		}
	}
	return nil, errors.NewNotFoundError("Script %q not found", ref)
}

// resolveProfile accepts a profile id or name; empty selects the default profile
func resolveProfile(ctx context.Context, s *stores, ref string) (*catalog.Profile, error) {
	if ref == "" {
		p, err := s.profiles.Default(ctx)
		if err != nil {
			return nil, errors.WithHint(err, "pass --profile or mark a profile default with 'opsdeck profile add --default'")
		}
		return p, nil
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return s.profiles.Get(ctx, id)
	}
	profiles, err := s.profiles.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		if p.Name == ref {
			return p, nil
		}
	}
	return nil, errors.NewNotFoundError("Profile %q not found", ref)
}

// parseParams turns repeated key=value flags into script parameters.
// Values that parse as JSON keep their type, so n=3 is a number and
// dry_run=false is omitted from the command line.
func parseParams(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.NewInvalidRequestError("invalid parameter %q, expected key=value", pair)
		}
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		params[key] = v
	}
	return params, nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.NewInvalidRequestError("invalid id %q", raw)
	}
	return id, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}
