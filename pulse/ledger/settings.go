package ledger

import (
	"context"
	"strconv"

	"github.com/teranos/opsdeck/catalog"
)

const (
	// DefaultHistoryLimit is the page size when history_limit is unset or invalid
	DefaultHistoryLimit = 10

	// DefaultStatsDays is the trailing window for Stats
	DefaultStatsDays = 7
)

// HistoryLimit reads the history page size from settings.
func HistoryLimit(ctx context.Context, settings catalog.SettingsLookup) int {
	raw, err := settings.Get(ctx, catalog.SettingHistoryLimit, strconv.Itoa(DefaultHistoryLimit))
	if err != nil {
		return DefaultHistoryLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return DefaultHistoryLimit
	}
	return n
}
