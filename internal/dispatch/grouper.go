// Package dispatch turns a tag-targeted broadcast request into per-locale
// delivery jobs.
package dispatch

import "push-dispatch/internal/models"

// GroupByLocale partitions device records into token lists keyed by locale.
// Records without a token are skipped and counted; records without a locale
// fall back to the default. Token order follows record order and duplicates
// are preserved.
func GroupByLocale(records []models.DeviceRecord) (map[string][]string, int) {
	groups := make(map[string][]string)
	skipped := 0

	for _, rec := range records {
		if rec.Token == "" {
			skipped++
			continue
		}
		locale := rec.Locale
		if locale == "" {
			locale = models.DefaultLocale
		}
		groups[locale] = append(groups[locale], rec.Token)
	}

	return groups, skipped
}
