package dispatch

import (
	"fmt"

	"push-dispatch/internal/common/errors"
	"push-dispatch/internal/models"
)

// BuildPayload validates the locale -> content mapping and merges shared
// metadata into each entry. Entry-level data keys win over shared ones.
func BuildPayload(localesContent map[string]models.LocaleContent, data map[string]string) (models.DispatchPayload, error) {
	if len(localesContent) == 0 {
		return nil, errors.NewValidationError("localesContent must be a non-empty mapping")
	}

	payload := make(models.DispatchPayload, len(localesContent))
	for locale, content := range localesContent {
		if locale == "" {
			return nil, errors.NewValidationError("locale keys must be non-empty strings")
		}
		if content.Title == "" {
			return nil, errors.NewValidationError(fmt.Sprintf("locale %q: title must be a non-empty string", locale))
		}
		if content.Body == "" {
			return nil, errors.NewValidationError(fmt.Sprintf("locale %q: body must be a non-empty string", locale))
		}

		merged := content
		if len(data) > 0 {
			merged.Data = make(map[string]string, len(data)+len(content.Data))
			for k, v := range data {
				merged.Data[k] = v
			}
			for k, v := range content.Data {
				merged.Data[k] = v
			}
		}
		payload[locale] = merged
	}

	return payload, nil
}
