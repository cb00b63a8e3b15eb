// internal/models/device.go
package models

import "time"

// Platforms
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
)

// DefaultLocale is assigned to device records registered without a locale.
const DefaultLocale = "en"

// DeviceRecord is one registered device. The token is the unique key;
// registration is an upsert on it.
type DeviceRecord struct {
	Token        string    `json:"token"`
	Platform     string    `json:"platform"` // "ios" or "android"
	Tags         []string  `json:"tags"`
	Locale       string    `json:"locale"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// ValidPlatform reports whether p is a platform this service delivers to.
func ValidPlatform(p string) bool {
	switch p {
	case PlatformIOS, PlatformAndroid:
		return true
	}
	return false
}
