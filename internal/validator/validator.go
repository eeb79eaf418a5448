package validator

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

var (
	ErrInvalidID       = errors.New("invalid id")
	ErrInvalidMediaURL = errors.New("invalid media url")
	ErrTooManyPhotos   = errors.New("too many photos")
)

const MaxPhotos = 10

var idRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateID accepts the uuids this service issues and the external ids
// (provider payment ids, identity-service user ids) it stores.
func ValidateID(id string) error {
	if !idRegex.MatchString(id) {
		return ErrInvalidID
	}
	return nil
}

// ValidateMediaURL requires an absolute https URL. Uploads happen elsewhere;
// replies only reference the stored object.
func ValidateMediaURL(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Scheme != "https" || parsed.Host == "" {
		return ErrInvalidMediaURL
	}
	return nil
}

func ValidatePhotoURLs(urls []string) error {
	if len(urls) > MaxPhotos {
		return ErrTooManyPhotos
	}
	for _, raw := range urls {
		if err := ValidateMediaURL(raw); err != nil {
			return err
		}
	}
	return nil
}
