package browser

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

func IsValidURL(u string) (bool, error) {
	if u == "" {
		return false, errors.New("url cannot be empty")
	} else if _, err := url.ParseRequestURI(u); err != nil {
		return false, fmt.Errorf("error parsing url: %w", err)
	}
	return true, nil
}

// GetCanonicalURL adds an https scheme to bare hosts such as "shop.test/cart".
func GetCanonicalURL(u string) (string, error) {
	u = strings.TrimSpace(u)
	if u == "" {
		return "", errors.New("url cannot be empty")
	}
	if !strings.Contains(u, "://") && !strings.HasPrefix(u, "about:") && !strings.HasPrefix(u, "data:") {
		u = "https://" + u
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("error parsing url: %w", err)
	}
	return parsed.String(), nil
}
