package model

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ErrValidation marks input rejected before any network call.
var ErrValidation = errors.New("validation failed")

// NormalizeTargetURL validates a user-entered target and returns it in the
// form sent to the backend. A missing scheme defaults to https and
// internationalised hosts are converted to their ASCII form. IP literals are
// accepted as is.
func NormalizeTargetURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", ErrValidation)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: malformed url: %v", ErrValidation, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrValidation, u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("%w: url has no host", ErrValidation)
	}
	if ip := net.ParseIP(host); ip != nil {
		host = ip.String()
	} else {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return "", fmt.Errorf("%w: invalid host %q: %v", ErrValidation, host, err)
		}
		if !strings.Contains(ascii, ".") && ascii != "localhost" {
			return "", fmt.Errorf("%w: host %q is not a domain", ErrValidation, host)
		}
		host = ascii
	}

	switch port := u.Port(); {
	case port != "":
		u.Host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		u.Host = "[" + host + "]"
	default:
		u.Host = host
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}
