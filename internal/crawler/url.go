package crawler

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// trackingParamPrefix marks query parameters that never change page content.
const trackingParamPrefix = "utm_"

// NormalizeURL canonicalizes rawURL for dedup and visited tracking.
// It lowercases the scheme and host, removes default ports, drops tracking
// parameters and the fragment, and sorts the remaining query pairs by key.
// Kept pairs are never decoded or re-encoded. Normalization is best-effort: on parse failure the input is
// returned unchanged.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}
	return normalizeParsed(u)
}

// ResolveURL resolves ref against base and normalizes the result. Only
// absolute http(s) results are accepted.
func ResolveURL(base, ref string) (string, error) {
	baseURL, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("%w: parse base %q: %v", ErrInvalidURL, base, err)
	}
	refURL, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("%w: parse reference %q: %v", ErrInvalidURL, ref, err)
	}
	resolved := baseURL.ResolveReference(refURL)
	if !isHTTPScheme(resolved.Scheme) || resolved.Host == "" {
		return "", fmt.Errorf("%w: %q is not an absolute http(s) url", ErrInvalidURL, resolved.String())
	}
	return normalizeParsed(resolved), nil
}

func normalizeParsed(u *url.URL) string {
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	if u.Host != "" && u.Path == "" {
		u.Path = "/"
	}

	u.Fragment = ""
	u.RawFragment = ""

	u.RawQuery = cleanQuery(u.RawQuery)
	u.ForceQuery = false

	return u.String()
}

// cleanQuery drops tracking pairs from a raw query and orders the rest by raw
// key. Pairs with the same key keep their relative order. Semicolons and
// malformed escapes stay inside their pair untouched.
func cleanQuery(raw string) string {
	if raw == "" {
		return ""
	}
	pairs := strings.Split(raw, "&")
	kept := pairs[:0]
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		key := queryKey(pair)
		if unescaped, err := url.QueryUnescape(key); err == nil {
			key = unescaped
		}
		if strings.HasPrefix(key, trackingParamPrefix) {
			continue
		}
		kept = append(kept, pair)
	}
	slices.SortStableFunc(kept, func(a, b string) int {
		return strings.Compare(queryKey(a), queryKey(b))
	})
	return strings.Join(kept, "&")
}

func queryKey(pair string) string {
	key, _, _ := strings.Cut(pair, "=")
	return key
}

// parseAbsolute parses rawURL and requires an http(s) scheme and a host.
func parseAbsolute(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !isHTTPScheme(u.Scheme) || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute http(s) url", ErrInvalidURL, rawURL)
	}
	return u, nil
}

func isHTTPScheme(scheme string) bool {
	scheme = strings.ToLower(scheme)
	return scheme == "http" || scheme == "https"
}

func sameHost(u *url.URL, domain string) bool {
	if u == nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), strings.TrimSpace(domain))
}
