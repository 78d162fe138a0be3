package fetchmock

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/net/publicsuffix"
)

// SameSite is a cookie's SameSite attribute.
type SameSite string

const (
	// SameSiteStrict withholds the cookie from every cross-origin request.
	SameSiteStrict SameSite = "strict"
	// SameSiteLax withholds the cookie from cross-origin requests unless the
	// method is GET.
	SameSiteLax SameSite = "lax"
	// SameSiteNone imposes no cross-origin filter and requires Secure.
	SameSiteNone SameSite = "none"
)

// domainPattern matches registrable domains: dot-separated labels of
// alphanumerics, dashes and underscores with a TLD of at least two letters.
var domainPattern = regexp.MustCompile(`^(?i)[a-z0-9_-]+(\.[a-z0-9_-]+)*\.[a-z]{2,}$`)

// Cookie is a credential entry in a CookieCredentials store. Its identity is
// the fingerprint (Name, Domain, Path, Secure).
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
	SameSite SameSite
}

// validate enforces the cookie construction invariants.
func (c *Cookie) validate() error {
	if c.Name == "" {
		return errors.New("cookie must have a name")
	}
	if c.Domain == "" {
		return errors.New("cookie must have a domain")
	}
	if strings.Contains(c.Domain, "://") || strings.Contains(c.Domain, "/") {
		return errors.Errorf("cookie domain %q must not contain a scheme or path", c.Domain)
	}
	if !domainPattern.MatchString(c.Domain) {
		return errors.Errorf("invalid cookie domain %q", c.Domain)
	}
	if suffix, _ := publicsuffix.PublicSuffix(strings.ToLower(c.Domain)); suffix == strings.ToLower(c.Domain) {
		return errors.Errorf("cookie domain %q is a public suffix", c.Domain)
	}

	switch c.SameSite {
	case SameSiteStrict, SameSiteLax:
	case SameSiteNone:
		if !c.Secure {
			return errors.New("cookies with sameSite=none must be secure")
		}
	case "":
	default:
		return errors.Errorf("invalid sameSite value %q", c.SameSite)
	}
	return nil
}

// fingerprint is the uniqueness key of a cookie.
type fingerprint struct {
	name   string
	domain string
	path   string
	secure bool
}

// key returns the cookie's fingerprint, applying the "/" path default.
func (c *Cookie) key() fingerprint {
	return fingerprint{
		name:   c.Name,
		domain: strings.ToLower(c.Domain),
		path:   c.normalizedPath(),
		secure: c.Secure,
	}
}

// normalizedPath returns the cookie path, defaulting to "/".
func (c *Cookie) normalizedPath() string {
	if c.Path == "" {
		return "/"
	}
	return c.Path
}

// CookieCredentials is a cookie jar that decides which cookies accompany a
// given request based on domain, path, Secure and SameSite rules.
type CookieCredentials struct {
	domain   string
	basePath string

	mu      sync.Mutex
	cookies map[fingerprint]Cookie
}

// NewCookieCredentials creates a credential store. When a base URL is given,
// the store is bound to its domain: every cookie registered later must be
// scoped to that domain or a subdomain of it.
func NewCookieCredentials(baseURL string) (*CookieCredentials, error) {
	store := &CookieCredentials{cookies: map[fingerprint]Cookie{}}

	if baseURL != "" {
		parsed, err := parseBaseURL(baseURL)
		if err != nil {
			return nil, err
		}
		store.domain = strings.ToLower(parsed.Hostname())
		store.basePath = parsed.EscapedPath()
		if store.basePath == "" {
			store.basePath = "/"
		}
	}
	return store, nil
}

// Domain returns the bound domain, if any.
func (cc *CookieCredentials) Domain() string {
	return cc.domain
}

// BasePath returns the bound base path, if any.
func (cc *CookieCredentials) BasePath() string {
	return cc.basePath
}

// SetCookie adds a cookie to the store. The cookie inherits the bound domain
// and base path when it declares none. Registering a cookie whose
// fingerprint already exists is an error.
func (cc *CookieCredentials) SetCookie(cookie Cookie) error {
	if cookie.Domain == "" {
		cookie.Domain = cc.domain
	}
	if cookie.Path == "" {
		cookie.Path = cc.basePath
	}
	if cookie.SameSite == "" {
		cookie.SameSite = SameSiteLax
	}

	if err := cookie.validate(); err != nil {
		return err
	}
	if cc.domain != "" && !domainSuffixMatch(cc.domain, cookie.Domain) {
		return errors.Errorf("cookie domain %q does not belong to %q", cookie.Domain, cc.domain)
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()

	key := cookie.key()
	if _, exists := cc.cookies[key]; exists {
		return errors.Errorf("cookie %s already exists for domain %s and path %s",
			cookie.Name, key.domain, key.path)
	}
	cc.cookies[key] = cookie
	return nil
}

// DeleteCookie removes the cookie identified by the fingerprint fields of
// the argument. Deleting an absent cookie is an error.
func (cc *CookieCredentials) DeleteCookie(cookie Cookie) error {
	if cookie.Domain == "" {
		cookie.Domain = cc.domain
	}
	if cookie.Path == "" {
		cookie.Path = cc.basePath
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()

	key := cookie.key()
	if _, exists := cc.cookies[key]; !exists {
		return errors.Errorf("no cookie %s found for domain %s and path %s",
			cookie.Name, key.domain, key.path)
	}
	delete(cc.cookies, key)
	return nil
}

// Clear empties the store.
func (cc *CookieCredentials) Clear() {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.cookies = map[fingerprint]Cookie{}
}

// HeadersForRequest assembles the Cookie header for a request: every cookie
// whose domain, path, Secure and SameSite rules admit the request
// contributes a URL-encoded name=value pair.
func (cc *CookieCredentials) HeadersForRequest(req *Request) http.Header {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	var pairs []string
	for _, cookie := range cc.sortedCookies() {
		if !cookieMatchesURL(cookie, req.URL) {
			continue
		}
		if !cookiePassesSameSite(cookie, req) {
			continue
		}
		pairs = append(pairs, fmt.Sprintf("%s=%s",
			url.QueryEscape(cookie.Name), url.QueryEscape(cookie.Value)))
	}

	header := http.Header{}
	if len(pairs) > 0 {
		header.Set("Cookie", strings.Join(pairs, "; "))
	}
	return header
}

// sortedCookies returns the cookies in a stable order so assembled headers
// are deterministic.
func (cc *CookieCredentials) sortedCookies() []Cookie {
	cookies := make([]Cookie, 0, len(cc.cookies))
	for _, cookie := range cc.cookies {
		cookies = append(cookies, cookie)
	}
	sort.Slice(cookies, func(i, j int) bool {
		if cookies[i].Name != cookies[j].Name {
			return cookies[i].Name < cookies[j].Name
		}
		return cookies[i].normalizedPath() < cookies[j].normalizedPath()
	})
	return cookies
}

// cookieMatchesURL applies the domain, path and Secure inclusion rules.
func cookieMatchesURL(cookie Cookie, target *url.URL) bool {
	if !domainSuffixMatch(cookie.Domain, target.Hostname()) {
		return false
	}

	targetPath := target.EscapedPath()
	if targetPath == "" {
		targetPath = "/"
	}
	if !strings.HasPrefix(targetPath, cookie.normalizedPath()) {
		return false
	}

	if cookie.Secure && target.Scheme != "https" {
		return false
	}
	return true
}

// cookiePassesSameSite applies the SameSite filter: the check only engages
// when the request carries an Origin header naming a different origin than
// the request URL.
func cookiePassesSameSite(cookie Cookie, req *Request) bool {
	origin := req.Header.Get("Origin")
	if origin == "" || origin == req.Origin() {
		return true
	}

	switch cookie.SameSite {
	case SameSiteStrict:
		return false
	case SameSiteLax:
		return req.Method == http.MethodGet
	default:
		return true
	}
}

// domainSuffixMatch reports whether host equals domain or is a subdomain of
// it.
func domainSuffixMatch(domain, host string) bool {
	domain = strings.ToLower(domain)
	host = strings.ToLower(host)
	return host == domain || strings.HasSuffix(host, "."+domain)
}
