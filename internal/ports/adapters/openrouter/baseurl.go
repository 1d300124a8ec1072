package openrouter

import (
	"fmt"
	"net/url"
	"strings"
)

const defaultBaseURL = "https://openrouter.ai"

var defaultAllowedHosts = []string{"openrouter.ai", "api.openrouter.ai"}

func normalizeBaseURL(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return strings.TrimRight(baseURL, "/")
}

// ValidateBaseURL accepts only absolute https URLs on an allowed host. The
// API key is sent to this host, so an empty allowlist means the OpenRouter
// hosts rather than any host.
func ValidateBaseURL(baseURL string, allowedHosts []string) error {
	baseURL = normalizeBaseURL(baseURL)
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid llm base url: %w", err)
	}

	var problem string
	switch host := strings.ToLower(u.Hostname()); {
	case !u.IsAbs() || host == "":
		problem = "absolute URL with host is required"
	case u.User != nil:
		problem = "userinfo is not allowed"
	case u.RawQuery != "" || u.Fragment != "":
		problem = "query and fragment are not allowed"
	case !strings.EqualFold(u.Scheme, "https"):
		problem = "https is required"
	case !hostSet(allowedHosts)[host]:
		problem = fmt.Sprintf("host %q is not an allowed llm host", host)
	default:
		return nil
	}
	return fmt.Errorf("invalid llm base url %q: %s", baseURL, problem)
}

// hostSet accepts bare hosts as well as pasted URLs ("https://proxy:8443/").
func hostSet(hosts []string) map[string]bool {
	out := parseHosts(hosts)
	if len(out) == 0 {
		return parseHosts(defaultAllowedHosts)
	}
	return out
}

func parseHosts(hosts []string) map[string]bool {
	out := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		v := strings.ToLower(strings.TrimSpace(h))
		if i := strings.Index(v, "://"); i >= 0 {
			v = v[i+3:]
		}
		if i := strings.IndexAny(v, "/:"); i >= 0 {
			v = v[:i]
		}
		if v != "" {
			out[v] = true
		}
	}
	return out
}
