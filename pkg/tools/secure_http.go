package tools

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// SecureHTTPOptions defines the host policy for outbound HTTP tools.
type SecureHTTPOptions struct {
	// AllowedHosts restricts requests to these hosts and their subdomains.
	// If empty, all hosts are allowed except those in DenyHosts.
	AllowedHosts []string

	// DenyHosts are refused outright and take precedence over AllowedHosts
	DenyHosts []string

	// AllowPrivateNetworks permits private, loopback and link-local targets
	AllowPrivateNetworks bool

	// AllowedSchemes defaults to http and https
	AllowedSchemes []string

	// Resolver looks up host addresses; nil uses net.DefaultResolver
	Resolver HostResolver
}

// HostResolver resolves a hostname to its addresses.
type HostResolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// DefaultSecureHTTPOptions returns options that refuse private networks
// and well-known cloud metadata endpoints.
func DefaultSecureHTTPOptions() *SecureHTTPOptions {
	return &SecureHTTPOptions{
		AllowedSchemes: []string{"http", "https"},
		DenyHosts: []string{
			"metadata.google.internal",
			"169.254.169.254",
			"metadata.azure.com",
		},
	}
}

// SecureHTTPExecutor checks the "url" parameter against a host policy
// before delegating to the wrapped executor.
type SecureHTTPExecutor struct {
	options  *SecureHTTPOptions
	executor ToolExecutor
}

// NewSecureHTTPExecutor wraps executor with the host policy in options.
func NewSecureHTTPExecutor(executor ToolExecutor, options *SecureHTTPOptions) *SecureHTTPExecutor {
	if options == nil {
		options = DefaultSecureHTTPOptions()
	}
	if len(options.AllowedSchemes) == 0 {
		options.AllowedSchemes = []string{"http", "https"}
	}
	return &SecureHTTPExecutor{
		options:  options,
		executor: executor,
	}
}

// Invoke rejects disallowed URLs with a failed result and otherwise runs
// the wrapped executor.
func (e *SecureHTTPExecutor) Invoke(ctx context.Context, params map[string]interface{}, execCtx *ExecutionContext) (*ToolResult, error) {
	urlStr, ok := params["url"].(string)
	if !ok {
		return nil, fmt.Errorf("url parameter is required")
	}

	if err := e.validateURL(ctx, urlStr); err != nil {
		return &ToolResult{
			Success: false,
			Error: &ResultError{
				Code:    "URL_REJECTED",
				Message: err.Error(),
				Details: map[string]interface{}{"url": urlStr},
			},
		}, nil
	}

	return e.executor.Invoke(ctx, params, execCtx)
}

func (e *SecureHTTPExecutor) validateURL(ctx context.Context, urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if !e.isSchemeAllowed(parsed.Scheme) {
		return fmt.Errorf("scheme %q is not allowed", parsed.Scheme)
	}

	hostname := normalizeHostname(parsed.Hostname())
	if hostname == "" {
		return fmt.Errorf("URL must have a valid hostname")
	}

	for _, deny := range e.options.DenyHosts {
		if hostname == normalizeHostname(deny) {
			return fmt.Errorf("host %q is explicitly denied", hostname)
		}
	}

	if len(e.options.AllowedHosts) > 0 && !e.hostAllowed(hostname) {
		return fmt.Errorf("host %q is not in allowed hosts list", hostname)
	}

	if e.options.AllowPrivateNetworks {
		return nil
	}
	if addr, err := netip.ParseAddr(hostname); err == nil {
		return checkAddr(addr)
	}

	resolver := e.options.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupNetIP(ctx, "ip", hostname)
	if err != nil {
		return fmt.Errorf("cannot resolve hostname: %w", err)
	}
	for _, addr := range addrs {
		if err := checkAddr(addr); err != nil {
			return fmt.Errorf("hostname %q resolves to restricted IP: %w", hostname, err)
		}
	}
	return nil
}

func (e *SecureHTTPExecutor) hostAllowed(hostname string) bool {
	for _, allowed := range e.options.AllowedHosts {
		allowed = normalizeHostname(allowed)
		if hostname == allowed || strings.HasSuffix(hostname, "."+allowed) {
			return true
		}
	}
	return false
}

func (e *SecureHTTPExecutor) isSchemeAllowed(scheme string) bool {
	for _, allowed := range e.options.AllowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

// checkAddr refuses private, loopback, link-local and unspecified targets.
func checkAddr(addr netip.Addr) error {
	addr = addr.Unmap()
	switch {
	case addr.IsLoopback():
		return fmt.Errorf("requests to loopback addresses are not allowed")
	case addr.IsPrivate():
		return fmt.Errorf("requests to private IP addresses are not allowed")
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return fmt.Errorf("requests to link-local addresses are not allowed")
	case addr.IsUnspecified():
		return fmt.Errorf("requests to unspecified addresses are not allowed")
	}
	return nil
}

// normalizeHostname lowercases and punycode-encodes a hostname so that
// Unicode look-alikes compare equal to their ASCII forms.
func normalizeHostname(hostname string) string {
	hostname = strings.TrimSuffix(strings.ToLower(hostname), ".")
	if ascii, err := idna.Lookup.ToASCII(hostname); err == nil {
		return ascii
	}
	return hostname
}
