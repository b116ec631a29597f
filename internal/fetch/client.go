// Package fetch downloads original certificate documents for asynchronous composition.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

var (
	// ErrTooLarge is returned when the document exceeds the configured limit.
	ErrTooLarge = errors.New("fetch: document too large")
	// ErrUnsupportedType is returned for content that is neither a PDF nor an image.
	ErrUnsupportedType = errors.New("fetch: unsupported content type")
	// ErrForbiddenHost is returned for URLs outside the allow-list or resolving to
	// loopback, private or link-local addresses.
	ErrForbiddenHost = errors.New("fetch: host not allowed")
)

// Shared address space (RFC 6598), not covered by netip's IsPrivate.
var sharedSpace = netip.MustParsePrefix("100.64.0.0/10")

// Document is a downloaded original.
type Document struct {
	Data     []byte
	MIMEType string
	IsImage  bool
}

// Client downloads documents over HTTP.
type Client struct {
	HTTP     *http.Client
	MaxBytes int64

	allowedHosts []string
	allowPrivate bool
}

type Option func(*Client)

// WithAllowedHosts limits downloads to the given hosts and their subdomains.
func WithAllowedHosts(hosts ...string) Option {
	return func(c *Client) {
		for _, h := range hosts {
			if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
				c.allowedHosts = append(c.allowedHosts, strings.TrimPrefix(h, "."))
			}
		}
	}
}

// WithPrivateNetworks permits loopback and private addresses, for local storage in development.
func WithPrivateNetworks() Option {
	return func(c *Client) { c.allowPrivate = true }
}

// New creates a client with configurable timeout and size limit. The resolved address of
// every connection, redirects included, is checked when it is dialled.
func New(timeout time.Duration, maxBytes int64, opts ...Option) *Client {
	c := &Client{MaxBytes: maxBytes}
	for _, opt := range opts {
		opt(c)
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second, Control: c.checkAddr}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	c.HTTP = &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("fetch: too many redirects")
			}
			return c.checkURL(req.URL)
		},
	}
	return c
}

// CheckURL reports whether rawURL may be downloaded, before any request is made.
func (c *Client) CheckURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrForbiddenHost, err)
	}
	return c.checkURL(u)
}

func (c *Client) checkURL(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrForbiddenHost, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrForbiddenHost)
	}
	if ip, err := netip.ParseAddr(host); err == nil && !c.addrAllowed(ip) {
		return fmt.Errorf("%w: %s", ErrForbiddenHost, host)
	}
	if len(c.allowedHosts) == 0 {
		return nil
	}
	for _, allowed := range c.allowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not on the allow-list", ErrForbiddenHost, host)
}

func (c *Client) checkAddr(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrForbiddenHost, err)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrForbiddenHost, host)
	}
	if !c.addrAllowed(ip) {
		return fmt.Errorf("%w: %s is not a public address", ErrForbiddenHost, ip)
	}
	return nil
}

func (c *Client) addrAllowed(ip netip.Addr) bool {
	if c.allowPrivate {
		return true
	}
	ip = ip.Unmap()
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() || ip.IsMulticast() ||
		ip.IsUnspecified() || sharedSpace.Contains(ip))
}

// Get downloads url and classifies the content from its leading bytes. The declared
// Content-Type is ignored; storage services often serve PDFs as octet-stream.
func (c *Client) Get(ctx context.Context, rawURL string) (*Document, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("fetch: url required")
	}
	if err := c.CheckURL(rawURL); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch: %s: %s", resp.Status, string(body))
	}
	if c.MaxBytes > 0 && resp.ContentLength > c.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	r := io.Reader(resp.Body)
	if c.MaxBytes > 0 {
		r = io.LimitReader(resp.Body, c.MaxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("fetch: reading body: %w", err)
	}
	if c.MaxBytes > 0 && int64(len(data)) > c.MaxBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, c.MaxBytes)
	}

	mt := mimetype.Detect(data)
	doc := &Document{Data: data, MIMEType: mt.String()}
	switch {
	case mt.Is("application/pdf"):
	case mt.Is("image/png"), mt.Is("image/jpeg"), mt.Is("image/gif"),
		mt.Is("image/bmp"), mt.Is("image/tiff"), mt.Is("image/webp"):
		doc.IsImage = true
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mt.String())
	}
	return doc, nil
}
