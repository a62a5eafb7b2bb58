// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// URI schemes of the built in transports.
const (
	SchemeTCP    = "tcp"
	SchemeTCPS   = "tcps"
	SchemeHTTP   = "http"
	SchemeHTTPS  = "https"
	SchemeInProc = "vm"
	SchemeGRPC   = "grpc"
)

// RequestInfo holds the transport specific parameters of a connection.
// Equal is used both to pick a factory and to decide whether a pooled
// connection may be reused, so implementations compare every field.
type RequestInfo interface {
	URI() string
	Scheme() string
	Equal(other RequestInfo) bool
	Export(p Properties)
}

// NewRequestInfo builds the request info of the transport registered for the
// scheme of the orb.net.uri property.
func NewRequestInfo(p Properties) (RequestInfo, error) {
	scheme, err := uriScheme(p)
	if err != nil {
		return nil, err
	}
	f, err := newFactory(scheme, TransportConfig{})
	if err != nil {
		return nil, err
	}
	return f.NewRequestInfo(p)
}

func uriScheme(p Properties) (string, error) {
	u, err := parseURI(p.Get(PropURI))
	if err != nil {
		return "", err
	}
	return u.Scheme, nil
}

func parseURI(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("orb: missing %s", PropURI)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("orb: invalid uri %q: %w", raw, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("orb: invalid uri %q: scheme and host required", raw)
	}
	return u, nil
}

func normalizeURI(raw string, schemes ...string) (string, error) {
	u, err := parseURI(raw)
	if err != nil {
		return "", err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return u.String(), nil
		}
	}
	return "", fmt.Errorf("orb: uri %q: expected scheme %s", raw, strings.Join(schemes, " or "))
}

// hostPort returns the dial address of a network uri.
func hostPort(uri string) (string, error) {
	u, err := parseURI(uri)
	if err != nil {
		return "", err
	}
	if u.Port() == "" {
		return "", fmt.Errorf("orb: uri %q has no port", uri)
	}
	return u.Host, nil
}

// bindAddress returns the listen address: the alternative host, when set,
// replaces the uri host.
func bindAddress(uri, alternativeHost string) (string, error) {
	addr, err := hostPort(uri)
	if err != nil {
		return "", err
	}
	if alternativeHost == "" {
		return addr, nil
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(alternativeHost, port), nil
}

// withPort rewrites the port of uri; used once a listener bound to port 0
// knows its real port.
func withPort(uri string, addr net.Addr) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return uri
	}
	u.Host = net.JoinHostPort(u.Hostname(), port)
	return u.String()
}

// SocketRequestInfo describes a plain socket endpoint. It also serves the
// grpc scheme, which needs nothing more than an address.
type SocketRequestInfo struct {
	uri             string
	alternativeHost string
}

func NewSocketRequestInfo(uri string) (*SocketRequestInfo, error) {
	n, err := normalizeURI(uri, SchemeTCP, SchemeGRPC)
	if err != nil {
		return nil, err
	}
	return &SocketRequestInfo{uri: n}, nil
}

func SocketRequestInfoFromProperties(p Properties) (*SocketRequestInfo, error) {
	i, err := NewSocketRequestInfo(p.Get(PropURI))
	if err != nil {
		return nil, err
	}
	i.readSocket(p)
	return i, nil
}

func (i *SocketRequestInfo) URI() string { return i.uri }

func (i *SocketRequestInfo) Scheme() string {
	return i.uri[:strings.Index(i.uri, ":")]
}

// AlternativeHost is the host acceptors bind to instead of the uri host.
func (i *SocketRequestInfo) AlternativeHost() string { return i.alternativeHost }

func (i *SocketRequestInfo) SetAlternativeHost(host string) { i.alternativeHost = host }

func (i *SocketRequestInfo) Equal(other RequestInfo) bool {
	o, ok := other.(*SocketRequestInfo)
	return ok && o != nil && *i == *o
}

func (i *SocketRequestInfo) Export(p Properties) {
	p.Set(PropURI, i.uri)
	p.Set(PropAlternativeHost, i.alternativeHost)
}

func (i *SocketRequestInfo) readSocket(p Properties) {
	i.alternativeHost = p.Get(PropAlternativeHost)
}

func (i *SocketRequestInfo) String() string { return i.uri }

// TLSProperties is the TLS material of tcps and https endpoints. Store types
// are "PEM" (the default) or "PKCS12".
type TLSProperties struct {
	KeyStore           string
	KeyStorePassword   string
	KeyStoreType       string
	TrustStore         string
	TrustStorePassword string
	TrustStoreType     string
	NeedClientAuth     bool
}

func (t TLSProperties) export(p Properties) {
	p.Set(PropKeyStore, t.KeyStore)
	p.Set(PropKeyStorePassword, t.KeyStorePassword)
	p.Set(PropKeyStoreType, t.KeyStoreType)
	p.Set(PropTrustStore, t.TrustStore)
	p.Set(PropTrustStorePassword, t.TrustStorePassword)
	p.Set(PropTrustStoreType, t.TrustStoreType)
	if t.NeedClientAuth {
		p.Set(PropNeedClientAuth, "true")
	} else {
		delete(p, PropNeedClientAuth)
	}
}

func tlsPropertiesFrom(p Properties) (TLSProperties, error) {
	need, err := p.GetBool(PropNeedClientAuth)
	if err != nil {
		return TLSProperties{}, fmt.Errorf("orb: %s: %w", PropNeedClientAuth, err)
	}
	return TLSProperties{
		KeyStore:           p.Get(PropKeyStore),
		KeyStorePassword:   p.Get(PropKeyStorePassword),
		KeyStoreType:       p.Get(PropKeyStoreType),
		TrustStore:         p.Get(PropTrustStore),
		TrustStorePassword: p.Get(PropTrustStorePassword),
		TrustStoreType:     p.Get(PropTrustStoreType),
		NeedClientAuth:     need,
	}, nil
}

// TLSRequestInfo describes a tcps endpoint.
type TLSRequestInfo struct {
	SocketRequestInfo
	tls TLSProperties
}

func NewTLSRequestInfo(uri string) (*TLSRequestInfo, error) {
	n, err := normalizeURI(uri, SchemeTCPS)
	if err != nil {
		return nil, err
	}
	return &TLSRequestInfo{SocketRequestInfo: SocketRequestInfo{uri: n}}, nil
}

func TLSRequestInfoFromProperties(p Properties) (*TLSRequestInfo, error) {
	i, err := NewTLSRequestInfo(p.Get(PropURI))
	if err != nil {
		return nil, err
	}
	i.readSocket(p)
	if i.tls, err = tlsPropertiesFrom(p); err != nil {
		return nil, err
	}
	return i, nil
}

func (i *TLSRequestInfo) TLS() TLSProperties { return i.tls }

func (i *TLSRequestInfo) SetTLS(t TLSProperties) { i.tls = t }

func (i *TLSRequestInfo) Equal(other RequestInfo) bool {
	o, ok := other.(*TLSRequestInfo)
	return ok && o != nil && *i == *o
}

func (i *TLSRequestInfo) Export(p Properties) {
	i.SocketRequestInfo.Export(p)
	i.tls.export(p)
}

// HTTPRequestInfo describes an http tunnel endpoint, optionally reached
// through an HTTP proxy.
type HTTPRequestInfo struct {
	SocketRequestInfo
	proxyHost     string
	proxyPort     int
	proxyUser     string
	proxyPassword string
}

func NewHTTPRequestInfo(uri string) (*HTTPRequestInfo, error) {
	n, err := normalizeURI(uri, SchemeHTTP)
	if err != nil {
		return nil, err
	}
	return &HTTPRequestInfo{SocketRequestInfo: SocketRequestInfo{uri: n}}, nil
}

func HTTPRequestInfoFromProperties(p Properties) (*HTTPRequestInfo, error) {
	i, err := NewHTTPRequestInfo(p.Get(PropURI))
	if err != nil {
		return nil, err
	}
	if err := i.readHTTP(p); err != nil {
		return nil, err
	}
	return i, nil
}

func (i *HTTPRequestInfo) readHTTP(p Properties) error {
	i.readSocket(p)
	port, err := p.GetInt(PropProxyPort)
	if err != nil {
		return fmt.Errorf("orb: %s: %w", PropProxyPort, err)
	}
	i.proxyHost = p.Get(PropProxyHost)
	i.proxyPort = port
	i.proxyUser = p.Get(PropProxyUser)
	i.proxyPassword = p.Get(PropProxyPassword)
	return nil
}

func (i *HTTPRequestInfo) ProxyHost() string     { return i.proxyHost }
func (i *HTTPRequestInfo) ProxyPort() int        { return i.proxyPort }
func (i *HTTPRequestInfo) ProxyUser() string     { return i.proxyUser }
func (i *HTTPRequestInfo) ProxyPassword() string { return i.proxyPassword }

func (i *HTTPRequestInfo) SetProxy(host string, port int) {
	i.proxyHost = host
	i.proxyPort = port
}

func (i *HTTPRequestInfo) SetProxyCredentials(user, password string) {
	i.proxyUser = user
	i.proxyPassword = password
}

// proxyURL returns the proxy to tunnel through, or nil for a direct
// connection.
func (i *HTTPRequestInfo) proxyURL() *url.URL {
	if i.proxyHost == "" {
		return nil
	}
	u := &url.URL{Scheme: "http", Host: i.proxyHost}
	if i.proxyPort != 0 {
		u.Host = net.JoinHostPort(i.proxyHost, strconv.Itoa(i.proxyPort))
	}
	if i.proxyUser != "" {
		u.User = url.UserPassword(i.proxyUser, i.proxyPassword)
	}
	return u
}

func (i *HTTPRequestInfo) Equal(other RequestInfo) bool {
	o, ok := other.(*HTTPRequestInfo)
	return ok && o != nil && *i == *o
}

func (i *HTTPRequestInfo) Export(p Properties) {
	i.SocketRequestInfo.Export(p)
	p.Set(PropProxyHost, i.proxyHost)
	if i.proxyPort != 0 {
		p.Set(PropProxyPort, strconv.Itoa(i.proxyPort))
	} else {
		delete(p, PropProxyPort)
	}
	p.Set(PropProxyUser, i.proxyUser)
	p.Set(PropProxyPassword, i.proxyPassword)
}

// HTTPSRequestInfo describes an https tunnel endpoint.
type HTTPSRequestInfo struct {
	HTTPRequestInfo
	tls TLSProperties
}

func NewHTTPSRequestInfo(uri string) (*HTTPSRequestInfo, error) {
	n, err := normalizeURI(uri, SchemeHTTPS)
	if err != nil {
		return nil, err
	}
	return &HTTPSRequestInfo{HTTPRequestInfo: HTTPRequestInfo{SocketRequestInfo: SocketRequestInfo{uri: n}}}, nil
}

func HTTPSRequestInfoFromProperties(p Properties) (*HTTPSRequestInfo, error) {
	i, err := NewHTTPSRequestInfo(p.Get(PropURI))
	if err != nil {
		return nil, err
	}
	if err := i.readHTTP(p); err != nil {
		return nil, err
	}
	if i.tls, err = tlsPropertiesFrom(p); err != nil {
		return nil, err
	}
	return i, nil
}

func (i *HTTPSRequestInfo) TLS() TLSProperties { return i.tls }

func (i *HTTPSRequestInfo) SetTLS(t TLSProperties) { i.tls = t }

func (i *HTTPSRequestInfo) Equal(other RequestInfo) bool {
	o, ok := other.(*HTTPSRequestInfo)
	return ok && o != nil && *i == *o
}

func (i *HTTPSRequestInfo) Export(p Properties) {
	i.HTTPRequestInfo.Export(p)
	i.tls.export(p)
}

// InProcRequestInfo names an in-process endpoint, vm://name.
type InProcRequestInfo struct {
	uri string
}

func NewInProcRequestInfo(uri string) (*InProcRequestInfo, error) {
	n, err := normalizeURI(uri, SchemeInProc)
	if err != nil {
		return nil, err
	}
	return &InProcRequestInfo{uri: n}, nil
}

func InProcRequestInfoFromProperties(p Properties) (*InProcRequestInfo, error) {
	return NewInProcRequestInfo(p.Get(PropURI))
}

func (i *InProcRequestInfo) URI() string    { return i.uri }
func (i *InProcRequestInfo) Scheme() string { return SchemeInProc }
func (i *InProcRequestInfo) String() string { return i.uri }

func (i *InProcRequestInfo) Equal(other RequestInfo) bool {
	o, ok := other.(*InProcRequestInfo)
	return ok && o != nil && *i == *o
}

func (i *InProcRequestInfo) Export(p Properties) {
	p.Set(PropURI, i.uri)
}

// name is the hub key of the endpoint.
func (i *InProcRequestInfo) name() string {
	u, _ := url.Parse(i.uri)
	return u.Host + u.Path
}
