// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"strconv"
)

// Property keys understood by request infos and the ORB.
const (
	PropURI             = "orb.net.uri"
	PropAlternativeHost = "orb.net.alternativeHost"

	PropProxyHost     = "orb.net.http.proxyHost"
	PropProxyPort     = "orb.net.http.proxyPort"
	PropProxyUser     = "orb.net.http.proxyUser"
	PropProxyPassword = "orb.net.http.proxyPassword"

	PropKeyStore           = "orb.net.tls.keyStore"
	PropKeyStorePassword   = "orb.net.tls.keyStorePassword"
	PropKeyStoreType       = "orb.net.tls.keyStoreType"
	PropTrustStore         = "orb.net.tls.trustStore"
	PropTrustStorePassword = "orb.net.tls.trustStorePassword"
	PropTrustStoreType     = "orb.net.tls.trustStoreType"
	PropNeedClientAuth     = "orb.net.tls.needClientAuth"

	PropProviderURI = "orb.provider.uri"
	PropPrincipal   = "orb.security.principal"
	PropCredentials = "orb.security.credentials"
)

// Properties is a flat string map of connection parameters.
type Properties map[string]string

// Get returns the value for key, or "" when unset.
func (p Properties) Get(key string) string {
	if p == nil {
		return ""
	}
	return p[key]
}

// Set stores value under key. Empty values remove the key so that exported
// properties only carry what was configured.
func (p Properties) Set(key, value string) {
	if value == "" {
		delete(p, key)
		return
	}
	p[key] = value
}

func (p Properties) GetBool(key string) (bool, error) {
	v := p.Get(key)
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func (p Properties) GetInt(key string) (int, error) {
	v := p.Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// Clone returns an independent copy.
func (p Properties) Clone() Properties {
	c := make(Properties, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}
