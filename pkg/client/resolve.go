package client

import (
	"fmt"
	"net"

	"github.com/kestrelgames/netpipe/pkg/errors"
)

// resolvePreferredAddress turns host into a dialable address, preferring the
// first IPv6 address, then the first IPv4 address. A literal IP bypasses DNS
// entirely.
func resolvePreferredAddress(host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return "", &errors.AddressResolution{Host: host, Err: err}
	}

	firstV4 := ""
	for _, ip := range ips {
		if ip.To4() == nil {
			return ip.String(), nil
		}
		if firstV4 == "" {
			firstV4 = ip.String()
		}
	}

	if firstV4 != "" {
		return firstV4, nil
	}

	return "", &errors.AddressResolution{Host: host, Err: fmt.Errorf("resolver returned no usable addresses")}
}
