// Package tlsprovider builds TLS contexts for the raw HTTP/1.1 and HTTP/2
// clients. It is deliberately small: the clients need ALPN selection and an
// optional verification bypass, nothing else, so there is no ecosystem
// library to reach for here — crypto/tls is the whole of the job (see
// DESIGN.md for why no third-party TLS stack replaces it).
package tlsprovider

import (
	"crypto/tls"
	"net"

	"github.com/a0x194/hrsdetect/internal/httpmodel"
)

// Config controls how a TlsContext is built.
type Config struct {
	ALPN   []string
	Verify bool
	Server string // SNI / hostname for verification
}

// ContextFor builds a *tls.Config for the given ALPN protocols. When
// Verify is false, both hostname and chain verification are disabled.
// Minimum negotiated version is TLS 1.2, matching the spec's floor.
func ContextFor(cfg Config) *tls.Config {
	return &tls.Config{
		NextProtos:         cfg.ALPN,
		InsecureSkipVerify: !cfg.Verify,
		ServerName:         cfg.Server,
		MinVersion:         tls.VersionTLS12,
	}
}

// NegotiatedALPN returns the protocol the peer selected during the
// handshake, or "" if none was negotiated.
func NegotiatedALPN(conn *tls.Conn) string {
	return conn.ConnectionState().NegotiatedProtocol
}

// DialTLS dials host:addr and performs a TLS handshake using cfg,
// returning a TransportError on failure with the right Kind discriminator.
func DialTLS(network, addr string, tcfg *tls.Config, dialer *net.Dialer) (*tls.Conn, error) {
	rawConn, err := dialer.Dial(network, addr)
	if err != nil {
		return nil, ClassifyDialError(addr, err)
	}
	conn := tls.Client(rawConn, tcfg)
	if err := conn.Handshake(); err != nil {
		conn.Close()
		return nil, httpmodel.NewError(httpmodel.ErrTLS, addr, err)
	}
	return conn, nil
}

// ClassifyDialError turns a raw net.Dial/net.Dialer.Dial error into the
// right TransportError Kind: a DNS resolution failure is ErrDNS, a
// net.Dialer timeout is ErrTimeout — per spec §7 a connect timeout is NOT
// fatal, the elapsed time it carries is the signal the detector kernel
// converts a probe outcome from — and anything else (refused,
// unreachable, reset) is ErrConnect.
func ClassifyDialError(addr string, err error) error {
	if dnsErr, ok := asDNSError(err); ok {
		return httpmodel.NewError(httpmodel.ErrDNS, addr, dnsErr)
	}
	if isDialTimeout(err) {
		return httpmodel.NewError(httpmodel.ErrTimeout, addr, err)
	}
	return httpmodel.NewError(httpmodel.ErrConnect, addr, err)
}

func asDNSError(err error) (*net.DNSError, bool) {
	var dnsErr *net.DNSError
	for e := err; e != nil; {
		if d, ok := e.(*net.DNSError); ok {
			dnsErr = d
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return dnsErr, dnsErr != nil
}

func isDialTimeout(err error) bool {
	type timeoutish interface{ Timeout() bool }
	for e := err; e != nil; {
		if t, ok := e.(timeoutish); ok {
			return t.Timeout()
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}
