package advertise

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Service constants.
const (
	// ServiceType is the DNS-SD service type of a tlsnet server.
	ServiceType = "_tlsnet._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// TXTVersion is the TXT record layout version.
	TXTVersion = "1"
)

// TXT record keys.
const (
	TXTKeyVersion     = "v"
	TXTKeyALPN        = "alpn"
	TXTKeyResolver    = "sni"
	TXTKeyFingerprint = "fp"
)

// TXT errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record")
	ErrMissingRequired     = errors.New("missing required TXT field")
	ErrInstanceNameInvalid = errors.New("invalid instance name")
)

// Info describes an advertised listener.
type Info struct {
	// Instance is the DNS-SD instance name.
	Instance string

	Port int

	// ALPN lists the protocols the listener offers, in preference order.
	ALPN []string

	// Resolver is set when certificates are chosen per hostname.
	Resolver bool

	// Fingerprint identifies the static certificate. Empty with a resolver.
	Fingerprint string
}

// Fingerprint returns the first 64 bits of SHA-256(DER) as 16 hex chars.
func Fingerprint(cert *x509.Certificate) string {
	hash := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(hash[:8])
}

// EncodeTXT renders info as sorted "key=value" strings.
func EncodeTXT(info Info) []string {
	txt := map[string]string{TXTKeyVersion: TXTVersion}
	if len(info.ALPN) > 0 {
		txt[TXTKeyALPN] = strings.Join(info.ALPN, ",")
	}
	if info.Resolver {
		txt[TXTKeyResolver] = "1"
	}
	if info.Fingerprint != "" {
		txt[TXTKeyFingerprint] = info.Fingerprint
	}

	out := make([]string, 0, len(txt))
	for k, v := range txt {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// DecodeTXT parses TXT strings into the protocol fields of Info.
func DecodeTXT(strs []string) (Info, error) {
	txt := make(map[string]string, len(strs))
	for _, s := range strs {
		k, v, _ := strings.Cut(s, "=")
		if k != "" {
			txt[k] = v
		}
	}

	v, ok := txt[TXTKeyVersion]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	if v != TXTVersion {
		return Info{}, fmt.Errorf("%w: unsupported version %q", ErrInvalidTXTRecord, v)
	}

	var info Info
	if alpn := txt[TXTKeyALPN]; alpn != "" {
		info.ALPN = strings.Split(alpn, ",")
	}
	info.Resolver = txt[TXTKeyResolver] == "1"
	info.Fingerprint = txt[TXTKeyFingerprint]
	if info.Fingerprint != "" && !isHexString(info.Fingerprint) {
		return Info{}, fmt.Errorf("%w: fingerprint %q", ErrInvalidTXTRecord, info.Fingerprint)
	}
	return info, nil
}

// ValidateInstanceName checks an instance name against DNS label rules.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameInvalid)
	}
	if len(name) > MaxInstanceNameLen {
		return fmt.Errorf("%w: %d bytes", ErrInstanceNameInvalid, len(name))
	}
	return nil
}

func isHexString(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}
