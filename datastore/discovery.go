package datastore

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/miekg/dns"
)

// DefaultDNSTimeout bounds each discovery lookup.
const DefaultDNSTimeout = 5 * time.Second

// ErrNoRecords is returned when the nameserver has no answer for a discovery lookup.
var ErrNoRecords = errors.New("no DNS records found")

// SRVResolver looks up the DNS records used for database service discovery.
type SRVResolver interface {
	LookupSRV(target string) ([]*dns.SRV, error)
	LookupA(target string) ([]*dns.A, error)
}

// DNSResolver is an SRVResolver querying a specific nameserver, bypassing the system resolver configuration.
type DNSResolver struct {
	// Addr is the host:port address of the nameserver.
	Addr    string
	TCP     bool
	Timeout time.Duration
}

// NewDNSResolver builds a DNSResolver for the nameserver at host. Port defaults to 53.
func NewDNSResolver(host, port string, tcp bool) *DNSResolver {
	if port == "" {
		port = "53"
	}
	return &DNSResolver{
		Addr:    net.JoinHostPort(host, port),
		TCP:     tcp,
		Timeout: DefaultDNSTimeout,
	}
}

// LookupSRV gets the SRV records for target.
func (r *DNSResolver) LookupSRV(target string) ([]*dns.SRV, error) {
	answer, err := r.query(target, dns.TypeSRV)
	if err != nil {
		return nil, err
	}

	srvs := make([]*dns.SRV, 0, len(answer))
	for _, rr := range answer {
		if srv, ok := rr.(*dns.SRV); ok {
			srvs = append(srvs, srv)
		}
	}
	if len(srvs) == 0 {
		return nil, fmt.Errorf("SRV %s: %w", target, ErrNoRecords)
	}
	return srvs, nil
}

// LookupA gets the A records for target.
func (r *DNSResolver) LookupA(target string) ([]*dns.A, error) {
	answer, err := r.query(target, dns.TypeA)
	if err != nil {
		return nil, err
	}

	aa := make([]*dns.A, 0, len(answer))
	for _, rr := range answer {
		if a, ok := rr.(*dns.A); ok {
			aa = append(aa, a)
		}
	}
	if len(aa) == 0 {
		return nil, fmt.Errorf("A %s: %w", target, ErrNoRecords)
	}
	return aa, nil
}

// query sends a single question to the nameserver. Records of other types, such as CNAMEs leading to the answer,
// are left for the caller to filter out.
func (r *DNSResolver) query(target string, qtype uint16) ([]dns.RR, error) {
	c := &dns.Client{Net: "udp", Timeout: r.Timeout}
	if r.TCP {
		c.Net = "tcp"
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(target), qtype)

	in, _, err := c.Exchange(msg, r.Addr)
	if err != nil {
		return nil, err
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%s %s: nameserver replied %s", dns.TypeToString[qtype], target, dns.RcodeToString[in.Rcode])
	}

	return in.Answer, nil
}

// ResolvePrimary points dsn at the primary server advertised by the SRV record. When multiple targets are
// advertised, the one with the lowest priority and then highest weight wins.
func ResolvePrimary(r SRVResolver, record string, dsn *DSN) error {
	srvs, err := r.LookupSRV(record)
	if err != nil {
		return fmt.Errorf("looking up primary SRV record %q: %w", record, err)
	}
	if len(srvs) == 0 {
		return fmt.Errorf("primary SRV record %q has no targets", record)
	}

	sort.SliceStable(srvs, func(i, j int) bool {
		if srvs[i].Priority != srvs[j].Priority {
			return srvs[i].Priority < srvs[j].Priority
		}
		return srvs[i].Weight > srvs[j].Weight
	})
	target := srvs[0]

	aa, err := r.LookupA(target.Target)
	if err != nil {
		return fmt.Errorf("looking up A record for %q: %w", target.Target, err)
	}
	if len(aa) == 0 {
		return errors.New("primary has no A records")
	}

	dsn.Host = aa[0].A.String()
	dsn.Port = int(target.Port)

	return nil
}
