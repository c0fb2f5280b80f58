package attestation

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chaincontext/teeattest/config"
	"github.com/miekg/dns"
)

const resolvConf = "/etc/resolv.conf"

// Detector reports whether the process runs on a confidential VM. The probe
// runs at most once; the result is cached for the process lifetime.
type Detector struct {
	log         *slog.Logger
	mode        string
	probeURL    string
	headerName  string
	headerValue string
	resolver    string
	timeout     time.Duration
	client      *http.Client

	result func() bool
}

func NewDetector(cfg config.Config, client *http.Client, log *slog.Logger) *Detector {
	if client == nil {
		client = http.DefaultClient
	}
	d := &Detector{
		log:         log,
		mode:        strings.ToLower(cfg.ConfidentialVM),
		probeURL:    cfg.Metadata.ProbeURL,
		headerName:  cfg.Metadata.HeaderName,
		headerValue: cfg.Metadata.HeaderValue,
		resolver:    cfg.DNSResolver,
		timeout:     cfg.Timeouts.Probe,
		client:      client,
	}
	d.result = sync.OnceValue(d.detect)
	return d
}

// IsConfidentialVM returns the cached detection result.
func (d *Detector) IsConfidentialVM() bool {
	return d.result()
}

func (d *Detector) detect() bool {
	switch d.mode {
	case config.ConfidentialAlways:
		d.log.Info("Confidential VM mode forced on")
		return true
	case config.ConfidentialNever:
		d.log.Info("Confidential VM mode forced off")
		return false
	}

	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	confidential := d.probe(ctx)
	d.log.Info("Detected execution environment",
		slog.Bool("confidentialVM", confidential),
		slog.String("probeURL", d.probeURL),
		slog.Duration("duration", time.Since(start)))
	return confidential
}

func (d *Detector) probe(ctx context.Context) bool {
	if d.probeURL == "" {
		return false
	}

	u, err := url.Parse(d.probeURL)
	if err != nil {
		d.log.Warn("Invalid metadata probe URL", "err", err)
		return false
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil && host != "localhost" && !d.resolves(ctx, host) {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.probeURL, nil)
	if err != nil {
		return false
	}
	if d.headerName != "" {
		req.Header.Set(d.headerName, d.headerValue)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Debug("Metadata probe failed", "err", err)
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// resolves checks that host has an address record. Without a usable resolver
// configuration the check is skipped and the HTTP probe decides.
func (d *Detector) resolves(ctx context.Context, host string) bool {
	server := d.resolver
	if server == "" {
		cc, err := dns.ClientConfigFromFile(resolvConf)
		if err != nil || len(cc.Servers) == 0 {
			d.log.Debug("No DNS resolver configured, skipping pre-check", "err", err)
			return true
		}
		server = net.JoinHostPort(cc.Servers[0], cc.Port)
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)

	c := new(dns.Client)
	in, _, err := c.ExchangeContext(ctx, m, server)
	if err != nil {
		d.log.Debug("Metadata host lookup failed", slog.String("host", host), "err", err)
		return false
	}
	if in.Rcode != dns.RcodeSuccess {
		d.log.Debug("Metadata host does not resolve",
			slog.String("host", host),
			slog.String("rcode", dns.RcodeToString[in.Rcode]))
		return false
	}

	for _, answer := range in.Answer {
		switch answer.(type) {
		case *dns.A, *dns.CNAME:
			return true
		}
	}
	return false
}
