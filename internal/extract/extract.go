// Package extract pulls Solana token addresses out of post links.
package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/nexus-trading/kolhunter/internal/solana"
)

const (
	minAddressLen = 32
	maxAddressLen = 44
	pubkeyBytes   = 32
)

// DefaultHosts are the sites whose links are treated as token references.
var DefaultHosts = []string{"dexscreener.com", "solscan.io", "pump.fun", "birdeye.so"}

var (
	// Alphanumeric runs. Each run is checked against the base58 alphabet and
	// length range as a whole so a longer or mixed string never yields a
	// matching substring.
	wordPattern = regexp.MustCompile(`[0-9A-Za-z]+`)
	urlPattern  = regexp.MustCompile(`(?i)\bhttps?://[^\s<>"']+`)
)

// Extractor maps links to token identifiers. It holds no mutable state and is
// safe for concurrent use.
type Extractor struct {
	hosts []string
}

// New creates an extractor accepting links on the given hosts (and their
// subdomains). An empty host list accepts every link.
func New(hosts []string) *Extractor {
	normalized := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			normalized = append(normalized, h)
		}
	}
	return &Extractor{hosts: normalized}
}

// FromLink returns the first well-formed address in link, if any.
func (e *Extractor) FromLink(link string) (solana.Pubkey, bool) {
	if !e.allowed(link) {
		return "", false
	}
	for _, word := range wordPattern.FindAllString(link, -1) {
		if IsAddress(word) {
			return solana.Pubkey(word), true
		}
	}
	return "", false
}

// FromLinks evaluates each link independently and returns the identifiers in
// first-seen order with duplicates removed.
func (e *Extractor) FromLinks(links []string) []solana.Pubkey {
	seen := make(map[solana.Pubkey]bool, len(links))
	var out []solana.Pubkey
	for _, link := range links {
		addr, ok := e.FromLink(link)
		if !ok || seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}

// FromText returns every well-formed address in free text, in order,
// duplicates included. No host filtering applies.
func FromText(text string) []solana.Pubkey {
	var out []solana.Pubkey
	for _, word := range wordPattern.FindAllString(text, -1) {
		if IsAddress(word) {
			out = append(out, solana.Pubkey(word))
		}
	}
	return out
}

// Links finds http(s) URLs embedded in post text.
func Links(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	for i, m := range matches {
		matches[i] = strings.TrimRight(m, ".,;:!?)]}")
	}
	return matches
}

// IsAddress reports whether s is a base58 string of valid length that
// decodes to a 32-byte public key.
func IsAddress(s string) bool {
	if len(s) < minAddressLen || len(s) > maxAddressLen {
		return false
	}
	decoded, err := base58.Decode(s)
	if err != nil {
		return false
	}
	return len(decoded) == pubkeyBytes
}

func (e *Extractor) allowed(link string) bool {
	if len(e.hosts) == 0 {
		return true
	}
	raw := strings.TrimSpace(link)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range e.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
