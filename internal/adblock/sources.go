package adblock

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	downloadTimeout = 120 * time.Second
	connectTimeout  = 30 * time.Second
	maxSourceBytes  = 64 * 1024 * 1024
)

// SourceResult reports how many domains one source contributed, or the
// error if it failed to download.
type SourceResult struct {
	Name        string
	DomainCount int
	Err         error
}

// DownloadAll fetches every source concurrently and merges the results
// into one deduplicated set. A failed source contributes nothing but
// does not fail the others, mirroring the original daemon's
// download_all.
func DownloadAll(sources []Source) (map[string]struct{}, []SourceResult) {
	results := make([]SourceResult, len(sources))
	domainSets := make([]map[string]struct{}, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			domains, err := downloadSource(src)
			results[i] = SourceResult{Name: src.Name, DomainCount: len(domains), Err: err}
			set := make(map[string]struct{}, len(domains))
			for _, d := range domains {
				set[d] = struct{}{}
			}
			domainSets[i] = set
		}(i, src)
	}
	wg.Wait()

	merged := make(map[string]struct{})
	for _, set := range domainSets {
		for d := range set {
			merged[d] = struct{}{}
		}
	}
	return merged, results
}

func downloadSource(src Source) ([]string, error) {
	client := &http.Client{
		Timeout: downloadTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
		},
	}
	resp, err := client.Get(src.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source %s returned status %d", src.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src.Name, err)
	}

	switch src.Format {
	case "domain_list":
		return parseDomainList(string(body)), nil
	case "dnsmasq":
		return parseDnsmasqFormat(string(body)), nil
	case "hosts", "":
		return parseHostsFile(string(body)), nil
	default:
		return parseHostsFile(string(body)), nil
	}
}

// parseHostsFile parses "0.0.0.0 domain" / "127.0.0.1 domain" lines.
func parseHostsFile(content string) []string {
	var domains []string
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if fields[0] != "0.0.0.0" && fields[0] != "127.0.0.1" {
			continue
		}
		domain := strings.ToLower(fields[1])
		if isValidDomain(domain) {
			domains = append(domains, domain)
		}
	}
	return domains
}

// parseDomainList parses one domain per line.
func parseDomainList(content string) []string {
	var domains []string
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		line := strings.ToLower(strings.TrimSpace(sc.Text()))
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		if isValidDomain(line) {
			domains = append(domains, line)
		}
	}
	return domains
}

// parseDnsmasqFormat parses "address=/domain.com/" lines.
func parseDnsmasqFormat(content string) []string {
	var domains []string
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "address=/") || !strings.HasSuffix(line, "/") {
			continue
		}
		domain := strings.ToLower(line[len("address=/") : len(line)-1])
		if domain != "" && isValidDomain(domain) {
			domains = append(domains, domain)
		}
	}
	return domains
}

var invalidDomainPrefixes = []string{"localhost", "broadcasthost", "local", "ip6-", "0.", "127."}

func isValidDomain(domain string) bool {
	if domain == "" || len(domain) > 253 {
		return false
	}
	for _, p := range invalidDomainPrefixes {
		if strings.HasPrefix(domain, p) {
			return false
		}
	}
	if !strings.Contains(domain, ".") {
		return false
	}
	c := domain[0]
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

// SaveCache persists domains as a JSON array, atomically.
func SaveCache(domains map[string]struct{}, path string) error {
	list := make([]string, 0, len(domains))
	for d := range domains {
		list = append(list, d)
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadCache loads a previously saved domain set.
func LoadCache(path string) (map[string]struct{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("unmarshal cache: %w", err)
	}
	set := make(map[string]struct{}, len(list))
	for _, d := range list {
		set[d] = struct{}{}
	}
	return set, nil
}
