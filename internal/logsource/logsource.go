// Package logsource turns web server access logs into per-address request counts.
package logsource

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gustycube/baxter/internal/logging"
	"github.com/gustycube/baxter/internal/types"
)

var leadingIPv4 = regexp.MustCompile(`^(\d+\.\d+\.\d+\.\d+)\s`)

// Filter drops lines before they are counted.
type Filter struct {
	// IgnoreIPs are never counted.
	IgnoreIPs []string
	// IgnoreBots are lowercase user agent fragments; a line containing one
	// anywhere is skipped.
	IgnoreBots []string
}

// Parser counts requests per leading client address across every file that
// matches a glob. Files ending in .gz are decompressed.
type Parser struct {
	pattern string
	ignore  map[string]struct{}
	bots    []string
	log     *logging.Logger
}

func New(pattern string, f Filter, log *logging.Logger) *Parser {
	if log == nil {
		log = logging.Nop()
	}
	ignore := make(map[string]struct{}, len(f.IgnoreIPs))
	for _, ip := range f.IgnoreIPs {
		ignore[strings.TrimSpace(ip)] = struct{}{}
	}
	bots := make([]string, 0, len(f.IgnoreBots))
	for _, b := range f.IgnoreBots {
		if b = strings.ToLower(strings.TrimSpace(b)); b != "" {
			bots = append(bots, b)
		}
	}
	return &Parser{pattern: pattern, ignore: ignore, bots: bots, log: log}
}

// Files returns the paths the pattern currently matches.
func (p *Parser) Files() ([]string, error) {
	files, err := filepath.Glob(p.pattern)
	if err != nil {
		return nil, fmt.Errorf("bad log pattern %q: %w", p.pattern, err)
	}
	return files, nil
}

// Parse reads every matching file. A file that cannot be opened is logged and
// skipped. Observations come back in ascending address order.
func (p *Parser) Parse(ctx context.Context) ([]types.AddressObservation, error) {
	files, err := p.Files()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.parseFile(ctx, f, counts); err != nil {
			p.log.Warnw("unable to read log", "file", f, "err", err)
		}
	}

	addrs := make([]string, 0, len(counts))
	for a := range counts {
		addrs = append(addrs, a)
	}
	types.SortAddresses(addrs)
	out := make([]types.AddressObservation, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, types.AddressObservation{Address: a, Count: counts[a]})
	}
	p.log.Infow("parsed logs", "files", len(files), "addresses", len(out))
	return out, nil
}

func (p *Parser) parseFile(ctx context.Context, path string, counts map[string]int) error {
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fh.Close()

	var r io.Reader = fh
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(fh)
		if err != nil {
			return err
		}
		defer gz.Close()
		r = gz
	}
	return p.count(ctx, r, counts)
}

func (p *Parser) count(ctx context.Context, r io.Reader, counts map[string]int) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		if n++; n%10000 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		line := sc.Text()
		m := leadingIPv4.FindStringSubmatch(line)
		if m == nil || p.isBot(line) {
			continue
		}
		if _, skip := p.ignore[m[1]]; skip {
			continue
		}
		counts[m[1]]++
	}
	return sc.Err()
}

func (p *Parser) isBot(line string) bool {
	if len(p.bots) == 0 {
		return false
	}
	lower := strings.ToLower(line)
	for _, b := range p.bots {
		if strings.Contains(lower, b) {
			return true
		}
	}
	return false
}
