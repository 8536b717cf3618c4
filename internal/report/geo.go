package report

import (
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// GeoIP resolves countries from a MaxMind GeoLite2 country database.
type GeoIP struct {
	db *geoip2.Reader
}

func OpenGeoIP(path string) (*GeoIP, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &GeoIP{db: db}, nil
}

// Country returns the ISO code for an address, or for the network address of
// a block notation.
func (g *GeoIP) Country(target string) string {
	host, _, _ := strings.Cut(target, "/")
	ip := net.ParseIP(host)
	if ip == nil {
		return ""
	}
	rec, err := g.db.Country(ip)
	if err != nil {
		return ""
	}
	return rec.Country.IsoCode
}

func (g *GeoIP) Close() error {
	return g.db.Close()
}
