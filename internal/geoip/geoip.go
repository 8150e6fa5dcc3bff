// Package geoip resolves client IPs to country and region codes.
package geoip

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/oschwald/geoip2-golang"
)

// Location is the result of a lookup. Empty fields mean unknown.
type Location struct {
	Country string
	Region  string
}

// GeoIP looks up locations in a MaxMind database, or in a JSON list of CIDR
// ranges when the file is not a MaxMind database.
type GeoIP struct {
	db     *geoip2.Reader
	ranges []cidrRange
}

type cidrRange struct {
	net *net.IPNet
	loc Location
}

// Init opens the database at path. The JSON fallback format is
//
//	[{"net": "203.0.113.0/24", "country": "US", "region": "CA"}]
func Init(path string) (*GeoIP, error) {
	db, err := geoip2.Open(path)
	if err == nil {
		return &GeoIP{db: db}, nil
	}

	data, rerr := os.ReadFile(path)
	if rerr != nil {
		return nil, fmt.Errorf("open geoip database: %w", errors.Join(err, rerr))
	}
	var entries []struct {
		Net     string `json:"net"`
		Country string `json:"country"`
		Region  string `json:"region"`
	}
	if jerr := json.Unmarshal(data, &entries); jerr != nil {
		return nil, fmt.Errorf("open geoip database: %w", errors.Join(err, fmt.Errorf("json fallback: %w", jerr)))
	}

	g := &GeoIP{}
	for _, e := range entries {
		if _, n, perr := net.ParseCIDR(e.Net); perr == nil {
			g.ranges = append(g.ranges, cidrRange{net: n, loc: Location{Country: e.Country, Region: e.Region}})
		}
	}
	return g, nil
}

// Lookup resolves ip. A nil GeoIP or an unparsable address yields an empty Location.
func (g *GeoIP) Lookup(ip string) Location {
	parsed := net.ParseIP(ip)
	if g == nil || parsed == nil {
		return Location{}
	}
	if g.db != nil {
		if rec, err := g.db.City(parsed); err == nil {
			loc := Location{Country: rec.Country.IsoCode}
			if len(rec.Subdivisions) > 0 {
				loc.Region = rec.Subdivisions[0].IsoCode
			}
			return loc
		}
		if rec, err := g.db.Country(parsed); err == nil {
			return Location{Country: rec.Country.IsoCode}
		}
	}
	for _, r := range g.ranges {
		if r.net.Contains(parsed) {
			return r.loc
		}
	}
	return Location{}
}

// Close releases resources associated with the database.
func (g *GeoIP) Close() error {
	if g != nil && g.db != nil {
		return g.db.Close()
	}
	return nil
}
