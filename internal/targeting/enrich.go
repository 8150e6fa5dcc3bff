// Package targeting fills device and geo fields of incoming bid requests that
// the caller left empty, so adapters receive the richest request possible.
package targeting

import (
	"fmt"
	"strings"

	"github.com/avct/uasurfer"
	"github.com/prebid/openrtb/v20/adcom1"
	"github.com/prebid/openrtb/v20/openrtb2"

	"github.com/rivalapexmediation/auction/internal/geoip"
	"github.com/rivalapexmediation/auction/internal/models"
)

// Signals summarizes what enrichment learned about the request.
type Signals struct {
	IsBot bool
}

// Enrich resolves req.Device.UA and req.Device.IP and writes the results into
// empty fields of req.Device. Values supplied by the caller are never
// overwritten. g may be nil.
func Enrich(g *geoip.GeoIP, req *models.BidRequest) Signals {
	if req == nil || req.Device == nil {
		return Signals{}
	}
	d := req.Device
	var sig Signals

	if d.UA != "" {
		ua := uasurfer.Parse(d.UA)
		sig.IsBot = ua.IsBot()
		if d.DeviceType == 0 {
			d.DeviceType = deviceType(ua.DeviceType)
		}
		if d.OS == "" && ua.OS.Name != uasurfer.OSUnknown {
			d.OS = strings.TrimPrefix(ua.OS.Name.String(), "OS")
		}
		if d.OSV == "" && ua.OS.Version.Major > 0 {
			v := ua.OS.Version
			d.OSV = fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
		}
	}

	ip := d.IP
	if ip == "" {
		ip = d.IPv6
	}
	if ip != "" && (d.Geo == nil || d.Geo.Country == "" || d.Geo.Region == "") {
		loc := g.Lookup(ip)
		if loc.Country != "" || loc.Region != "" {
			if d.Geo == nil {
				d.Geo = &openrtb2.Geo{}
			}
			if d.Geo.Country == "" {
				d.Geo.Country = loc.Country
			}
			if d.Geo.Region == "" {
				d.Geo.Region = loc.Region
			}
		}
	}
	return sig
}

func deviceType(t uasurfer.DeviceType) adcom1.DeviceType {
	switch t {
	case uasurfer.DeviceComputer:
		return adcom1.DevicePC
	case uasurfer.DevicePhone:
		return adcom1.DevicePhone
	case uasurfer.DeviceTablet:
		return adcom1.DeviceTablet
	case uasurfer.DeviceTV:
		return adcom1.DeviceTV
	case uasurfer.DeviceConsole, uasurfer.DeviceWearable:
		return adcom1.DeviceConnected
	default:
		return 0
	}
}
