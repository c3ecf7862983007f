// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package registry maps dive computer families to their protocol
// implementations and publishes the support matrix.
package registry

import (
	"fmt"
	"slices"
	"strings"

	"github.com/wyvernp/pelagic-sub001/dive"
	"github.com/wyvernp/pelagic-sub001/mares"
	"github.com/wyvernp/pelagic-sub001/oceanic"
	"github.com/wyvernp/pelagic-sub001/ostc"
	"github.com/wyvernp/pelagic-sub001/shearwater"
	"github.com/wyvernp/pelagic-sub001/suunto"
	"github.com/wyvernp/pelagic-sub001/transport"
	"github.com/wyvernp/pelagic-sub001/uwatec"
)

// Family is a dive computer family.
type Family uint8

const (
	Suunto Family = iota + 1
	Shearwater
	Oceanic
	Uwatec
	OSTC
	Mares
	Cressi
	Garmin
	Ratio
	Divesoft
	Aqualung
	Seac
)

var familyNames = [...]string{
	Suunto:     "Suunto",
	Shearwater: "Shearwater",
	Oceanic:    "Oceanic",
	Uwatec:     "Uwatec",
	OSTC:       "OSTC",
	Mares:      "Mares",
	Cressi:     "Cressi",
	Garmin:     "Garmin",
	Ratio:      "Ratio",
	Divesoft:   "Divesoft",
	Aqualung:   "Aqualung",
	Seac:       "Seac",
}

func (f Family) String() string {
	if int(f) < len(familyNames) && familyNames[f] != "" {
		return familyNames[f]
	}
	return fmt.Sprintf("Family(%d)", f)
}

// aliases are the additional names accepted by ParseFamily.
var aliases = map[string]Family{
	"scubapro":          Uwatec,
	"atom2":             Oceanic,
	"hw":                OSTC,
	"heinrichs weikamp": OSTC,
	"heinrichs-weikamp": OSTC,
}

// ParseFamily returns the family with the given name. Matching is case
// insensitive.
func ParseFamily(name string) (Family, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for f, n := range familyNames {
		if n != "" && strings.ToLower(n) == name {
			return Family(f), nil
		}
	}
	if f, ok := aliases[name]; ok {
		return f, nil
	}
	return 0, dive.Errorf(dive.KindUnsupported, "parse family", "unknown family %q", name)
}

// SupportDescriptor describes the support for a family.
type SupportDescriptor struct {
	Family     Family
	Supported  bool
	Protocol   string
	Transports transport.Kind
	Notes      string
}

type implementation struct {
	protocol string
	params   func(dive.Config) transport.Params
	new      func(...dive.Option) dive.Protocol
	notes    string
}

var implementations = map[Family]implementation{
	Suunto: {
		protocol: "suunto",
		params:   suunto.Params,
		new:      func(o ...dive.Option) dive.Protocol { return suunto.New(o...) },
		notes:    "EON Steel, EON Core, D5",
	},
	Shearwater: {
		protocol: "shearwater",
		params:   shearwater.Params,
		new:      func(o ...dive.Option) dive.Protocol { return shearwater.New(o...) },
		notes:    "Petrel, Perdix, Teric, Peregrine",
	},
	Oceanic: {
		protocol: "oceanic",
		params:   oceanic.Params,
		new:      func(o ...dive.Option) dive.Protocol { return oceanic.New(o...) },
		notes:    "Atom2 family",
	},
	Uwatec: {
		protocol: "uwatec",
		params:   uwatec.Params,
		new:      func(o ...dive.Option) dive.Protocol { return uwatec.New(o...) },
		notes:    "Scubapro G2, Aladin, Galileo, Luna",
	},
	OSTC: {
		protocol: "ostc",
		params:   ostc.Params,
		new:      func(o ...dive.Option) dive.Protocol { return ostc.New(o...) },
		notes:    "OSTC 3, OSTC 4, OSTC Sport",
	},
	Mares: {
		protocol: "mares",
		params:   mares.Params,
		new:      func(o ...dive.Option) dive.Protocol { return mares.New(o...) },
		notes:    "Icon HD, Genius",
	},
}

var unsupportedNotes = map[Family]string{
	Cressi:   "no protocol implementation",
	Garmin:   "dives are read from the device filesystem by other tools",
	Ratio:    "no protocol implementation",
	Divesoft: "no protocol implementation",
	Aqualung: "i-series BLE names are recognised; download is not implemented",
	Seac:     "no protocol implementation",
}

// SupportMatrix returns the support descriptor of every known family.
func SupportMatrix() []SupportDescriptor {
	matrix := make([]SupportDescriptor, 0, len(familyNames)-1)
	for f := Suunto; f <= Seac; f++ {
		matrix = append(matrix, Describe(f))
	}
	return matrix
}

// Describe returns the support descriptor of f.
func Describe(f Family) SupportDescriptor {
	impl, ok := implementations[f]
	if !ok {
		return SupportDescriptor{Family: f, Notes: unsupportedNotes[f]}
	}
	return SupportDescriptor{
		Family:     f,
		Supported:  true,
		Protocol:   impl.protocol,
		Transports: impl.params(dive.DefaultConfig()).Kinds,
		Notes:      impl.notes,
	}
}

// IsSupported returns whether f has a protocol implementation.
func IsSupported(f Family) bool {
	_, ok := implementations[f]
	return ok
}

// SupportedFamilies returns the families with a protocol implementation
// in family order.
func SupportedFamilies() []Family {
	var fams []Family
	for f := range implementations {
		fams = append(fams, f)
	}
	slices.Sort(fams)
	return fams
}

// ProtocolFor returns a new protocol for f configured with opts, or nil
// when f is not supported.
func ProtocolFor(f Family, opts ...dive.Option) dive.Protocol {
	impl, ok := implementations[f]
	if !ok {
		return nil
	}
	return impl.new(opts...)
}

var vendors = map[string]Family{
	"suunto":            Suunto,
	"shearwater":        Shearwater,
	"oceanic":           Oceanic,
	"scubapro":          Uwatec,
	"uwatec":            Uwatec,
	"heinrichs weikamp": OSTC,
	"mares":             Mares,
	"aqualung":          Aqualung,
	"cressi":            Cressi,
	"garmin":            Garmin,
	"ratio":             Ratio,
	"divesoft":          Divesoft,
	"seac":              Seac,
}

// Lookup returns the family of a vendor and product pair as reported by
// the transport discovery tables. Serial bridge vendors do not identify
// a family.
func Lookup(vendor, product string) (Family, bool) {
	f, ok := vendors[strings.ToLower(vendor)]
	return f, ok
}

// LookupUSB returns the family of a native USB device.
func LookupUSB(vid, pid uint16) (Family, bool) {
	p, ok := transport.LookupUSB(vid, pid)
	if !ok {
		return 0, false
	}
	return Lookup(p.Vendor, p.Product)
}

// LookupBLEName returns the family of a device from its advertised name.
func LookupBLEName(name string) (Family, bool) {
	vendor, product, ok := transport.MatchBLEName(name)
	if !ok {
		return 0, false
	}
	return Lookup(vendor, product)
}
