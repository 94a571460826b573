package registry

import "github.com/fxnlabs/streamnn/internal/config"

// Role is the logical job a compute unit fills in the pipeline.
type Role string

const (
	RoleWeightStreamer        Role = "weight-streamer"
	RoleDataStreamer          Role = "data-streamer"
	RoleWeightStreamerPartIn  Role = "weight-streamer-part-in"
	RoleWeightStreamerPartOut Role = "weight-streamer-part-out"
	RoleDataStreamerPartIn    Role = "data-streamer-part-in"
	RoleDataStreamerPartOut   Role = "data-streamer-part-out"
	RoleStreamJoin            Role = "stream-join"
	RoleStreamSplit           Role = "stream-split"
)

// Catalog resolves roles to unit names for one transfer mode.
type Catalog map[Role]string

// NewCatalog picks the unit names for the given transfer mode. Mapped mode
// uses the memory mapped data streamer variants.
func NewCatalog(units config.Units, mapped bool) Catalog {
	c := Catalog{
		RoleWeightStreamer:        units.WeightStreamer,
		RoleDataStreamer:          units.DataStreamer,
		RoleWeightStreamerPartIn:  units.WeightStreamerPartIn,
		RoleWeightStreamerPartOut: units.WeightStreamerPartOut,
		RoleDataStreamerPartIn:    units.DataStreamerPartIn,
		RoleDataStreamerPartOut:   units.DataStreamerPartOut,
		RoleStreamJoin:            units.StreamJoin,
		RoleStreamSplit:           units.StreamSplit,
	}
	if mapped {
		c[RoleDataStreamer] = units.DataStreamerMM
		c[RoleDataStreamerPartIn] = units.DataStreamerMMPartIn
		c[RoleDataStreamerPartOut] = units.DataStreamerMMPartOut
	}
	return c
}

// group is a set of roles that must live on one device, bound together
// when the anchor is found.
type group struct {
	anchor     Role
	companions []Role
	// strict groups skip a device unless every companion is present.
	strict bool
}

func (g group) roles() []Role {
	return append([]Role{g.anchor}, g.companions...)
}

func groupsFor(split bool) []group {
	if !split {
		return []group{
			{anchor: RoleWeightStreamer, companions: []Role{RoleDataStreamer}, strict: true},
		}
	}
	return []group{
		{anchor: RoleWeightStreamerPartIn, companions: []Role{RoleStreamJoin, RoleDataStreamerPartIn}},
		{anchor: RoleWeightStreamerPartOut, companions: []Role{RoleStreamSplit, RoleDataStreamerPartOut}},
	}
}

// checkOrder is the order unbound roles are reported in.
func checkOrder(split bool) []Role {
	if !split {
		return []Role{RoleWeightStreamer, RoleDataStreamer}
	}
	return []Role{
		RoleWeightStreamerPartIn,
		RoleWeightStreamerPartOut,
		RoleStreamSplit,
		RoleStreamJoin,
		RoleDataStreamerPartIn,
		RoleDataStreamerPartOut,
	}
}
