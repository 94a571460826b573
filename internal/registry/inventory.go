package registry

import (
	"errors"

	"github.com/fxnlabs/streamnn/internal/accel"
	"github.com/fxnlabs/streamnn/internal/config"
)

// DeviceReport describes which configured units one device carries.
type DeviceReport struct {
	ID           int
	Busy         bool
	FrequencyMHz float64
	Units        []string
	// Err is the first query error other than a missing unit.
	Err error
}

// UnitNames lists every distinct configured unit name in declaration order.
func UnitNames(units config.Units) []string {
	all := []string{
		units.WeightStreamer, units.DataStreamer, units.DataStreamerMM,
		units.WeightStreamerPartIn, units.WeightStreamerPartOut,
		units.DataStreamerPartIn, units.DataStreamerPartOut,
		units.DataStreamerMMPartIn, units.DataStreamerMMPartOut,
		units.StreamJoin, units.StreamSplit,
	}
	seen := make(map[string]bool)
	var names []string
	for _, n := range all {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}
	return names
}

// Inventory reports every device of rt without acquiring any unit.
func Inventory(rt accel.Runtime, units config.Units) ([]DeviceReport, error) {
	devices, err := rt.Devices()
	if err != nil {
		return nil, err
	}
	names := UnitNames(units)
	reports := make([]DeviceReport, 0, len(devices))
	for _, dev := range devices {
		rep := DeviceReport{ID: dev.ID()}
		if err := dev.SetExclusive(); err != nil {
			rep.Busy = errors.Is(err, accel.ErrDeviceBusy)
			rep.Err = err
			reports = append(reports, rep)
			continue
		}
		if f, err := dev.DesignFrequencyMHz(); err == nil {
			rep.FrequencyMHz = f
		}
		for _, name := range names {
			_, err := dev.UnitID(name)
			switch {
			case err == nil:
				rep.Units = append(rep.Units, name)
			case !errors.Is(err, accel.ErrUnitNotFound) && rep.Err == nil:
				rep.Err = err
			}
		}
		reports = append(reports, rep)
	}
	return reports, nil
}
