package simulation

import (
	"errors"
	"sort"

	"github.com/icsguard/honeypot/profile"
)

// EffectiveSpec is the fully-resolved (profile + per-device overlay)
// simulation surface for one device, as described by spec §4.3: an
// effective spec is materialized once at device start and drives every
// subsequent tick.
type EffectiveSpec struct {
	PostHook string
	Modbus   *profile.ModbusSection
	S7       *profile.S7Section
}

// Resolve implements spec §4.3's effective-spec resolution: load the
// named profile (or, absent one, the default profile when the device
// declares no custom entries of its own), then overlay the device's
// custom entries on top, address-for-address, with custom entries
// winning.
func Resolve(store *profile.Store, profileName string, custom *profile.ModbusSection, customS7 *profile.S7Section) (*EffectiveSpec, error) {
	hasCustom := sectionNonEmpty(custom) || s7SectionNonEmpty(customS7)

	var base *profile.Profile
	if profileName != "" {
		p, err := store.Info(profileName)
		switch {
		case err == nil:
			base = p
		case errors.Is(err, profile.ErrNotFound):
			// Unknown profile name: fall through to custom-only / default.
		default:
			return nil, err
		}
	}
	if base == nil && !hasCustom {
		if p, err := store.Info(profile.DefaultProfileName); err == nil {
			base = p
		}
	}

	eff := &EffectiveSpec{}
	var baseModbus *profile.ModbusSection
	var baseS7 *profile.S7Section
	if base != nil {
		eff.PostHook = base.PostHook
		baseModbus = base.Modbus
		baseS7 = base.S7
	}

	eff.Modbus = mergeModbus(baseModbus, custom)
	eff.S7 = mergeS7(baseS7, customS7)
	return eff, nil
}

func sectionNonEmpty(s *profile.ModbusSection) bool {
	if s == nil {
		return false
	}
	return len(s.HoldingRegisters) > 0 || len(s.InputRegisters) > 0 ||
		len(s.Coils) > 0 || len(s.DiscreteInputs) > 0
}

func s7SectionNonEmpty(s *profile.S7Section) bool {
	if s == nil {
		return false
	}
	return len(s.DB) > 0 || len(s.M) > 0 || len(s.I) > 0 || len(s.Q) > 0
}

func mergeModbus(base, overlay *profile.ModbusSection) *profile.ModbusSection {
	if base == nil && overlay == nil {
		return &profile.ModbusSection{}
	}
	out := &profile.ModbusSection{}
	out.HoldingRegisters = mergeEntries(sectionSlice(base, 0), sectionSlice(overlay, 0))
	out.InputRegisters = mergeEntries(sectionSlice(base, 1), sectionSlice(overlay, 1))
	out.Coils = mergeEntries(sectionSlice(base, 2), sectionSlice(overlay, 2))
	out.DiscreteInputs = mergeEntries(sectionSlice(base, 3), sectionSlice(overlay, 3))
	return out
}

func sectionSlice(s *profile.ModbusSection, which int) []profile.ModbusEntry {
	if s == nil {
		return nil
	}
	switch which {
	case 0:
		return s.HoldingRegisters
	case 1:
		return s.InputRegisters
	case 2:
		return s.Coils
	default:
		return s.DiscreteInputs
	}
}

// mergeEntries overlays entries onto base by address, with overlay
// winning on collision, and returns the result sorted by address for
// deterministic iteration order.
func mergeEntries(base, overlay []profile.ModbusEntry) []profile.ModbusEntry {
	byAddr := make(map[uint16]profile.ModbusEntry)
	for _, e := range base {
		byAddr[e.Address] = e
	}
	for _, e := range overlay {
		byAddr[e.Address] = e
	}
	out := make([]profile.ModbusEntry, 0, len(byAddr))
	for _, e := range byAddr {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func mergeS7(base, overlay *profile.S7Section) *profile.S7Section {
	out := &profile.S7Section{
		DB: make(map[uint16]map[uint32]profile.S7Entry),
		M:  make(map[uint32]profile.S7Entry),
		I:  make(map[uint32]profile.S7Entry),
		Q:  make(map[uint32]profile.S7Entry),
	}
	if base != nil {
		for db, entries := range base.DB {
			out.DB[db] = cloneS7Map(entries)
		}
		copyS7Map(out.M, base.M)
		copyS7Map(out.I, base.I)
		copyS7Map(out.Q, base.Q)
	}
	if overlay != nil {
		for db, entries := range overlay.DB {
			if out.DB[db] == nil {
				out.DB[db] = make(map[uint32]profile.S7Entry)
			}
			copyS7Map(out.DB[db], entries)
		}
		copyS7Map(out.M, overlay.M)
		copyS7Map(out.I, overlay.I)
		copyS7Map(out.Q, overlay.Q)
	}
	return out
}

func cloneS7Map(m map[uint32]profile.S7Entry) map[uint32]profile.S7Entry {
	out := make(map[uint32]profile.S7Entry, len(m))
	copyS7Map(out, m)
	return out
}

func copyS7Map(dst, src map[uint32]profile.S7Entry) {
	for k, v := range src {
		dst[k] = v
	}
}
