package s7comm

// ModelProfile holds the static, per-model identity data an S7 device
// reports through SZL queries and Setup Communication (spec §4.6 "Model
// profiles").
type ModelProfile struct {
	Name         string
	OrderCode    string
	ModuleName   string
	MaxPDU       uint16
	SystemName   string
	SerialNumber string
	PlantID      string
	OEMID        string
	Location     string
	ValidSlots   map[int]bool
}

// models holds the three device families spec §4.6 names explicitly.
var models = map[string]ModelProfile{
	"S7-300": {
		Name:         "S7-300",
		OrderCode:    "6ES7 315-2EH14-0AB0",
		ModuleName:   "CPU 315-2 PN/DP",
		MaxPDU:       240,
		SystemName:   "S7_300_Station",
		SerialNumber: "S C-C2UR28922018",
		PlantID:      "",
		OEMID:        "",
		Location:     "",
		ValidSlots:   map[int]bool{2: true},
	},
	"S7-1200": {
		Name:         "S7-1200",
		OrderCode:    "6ES7 212-1AE40-0XB0",
		ModuleName:   "CPU 1212C",
		MaxPDU:       480,
		SystemName:   "S7_1200_Station",
		SerialNumber: "S C-JYMP12345678",
		PlantID:      "",
		OEMID:        "",
		Location:     "",
		ValidSlots:   map[int]bool{1: true},
	},
	"S7-1500": {
		Name:         "S7-1500",
		OrderCode:    "6ES7 515-2AM01-0AB0",
		ModuleName:   "CPU 1515-2 PN",
		MaxPDU:       960,
		SystemName:   "S7_1500_Station",
		SerialNumber: "S C-X6UP98765432",
		PlantID:      "",
		OEMID:        "",
		Location:     "",
		ValidSlots:   map[int]bool{1: true},
	},
}

// ModelByName returns a model profile, falling back to S7-1200 for an
// unrecognized name so a misconfigured device still emulates something.
func ModelByName(name string) ModelProfile {
	if m, ok := models[name]; ok {
		return m
	}
	return models["S7-1200"]
}
