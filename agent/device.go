package agent

import (
	"fmt"
	"strconv"

	"github.com/icsguard/honeypot/internal/config"
	"github.com/icsguard/honeypot/memimage"
	"github.com/icsguard/honeypot/modbus"
	"github.com/icsguard/honeypot/s7comm"
	"github.com/icsguard/honeypot/simulation"
)

// deviceRuntime is one running PLC entry: its listener(s) and the
// simulation engine(s) ticking its memory image. A Modbus entry may
// model several logical devices (gateway mode, one engine each); an
// S7comm entry models exactly one.
type deviceRuntime struct {
	modbusSrv *modbus.Server
	s7Srv     *s7comm.Server
	engines   []*simulation.Engine
}

func (d *deviceRuntime) stop() {
	if d.modbusSrv != nil {
		d.modbusSrv.Stop()
	}
	if d.s7Srv != nil {
		d.s7Srv.Stop()
	}
	for _, e := range d.engines {
		e.Stop()
	}
}

func (a *Agent) startDevice(plc config.PLC) (*deviceRuntime, error) {
	switch plc.Type {
	case "modbus":
		return a.startModbusDevice(plc)
	case "s7comm":
		return a.startS7Device(plc)
	default:
		return nil, fmt.Errorf("agent: unknown plc type %q", plc.Type)
	}
}

func (a *Agent) startModbusDevice(plc config.PLC) (*deviceRuntime, error) {
	sc, err := parseSimulationConfig(plc.Simulation)
	if err != nil {
		return nil, err
	}

	devices := plc.Devices
	if len(devices) == 0 {
		devices = []config.Device{{UnitID: 1, Model: plc.Model}}
	}

	var mdevices []*modbus.Device
	var engines []*simulation.Engine
	for _, d := range devices {
		eff, err := simulation.Resolve(a.profiles, sc.Profile, sc.modbusSection(), sc.s7Section())
		if err != nil {
			return nil, fmt.Errorf("agent: resolve simulation for unit %d: %w", d.UnitID, err)
		}
		img := memimage.NewModbusImage()
		engines = append(engines, simulation.New(img, nil, eff, a.rng))
		mdevices = append(mdevices, &modbus.Device{
			UnitID: uint8(d.UnitID),
			Model:  d.Model,
			Vendor: plc.Vendor,
			Image:  img,
		})
	}

	handler := modbus.NewHandler(mdevices, a.store, a.log.With("plc_port", plc.Port))
	srv, err := modbus.Listen(strconv.Itoa(plc.Port), handler, a.log)
	if err != nil {
		return nil, err
	}

	srv.Start()
	for _, e := range engines {
		e.Start()
	}
	return &deviceRuntime{modbusSrv: srv, engines: engines}, nil
}

func (a *Agent) startS7Device(plc config.PLC) (*deviceRuntime, error) {
	sc, err := parseSimulationConfig(plc.Simulation)
	if err != nil {
		return nil, err
	}

	eff, err := simulation.Resolve(a.profiles, sc.Profile, sc.modbusSection(), sc.s7Section())
	if err != nil {
		return nil, fmt.Errorf("agent: resolve simulation: %w", err)
	}

	img := memimage.NewS7Image()
	model := s7comm.ModelByName(plc.Model)
	srv, err := s7comm.Listen(strconv.Itoa(plc.Port), img, model, a.store, a.log)
	if err != nil {
		return nil, err
	}

	eng := simulation.New(nil, img, eff, a.rng)
	srv.Start()
	eng.Start()
	return &deviceRuntime{s7Srv: srv, engines: []*simulation.Engine{eng}}, nil
}
