// Package simulation implements the per-device tick loop (C3): it
// resolves a profile plus per-device overlay into an effective spec,
// then once a second evaluates every waveform entry and publishes the
// results into a memory image under a single lock per spec §5.
package simulation

import (
	"strconv"
	"sync"
	"time"

	"github.com/icsguard/honeypot/memimage"
	"github.com/icsguard/honeypot/profile"
	"github.com/icsguard/honeypot/waveform"
)

const tickInterval = time.Second

// Engine runs the 1 Hz tick loop for one emulated device. A device has
// either a Modbus image, an S7 image, or (rarely) both, depending on its
// protocol type; whichever images are non-nil are ticked.
type Engine struct {
	modbusImg *memimage.ModbusImage
	s7Img     *memimage.S7Image
	spec      *EffectiveSpec
	postHook  PostHookFunc
	rng       waveform.Source

	start time.Time

	walk        map[string]float64
	initialized map[string]bool
	hook        hookState

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds an Engine for a device. modbusImg/s7Img may be nil when the
// device speaks only the other protocol. rng is the agent-wide PRNG
// stream shared by every engine (spec §4.1).
func New(modbusImg *memimage.ModbusImage, s7Img *memimage.S7Image, spec *EffectiveSpec, rng waveform.Source) *Engine {
	return &Engine{
		modbusImg:   modbusImg,
		s7Img:       s7Img,
		spec:        spec,
		postHook:    lookupPostHook(spec.PostHook),
		rng:         rng,
		walk:        make(map[string]float64),
		initialized: make(map[string]bool),
		stop:        make(chan struct{}),
	}
}

// Start begins ticking at 1 Hz in a background goroutine.
func (e *Engine) Start() {
	e.start = time.Now()
	e.wg.Add(1)
	go e.run()
}

// Stop halts the tick loop and waits for it to exit.
func (e *Engine) Stop() {
	close(e.stop)
	e.wg.Wait()
}

func (e *Engine) run() {
	defer e.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case now := <-ticker.C:
			e.tick(now.Sub(e.start).Seconds())
		}
	}
}

func (e *Engine) tick(t float64) {
	if e.modbusImg != nil && e.spec.Modbus != nil {
		e.modbusImg.Transaction(func(tx *memimage.ModbusTxn) {
			e.applyRegisters(tx, memimage.HoldingRegisters, e.spec.Modbus.HoldingRegisters, t)
			e.applyRegisters(tx, memimage.InputRegisters, e.spec.Modbus.InputRegisters, t)
			e.applyBits(tx, memimage.Coils, e.spec.Modbus.Coils, t)
			e.applyBits(tx, memimage.DiscreteInputs, e.spec.Modbus.DiscreteInputs, t)
			if e.postHook != nil {
				e.postHook(tx, &e.hook)
			}
		})
	}
	if e.s7Img != nil && e.spec.S7 != nil {
		e.s7Img.Transaction(func(tx *memimage.S7Txn) {
			e.applyS7Map(tx, memimage.AreaM, 0, e.spec.S7.M, t)
			e.applyS7Map(tx, memimage.AreaI, 0, e.spec.S7.I, t)
			e.applyS7Map(tx, memimage.AreaQ, 0, e.spec.S7.Q, t)
			for db, entries := range e.spec.S7.DB {
				e.applyS7Map(tx, memimage.AreaDB, db, entries, t)
			}
		})
	}
}

func (e *Engine) applyRegisters(tx *memimage.ModbusTxn, area memimage.Area, entries []profile.ModbusEntry, t float64) {
	for _, entry := range entries {
		key := regKey(area, entry.Address)

		if entry.Type == profile.StringReg {
			length := entry.Length
			if length <= 0 {
				length = 1
			}
			regs := memimage.EncodeStringRegisters(entry.StringValue, length)
			for i, v := range regs {
				tx.SetRegister(area, entry.Address+uint16(i), v)
			}
			continue
		}

		if entry.Waveform.Kind == waveform.Static {
			if !e.initialized[key] {
				e.writeScalar(tx, area, entry, waveform.InitialValue(entry.Waveform))
				e.initialized[key] = true
			}
			continue
		}

		prev, seen := e.walk[key]
		if !seen {
			prev = entry.Waveform.Initial
		}
		res := waveform.Eval(entry.Waveform, t, prev, e.rng)
		if res.Static {
			continue
		}
		if entry.Waveform.Kind == waveform.RandomWalk {
			e.walk[key] = res.Float64
		}
		e.writeScalar(tx, area, entry, res.Float64)
	}
}

func (e *Engine) writeScalar(tx *memimage.ModbusTxn, area memimage.Area, entry profile.ModbusEntry, v float64) {
	if entry.Type == profile.Float32Reg {
		regs := memimage.EncodeFloat32Registers(float32(v))
		tx.SetRegister(area, entry.Address, regs[0])
		tx.SetRegister(area, entry.Address+1, regs[1])
		return
	}
	tx.SetRegister(area, entry.Address, uint16(int16(v)))
}

func (e *Engine) applyBits(tx *memimage.ModbusTxn, area memimage.Area, entries []profile.ModbusEntry, t float64) {
	for _, entry := range entries {
		key := regKey(area, entry.Address)

		if entry.Waveform.Kind == waveform.Static {
			if !e.initialized[key] {
				tx.SetBit(area, entry.Address, waveform.InitialValue(entry.Waveform) != 0)
				e.initialized[key] = true
			}
			continue
		}

		res := waveform.Eval(entry.Waveform, t, e.walk[key], e.rng)
		if res.Static {
			continue
		}
		if res.IsBool {
			tx.SetBit(area, entry.Address, res.Bool)
		} else {
			tx.SetBit(area, entry.Address, res.Float64 != 0)
		}
	}
}

func (e *Engine) applyS7Map(tx *memimage.S7Txn, area memimage.S7Area, dbNum uint16, entries map[uint32]profile.S7Entry, t float64) {
	for offset, entry := range entries {
		key := s7Key(area, dbNum, offset)

		if entry.Waveform.Kind == waveform.Static {
			if !e.initialized[key] {
				tx.Write(area, dbNum, offset, encodeS7Scalar(string(entry.Type), waveform.InitialValue(entry.Waveform)))
				e.initialized[key] = true
			}
			continue
		}

		prev, seen := e.walk[key]
		if !seen {
			prev = entry.Waveform.Initial
		}
		res := waveform.Eval(entry.Waveform, t, prev, e.rng)
		if res.Static {
			continue
		}
		if entry.Waveform.Kind == waveform.RandomWalk {
			e.walk[key] = res.Float64
		}
		v := res.Float64
		if res.IsBool && res.Bool {
			v = 1
		}
		tx.Write(area, dbNum, offset, encodeS7Scalar(string(entry.Type), v))
	}
}

func regKey(area memimage.Area, addr uint16) string {
	return strconv.Itoa(int(area)) + ":" + strconv.Itoa(int(addr))
}

func s7Key(area memimage.S7Area, dbNum uint16, offset uint32) string {
	return strconv.Itoa(int(area)) + ":" + strconv.Itoa(int(dbNum)) + ":" + strconv.Itoa(int(offset))
}
