package engine

// engine.go - the Engine type: owns every subsystem and drives the tick
// loop.
//
// Grounded on the teacher's EmulatorBase (emulator.go): a single struct
// holding every owned subsystem, a Reset() that pokes boot values into
// registers, and a run-loop method that steps subsystems in a fixed order
// per call. No CPU core lives here (out of scope per spec.md §1's
// non-goals), so the loop steps display/DMA/interrupt subsystems directly
// instead of stepping a Z80 core that in turn calls back into the bus.

// registers groups every plain hardware-register byte that isn't itself a
// bit-view type (those stay as their own zero-value-safe struct fields).
type registers struct {
	lcdc LCDC
	stat STAT

	scy, scx uint8
	lyc      uint8
	dmaLatch uint8
	bgp, obp0, obp1 uint8
	wy, wx   uint8
	grpm     uint8

	hdma1, hdma2, hdma3, hdma4 uint8

	bgpi, obpi PaletteIndex
	opri       OPRI
}

// Engine is the whole simulated subsystem: video memory, registers,
// interrupt controller, DMA engines and the PPU state machine, advanced in
// lockstep by Tick. It owns all shared state exclusively (spec.md §5); no
// locking is used because nothing outside a Tick call may mutate it.
type Engine struct {
	registers  registers
	vram       *VideoMemory
	interrupts *InterruptController
	fetcher    *Fetcher
	ppu        *PPU

	oamDMA    OAMDMAContext
	hblankDMA HBLANKDMAContext
	gdma      GDMAEngine
	lastGDMAOK bool

	external ExternalBus

	frameCallback func()

	cycles uint64
}

// NewEngine constructs an Engine at its documented boot state.
func NewEngine() *Engine {
	e := &Engine{
		vram:          newVideoMemory(),
		interrupts:    newInterruptController(),
		external:      nilExternalBus{},
		frameCallback: func() {},
	}
	e.fetcher = NewFetcher()
	e.ppu = NewPPU(e.fetcher)
	e.Reset()
	return e
}

// Reset restores documented boot-value register state (spec.md §6) and
// returns every subsystem to its initial lifecycle state (spec.md §3).
func (e *Engine) Reset() {
	r := &e.registers
	r.lcdc.Set(0x91, -1)
	r.stat = STAT{v: 0x85}
	r.scy, r.scx = 0, 0
	r.lyc = 0
	r.dmaLatch = 0
	r.bgp = 0xFC
	r.obp0, r.obp1 = 0xFF, 0xFF
	r.wy, r.wx = 0, 0
	r.grpm = 0
	r.hdma1, r.hdma2, r.hdma3, r.hdma4 = 0, 0, 0, 0
	r.bgpi.Set(0xFC)
	r.obpi.Set(0xFF)
	r.opri.Set(0xFF)

	e.vram.SetVBK(0)
	e.ppu.Reset()
	r.stat.setMode(e.ppu.Mode())

	e.oamDMA = OAMDMAContext{}
	e.hblankDMA = HBLANKDMAContext{}
	e.cycles = 0
}

// Cycles returns the unbounded, wrapping dot counter (spec.md §9).
func (e *Engine) Cycles() uint64 { return e.cycles }

// SetExternalBus installs the host's collaborator for addresses this
// engine doesn't own (audio, RTC, network, banked RAM, joypad).
func (e *Engine) SetExternalBus(bus ExternalBus) {
	if bus == nil {
		bus = nilExternalBus{}
	}
	e.external = bus
}

// SetFrameRenderedCallback registers the function invoked at each frame's
// VBLANK entry (and while the display is disabled, once per dot, per
// spec.md §4.1's "display disabled" rule).
func (e *Engine) SetFrameRenderedCallback(fn func()) {
	if fn == nil {
		fn = func() {}
	}
	e.frameCallback = fn
}

// Framebuffer returns the read-only 160x144 RGBA32 view (spec.md §6).
func (e *Engine) Framebuffer() []uint32 { return e.vram.Framebuffer() }

// RequestInterrupt sets the IF bit for src.
func (e *Engine) RequestInterrupt(src InterruptSource) { e.interrupts.Request(src) }

// SetInterruptHandler registers the handler invoked when src is serviced.
func (e *Engine) SetInterruptHandler(src InterruptSource, h InterruptHandler) {
	e.interrupts.SetHandler(src, h)
}

// SetMasterEnable gates interrupt dispatch entirely.
func (e *Engine) SetMasterEnable(enabled bool) { e.interrupts.SetMasterEnable(enabled) }

// InitiateOAMDMA starts an OAM-DMA transfer sourced from high<<8, as if the
// host had written the DMA register directly.
func (e *Engine) InitiateOAMDMA(high uint8) {
	e.registers.dmaLatch = high
	e.oamDMA.Start(high)
}

// InitiateHDMA starts a GDMA or HBLANK-DMA transfer of length bytes
// (rounded down to a 16-byte block), using the currently-latched
// HDMA1..HDMA4 source/destination registers. Returns false if a GDMA
// transfer hit a source read failure; HBLANK-DMA failures surface later,
// through Tick.
func (e *Engine) InitiateHDMA(length int, isGDMA bool) bool {
	blocks := length / 16
	if blocks < 1 {
		blocks = 1
	}
	if blocks > 128 {
		blocks = 128
	}
	value := uint8(blocks - 1)
	if !isGDMA {
		value |= 1 << hdma5KindBit
	}
	e.startHDMA(value)
	if isGDMA {
		return e.lastGDMAOK
	}
	return true
}

// buildPPUContext assembles the capability bundle the PPU needs for one
// tick, read fresh from the engine's own state every call.
func (e *Engine) buildPPUContext() *PPUContext {
	r := &e.registers
	return &PPUContext{
		LCDC:       &r.lcdc,
		STAT:       &r.stat,
		VRAM:       e.vram,
		Interrupts: e.interrupts,
		HBDMA:      &e.hblankDMA,
		Bus:        e,
		Fetcher:    e.fetcher,

		FrameCallback: e.frameCallback,

		SCX: r.scx, SCY: r.scy,
		WX: r.wx, WY: r.wy,
		BGP: r.bgp, OBP0: r.obp0, OBP1: r.obp1,
		LYC:     r.lyc,
		OPRI:    &r.opri,
		CGBMode: r.grpm != 0,
	}
}

// Tick advances the engine by n dots. Returns false (and a non-nil error)
// at the first dot that reports a TickSubsystemError or
// InterruptHandlerError (spec.md §7); prior dots' effects are not rewound.
func (e *Engine) Tick(n int) (bool, error) {
	for i := 0; i < n; i++ {
		if ok := e.tickOnce(); !ok {
			return false, newEngineError(TickSubsystemError, 0, "subsystem tick failed")
		}
	}
	return true, nil
}

// tickOnce runs one dot's worth of work, in the order spec.md §5 mandates:
// PPU state machine step (which ticks HBLANK-DMA on HBLANK entry), then
// OAM-DMA step, then interrupt servicing. A timer subsystem is out of this
// package's scope (spec.md §1); hosts drive timer-sourced interrupts
// through RequestInterrupt.
func (e *Engine) tickOnce() bool {
	ctx := e.buildPPUContext()
	ok := e.ppu.Tick(ctx)

	if e.oamDMA.Active() {
		if !e.oamDMA.Tick(e, e.vram) {
			ok = false
		}
	}

	if e.interrupts.Service() == ServiceHandlerFailed {
		ok = false
	}

	e.cycles++
	return ok
}

// Named register accessors (spec.md §6 "read/write named registers").
// These access the register state directly, with the same effect as a
// ReadByte/WriteByte of the register's address; none of the named
// registers fall in a gated address range, so gating never applies to them.

func (e *Engine) LCDC() uint8      { return e.registers.lcdc.Get() }
func (e *Engine) SetLCDC(v uint8)  { e.registers.lcdc.Set(v, e.ppu.Mode()) }
func (e *Engine) STAT() uint8      { return e.registers.stat.Get() }
func (e *Engine) SetSTAT(v uint8)  { e.registers.stat.SetWritableBits(v) }
func (e *Engine) SCY() uint8       { return e.registers.scy }
func (e *Engine) SetSCY(v uint8)   { e.registers.scy = v }
func (e *Engine) SCX() uint8       { return e.registers.scx }
func (e *Engine) SetSCX(v uint8)   { e.registers.scx = v }
func (e *Engine) LY() uint8        { return e.ppu.LY() }
func (e *Engine) LYC() uint8       { return e.registers.lyc }
func (e *Engine) SetLYC(v uint8)   { e.registers.lyc = v }
func (e *Engine) BGP() uint8       { return e.registers.bgp }
func (e *Engine) SetBGP(v uint8)   { e.registers.bgp = v }
func (e *Engine) OBP0() uint8      { return e.registers.obp0 }
func (e *Engine) SetOBP0(v uint8)  { e.registers.obp0 = v }
func (e *Engine) OBP1() uint8      { return e.registers.obp1 }
func (e *Engine) SetOBP1(v uint8)  { e.registers.obp1 = v }
func (e *Engine) WY() uint8        { return e.registers.wy }
func (e *Engine) SetWY(v uint8)    { e.registers.wy = v }
func (e *Engine) WX() uint8        { return e.registers.wx }
func (e *Engine) SetWX(v uint8)    { e.registers.wx = v }
func (e *Engine) VBK() uint8       { return e.vram.VBK() }
func (e *Engine) SetVBK(v uint8)   { e.vram.SetVBK(v) }
func (e *Engine) GRPM() uint8      { return e.registers.grpm }
func (e *Engine) SetGRPM(v uint8)  { e.registers.grpm = v }
func (e *Engine) OPRI() uint8      { return e.registers.opri.Get() }
func (e *Engine) SetOPRI(v uint8)  { e.registers.opri.Set(v) }
func (e *Engine) IF() uint8        { return e.interrupts.IF() }
func (e *Engine) SetIF(v uint8)    { e.interrupts.SetIF(v) }
func (e *Engine) IE() uint8        { return e.interrupts.IE() }
func (e *Engine) SetIE(v uint8)    { e.interrupts.SetIE(v) }

// SetBackgroundColor/SetObjectColor write a 15-bit RGB triple directly into
// background or object CRAM, bypassing the BGPI/OBPI auto-increment path.
// Returns false (InvalidPalette, spec.md §7) for an out-of-range palette
// or color index, leaving CRAM unchanged.
func (e *Engine) SetBackgroundColor(palette, index int, rgb15 uint16) bool {
	if !validPaletteIndex(palette, index) {
		return false
	}
	e.vram.SetCRAMColor15(0, palette, index, rgb15)
	return true
}

func (e *Engine) GetBackgroundColor(palette, index int) (uint16, bool) {
	if !validPaletteIndex(palette, index) {
		return 0, false
	}
	return e.vram.CRAMColor15(0, palette, index), true
}

func (e *Engine) SetObjectColor(palette, index int, rgb15 uint16) bool {
	if !validPaletteIndex(palette, index) {
		return false
	}
	e.vram.SetCRAMColor15(1, palette, index, rgb15)
	return true
}

func (e *Engine) GetObjectColor(palette, index int) (uint16, bool) {
	if !validPaletteIndex(palette, index) {
		return 0, false
	}
	return e.vram.CRAMColor15(1, palette, index), true
}

func validPaletteIndex(palette, index int) bool {
	return palette >= 0 && palette < 8 && index >= 0 && index < 4
}
