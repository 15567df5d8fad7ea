package engine

// ppu.go - the four-mode display state machine.
//
// Grounded on the teacher's VDP.Tick/RenderScanline split (vdp.go): a mode
// counter plus a per-dot switch that does the mode's work and hands off to
// the next mode at a boundary. The handheld's modes are dot-paced rather
// than scanline-paced, so the switch runs once per engine tick instead of
// once per HBlank/VBlank like the SMS VDP's interrupt line logic, but the
// "do the work, then decide the next mode" shape is the same.

const (
	modeHBlank        = 0
	modeVBlank        = 1
	modeOAMScan       = 2
	modePixelTransfer = 3

	dotsPerScanline = 456
	oamScanDots     = 80
	scanlinesPerFrame = 154
	firstVBlankLine   = 144
)

// PPUContext is the capability bundle the engine hands the PPU each tick:
// register views, the shared video memory, the interrupt sink, the HBLANK
// DMA context and a raw bus reader, plus the live register values the
// fetcher needs. Built fresh by the engine every call; never retained
// across ticks by the PPU, per the concurrency model's no-aliasing rule.
type PPUContext struct {
	LCDC       *LCDC
	STAT       *STAT
	VRAM       *VideoMemory
	Interrupts *InterruptController
	HBDMA      *HBLANKDMAContext
	Bus        busReader
	Fetcher    *Fetcher

	FrameCallback func()

	SCX, SCY uint8
	WX, WY   uint8
	BGP, OBP0, OBP1 uint8
	LYC      uint8
	OPRI     *OPRI
	CGBMode  bool
}

func (ctx *PPUContext) fetchInput(ly uint8, windowLine int, objects []ObjectEntry) *FetchInput {
	return &FetchInput{
		LCDC: ctx.LCDC, VRAM: ctx.VRAM,
		BGP: ctx.BGP, OBP0: ctx.OBP0, OBP1: ctx.OBP1,
		SCX: ctx.SCX, SCY: ctx.SCY, WX: ctx.WX, WY: ctx.WY,
		LY: ly, WindowLine: windowLine, CGBMode: ctx.CGBMode, Objects: objects,
	}
}

// PPU is the display state machine: mode, dot counter, scanline counter,
// per-line object list and window-line counter.
type PPU struct {
	mode int
	dot  int
	ly   uint8

	windowLine int
	objLine    []ObjectEntry
	objOverflow bool

	fetcher *Fetcher
}

// NewPPU constructs a PPU at mode OAM-SCAN, LY 0, bound to fetcher.
func NewPPU(fetcher *Fetcher) *PPU {
	return &PPU{mode: modeOAMScan, fetcher: fetcher, objLine: make([]ObjectEntry, 0, 10)}
}

// Reset returns the PPU to its boot state (spec.md §3 lifecycles).
func (p *PPU) Reset() {
	p.mode = modeOAMScan
	p.dot = 0
	p.ly = 0
	p.windowLine = 0
	p.objLine = p.objLine[:0]
	p.objOverflow = false
}

func (p *PPU) Mode() int  { return p.mode }
func (p *PPU) LY() uint8  { return p.ly }

// ObjectOverflowed reports whether the most recently scanned line had more
// than 10 objects match the visibility test (a debug observable beyond
// spec.md's literal API surface, grounded in the teacher's VDP status
// overflow bit).
func (p *PPU) ObjectOverflowed() bool { return p.objOverflow }

// Objects exposes the current line's object list, read-only, for callers
// that want to inspect sprite selection (e.g. tests).
func (p *PPU) Objects() []ObjectEntry { return p.objLine }

// Tick advances the PPU by one dot. Returns false if a ticked subsystem
// (HBLANK-DMA) failed a bus read (TickSubsystemError, spec.md §7).
func (p *PPU) Tick(ctx *PPUContext) bool {
	if !ctx.LCDC.DisplayEnable() {
		ctx.VRAM.ClearToWhite()
		ctx.FrameCallback()
		return true
	}

	ok := true
	switch p.mode {
	case modeOAMScan:
		p.stepOAMScan(ctx)
		if p.dot+1 == oamScanDots {
			p.enterPixelTransfer(ctx)
		}
	case modePixelTransfer:
		in := ctx.fetchInput(p.ly, p.windowLine, p.objLine)
		ctx.Fetcher.Tick(in)
		ctx.Fetcher.TryShiftPixel(ctx.VRAM, int(p.ly), ctx.SCX)
		if ctx.Fetcher.Done() {
			ok = p.enterHBlank(ctx)
		}
	case modeHBlank, modeVBlank:
		// idle; all per-entry work happens at the mode transition.
	}

	p.dot++
	if p.dot >= dotsPerScanline {
		p.dot -= dotsPerScanline
		ok = p.endOfScanline(ctx) && ok
	}
	return ok
}

// stepOAMScan inspects one OAM entry every even dot, building the line's
// object list (spec.md §4.1).
func (p *PPU) stepOAMScan(ctx *PPUContext) {
	if p.dot == 0 {
		p.objLine = p.objLine[:0]
		p.objOverflow = false
	}
	if p.dot%2 != 0 {
		return
	}
	idx := (p.dot / 2) % 40
	obj := ctx.VRAM.Object(idx)
	height := 8
	if ctx.LCDC.ObjSize8x16() {
		height = 16
	}
	if obj.X+8 <= 0 {
		return
	}
	if int(p.ly) < obj.Y || int(p.ly) >= obj.Y+height {
		return
	}
	if len(p.objLine) >= 10 {
		p.objOverflow = true
		return
	}
	p.objLine = append(p.objLine, obj)
}

// enterPixelTransfer applies the line-list sort rule and resets the fetcher
// for the new line (spec.md §4.1 "Exiting OAM-SCAN").
func (p *PPU) enterPixelTransfer(ctx *PPUContext) {
	if ctx.OPRI.XPriority() || !ctx.CGBMode {
		stableSortByX(p.objLine)
	}
	ctx.Fetcher.ResetLine()
	p.mode = modePixelTransfer
	ctx.STAT.setMode(modePixelTransfer)
}

// stableSortByX is a small insertion sort: the object lists are at most 10
// entries, and stability (ties keep OAM order) matters more than asymptotic
// complexity here.
func stableSortByX(objs []ObjectEntry) {
	for i := 1; i < len(objs); i++ {
		for j := i; j > 0 && objs[j].X < objs[j-1].X; j-- {
			objs[j], objs[j-1] = objs[j-1], objs[j]
		}
	}
}

// enterHBlank resets the FIFO, raises the HBLANK STAT source if enabled,
// and ticks the HBLANK-DMA engine for exactly one block (spec.md §4.1).
func (p *PPU) enterHBlank(ctx *PPUContext) bool {
	ctx.Fetcher.ResetFIFO()
	p.mode = modeHBlank
	ctx.STAT.setMode(modeHBlank)
	if ctx.STAT.HBlankIntEnabled() {
		ctx.Interrupts.Request(InterruptLCDStat)
	}
	if ctx.HBDMA.Active() {
		return ctx.HBDMA.TransferBlock(ctx.Bus, ctx.VRAM)
	}
	return true
}

// endOfScanline runs the dot-456 boundary logic: LY increment, window-line
// counter, coincidence, and mode entry for the next line (spec.md §4.1).
func (p *PPU) endOfScanline(ctx *PPUContext) bool {
	oldLY := p.ly
	wasCoincident := ctx.STAT.Coincidence()

	if ctx.LCDC.WindowEnable() && int(oldLY) >= int(ctx.WY) && int(oldLY) < int(ctx.WY)+ScreenHeight {
		p.windowLine++
	}

	switch {
	case oldLY == firstVBlankLine-1:
		p.ly = firstVBlankLine
		p.mode = modeVBlank
		ctx.STAT.setMode(modeVBlank)
		ctx.Interrupts.Request(InterruptVBlank)
		if ctx.STAT.VBlankIntEnabled() {
			ctx.Interrupts.Request(InterruptLCDStat)
		}
		ctx.FrameCallback()
	case oldLY == scanlinesPerFrame-1:
		p.ly = 0
		p.windowLine = 0
		p.mode = modeOAMScan
		ctx.STAT.setMode(modeOAMScan)
		p.objLine = p.objLine[:0]
		if ctx.STAT.OAMIntEnabled() {
			ctx.Interrupts.Request(InterruptLCDStat)
		}
	case p.mode == modeVBlank:
		p.ly = oldLY + 1
	default:
		p.ly = oldLY + 1
		p.mode = modeOAMScan
		ctx.STAT.setMode(modeOAMScan)
		p.objLine = p.objLine[:0]
		if ctx.STAT.OAMIntEnabled() {
			ctx.Interrupts.Request(InterruptLCDStat)
		}
	}

	coincident := p.ly == ctx.LYC
	ctx.STAT.setCoincidence(coincident)
	if coincident && !wasCoincident && ctx.STAT.CoincidenceIntEnabled() {
		ctx.Interrupts.Request(InterruptLCDStat)
	}

	return true
}
