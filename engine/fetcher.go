package engine

// fetcher.go - the five-state pixel fetcher pipeline.
//
// New relative to the teacher (the SMS VDP renders a whole scanline's worth
// of background/sprites in one pass per RenderScanline call); this models
// the handheld's actual per-dot FIFO pipeline instead, but keeps the
// teacher's habit of precomputing small per-call locals (nameTableBase,
// hScroll, vScroll in renderBackground) rather than threading extra struct
// fields through every helper.

const fifoCapacity = 32

type fetchState int

const (
	stateFetchTileNumber fetchState = iota
	stateFetchDataLow
	stateFetchDataHigh
	stateSleep
	statePushPixels
)

// pendingObject is an object whose tile data has been fetched for the
// current 8-pixel group, awaiting the push step's priority resolution.
type pendingObject struct {
	entry    ObjectEntry
	low, high uint8
}

// FetchInput is the read-only, per-dot snapshot the PPU state machine hands
// the fetcher. It is rebuilt (or its fields refreshed) every tick rather
// than captured once, per the concurrency model's "no aliased mutable view
// held across a tick" rule.
type FetchInput struct {
	LCDC        *LCDC
	VRAM        *VideoMemory
	BGP, OBP0, OBP1 uint8
	SCX, SCY    uint8
	WX, WY      uint8
	LY          uint8
	WindowLine  int
	CGBMode     bool
	Objects     []ObjectEntry // per-line list, already priority-ordered
}

// Fetcher implements the FETCH-TILE-NUMBER -> FETCH-DATA-LOW ->
// FETCH-DATA-HIGH -> SLEEP -> PUSH-PIXELS cycle described in spec.md §4.2.
type Fetcher struct {
	state    fetchState
	dots     int // dots elapsed inside PIXEL-TRANSFER, used for even/odd gating
	sleepLeft int

	fetchingX int
	pushedX   int
	lineX     int
	queueX    int

	isWindow    bool
	tileIndex   uint8
	tileAttr    TileAttr
	rowOffset   int
	dataLow     uint8
	dataHigh    uint8

	pending []pendingObject

	fifo []uint32
}

// NewFetcher constructs an idle fetcher.
func NewFetcher() *Fetcher {
	return &Fetcher{fifo: make([]uint32, 0, fifoCapacity)}
}

// ResetLine resets per-scanline fetch position and FIFO contents. Called
// when PIXEL-TRANSFER begins (OAM-SCAN exit, spec.md §4.1).
func (f *Fetcher) ResetLine() {
	f.state = stateFetchTileNumber
	f.dots = 0
	f.sleepLeft = 0
	f.fetchingX, f.pushedX, f.lineX, f.queueX = 0, 0, 0, 0
	f.pending = f.pending[:0]
	f.fifo = f.fifo[:0]
}

// ResetFIFO clears the FIFO without touching fetch position; called at
// PIXEL-TRANSFER -> HBLANK (spec.md §4.1).
func (f *Fetcher) ResetFIFO() { f.fifo = f.fifo[:0] }

// FIFOSize reports the current queue depth (invariant: 0..32).
func (f *Fetcher) FIFOSize() int { return len(f.fifo) }

// Done reports whether all 160 visible pixels have been pushed to the
// framebuffer for this line.
func (f *Fetcher) Done() bool { return f.pushedX >= ScreenWidth }

// windowVisible reports whether the window tile should be substituted for
// the background tile at the fetcher's current X, per spec.md §4.2.
func windowVisible(in *FetchInput, fetchingX int) bool {
	if !in.LCDC.WindowEnable() {
		return false
	}
	if in.WX > 166 {
		return false
	}
	if in.WY >= 144 || in.LY < in.WY {
		return false
	}
	return fetchingX+7 >= int(in.WX)
}

// Tick advances the fetch state machine by one dot. Call once per dot
// during PIXEL-TRANSFER, before TryShiftPixel.
func (f *Fetcher) Tick(in *FetchInput) {
	f.dots++
	even := f.dots%2 == 0

	switch f.state {
	case stateFetchTileNumber:
		if !even {
			return
		}
		f.fetchTileNumber(in)
		f.state = stateFetchDataLow

	case stateFetchDataLow:
		if !even {
			return
		}
		f.dataLow = f.fetchTileByte(in, 0)
		f.state = stateFetchDataHigh

	case stateFetchDataHigh:
		if !even {
			return
		}
		f.dataHigh = f.fetchTileByte(in, 1)
		f.fetchObjects(in)
		f.state = stateSleep
		f.sleepLeft = 2

	case stateSleep:
		f.sleepLeft--
		if f.sleepLeft <= 0 {
			f.state = statePushPixels
		}

	case statePushPixels:
		if !even {
			return
		}
		if f.TryAddPixel(in) {
			f.state = stateFetchTileNumber
		}
	}
}

func (f *Fetcher) fetchTileNumber(in *FetchInput) {
	legacyBGDisabled := !in.CGBMode && !in.LCDC.BGWindowEnable()
	f.isWindow = !legacyBGDisabled && windowVisible(in, f.fetchingX)

	if legacyBGDisabled {
		f.tileIndex = 0
		f.tileAttr = TileAttr{}
		f.rowOffset = 0
		f.fetchingX += 8
		return
	}

	var tileRow, tileCol int
	var high bool
	if f.isWindow {
		high = in.LCDC.WindowTilemapHigh()
		tileRow = in.WindowLine / 8
		tileCol = f.fetchingX / 8
		f.rowOffset = (in.WindowLine % 8) * 2
	} else {
		high = in.LCDC.BGTilemapHigh()
		mapX := f.fetchingX + int(in.SCX)
		mapY := int(in.LY) + int(in.SCY)
		tileRow = (mapY / 8) % 32
		tileCol = (mapX / 8) % 32
		f.rowOffset = (mapY % 8) * 2
	}

	addr := TilemapAddr(high, tileRow, tileCol)
	f.tileIndex = in.VRAM.VRAMReadBank(0, addr)
	if in.CGBMode {
		f.tileAttr = TileAttr{in.VRAM.VRAMReadBank(1, addr)}
	} else {
		f.tileAttr = TileAttr{}
	}
	f.fetchingX += 8
}

// fetchTileByte reads the low (which=0) or high (which=1) bitplane byte of
// the current background/window tile, honoring vertical flip and the
// CGB tile-attribute VRAM bank.
func (f *Fetcher) fetchTileByte(in *FetchInput, which int) uint8 {
	row := f.rowOffset
	if f.tileAttr.VFlip() {
		row = 14 - row
	}
	addr := TileDataAddr(f.tileIndex, in.LCDC.TileDataUnsigned(), row/2)
	addr += uint16(which)
	bank := 0
	if in.CGBMode {
		bank = f.tileAttr.Bank()
	}
	return in.VRAM.VRAMReadBank(bank, addr)
}

// fetchObjects gathers up to 3 objects overlapping the 8 pixels about to be
// pushed, fetching each one's tile data (spec.md §4.2).
func (f *Fetcher) fetchObjects(in *FetchInput) {
	f.pending = f.pending[:0]
	if !in.LCDC.ObjEnable() {
		return
	}
	tileX := f.fetchingX - 8
	for _, obj := range in.Objects {
		if len(f.pending) >= 3 {
			break
		}
		if obj.X < tileX-7 || obj.X > tileX+7 {
			continue
		}
		height := 8
		if in.LCDC.ObjSize8x16() {
			height = 16
		}
		row := int(in.LY) - obj.Y
		if obj.Attr.VFlip() {
			row = height - 1 - row
		}
		tile := obj.Tile
		if height == 16 {
			tile &^= 0x01
			if row >= 8 {
				tile |= 0x01
				row -= 8
			}
		}
		bank := 0
		if in.CGBMode {
			bank = obj.Attr.Bank()
		}
		addr := ObjectTileDataAddr(tile, row)
		low := in.VRAM.VRAMReadBank(bank, addr)
		high := in.VRAM.VRAMReadBank(bank, addr+1)
		f.pending = append(f.pending, pendingObject{entry: obj, low: low, high: high})
	}
}

// TryAddPixel computes the 8 pixels for the tile fetched this cycle and
// pushes them onto the FIFO. Per the Open Question resolution in spec.md
// §9: returns true once the group is enqueued, and false only when the
// FIFO already held more than 8 entries before this call (push refused,
// state machine stays in PUSH-PIXELS to retry next eligible dot).
func (f *Fetcher) TryAddPixel(in *FetchInput) bool {
	if len(f.fifo) > 8 {
		return false
	}

	for i := 0; i < 8; i++ {
		bit := uint(7 - i)
		if f.tileAttr.HFlip() {
			bit = uint(i)
		}
		colorIdx := ((f.dataHigh>>bit)&1)<<1 | ((f.dataLow >> bit) & 1)

		rgba := f.bgColor(in, colorIdx)

		if in.LCDC.ObjEnable() {
			screenX := f.fetchingX - 8 + i
			rgba = f.overlayObject(in, screenX, colorIdx, rgba)
		}

		f.fifo = append(f.fifo, rgba)
	}
	f.queueX += 8
	return true
}

func (f *Fetcher) bgColor(in *FetchInput, colorIdx uint8) uint32 {
	if !in.CGBMode {
		if !in.LCDC.BGWindowEnable() {
			return legacyShades[0]
		}
		shade := (in.BGP >> (colorIdx * 2)) & 0x03
		return legacyShades[shade]
	}
	rgb15 := in.VRAM.CRAMColor15(0, int(f.tileAttr.Palette()), int(colorIdx))
	return Color15ToRGBA(rgb15)
}

// overlayObject resolves the per-pixel background/object priority rule
// (spec.md §4.2) for the objects pending from fetchObjects.
func (f *Fetcher) overlayObject(in *FetchInput, screenX int, bgColorIdx uint8, bgRGBA uint32) uint32 {
	for _, obj := range f.pending {
		if screenX < obj.entry.X || screenX >= obj.entry.X+8 {
			continue
		}
		col := screenX - obj.entry.X
		bit := uint(7 - col)
		if obj.entry.Attr.HFlip() {
			bit = uint(col)
		}
		objColorIdx := ((obj.low>>bit)&1) | ((obj.high>>bit)&1)<<1
		if objColorIdx == 0 {
			continue
		}
		bgWins := obj.entry.Attr.BGPriority() && bgColorIdx != 0
		if !in.CGBMode {
			if bgWins {
				return bgRGBA
			}
			palette := in.OBP0
			if obj.entry.Attr.DMGPaletteOBP1() {
				palette = in.OBP1
			}
			shade := (palette >> (objColorIdx * 2)) & 0x03
			return legacyShades[shade]
		}
		if in.LCDC.BGWindowEnable() && bgColorIdx != 0 && obj.entry.Attr.BGPriority() {
			return bgRGBA
		}
		rgb15 := in.VRAM.CRAMColor15(1, int(obj.entry.Attr.CGBPalette()), int(objColorIdx))
		return Color15ToRGBA(rgb15)
	}
	return bgRGBA
}

// TryShiftPixel pops one pixel from the FIFO into the framebuffer, honoring
// the left-edge SCX-mod-8 discard (spec.md §4.2 "Shift-to-framebuffer").
// Returns false, popping nothing, while the FIFO holds 8 pixels or fewer;
// otherwise pops the head (writing it, or discarding it inside the left-edge
// zone) and returns true.
func (f *Fetcher) TryShiftPixel(vram *VideoMemory, ly int, scx uint8) bool {
	if len(f.fifo) <= 8 {
		return false
	}
	if f.lineX >= int(scx)%8 {
		head := f.fifo[0]
		f.fifo = f.fifo[1:]
		vram.setPixel(f.pushedX, ly, head)
		f.pushedX++
	} else {
		f.fifo = f.fifo[1:]
	}
	f.lineX++
	return true
}
