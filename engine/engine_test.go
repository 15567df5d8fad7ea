package engine

import "testing"

func TestEngine_StableFrameAllBlack(t *testing.T) {
	e := NewEngine()
	e.SetLCDC(0x91) // display on, bg on

	for addr := uint16(0x8000); addr < 0x8010; addr++ {
		e.WriteByte(addr, 0x00)
	}
	for addr := uint16(0x9800); addr < 0x9C00; addr++ {
		e.WriteByte(addr, 0x00)
	}

	frames := 0
	e.SetFrameRenderedCallback(func() { frames++ })

	if ok, err := e.Tick(scanlinesPerFrame * dotsPerScanline); !ok {
		t.Fatalf("tick failed: %v", err)
	}
	if frames != 1 {
		t.Fatalf("expected exactly one frame callback, got %d", frames)
	}

	want := uint32(0x000000FF)
	for i, px := range e.Framebuffer() {
		if px != want {
			t.Fatalf("pixel %d: expected 0x%08X, got 0x%08X", i, want, px)
		}
	}
}

func TestEngine_LYCCoincidenceInterrupt(t *testing.T) {
	e := NewEngine()
	e.SetLCDC(0x91)
	e.SetLYC(100)
	e.SetSTAT(1 << statCoincidenceEn)
	e.SetIE(1 << InterruptLCDStat)
	e.SetMasterEnable(true)

	serviced := 0
	e.SetInterruptHandler(InterruptLCDStat, func(src InterruptSource) bool {
		serviced++
		return true
	})

	if ok, err := e.Tick(100 * dotsPerScanline); !ok {
		t.Fatalf("tick failed: %v", err)
	}
	if serviced != 1 {
		t.Errorf("expected LCD-STAT serviced exactly once, got %d", serviced)
	}
	if e.LY() != 100 {
		t.Errorf("expected LY=100, got %d", e.LY())
	}
	if e.STAT()&(1<<statCoincidence) == 0 {
		t.Error("expected coincidence bit set")
	}
}

func TestEngine_OAMDMATransfer(t *testing.T) {
	e := NewEngine()
	src := ramExternalBus{}
	for i := 0; i < oamDMALength; i++ {
		src[0xC000+uint16(i)] = uint8(i)
	}
	e.SetExternalBus(src)

	e.WriteByte(0xFF46, 0xC0) // DMA register

	if ok, err := e.Tick(oamDMADelay + oamDMALength); !ok {
		t.Fatalf("tick failed: %v", err)
	}

	for i := 0; i < oamDMALength; i++ {
		if got := e.vram.OAMRead(uint16(i)); got != uint8(i) {
			t.Fatalf("OAM[%d]: expected %d, got %d", i, i, got)
		}
	}
}

// ramExternalBus is a tiny ExternalBus backed by a map, standing in for the
// host's banked work RAM collaborator.
type ramExternalBus map[uint16]uint8

func (r ramExternalBus) ReadExternal(addr uint16) (uint8, bool) {
	v, ok := r[addr]
	return v, ok
}

func (r ramExternalBus) WriteExternal(addr uint16, value uint8) bool {
	if _, ok := r[addr]; !ok {
		return false
	}
	r[addr] = value
	return true
}

func TestEngine_ObjectOnBlankBackground(t *testing.T) {
	e := NewEngine()
	e.SetLCDC(0xD3) // display, bg, obj enabled, unsigned tile addressing, window off
	e.SetBGP(0xE4)  // identity mapping: value == index
	e.SetOBP0(0xE4) // same mapping for the object's palette

	// Tile 1, row 0: color index 1 across all 8 columns.
	e.WriteByte(0x8010, 0xFF)
	e.WriteByte(0x8011, 0x00)
	// Object at Y=16 (decoded 0), X=8 (decoded 0), tile 1.
	e.vram.OAMWrite(0, 16)
	e.vram.OAMWrite(1, 8)
	e.vram.OAMWrite(2, 1)
	e.vram.OAMWrite(3, 0)

	if ok, err := e.Tick(scanlinesPerFrame * dotsPerScanline); !ok {
		t.Fatalf("tick failed: %v", err)
	}

	fb := e.Framebuffer()
	objColor := legacyShades[1]
	bgColor := legacyShades[0]
	for x := 0; x < 8; x++ {
		if fb[x] != objColor {
			t.Errorf("column %d: expected object color 0x%08X, got 0x%08X", x, objColor, fb[x])
		}
	}
	for x := 8; x < ScreenWidth; x++ {
		if fb[x] != bgColor {
			t.Errorf("column %d: expected background color 0x%08X, got 0x%08X", x, bgColor, fb[x])
		}
	}
}

func TestEngine_OAMDMALocksOAMBusReadsAfterStartDelay(t *testing.T) {
	e := NewEngine()
	e.vram.OAMWrite(0, 0xAB)
	src := ramExternalBus{}
	for i := 0; i < oamDMALength; i++ {
		src[0xC000+uint16(i)] = uint8(i)
	}
	e.SetExternalBus(src)

	e.WriteByte(0xFF46, 0xC0)

	e.tickOnce()
	if got := e.ReadByte(0xFE00); got != 0xAB {
		t.Errorf("tick 0: expected pre-existing OAM content 0xAB, got 0x%02X", got)
	}
	e.tickOnce()
	if got := e.ReadByte(0xFE00); got != 0xAB {
		t.Errorf("tick 1: expected pre-existing OAM content 0xAB, got 0x%02X", got)
	}
	e.tickOnce()
	if got := e.ReadByte(0xFE00); got != 0xFF {
		t.Errorf("tick 2: expected OAM bus reads locked to 0xFF, got 0x%02X", got)
	}
}

func TestEngine_Mode3VRAMLockReleasesInHBlank(t *testing.T) {
	e := NewEngine()
	e.SetLCDC(0x91)
	e.WriteByte(0x8000, 0x5A) // written while mode 2, visible

	for i := 0; i < oamScanDots+1; i++ {
		e.tickOnce()
	}
	if e.ppu.Mode() != modePixelTransfer {
		t.Fatalf("expected mode 3, got %d", e.ppu.Mode())
	}
	if got := e.ReadByte(0x8000); got != 0xFF {
		t.Errorf("expected 0xFF during mode 3, got 0x%02X", got)
	}

	for e.ppu.Mode() != modeHBlank {
		e.tickOnce()
	}
	if got := e.ReadByte(0x8000); got != 0x5A {
		t.Errorf("expected stored byte 0x5A during HBLANK, got 0x%02X", got)
	}
}

func TestEngine_HBlankDMATransfersOneBlockPerHBlank(t *testing.T) {
	e := NewEngine()
	e.SetLCDC(0x91)
	src := ramExternalBus{}
	for i := 0; i < 256; i++ {
		src[0xA000+uint16(i)] = uint8(i)
	}
	e.SetExternalBus(src)

	e.WriteByte(0xFF51, 0xA0) // HDMA1: source high
	e.WriteByte(0xFF52, 0x00) // HDMA2: source low
	e.WriteByte(0xFF53, 0x00) // HDMA3: dest high
	e.WriteByte(0xFF54, 0x00) // HDMA4: dest low
	e.WriteByte(0xFF55, 0x8F) // HBLANK-DMA, 16 blocks

	hblanks := 0
	for hblanks < 16 {
		wasHBlank := e.ppu.Mode() == modeHBlank
		e.tickOnce()
		if e.ppu.Mode() == modeHBlank && !wasHBlank {
			hblanks++
		}
	}

	for i := 0; i < 256; i++ {
		if got := e.vram.VRAMReadBank(0, uint16(i)); got != uint8(i) {
			t.Fatalf("VRAM[%d]: expected %d, got %d", i, i, got)
		}
	}
	if e.hblankDMA.Active() {
		t.Error("HBLANK-DMA should be complete after 16 HBLANKs")
	}
}

func TestEngine_BackgroundColorRoundTrip(t *testing.T) {
	e := NewEngine()
	const rgb15 = 0x3A5A & 0x7FFF
	if !e.SetBackgroundColor(2, 1, rgb15) {
		t.Fatal("SetBackgroundColor should succeed for a valid index")
	}
	got, ok := e.GetBackgroundColor(2, 1)
	if !ok || got != rgb15 {
		t.Errorf("round trip: expected 0x%04X, got 0x%04X (ok=%v)", rgb15, got, ok)
	}

	if e.SetBackgroundColor(8, 0, rgb15) {
		t.Error("palette 8 is out of range and should be rejected")
	}
}

func TestEngine_ResetRestoresBootValues(t *testing.T) {
	e := NewEngine()
	e.SetBGP(0x00)
	e.Reset()

	if e.LCDC() != 0x91 {
		t.Errorf("LCDC: expected 0x91, got 0x%02X", e.LCDC())
	}
	if e.BGP() != 0xFC {
		t.Errorf("BGP: expected 0xFC, got 0x%02X", e.BGP())
	}
	if e.OBP0() != 0xFF || e.OBP1() != 0xFF {
		t.Error("OBP0/OBP1 should reset to 0xFF")
	}
}

func TestEngine_CyclesCounterAdvances(t *testing.T) {
	e := NewEngine()
	e.Tick(1000)
	if e.Cycles() != 1000 {
		t.Errorf("expected 1000 cycles, got %d", e.Cycles())
	}
}
