// Package main is a minimal ebiten host for the engine package. It has no
// ROM loader and no CPU core to drive: it pokes a test tile set directly
// into VRAM through the public bus API and lets the engine free-run,
// mirroring the teacher's separation between a CPU-driven emulator and its
// ebiten presentation layer (bridge/ebiten/emulator.go) — here there is no
// CPU side at all, only the presentation side.
package main

import (
	"flag"
	"image"
	"log"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/user-none/lcdcore/engine"
)

const dotsPerFrame = 70224

func main() {
	pattern := flag.String("pattern", "checker", "test pattern: checker or stripes")
	scale := flag.Int("scale", 3, "window scale factor")
	cgb := flag.Bool("cgb", false, "run in color mode with a CRAM test palette")
	flag.Parse()

	e := engine.NewEngine()
	e.SetLCDC(0x91) // display, bg, window-tilemap-low, bg/window on

	loadTestPattern(e, *pattern, *cgb)

	g := &demo{engine: e}
	ebiten.SetWindowSize(engine.ScreenWidth*(*scale), engine.ScreenHeight*(*scale))
	ebiten.SetWindowTitle("lcdcore demo")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetTPS(60)

	if err := ebiten.RunGame(g); err != nil {
		log.Fatal(err)
	}
}

// loadTestPattern pokes a tile, a full tilemap referencing it, and (in CGB
// mode) a CRAM palette, standing in for the ROM data a real host would load.
func loadTestPattern(e *engine.Engine, pattern string, cgbMode bool) {
	const addrVRAMBase = 0x8000
	const addrTilemapBase = 0x9800

	var rows [8]uint8
	switch pattern {
	case "stripes":
		rows = [8]uint8{0xFF, 0x00, 0xFF, 0x00, 0xFF, 0x00, 0xFF, 0x00}
	default:
		rows = [8]uint8{0xAA, 0x55, 0xAA, 0x55, 0xAA, 0x55, 0xAA, 0x55}
	}
	for row, plane := range rows {
		e.WriteByte(uint16(addrVRAMBase+row*2), plane)
		e.WriteByte(uint16(addrVRAMBase+row*2+1), 0x00)
	}
	for i := 0; i < 32*32; i++ {
		e.WriteByte(uint16(addrTilemapBase+i), 0x00)
	}

	e.SetBGP(0xE4) // identity DMG shade mapping

	if cgbMode {
		e.SetGRPM(1)
		e.SetBackgroundColor(0, 0, engine.RGBAToColor15(0x00, 0x00, 0x20))
		e.SetBackgroundColor(0, 1, engine.RGBAToColor15(0xC0, 0xC0, 0xF8))
	}
}

// demo implements ebiten.Game by free-running the engine one frame's worth
// of dots per Update call and blitting its framebuffer on every Draw call,
// following bridge/ebiten/emulator.go's offscreen-image-plus-WritePixels
// pattern.
type demo struct {
	engine    *engine.Engine
	offscreen *ebiten.Image
	pixels    [engine.ScreenWidth * engine.ScreenHeight * 4]byte
	rendered  bool
}

func (d *demo) Update() error {
	d.rendered = false
	d.engine.SetFrameRenderedCallback(func() { d.rendered = true })
	if ok, err := d.engine.Tick(dotsPerFrame); !ok {
		return err
	}
	return nil
}

func (d *demo) Draw(screen *ebiten.Image) {
	if d.offscreen == nil {
		d.offscreen = ebiten.NewImage(engine.ScreenWidth, engine.ScreenHeight)
	}

	fb := d.engine.Framebuffer()
	for i, px := range fb {
		d.pixels[i*4+0] = byte(px >> 24)
		d.pixels[i*4+1] = byte(px >> 16)
		d.pixels[i*4+2] = byte(px >> 8)
		d.pixels[i*4+3] = byte(px)
	}
	d.offscreen.WritePixels(d.pixels[:])

	screenW, screenH := screen.Bounds().Dx(), screen.Bounds().Dy()
	scaleX := float64(screenW) / float64(engine.ScreenWidth)
	scaleY := float64(screenH) / float64(engine.ScreenHeight)
	s := scaleX
	if scaleY < s {
		s = scaleY
	}
	offsetX := (float64(screenW) - float64(engine.ScreenWidth)*s) / 2
	offsetY := (float64(screenH) - float64(engine.ScreenHeight)*s) / 2

	var opts ebiten.DrawImageOptions
	opts.GeoM.Scale(s, s)
	opts.GeoM.Translate(offsetX, offsetY)
	opts.Filter = ebiten.FilterNearest
	screen.DrawImage(d.offscreen.SubImage(image.Rect(0, 0, engine.ScreenWidth, engine.ScreenHeight)).(*ebiten.Image), &opts)
}

func (d *demo) Layout(outsideWidth, outsideHeight int) (int, int) {
	return outsideWidth, outsideHeight
}
