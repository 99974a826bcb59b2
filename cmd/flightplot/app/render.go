package app

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/math/fixed"

	"github.com/roman-kulish/rocket-control/internal/flight"
)

const (
	dpi            = 120.0
	fontSize       = 9.0
	tickMarkSize   = 5
	pixelsPerLabel = 100.0
	swatchSize     = 12
	legendSpacing  = 24

	defaultWidth  = 1200
	defaultHeight = 600

	// Default border sizes in pixels
	defaultTopBorder    = 50
	defaultLeftBorder   = 90
	defaultBottomBorder = 110
	defaultRightBorder  = 40

	defaultDatetimeFormat = time.DateTime
)

// BorderConfig defines the sizes of white space around the plot
type BorderConfig struct {
	Top    int // Space for the title
	Left   int // Space for the altitude scale
	Bottom int // Space for the time scale, legend and information bar
	Right  int // Right padding
}

// RenderConfig holds all configuration options for the flight plot
type RenderConfig struct {
	Width, Height  int            // Plot area in pixels
	DatetimeFormat string         // Format string for date/time display
	Location       *time.Location // Timezone for time display
	FontSize       float64        // Font size in points
	BorderConfig   BorderConfig
}

// PlotRenderer draws altitude against time over a background coloured by
// flight phase
type PlotRenderer struct {
	config RenderConfig
}

// NewPlotRenderer creates a renderer, filling zero values with defaults
func NewPlotRenderer(config RenderConfig) *PlotRenderer {
	if config.Width <= 0 {
		config.Width = defaultWidth
	}
	if config.Height <= 0 {
		config.Height = defaultHeight
	}
	if config.DatetimeFormat == "" {
		config.DatetimeFormat = defaultDatetimeFormat
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.BorderConfig.Top == 0 {
		config.BorderConfig.Top = defaultTopBorder
	}
	if config.BorderConfig.Left == 0 {
		config.BorderConfig.Left = defaultLeftBorder
	}
	if config.BorderConfig.Bottom == 0 {
		config.BorderConfig.Bottom = defaultBottomBorder
	}
	if config.BorderConfig.Right == 0 {
		config.BorderConfig.Right = defaultRightBorder
	}

	return &PlotRenderer{config: config}
}

// scale maps a value range onto size pixels
type scale struct {
	min, max float64
	size     int
}

func (s scale) pixel(v float64) int {
	if s.max <= s.min || s.size <= 1 {
		return 0
	}
	px := int(math.Round((v - s.min) / (s.max - s.min) * float64(s.size-1)))
	return min(max(px, 0), s.size-1)
}

func (s scale) value(px int) float64 {
	if s.size <= 1 {
		return s.min
	}
	return s.min + (s.max-s.min)*float64(px)/float64(s.size-1)
}

type plot struct {
	area     image.Rectangle
	data     *FlightData
	time     scale // seconds
	altitude scale // meters
}

func newPlot(area image.Rectangle, data *FlightData) plot {
	lo, hi := data.AltitudeRange()
	return plot{
		area:     area,
		data:     data,
		time:     scale{min: 0, max: max(data.Duration().Seconds(), 1), size: area.Dx()},
		altitude: scale{min: lo, max: hi, size: area.Dy()},
	}
}

func (p plot) x(offset time.Duration) int {
	return p.area.Min.X + p.time.pixel(offset.Seconds())
}

func (p plot) y(alt float64) int {
	return p.area.Max.Y - 1 - p.altitude.pixel(alt)
}

// Render creates an image of the flight with annotations
func (r *PlotRenderer) Render(data *FlightData) (*image.RGBA, error) {
	b := r.config.BorderConfig
	img := image.NewRGBA(image.Rect(0, 0, r.config.Width+b.Left+b.Right, r.config.Height+b.Top+b.Bottom))

	// Fill with white background
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	p := newPlot(image.Rect(b.Left, b.Top, b.Left+r.config.Width, b.Top+r.config.Height), data)

	drawPhases(img, p)
	drawEvents(img, p)
	drawSeries(img, p)
	drawFrame(img, p.area)

	ann, err := newAnnotator(annotatorConfig{
		DatetimeFormat: r.config.DatetimeFormat,
		Location:       r.config.Location,
		FontSize:       r.config.FontSize,
		Borders:        b,
	})
	if err != nil {
		return nil, fmt.Errorf("creating annotator: %w", err)
	}
	defer ann.Close()

	if err = ann.annotate(img, p); err != nil {
		return nil, fmt.Errorf("drawing annotations: %w", err)
	}

	return img, nil
}

// drawPhases colours every plot column by the phase at its time
func drawPhases(img *image.RGBA, p plot) {
	if len(p.data.Samples) == 0 {
		return
	}

	for x := 0; x < p.area.Dx(); x++ {
		offset := time.Duration(p.time.value(x) * float64(time.Second))
		column := image.Rect(p.area.Min.X+x, p.area.Min.Y, p.area.Min.X+x+1, p.area.Max.Y)
		draw.Draw(img, column, image.NewUniform(phaseColor(p.data.PhaseAt(offset))), image.Point{}, draw.Src)
	}
}

// drawEvents draws a dashed vertical line on every phase change
func drawEvents(img *image.RGBA, p plot) {
	for _, e := range p.data.Events {
		offset := e.Time.Sub(p.data.TimestampStart)
		if offset < 0 || offset > p.data.Duration() {
			continue
		}

		x := p.x(offset)
		for y := p.area.Min.Y; y < p.area.Max.Y; y++ {
			if (y/4)%2 == 0 {
				img.Set(x, y, eventLineColor)
			}
		}
	}
}

func drawSeries(img *image.RGBA, p plot) {
	samples := p.data.Samples
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		x0, x1 := p.x(prev.Offset), p.x(cur.Offset)

		drawLine(img, x0, p.y(prev.ProjectedApogee), x1, p.y(cur.ProjectedApogee), apogeeColor)
		if prev.Target != nil && cur.Target != nil {
			drawLine(img, x0, p.y(*prev.Target), x1, p.y(*cur.Target), targetColor)
		}
		drawLine(img, x0, p.y(prev.Altitude), x1, p.y(cur.Altitude), altitudeColor)
	}

	if len(samples) == 1 {
		s := samples[0]
		img.Set(p.x(s.Offset), p.y(s.Altitude), altitudeColor)
	}
}

func drawFrame(img *image.RGBA, area image.Rectangle) {
	for x := area.Min.X - 1; x <= area.Max.X; x++ {
		img.Set(x, area.Min.Y-1, frameColor)
		img.Set(x, area.Max.Y, frameColor)
	}
	for y := area.Min.Y - 1; y <= area.Max.Y; y++ {
		img.Set(area.Min.X-1, y, frameColor)
		img.Set(area.Max.X, y, frameColor)
	}
}

// drawLine draws a line with Bresenham's algorithm
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}

	e := dx + dy
	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		if e2 := 2 * e; e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 := 2 * e; e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Internal annotator implementation
type annotatorConfig struct {
	DatetimeFormat string
	Location       *time.Location
	FontSize       float64
	Borders        BorderConfig
}

type annotator struct {
	context  *freetype.Context
	config   annotatorConfig
	fontFace font.Face
}

func newAnnotator(config annotatorConfig) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(gomono.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		config:  config,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) annotate(img *image.RGBA, p plot) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	ops := []struct {
		msg string
		fn  func(*image.RGBA, plot) error
	}{
		{"drawing title", a.drawTitle},
		{"drawing altitude scale", a.drawAltitudeScale},
		{"drawing time scale", a.drawTimeScale},
		{"drawing legend", a.drawLegend},
		{"drawing info bar", a.drawInfoBar},
	}
	for _, op := range ops {
		if err := op.fn(img, p); err != nil {
			return fmt.Errorf("%s: %w", op.msg, err)
		}
	}

	return nil
}

func (a *annotator) lineHeight() int {
	metrics := a.fontFace.Metrics()
	return (metrics.Ascent + metrics.Descent).Round()
}

func (a *annotator) drawString(s string, x, y int) error {
	_, err := a.context.DrawString(s, fixed.P(x, y))
	return err
}

func (a *annotator) drawTitle(_ *image.RGBA, p plot) error {
	title := "Flight log"
	if s := p.data.Session; s != nil {
		title = fmt.Sprintf("Flight %s, %s", s.ID, s.StartTime.In(a.config.Location).Format(a.config.DatetimeFormat))
	}

	textY := a.config.Borders.Top/2 + a.lineHeight()/2
	return a.drawString(title, p.area.Min.X, textY)
}

func (a *annotator) drawAltitudeScale(img *image.RGBA, p plot) error {
	step := niceStep(p.altitude.max-p.altitude.min, p.area.Dy())
	metrics := a.fontFace.Metrics()

	for alt := math.Ceil(p.altitude.min/step) * step; alt <= p.altitude.max; alt += step {
		y := p.y(alt)

		for x := p.area.Min.X - 1 - tickMarkSize; x < p.area.Min.X-1; x++ {
			img.Set(x, y, frameColor)
		}

		label := fmt.Sprintf("%s m", humanize.Commaf(roundTo(alt, step)))
		width := font.MeasureString(a.fontFace, label).Round()
		textY := y + a.lineHeight()/2 - metrics.Descent.Round()
		if err := a.drawString(label, p.area.Min.X-tickMarkSize-4-width, textY); err != nil {
			return fmt.Errorf("drawing altitude label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawTimeScale(img *image.RGBA, p plot) error {
	step := niceStep(p.time.max-p.time.min, p.area.Dx())
	textY := p.area.Max.Y + tickMarkSize + a.lineHeight() + 2

	for secs := 0.0; secs <= p.time.max; secs += step {
		x := p.x(time.Duration(secs * float64(time.Second)))

		for y := p.area.Max.Y + 1; y <= p.area.Max.Y+tickMarkSize; y++ {
			img.Set(x, y, frameColor)
		}

		label := fmt.Sprintf("%ss", humanize.Ftoa(roundTo(secs, step)))
		width := font.MeasureString(a.fontFace, label)
		if err := a.drawString(label, x-width.Round()/2, textY); err != nil {
			return fmt.Errorf("drawing time label: %w", err)
		}
	}
	return nil
}

// drawLegend draws a swatch and sample count for every phase seen
func (a *annotator) drawLegend(img *image.RGBA, p plot) error {
	lh := a.lineHeight()
	top := p.area.Max.Y + tickMarkSize + 2*lh + 12
	x := p.area.Min.X

	for _, phase := range flight.Phases() {
		n, ok := p.data.PhaseCounts[phase]
		if !ok {
			continue
		}

		swatch := image.Rect(x, top, x+swatchSize, top+swatchSize)
		draw.Draw(img, swatch, image.NewUniform(phaseColor(phase)), image.Point{}, draw.Src)
		drawFrame(img, swatch)

		label := fmt.Sprintf("%s (%s)", phase, humanize.Comma(int64(n)))
		if err := a.drawString(label, x+swatchSize+4, top+swatchSize); err != nil {
			return fmt.Errorf("drawing legend label: %w", err)
		}
		x += swatchSize + 4 + font.MeasureString(a.fontFace, label).Round() + legendSpacing
	}
	return nil
}

func (a *annotator) drawInfoBar(img *image.RGBA, p plot) error {
	d := p.data
	info := fmt.Sprintf("Samples: %s; Events: %s; Duration: %s; Altitude: %s to %s m",
		humanize.Comma(int64(len(d.Samples))),
		humanize.Comma(int64(len(d.Events))),
		d.Duration().Round(time.Millisecond),
		humanize.Commaf(roundTo(p.altitude.min, 0.1)),
		humanize.Commaf(roundTo(p.altitude.max, 0.1)))

	metrics := a.fontFace.Metrics()
	textY := img.Bounds().Max.Y - a.lineHeight()/2 - metrics.Descent.Round()
	if err := a.drawString(info, p.area.Min.X, textY); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}
	return nil
}

// niceStep returns a 1, 2 or 5 times power of ten step giving roughly one
// label every pixelsPerLabel pixels
func niceStep(span float64, pixels int) float64 {
	if span <= 0 || pixels <= 0 {
		return 1
	}

	target := span / max(float64(pixels)/pixelsPerLabel, 1)
	magnitude := math.Pow(10, math.Floor(math.Log10(target)))
	for _, m := range []float64{1, 2, 5} {
		if step := m * magnitude; step >= target {
			return step
		}
	}
	return 10 * magnitude
}

// roundTo removes the float noise of repeated step additions
func roundTo(v, step float64) float64 {
	digits := max(0, -math.Floor(math.Log10(step)))
	p := math.Pow(10, digits)
	return math.Round(v*p) / p
}
