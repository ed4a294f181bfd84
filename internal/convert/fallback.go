package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/klauspost/compress/gzip"
)

// Lottie documents use {"a":0,"k":value} for non-animated properties.
type static struct {
	A int `json:"a"`
	K any `json:"k"`
}

type transform struct {
	Opacity  static `json:"o"`
	Rotation static `json:"r"`
	Position static `json:"p"`
	Anchor   static `json:"a"`
	Scale    static `json:"s"`
}

type rectShape struct {
	Type      string `json:"ty"`
	Direction int    `json:"d"`
	Size      static `json:"s"`
	Position  static `json:"p"`
	Roundness static `json:"r"`
}

type fillShape struct {
	Type    string `json:"ty"`
	Color   static `json:"c"`
	Opacity static `json:"o"`
}

type shapeLayer struct {
	ThreeD     int       `json:"ddd"`
	Index      int       `json:"ind"`
	Type       int       `json:"ty"`
	Name       string    `json:"nm"`
	Stretch    int       `json:"sr"`
	Transform  transform `json:"ks"`
	AutoOrient int       `json:"ao"`
	Shapes     []any     `json:"shapes"`
	InPoint    int       `json:"ip"`
	OutPoint   int       `json:"op"`
	Start      int       `json:"st"`
	Blend      int       `json:"bm"`
}

type animation struct {
	Version   string       `json:"v"`
	FrameRate int          `json:"fr"`
	InPoint   int          `json:"ip"`
	OutPoint  int          `json:"op"`
	Width     int          `json:"w"`
	Height    int          `json:"h"`
	Name      string       `json:"nm"`
	ThreeD    int          `json:"ddd"`
	Assets    []any        `json:"assets"`
	Layers    []shapeLayer `json:"layers"`
}

// FallbackJSON is the Lottie document of the built-in sticker: one static
// rounded rectangle centred on a w×h canvas, held for one second at fps.
// The output depends only on the arguments.
func FallbackJSON(w, h, fps int) ([]byte, error) {
	doc := animation{
		Version:   "5.5.2",
		FrameRate: fps,
		InPoint:   0,
		OutPoint:  fps,
		Width:     w,
		Height:    h,
		Name:      "SVG Animation",
		Assets:    []any{},
		Layers: []shapeLayer{{
			Index:   1,
			Type:    4,
			Name:    "SVG Layer",
			Stretch: 1,
			Transform: transform{
				Opacity:  static{K: 100},
				Rotation: static{K: 0},
				Position: static{K: []int{w / 2, h / 2, 0}},
				Anchor:   static{K: []int{0, 0, 0}},
				Scale:    static{K: []int{100, 100, 100}},
			},
			Shapes: []any{
				rectShape{
					Type:      "rc",
					Direction: 1,
					Size:      static{K: []int{w * 25 / 32, h * 25 / 32}},
					Position:  static{K: []int{0, 0}},
					Roundness: static{K: 10},
				},
				fillShape{
					Type:    "fl",
					Color:   static{K: []float64{0.2, 0.7, 1, 1}},
					Opacity: static{K: 100},
				},
			},
			OutPoint: fps,
		}},
	}
	return json.Marshal(doc)
}

// FallbackTGS gzips FallbackJSON with an empty header (no name, zero mtime)
// so equal arguments give equal bytes.
func FallbackTGS(w, h, fps int) ([]byte, error) {
	raw, err := FallbackJSON(w, h, fps)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFallback writes the built-in sticker to path, replacing any content.
func WriteFallback(path string, w, h, fps int) error {
	b, err := FallbackTGS(w, h, fps)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write fallback: %w", err)
	}
	return nil
}
