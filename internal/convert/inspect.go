package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// maxInflated bounds decompression of untrusted converter output.
const maxInflated = 16 << 20

var requiredKeys = []string{"v", "fr", "ip", "op", "w", "h", "layers"}

// Artifact is the summary of a decoded TGS file.
type Artifact struct {
	Version   string
	FrameRate float64
	InPoint   float64
	OutPoint  float64
	Width     int
	Height    int
	Layers    int
	JSON      []byte // decompressed document
}

// Inspect decodes a TGS file and checks that it carries the keys every
// sticker needs and at least one layer.
func Inspect(path string) (Artifact, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, err
	}
	return InspectBytes(b)
}

func InspectBytes(b []byte) (Artifact, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return Artifact{}, fmt.Errorf("not gzip: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(io.LimitReader(zr, maxInflated+1))
	if err != nil {
		return Artifact{}, fmt.Errorf("inflate: %w", err)
	}
	if len(raw) > maxInflated {
		return Artifact{}, fmt.Errorf("inflated document exceeds %d bytes", maxInflated)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return Artifact{}, fmt.Errorf("not json: %w", err)
	}
	for _, k := range requiredKeys {
		if _, ok := top[k]; !ok {
			return Artifact{}, fmt.Errorf("missing key %q", k)
		}
	}

	var doc struct {
		V      string            `json:"v"`
		FR     float64           `json:"fr"`
		IP     float64           `json:"ip"`
		OP     float64           `json:"op"`
		W      int               `json:"w"`
		H      int               `json:"h"`
		Layers []json.RawMessage `json:"layers"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Artifact{}, fmt.Errorf("decode: %w", err)
	}
	if len(doc.Layers) == 0 {
		return Artifact{}, fmt.Errorf("no layers")
	}
	if doc.W <= 0 || doc.H <= 0 || doc.FR <= 0 {
		return Artifact{}, fmt.Errorf("bad dimensions %dx%d@%v", doc.W, doc.H, doc.FR)
	}
	return Artifact{
		Version:   doc.V,
		FrameRate: doc.FR,
		InPoint:   doc.IP,
		OutPoint:  doc.OP,
		Width:     doc.W,
		Height:    doc.H,
		Layers:    len(doc.Layers),
		JSON:      raw,
	}, nil
}
