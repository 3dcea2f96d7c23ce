package document

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nainya/docsession/pkg/playback"
)

// SidecarSuffix is appended to a document path to find its timing map
const SidecarSuffix = ".timing.yaml"

// SidecarPath returns the timing sidecar path for a document
func SidecarPath(docPath string) string {
	return docPath + SidecarSuffix
}

// timingFile is the sidecar layout:
//
//	breakpoints:
//	  - at: 0s
//	    page: 0
//	  - at: 1m30s
//	    page: 4
//	    offset: 0.25
type timingFile struct {
	Breakpoints []timingPoint `yaml:"breakpoints"`
}

type timingPoint struct {
	At     string  `yaml:"at"`
	Page   int     `yaml:"page"`
	Offset float64 `yaml:"offset,omitempty"`
}

// LoadTiming reads a timing sidecar. A missing file returns (nil, nil).
func LoadTiming(path string) (*playback.TimingMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return ParseTiming(data)
}

// ParseTiming decodes sidecar YAML into a validated timing map
func ParseTiming(data []byte) (*playback.TimingMap, error) {
	var f timingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("timing sidecar: %w", err)
	}

	points := make([]playback.Breakpoint, 0, len(f.Breakpoints))
	for i, bp := range f.Breakpoints {
		at, err := time.ParseDuration(bp.At)
		if err != nil {
			return nil, fmt.Errorf("timing sidecar: breakpoint %d: %w", i, err)
		}
		points = append(points, playback.Breakpoint{At: at, Page: bp.Page, Offset: bp.Offset})
	}

	return playback.NewTimingMap(points)
}

// MarshalTiming encodes a timing map in sidecar format
func MarshalTiming(m *playback.TimingMap) ([]byte, error) {
	var f timingFile
	for _, bp := range m.Breakpoints() {
		f.Breakpoints = append(f.Breakpoints, timingPoint{At: bp.At.String(), Page: bp.Page, Offset: bp.Offset})
	}
	return yaml.Marshal(&f)
}
