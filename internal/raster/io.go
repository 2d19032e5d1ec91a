package raster

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"

	"urban_analysis/internal/domain/model"
)

// ReadTIFF imports a single-band raster from a TIFF file with an ESRI world
// file next to it (same base name, .tfw extension). Grayscale pixel values
// are taken as cell values, matching the 0-255 band scale the thresholds
// are documented on.
func ReadTIFF(name, path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open raster %s: %w", path, err)
	}
	defer f.Close()

	img, err := tiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode raster %s: %w", path, err)
	}

	res, west, north, err := readWorldFile(worldFilePath(path))
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	rows := bounds.Dy()
	cols := bounds.Dx()
	region := model.Region{
		West:  west,
		North: north,
		East:  west + float64(cols)*res,
		South: north - float64(rows)*res,
		Res:   res,
	}
	g := NewGrid(name, region)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			switch px := img.(type) {
			case *image.Gray:
				g.Set(row, col, float64(px.GrayAt(bounds.Min.X+col, bounds.Min.Y+row).Y))
			case *image.Gray16:
				g.Set(row, col, float64(px.Gray16At(bounds.Min.X+col, bounds.Min.Y+row).Y))
			default:
				r, gr, b, _ := img.At(bounds.Min.X+col, bounds.Min.Y+row).RGBA()
				g.Set(row, col, float64(r+gr+b)/(3*257))
			}
		}
	}
	return g, nil
}

// WriteTIFF exports the grid as a 16-bit grayscale TIFF plus world file.
// NoData cells are written as 0.
func (g *Grid) WriteTIFF(path string) error {
	img := image.NewGray16(image.Rect(0, 0, g.Cols, g.Rows))
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			v := g.Get(row, col)
			if math.IsNaN(v) {
				v = 0
			}
			if v < 0 {
				v = 0
			}
			if v > math.MaxUint16 {
				v = math.MaxUint16
			}
			img.SetGray16(col, row, color.Gray16{Y: uint16(math.Round(v))})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create raster %s: %w", path, err)
	}
	defer f.Close()
	if err := tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return fmt.Errorf("failed to encode raster %s: %w", path, err)
	}
	return writeWorldFile(worldFilePath(path), g.Region)
}

func worldFilePath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".tfw"
}

func readWorldFile(path string) (res, west, north float64, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to read world file %s: %w", path, err)
	}
	lines := strings.Fields(string(raw))
	if len(lines) < 6 {
		return 0, 0, 0, fmt.Errorf("world file %s must have 6 lines, got %d", path, len(lines))
	}
	vals := make([]float64, 6)
	for i := 0; i < 6; i++ {
		vals[i], err = strconv.ParseFloat(lines[i], 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid world file %s: %w", path, err)
		}
	}
	res = vals[0]
	if res <= 0 {
		return 0, 0, 0, fmt.Errorf("world file %s: non-positive resolution %g", path, res)
	}
	// world files reference the center of the upper-left pixel
	west = vals[4] - res/2
	north = vals[5] + res/2
	return res, west, north, nil
}

func writeWorldFile(path string, region model.Region) error {
	content := fmt.Sprintf("%g\n0.0\n0.0\n%g\n%g\n%g\n",
		region.Res, -region.Res,
		region.West+region.Res/2, region.North-region.Res/2)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write world file %s: %w", path, err)
	}
	return nil
}
