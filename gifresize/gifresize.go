// Package gifresize re-encodes oversized animated gifs at a smaller
// resolution so they stay viewable inside the app.
package gifresize

import (
	"fmt"
	"image"
	"image/gif"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

const (
	// veryLargeMB switches to the aggressive scale factor.
	veryLargeMB = 50

	// DefaultMaxSizeMB is the threshold above which gifs get resized.
	DefaultMaxSizeMB = 20
)

// Resize returns a path to a version of the gif at or below an acceptable
// size. A file already within maxSizeMB is returned unchanged. A
// previously computed resized sibling is reused. Otherwise every frame is
// decoded, scaled down and re-encoded into "<name>_resized.gif"; swapping
// it into place is the caller's job.
func Resize(path string, maxSizeMB int64) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: couldn't stat gif(path=%s)", err, path)
	}

	sizeMB := fi.Size() / (1024 * 1024)
	if sizeMB <= maxSizeMB {
		return path, nil
	}

	resized := resizedSibling(path)
	if _, err := os.Stat(resized); err == nil {
		return resized, nil
	}

	src, err := decode(path)
	if err != nil {
		return "", err
	}

	scale := 0.5
	if sizeMB > veryLargeMB {
		scale = 0.3
	}

	out := scaleAll(src, scale)

	f, err := os.Create(resized)
	if err != nil {
		return "", fmt.Errorf("%w: couldn't create resized gif(path=%s)", err, resized)
	}
	defer f.Close()

	if err := gif.EncodeAll(f, out); err != nil {
		os.Remove(resized)
		return "", fmt.Errorf("%w: couldn't encode resized gif", err)
	}

	log.Debug().
		Str("path", path).
		Int64("size_mb", sizeMB).
		Float64("scale", scale).
		Msg("resized gif")

	return resized, nil
}

func decode(path string) (*gif.GIF, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: couldn't open gif(path=%s)", err, path)
	}
	defer f.Close()

	g, err := gif.DecodeAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: couldn't decode gif", err)
	}
	if len(g.Image) == 0 {
		return nil, fmt.Errorf("gif has no frames(path=%s)", path)
	}
	return g, nil
}

// scaleAll re-renders every frame at the new resolution, carrying the
// per-frame delay and disposal metadata over.
func scaleAll(src *gif.GIF, scale float64) *gif.GIF {
	bounds := src.Image[0].Bounds()
	newWidth := int(float64(bounds.Dx()) * scale)
	newHeight := int(float64(bounds.Dy()) * scale)

	out := &gif.GIF{
		Image:           make([]*image.Paletted, 0, len(src.Image)),
		Delay:           src.Delay,
		Disposal:        src.Disposal,
		LoopCount:       src.LoopCount,
		BackgroundIndex: src.BackgroundIndex,
		Config: image.Config{
			ColorModel: src.Config.ColorModel,
			Width:      newWidth,
			Height:     newHeight,
		},
	}

	for _, frame := range src.Image {
		r := scaleRect(frame.Bounds(), scale)
		dst := image.NewPaletted(r, frame.Palette)
		draw.NearestNeighbor.Scale(dst, r, frame, frame.Bounds(), draw.Src, nil)
		out.Image = append(out.Image, dst)
	}

	return out
}

// scaleRect keeps frame offsets proportional so partial-frame gifs stay
// aligned after scaling.
func scaleRect(r image.Rectangle, scale float64) image.Rectangle {
	return image.Rect(
		int(float64(r.Min.X)*scale),
		int(float64(r.Min.Y)*scale),
		int(float64(r.Max.X)*scale),
		int(float64(r.Max.Y)*scale),
	)
}

func resizedSibling(path string) string {
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return filepath.Join(dir, base+"_resized.gif")
}
