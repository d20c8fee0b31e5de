package render

import (
	"bytes"
	"embed"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	"github.com/park285/cheese-connect/internal/board"
)

//go:embed assets/*.svg
var discFiles embed.FS

type discCacheKey struct {
	cell board.Cell
	size int
}

var (
	discCache   = map[discCacheKey]image.Image{}
	discCacheMu sync.RWMutex
)

func discImage(cell board.Cell, size int) (image.Image, error) {
	key := discCacheKey{cell: cell, size: size}

	discCacheMu.RLock()
	if img, ok := discCache[key]; ok {
		discCacheMu.RUnlock()
		return img, nil
	}
	discCacheMu.RUnlock()

	name, err := discAssetName(cell)
	if err != nil {
		return nil, err
	}
	data, err := discFiles.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read disc asset %s: %w", name, err)
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse disc svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	discCacheMu.Lock()
	discCache[key] = img
	discCacheMu.Unlock()
	return img, nil
}

func discAssetName(cell board.Cell) (string, error) {
	switch cell {
	case board.Player1:
		return "assets/disc_player1.svg", nil
	case board.Player2:
		return "assets/disc_player2.svg", nil
	}
	return "", fmt.Errorf("no disc for %s", cell)
}
