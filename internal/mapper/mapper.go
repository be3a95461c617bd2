// Package mapper converts between geometric coordinates and H3 cells.
package mapper

import (
	"github.com/mohammed-shakir/geoquery-cache/internal/core/model"
)

// Cells is what code outside the cache needs from a mapper: folding cells into
// coarser parents and placing them back on the map.
type Cells interface {
	ToParent(cell string, parentRes int) (string, error)
	Center(cell string) (model.Point, error)
}
