// Package hotness tracks request demand per (data type, H3 cell).
package hotness

import (
	"cmp"
	"slices"
	"strings"

	"github.com/mohammed-shakir/geoquery-cache/internal/core/model"
)

type Interface interface {
	Inc(key string)
	Score(key string) float64
	Top(n int) []Scored
}

type Scored struct {
	Key   string
	Score float64
}

// Key joins a data type and a cell into one tracker key.
func Key(d model.DataType, cell string) string {
	return string(d) + "|" + cell
}

func SplitKey(key string) (model.DataType, string, bool) {
	d, cell, ok := strings.Cut(key, "|")
	if !ok || d == "" || cell == "" {
		return "", "", false
	}
	return model.DataType(d), cell, true
}

// SortScored orders by score descending, ties by key.
func SortScored(s []Scored) {
	slices.SortFunc(s, func(a, b Scored) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
}
