package data

import (
	"fmt"
	"math/rand"
	"os"

	"gopkg.in/yaml.v3"
)

// SpawnArea is one rectangular region new players can spawn in.
// Weight controls how often the area is picked relative to the others.
type SpawnArea struct {
	MinX   float64 `yaml:"min_x"`
	MinY   float64 `yaml:"min_y"`
	MaxX   float64 `yaml:"max_x"`
	MaxY   float64 `yaml:"max_y"`
	Weight int     `yaml:"weight"`
	Note   string  `yaml:"note"`
}

// SpawnTable holds the weighted spawn areas for new players.
type SpawnTable struct {
	areas       []SpawnArea
	totalWeight int
}

// LoadSpawnTable loads spawn_areas.yaml.
func LoadSpawnTable(path string) (*SpawnTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spawn areas: %w", err)
	}
	var areas []SpawnArea
	if err := yaml.Unmarshal(raw, &areas); err != nil {
		return nil, fmt.Errorf("parse spawn areas: %w", err)
	}
	return NewSpawnTable(areas)
}

// NewSpawnTable builds a table from in-memory areas, validating each one.
func NewSpawnTable(areas []SpawnArea) (*SpawnTable, error) {
	if len(areas) == 0 {
		return nil, fmt.Errorf("spawn table is empty")
	}
	t := &SpawnTable{areas: areas}
	for i := range areas {
		a := &areas[i]
		if a.MaxX <= a.MinX || a.MaxY <= a.MinY {
			return nil, fmt.Errorf("spawn area %d: empty rectangle", i)
		}
		if a.Weight <= 0 {
			a.Weight = 1
		}
		t.totalWeight += a.Weight
	}
	return t, nil
}

// DefaultSpawnTable covers the classic 800x600 world with a 50-unit margin.
func DefaultSpawnTable() *SpawnTable {
	t, _ := NewSpawnTable([]SpawnArea{
		{MinX: 50, MinY: 50, MaxX: 750, MaxY: 550, Weight: 1, Note: "default"},
	})
	return t
}

// Pick returns a random position inside a weighted-random area.
func (t *SpawnTable) Pick(rng *rand.Rand) (x, y float64) {
	roll := rng.Intn(t.totalWeight)
	a := &t.areas[len(t.areas)-1]
	for i := range t.areas {
		roll -= t.areas[i].Weight
		if roll < 0 {
			a = &t.areas[i]
			break
		}
	}
	x = a.MinX + rng.Float64()*(a.MaxX-a.MinX)
	y = a.MinY + rng.Float64()*(a.MaxY-a.MinY)
	return x, y
}

// Count returns the number of spawn areas loaded.
func (t *SpawnTable) Count() int {
	return len(t.areas)
}
