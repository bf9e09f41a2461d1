package migrate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
)

// Formato de archivo: {timestamp}_{name}.up.sql y opcional {timestamp}_{name}.down.sql
// (ej: 20240101000000_init.up.sql)
var unitFilePattern = regexp.MustCompile(`^(\d+)_([A-Za-z0-9_\-]+)\.(up|down)\.sql$`)

// Unit es una migración disponible en el FS.
type Unit struct {
	Version  int64
	Name     string
	Up       string
	Down     string
	HasDown  bool
	Checksum string // sha256 hex del script up
}

// ID es "{version}_{name}".
func (u Unit) ID() string { return fmt.Sprintf("%d_%s", u.Version, u.Name) }

// Checksum calcula el sha256 hex de un script.
func Checksum(script string) string {
	sum := sha256.Sum256([]byte(script))
	return hex.EncodeToString(sum[:])
}

// LoadUnits lee las migraciones del root de fsys, ordenadas por versión numérica.
// Los archivos que no coinciden con el patrón se ignoran.
func LoadUnits(fsys fs.FS) ([]Unit, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := map[int64]*Unit{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := unitFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration %s: bad version: %w", e.Name(), err)
		}
		content, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}

		u, ok := byVersion[version]
		if !ok {
			u = &Unit{Version: version, Name: m[2]}
			byVersion[version] = u
		} else if u.Name != m[2] {
			return nil, fmt.Errorf("migration version %d used by %q and %q", version, u.Name, m[2])
		}

		switch m[3] {
		case "up":
			if u.Up != "" {
				return nil, fmt.Errorf("duplicate up script for %s", u.ID())
			}
			u.Up = string(content)
			u.Checksum = Checksum(u.Up)
		case "down":
			u.Down = string(content)
			u.HasDown = true
		}
	}

	out := make([]Unit, 0, len(byVersion))
	for _, u := range byVersion {
		if u.Up == "" && u.Checksum == "" {
			return nil, fmt.Errorf("migration %s has a down script but no up script", u.ID())
		}
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
