package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"particlealign/internal/models"
)

// ErrBadHeader is returned when a localization table lacks a required column.
var ErrBadHeader = errors.New("localization table needs x, y and group columns")

// ReadLocalizations parses a CSV localization table. The first row names
// the columns; x, y and group are required, z is optional and makes the
// dataset 3D. Column names are case-insensitive and other columns are
// ignored.
func ReadLocalizations(r io.Reader) (*models.Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty table: %w", ErrBadHeader)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	cols := map[string]int{}
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	xCol, hasX := cols["x"]
	yCol, hasY := cols["y"]
	gCol, hasG := cols["group"]
	if !hasX || !hasY || !hasG {
		return nil, fmt.Errorf("header %v: %w", header, ErrBadHeader)
	}
	zCol, hasZ := cols["z"]

	ds := &models.Dataset{HasZ: hasZ}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid record at line %d: %w", line, err)
		}

		var l models.Localization
		if l.X, err = parseCoord(record[xCol]); err != nil {
			return nil, fmt.Errorf("invalid x at line %d: %w", line, err)
		}
		if l.Y, err = parseCoord(record[yCol]); err != nil {
			return nil, fmt.Errorf("invalid y at line %d: %w", line, err)
		}
		if hasZ {
			if l.Z, err = parseCoord(record[zCol]); err != nil {
				return nil, fmt.Errorf("invalid z at line %d: %w", line, err)
			}
		}
		if l.Group, err = strconv.Atoi(strings.TrimSpace(record[gCol])); err != nil {
			return nil, fmt.Errorf("invalid group at line %d: %w", line, err)
		}
		ds.Locs = append(ds.Locs, l)
	}
	return ds, nil
}

func parseCoord(field string) (float32, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
	return float32(v), err
}
