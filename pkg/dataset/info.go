package dataset

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"particlealign/internal/models"
)

// WriteInfo writes the metadata blocks as a multi-document YAML file.
func WriteInfo(path string, infos []models.Info) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	enc := yaml.NewEncoder(f)
	for i, info := range infos {
		if err := enc.Encode(info); err != nil {
			f.Close()
			return fmt.Errorf("encode info block %d: %w", i, err)
		}
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return f.Close()
}

// ReadInfo reads every metadata block of a multi-document YAML file.
func ReadInfo(path string) ([]models.Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var infos []models.Info
	dec := yaml.NewDecoder(f)
	for {
		var info models.Info
		err := dec.Decode(&info)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}
