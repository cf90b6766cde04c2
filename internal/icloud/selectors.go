package icloud

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
)

// The bundled candidate list ships inside the binary; deployments point
// ICLOUD_SELECTORS_FILE at a JSON file of the same shape when the web UI
// changes faster than releases.
//
//go:embed selectors.json
var bundledSelectors []byte

// selectorsFile is the on-disk override format.
type selectorsFile struct {
	UploadButtonSelectors []string `json:"uploadButtonSelectors"`
}

// LoadSelectors returns the ordered upload-control candidate list: the
// override file when path is non-empty, the bundled list otherwise.
func LoadSelectors(path string) ([]string, error) {
	raw := bundledSelectors

	if path != "" {
		var err error

		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("icloud: reading selectors file: %w", err)
		}
	}

	var sf selectorsFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("icloud: parsing selectors: %w", err)
	}

	if len(sf.UploadButtonSelectors) == 0 {
		return nil, fmt.Errorf("icloud: selectors list is empty")
	}

	return sf.UploadButtonSelectors, nil
}
