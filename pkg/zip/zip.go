// Package zip bundles a generation's markup with its metadata for download.
package zip

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Asset is one file inside a bundle.
type Asset struct {
	Filename string
	MIME     string
	Data     []byte
}

// Manifest describes the generation a bundle was built from.
type Manifest struct {
	GenerationID string    `json:"generationId"`
	JobID        string    `json:"jobId,omitempty"`
	Prompt       string    `json:"prompt,omitempty"`
	Style        string    `json:"style,omitempty"`
	Model        string    `json:"model,omitempty"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
	Files        []string  `json:"files"`
}

// ManifestName is the manifest's path inside the archive.
const ManifestName = "manifest.json"

// ArchiveAssets writes assets and a manifest.json listing them. Filenames must
// be unique.
func ArchiveAssets(manifest Manifest, assets []Asset) ([]byte, error) {
	if len(assets) == 0 {
		return nil, errors.New("zip: no assets")
	}
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	seen := make(map[string]struct{}, len(assets))
	manifest.Files = make([]string, 0, len(assets))
	for _, asset := range assets {
		if asset.Filename == "" || asset.Filename == ManifestName {
			return nil, fmt.Errorf("zip: invalid filename %q", asset.Filename)
		}
		if _, dup := seen[asset.Filename]; dup {
			return nil, fmt.Errorf("zip: duplicate filename %q", asset.Filename)
		}
		seen[asset.Filename] = struct{}{}
		if err := writeEntry(zw, asset.Filename, manifest.CreatedAt, asset.Data); err != nil {
			return nil, err
		}
		manifest.Files = append(manifest.Files, asset.Filename)
	}
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("zip: encode manifest: %w", err)
	}
	if err := writeEntry(zw, ManifestName, manifest.CreatedAt, raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close: %w", err)
	}
	return buf.Bytes(), nil
}

func writeEntry(zw *zip.Writer, name string, modified time.Time, data []byte) error {
	hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
	if !modified.IsZero() {
		hdr.Modified = modified
	}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("zip: create %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("zip: write %s: %w", name, err)
	}
	return nil
}
