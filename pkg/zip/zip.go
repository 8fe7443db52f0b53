// Package zip builds the archive served by batch artifact downloads.
package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"strings"
)

// Asset is one file destined for the archive.
type Asset struct {
	Filename string
	MIME     string
	Data     []byte
}

// ArchiveAssets packs the assets into a single zip. Colliding filenames are
// made unique with a numeric suffix so no selected artifact silently
// overwrites another. Assets that cannot be written are skipped.
func ArchiveAssets(assets []Asset) []byte {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	seen := make(map[string]int, len(assets))
	for _, asset := range assets {
		base := asset.Filename
		if base == "" {
			base = "artifact"
		}
		name := base
		if n := seen[base]; n > 0 {
			ext := path.Ext(base)
			name = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(base, ext), n, ext)
		}
		seen[base]++

		w, err := zw.Create(name)
		if err != nil {
			continue
		}
		if _, err := w.Write(asset.Data); err != nil {
			continue
		}
	}
	_ = zw.Close()
	return buf.Bytes()
}
