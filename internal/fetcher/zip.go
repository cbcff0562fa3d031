package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

// maxMemberBytes caps one extracted member. The city's building footprints
// are the largest dataset at well under this.
const maxMemberBytes = 4 << 30

// ExtractDataset extracts the members of a zip archive that belong to the
// dataset stem (for "lots": lots.shp, lots.dbf, lots.shx, lots.prj, ...)
// into destDir, dropping any folders they were nested in. Other members
// are ignored. Returns the extracted paths.
func ExtractDataset(zipPath, destDir, stem string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	var extracted []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if slices.Contains(strings.Split(f.Name, "/"), "..") {
			return extracted, eris.Errorf("zip: illegal member path %q", f.Name)
		}
		base := path.Base(f.Name)
		if !strings.EqualFold(strings.TrimSuffix(base, path.Ext(base)), stem) {
			continue
		}

		dest := filepath.Join(destDir, base)
		if err := extractMember(f, dest); err != nil {
			return extracted, eris.Wrapf(err, "zip: extract %s", f.Name)
		}
		extracted = append(extracted, dest)
	}
	return extracted, nil
}

func extractMember(f *zip.File, dest string) error {
	if f.UncompressedSize64 > maxMemberBytes {
		return eris.Errorf("member is %d bytes, limit %d", f.UncompressedSize64, int64(maxMemberBytes))
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, io.LimitReader(rc, maxMemberBytes+1))
	if err != nil {
		_ = out.Close()
		return err
	}
	if n > maxMemberBytes {
		_ = out.Close()
		return eris.Errorf("member exceeds %d bytes", int64(maxMemberBytes))
	}
	return out.Close()
}
