package exportfile

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"time"
)

// Archive entry names, fixed by the client protocol.
const (
	ExportBinName = "export.bin"
	ExportSigName = "export.sig"
)

// Entry metadata is pinned so that identical content yields identical
// archive bytes across runs.
var archiveEntryTime = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// WriteArchive builds the two-entry zip archive carrying exportBin and
// exportSig.
func WriteArchive(exportBin, exportSig []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	for _, entry := range []struct {
		name string
		data []byte
	}{
		{ExportBinName, exportBin},
		{ExportSigName, exportSig},
	} {
		f, err := w.CreateHeader(&zip.FileHeader{
			Name:     entry.name,
			Method:   zip.Deflate,
			Modified: archiveEntryTime,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create archive entry %s: %w", entry.name, err)
		}
		if _, err := f.Write(entry.data); err != nil {
			return nil, fmt.Errorf("failed to write archive entry %s: %w", entry.name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadArchive extracts export.bin and export.sig from an archive. Both
// entries must be present.
func ReadArchive(data []byte) (exportBin, exportSig []byte, err error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid archive: %w", err)
	}

	read := func(name string) ([]byte, error) {
		for _, f := range r.File {
			if f.Name != name {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
		return nil, fmt.Errorf("archive entry %s not found", name)
	}

	if exportBin, err = read(ExportBinName); err != nil {
		return nil, nil, err
	}
	if exportSig, err = read(ExportSigName); err != nil {
		return nil, nil, err
	}
	return exportBin, exportSig, nil
}

// KeyCount parses an archive and returns the number of keys its export
// carries. The distribution service uses it to decide whether an old archive
// is stale.
func KeyCount(archive []byte) (int, error) {
	exportBin, _, err := ReadArchive(archive)
	if err != nil {
		return 0, err
	}
	e, err := ParseExport(exportBin)
	if err != nil {
		return 0, err
	}
	return len(e.Keys), nil
}
