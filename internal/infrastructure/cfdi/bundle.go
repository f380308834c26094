package cfdi

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zip"
)

// BundleFile archivo dentro del paquete de descarga.
type BundleFile struct {
	Name    string
	Content []byte
}

// BuildBundle empaqueta XML timbrado, PDF y acuses en un ZIP en memoria.
// Los archivos vacíos se omiten; el orden de entrada se conserva.
func BuildBundle(files ...BundleFile) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	written := 0
	for _, f := range files {
		if len(f.Content) == 0 {
			continue
		}
		fw, err := zw.Create(f.Name)
		if err != nil {
			return nil, fmt.Errorf("zip: crear entrada %s: %w", f.Name, err)
		}
		if _, err := fw.Write(f.Content); err != nil {
			return nil, fmt.Errorf("zip: escribir %s: %w", f.Name, err)
		}
		written++
	}
	if written == 0 {
		return nil, fmt.Errorf("zip: no hay archivos para empaquetar")
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: cerrar archivo: %w", err)
	}
	return buf.Bytes(), nil
}
