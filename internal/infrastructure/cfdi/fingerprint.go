package cfdi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"

	"github.com/ucarion/c14n"
)

// Canonicalize aplica C14N (Canonical XML 1.0) al XML.
func Canonicalize(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	out, err := c14n.Canonicalize(dec)
	if err != nil {
		return nil, fmt.Errorf("cfdi: canonicalizar XML: %w", err)
	}
	return out, nil
}

// Fingerprint SHA-256 hexadecimal de la forma canónica del XML. Se guarda en el
// registro para detectar si un reintento arma un comprobante distinto.
func Fingerprint(data []byte) (string, error) {
	canon, err := Canonicalize(data)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}
