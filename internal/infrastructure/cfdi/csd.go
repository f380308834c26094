package cfdi

import (
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/pkcs12"
)

// OID x500UniqueIdentifier: el SAT guarda ahí "RFC / RFC_REPRESENTANTE".
var oidUniqueIdentifier = asn1.ObjectIdentifier{2, 5, 4, 45}

// Certificate Certificado de Sello Digital (CSD) del emisor.
type Certificate struct {
	Number    string // NoCertificado (20 dígitos)
	RFC       string
	Name      string
	NotBefore time.Time
	NotAfter  time.Time
	DER       []byte
}

// ParseCertificate lee un .cer del SAT (DER) o un PEM.
func ParseCertificate(data []byte) (*Certificate, error) {
	der := data
	if block, _ := pem.Decode(data); block != nil {
		der = block.Bytes
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("cfdi: parsear certificado CSD: %w", err)
	}
	return fromX509(cert), nil
}

func fromX509(cert *x509.Certificate) *Certificate {
	return &Certificate{
		Number:    certificateNumber(cert),
		RFC:       subjectRFC(cert),
		Name:      cert.Subject.CommonName,
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		DER:       cert.Raw,
	}
}

// certificateNumber el serial del CSD son los dígitos del NoCertificado codificados en ASCII.
func certificateNumber(cert *x509.Certificate) string {
	raw := cert.SerialNumber.Bytes()
	for _, b := range raw {
		if b < '0' || b > '9' {
			return cert.SerialNumber.String()
		}
	}
	return string(raw)
}

func subjectRFC(cert *x509.Certificate) string {
	for _, n := range cert.Subject.Names {
		if !n.Type.Equal(oidUniqueIdentifier) {
			continue
		}
		if v, ok := n.Value.(string); ok {
			rfc, _, _ := strings.Cut(v, "/")
			return strings.ToUpper(strings.TrimSpace(rfc))
		}
	}
	return ""
}

// ValidAt verifica la vigencia del certificado en el instante t.
func (c *Certificate) ValidAt(t time.Time) error {
	if t.Before(c.NotBefore) {
		return fmt.Errorf("cfdi: CSD %s aún no vigente (desde %s)", c.Number, c.NotBefore.Format(time.RFC3339))
	}
	if t.After(c.NotAfter) {
		return fmt.Errorf("cfdi: CSD %s vencido el %s", c.Number, c.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// LoadPFX decodifica un .pfx (PKCS#12) y devuelve el certificado y su llave privada.
func LoadPFX(data []byte, password string) (*Certificate, crypto.PrivateKey, error) {
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, nil, fmt.Errorf("cfdi: decodificar pfx: %w", err)
	}
	return fromX509(cert), key, nil
}

// MarshalKey llave privada en PKCS#8 DER (para registrarla en el PAC cuando viene de un .pfx).
func MarshalKey(key crypto.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("cfdi: serializar llave privada: %w", err)
	}
	return der, nil
}
