package entity

import "time"

// Issuer emisor de comprobantes con su material CSD. Las credenciales viven sólo
// aquí y en la configuración del PAC que se arma a partir de él.
type Issuer struct {
	ID                string
	RFC               string
	Name              string
	Regime            string
	PostalCode        string
	DefaultCurrency   string
	Series            string
	CertificateDER    []byte // .cer
	KeyDER            []byte // .key (PKCS#8 cifrado)
	KeyPassword       string
	CertificateNumber string
	CertificateExpiry *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasCredentials indica si el emisor tiene CSD completo.
func (i *Issuer) HasCredentials() bool {
	return len(i.CertificateDER) > 0 && len(i.KeyDER) > 0
}
