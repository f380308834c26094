package entity

import (
	"fmt"
	"strings"
	"time"
)

// Tipos MIME de los adjuntos del registro.
const (
	MimeXML = "application/xml"
	MimePDF = "application/pdf"
	MimeZIP = "application/zip"

	CompressionNone = ""
	CompressionZstd = "zstd"
)

// Attachment archivo asociado a un comprobante (XML timbrado, acuse de cancelación).
type Attachment struct {
	ID          string
	DocumentID  string
	Name        string
	MimeType    string
	Content     []byte // contenido sin comprimir
	Compression string // cómo está guardado en la base de datos
	Size        int
	CreatedAt   time.Time
}

// StampedXMLName nombre del adjunto del XML timbrado:
// {uuid}-{modelo de origen con "." → "_"}-{id de origen}.xml
func StampedXMLName(uuid, originModel, originID string) string {
	return fmt.Sprintf("%s-%s-%s.xml", uuid, strings.ReplaceAll(originModel, ".", "_"), originID)
}

// CancellationAckName nombre del acuse de cancelación.
func CancellationAckName(uuid string) string {
	return "cancelacion-" + uuid + ".xml"
}
