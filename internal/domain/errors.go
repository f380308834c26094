package domain

import "errors"

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound            = errors.New("recurso no encontrado")
	ErrInvalidInput        = errors.New("entrada inválida")
	ErrDuplicate           = errors.New("recurso duplicado")
	ErrUnauthorized        = errors.New("no autorizado")
	ErrForbidden           = errors.New("acceso denegado")
	ErrConflict            = errors.New("conflicto con el estado actual")
	ErrInvalidState        = errors.New("el comprobante no está en un estado válido para la operación")
	ErrCancelWindowExpired = errors.New("el plazo para cancelar el comprobante ha vencido")
	ErrHasDependents       = errors.New("el comprobante tiene documentos relacionados vigentes")
	ErrMissingCredentials  = errors.New("el emisor no tiene certificado de sello digital configurado")
)
