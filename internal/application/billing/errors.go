package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jhoicas/cfdi-engine/internal/domain/cfdi"
)

// PersistError el PAC timbró pero falló el registro local. UUID y XML ya están en el
// registro o son recuperables re-descargando por UUID.
type PersistError struct {
	UUID       string
	DocumentID string
	Err        error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("cfdi %s timbrado pero no se pudo persistir (documento %s): %v", e.UUID, e.DocumentID, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// asTimeout convierte un vencimiento de contexto en *cfdi.TimeoutError; otros errores pasan igual.
func asTimeout(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *cfdi.TimeoutError
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &cfdi.TimeoutError{Op: op, Err: err}
	}
	return err
}
