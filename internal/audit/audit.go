// Package audit registra eventos de seguridad del bridge y la autorización.
// Hoy el sink es el logger estructurado; el event_id (uuid) permite correlar
// con el audit trail del motor de credenciales si más adelante se persiste.
package audit

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capy-town/capyauth/internal/observability/logger"
)

// Log escribe un evento de auditoría estructurado y devuelve su event_id.
func Log(ctx context.Context, event string, fields ...zap.Field) string {
	id := uuid.NewString()
	all := make([]zap.Field, 0, len(fields)+2)
	all = append(all, zap.String("audit_event", event), zap.String("event_id", id))
	all = append(all, fields...)
	logger.From(ctx).Info("audit", all...)
	return id
}
