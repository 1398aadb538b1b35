// Package catalog manages the admin-owned content of a game: characters,
// shop items and the players that joined.
package catalog

import (
	"errors"

	"github.com/kasuganosora/escaperoom/server/audit"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrGameEnded    = errors.New("game has ended")
)

// Service implements the catalog operations.
type Service struct {
	db      *gorm.DB
	actions audit.Logger
	logger  *zap.Logger
}

// New creates a Service. actions may be nil.
func New(db *gorm.DB, actions audit.Logger, logger *zap.Logger) *Service {
	return &Service{db: db, actions: actions, logger: logger}
}

func (s *Service) record(e audit.Entry) {
	if s.actions != nil {
		s.actions.Log(e)
	}
}
