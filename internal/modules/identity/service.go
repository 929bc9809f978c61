// README: Identity linker service; binds driver records to external subjects.
package identity

import (
	"context"

	"github.com/google/uuid"

	"dispatch/internal/types"
)

type Service struct {
	registry Registry
}

func NewService(registry Registry) *Service {
	return &Service{registry: registry}
}

type CreateDriverCommand struct {
	DisplayName string
	SubjectUID  string // optional; links immediately when set
}

// CreateDriver adds a roster record and returns its id.
func (s *Service) CreateDriver(ctx context.Context, cmd CreateDriverCommand) (types.ID, error) {
	id := types.ID(uuid.NewString())
	d := Driver{
		ID:               id,
		DisplayName:      cmd.DisplayName,
		LinkedSubjectUID: cmd.SubjectUID,
	}
	if err := s.registry.Create(ctx, d); err != nil {
		return "", err
	}
	return id, nil
}

// LinkDriver binds a driver record to a subject. Fails with ErrConflict
// when the subject is already linked to a different driver; re-linking
// the same pair is a no-op.
func (s *Service) LinkDriver(ctx context.Context, driverID types.ID, subjectUID string) error {
	if subjectUID == "" {
		return ErrInvalidSubject
	}
	if _, err := s.registry.Get(ctx, driverID); err != nil {
		return err
	}
	return s.registry.SetLink(ctx, driverID, subjectUID)
}

// ResolveAssignment returns the subject linked to a driver. It never
// returns an empty subject: an unlinked driver yields ErrNotLinked.
func (s *Service) ResolveAssignment(ctx context.Context, driverID types.ID) (string, error) {
	d, err := s.registry.Get(ctx, driverID)
	if err != nil {
		return "", err
	}
	if d.LinkedSubjectUID == "" {
		return "", ErrNotLinked
	}
	return d.LinkedSubjectUID, nil
}

// GetDriver returns a roster record.
func (s *Service) GetDriver(ctx context.Context, driverID types.ID) (Driver, error) {
	return s.registry.Get(ctx, driverID)
}

// DriverName returns the display name cached onto assignments.
func (s *Service) DriverName(ctx context.Context, driverID types.ID) (string, error) {
	d, err := s.registry.Get(ctx, driverID)
	if err != nil {
		return "", err
	}
	return d.DisplayName, nil
}

// ListDrivers returns the roster ordered by display name.
func (s *Service) ListDrivers(ctx context.Context) ([]Driver, error) {
	return s.registry.List(ctx)
}
