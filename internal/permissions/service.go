package permissions

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aegis-platform/aegis-iam/internal/shared"
)

// AuditRecorder persists audit trail entries for catalog mutations.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service wraps permission catalog business rules.
type Service struct {
	repo  Repository
	audit AuditRecorder
}

// NewService constructs a new Service.
func NewService(repo Repository, audit AuditRecorder) *Service {
	return &Service{repo: repo, audit: audit}
}

// Create registers a new permission in the catalog.
func (s *Service) Create(ctx context.Context, req CreatePermissionRequest) (*Permission, error) {
	perm := Permission{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Resource:    strings.TrimSpace(req.Resource),
		Action:      strings.TrimSpace(req.Action),
		Category:    strings.TrimSpace(req.Category),
		IsSystem:    req.IsSystem,
		Conditions:  req.Conditions,
	}
	id, err := s.repo.Create(ctx, perm)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "permission.create", id, map[string]any{"name": perm.Name})
	return s.repo.Get(ctx, id)
}

// CreateBulk registers many permissions, skipping names that already exist.
func (s *Service) CreateBulk(ctx context.Context, reqs []CreatePermissionRequest) ([]Permission, error) {
	perms := make([]Permission, 0, len(reqs))
	for _, req := range reqs {
		perms = append(perms, Permission{
			Name:        strings.TrimSpace(req.Name),
			Description: strings.TrimSpace(req.Description),
			Resource:    strings.TrimSpace(req.Resource),
			Action:      strings.TrimSpace(req.Action),
			Category:    strings.TrimSpace(req.Category),
			IsSystem:    req.IsSystem,
			Conditions:  req.Conditions,
		})
	}
	created, err := s.repo.CreateBulk(ctx, perms)
	if err != nil {
		return nil, err
	}
	for _, perm := range created {
		s.recordAudit(ctx, "permission.create", perm.ID, map[string]any{"name": perm.Name, "bulk": true})
	}
	return created, nil
}

// Update edits a catalog entry unless it is system protected. Role snapshots
// taken before the edit are deliberately left intact.
func (s *Service) Update(ctx context.Context, id int64, req UpdatePermissionRequest) (*Permission, error) {
	perm, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if perm.IsSystem {
		return nil, fmt.Errorf("%w: permission %q", shared.ErrSystemProtected, perm.Name)
	}
	updated := Permission{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Resource:    strings.TrimSpace(req.Resource),
		Action:      strings.TrimSpace(req.Action),
		Category:    strings.TrimSpace(req.Category),
		Conditions:  req.Conditions,
	}
	if err := s.repo.Update(ctx, id, updated); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "permission.update", id, map[string]any{"name": updated.Name})
	return s.repo.Get(ctx, id)
}

// Delete removes a permission unless it is system protected. Existing role
// snapshots referencing the permission by name are deliberately left intact.
func (s *Service) Delete(ctx context.Context, id int64) error {
	perm, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if perm.IsSystem {
		return fmt.Errorf("%w: permission %q", shared.ErrSystemProtected, perm.Name)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, "permission.delete", id, map[string]any{"name": perm.Name})
	return nil
}

// Get fetches a permission by id.
func (s *Service) Get(ctx context.Context, id int64) (*Permission, error) {
	return s.repo.Get(ctx, id)
}

// FindByName fetches a permission by unique name.
func (s *Service) FindByName(ctx context.Context, name string) (*Permission, error) {
	return s.repo.GetByName(ctx, name)
}

// FindByIDs resolves the permissions matching the given ids. Unknown ids are
// absent from the result rather than an error.
func (s *Service) FindByIDs(ctx context.Context, ids []int64) ([]Permission, error) {
	return s.repo.FindByIDs(ctx, ids)
}

// FindByResourceAction fetches a permission by its resource/action pair.
func (s *Service) FindByResourceAction(ctx context.Context, resource, action string) (*Permission, error) {
	return s.repo.GetByResourceAction(ctx, resource, action)
}

// List returns permissions matching the filters plus the total count.
func (s *Service) List(ctx context.Context, req ListPermissionsRequest) ([]Permission, int, error) {
	return s.repo.List(ctx, req)
}

// Resources returns the distinct resources present in the catalog.
func (s *Service) Resources(ctx context.Context) ([]string, error) {
	return s.repo.DistinctResources(ctx)
}

// Actions returns the distinct actions present in the catalog.
func (s *Service) Actions(ctx context.Context) ([]string, error) {
	return s.repo.DistinctActions(ctx)
}

// Categories returns the distinct categories present in the catalog.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	return s.repo.DistinctCategories(ctx)
}

func (s *Service) recordAudit(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "permission",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
}
