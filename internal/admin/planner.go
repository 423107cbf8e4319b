// Package admin plans and applies role permission changes.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"stockanalysis/internal/apiclient"
	"stockanalysis/internal/domain"
)

var (
	// ErrNoChanges is returned by Apply when nothing is pending.
	ErrNoChanges = errors.New("no permission changes to apply")
	// ErrNoRole is returned when no role has been loaded.
	ErrNoRole = errors.New("no role loaded")
	// ErrUnknownPermission is returned when a codename is not in the
	// catalogue.
	ErrUnknownPermission = errors.New("unknown permission")
)

// API is the subset of the backend client the planner needs.
type API interface {
	Roles(ctx context.Context) ([]domain.Role, error)
	RolePermissionsDetailed(ctx context.Context, roleID int64) (*domain.RolePermissions, error)
	AvailablePermissions(ctx context.Context) (map[string]domain.PermissionGroup, int, error)
	ConfigureRolePermissions(ctx context.Context, roleID int64, codenames []string, action apiclient.PermissionAction) (*apiclient.ConfigureResult, error)
}

// Change is one pending permission edit.
type Change struct {
	App      string
	Codename string
	Name     string
	Action   apiclient.PermissionAction
}

// Key is the "app.codename" form a change is indexed by.
func (c Change) Key() string { return c.App + "." + c.Codename }

// Planner holds one role's permissions and the edits made to them since
// they were loaded.
type Planner struct {
	api API
	log *slog.Logger

	mu        sync.Mutex
	role      *domain.Role
	current   map[string][]domain.Permission
	available map[string]domain.PermissionGroup
	pending   map[string]Change
}

// New creates an empty planner.
func New(api API, log *slog.Logger) *Planner {
	return &Planner{
		api:       api,
		log:       log.With("component", "admin"),
		current:   map[string][]domain.Permission{},
		available: map[string]domain.PermissionGroup{},
		pending:   map[string]Change{},
	}
}

// Roles lists every role.
func (p *Planner) Roles(ctx context.Context) ([]domain.Role, error) {
	roles, err := p.api.Roles(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading roles: %w", err)
	}
	return roles, nil
}

// LoadCatalogue fetches the grouped permission catalogue. On failure the
// catalogue is left empty.
func (p *Planner) LoadCatalogue(ctx context.Context) error {
	groups, total, err := p.api.AvailablePermissions(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.available = map[string]domain.PermissionGroup{}
		return fmt.Errorf("loading permission catalogue: %w", err)
	}
	if groups == nil {
		groups = map[string]domain.PermissionGroup{}
	}
	p.available = groups
	p.log.Debug("permission catalogue loaded", "apps", len(groups), "total", total)
	return nil
}

// Load fetches roleID's permissions and discards any pending changes. On
// failure no role is loaded.
func (p *Planner) Load(ctx context.Context, roleID int64) error {
	rp, err := p.api.RolePermissionsDetailed(ctx, roleID)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = map[string]Change{}
	if err != nil {
		p.role = nil
		p.current = map[string][]domain.Permission{}
		return fmt.Errorf("loading permissions of role %d: %w", roleID, err)
	}
	role := rp.Role
	if role.ID == 0 {
		role.ID = roleID
	}
	p.role = &role
	p.current = rp.Permissions
	if p.current == nil {
		p.current = map[string][]domain.Permission{}
	}
	return nil
}

// Role returns the loaded role.
func (p *Planner) Role() (domain.Role, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.role == nil {
		return domain.Role{}, false
	}
	return *p.role, true
}

// Current returns the loaded role's permissions grouped by app label.
func (p *Planner) Current() map[string][]domain.Permission {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string][]domain.Permission, len(p.current))
	for app, perms := range p.current {
		out[app] = slices.Clone(perms)
	}
	return out
}

// Catalogue returns the loaded permission catalogue.
func (p *Planner) Catalogue() map[string]domain.PermissionGroup {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.available)
}

func (p *Planner) grantedLocked(app, codename string) bool {
	return slices.ContainsFunc(p.current[app], func(perm domain.Permission) bool {
		return perm.Codename == codename
	})
}

// Toggle records that app.codename should end up checked or unchecked.
// Returning a permission to its loaded state drops the pending change.
func (p *Planner) Toggle(app, codename string, checked bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := Change{App: app, Codename: codename}
	if checked == p.grantedLocked(app, codename) {
		delete(p.pending, c.Key())
		return
	}
	c.Action = apiclient.ActionRemove
	if checked {
		c.Action = apiclient.ActionAdd
	}
	if g, ok := p.available[app]; ok {
		for _, perm := range g.Permissions {
			if perm.Codename == codename {
				c.Name = perm.Name
				break
			}
		}
	}
	p.pending[c.Key()] = c
}

// Checked reports the state app.codename will have once pending changes are
// applied.
func (p *Planner) Checked(app, codename string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.pending[app+"."+codename]; ok {
		return c.Action == apiclient.ActionAdd
	}
	return p.grantedLocked(app, codename)
}

// Resolve maps a permission reference to its app label and codename. ref is
// either "app.codename" or a bare codename looked up in the catalogue.
func (p *Planner) Resolve(ref string) (app, codename string, err error) {
	if a, c, ok := strings.Cut(ref, "."); ok {
		return a, c, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range slices.Sorted(maps.Keys(p.available)) {
		for _, perm := range p.available[a].Permissions {
			if perm.Codename == ref {
				return a, ref, nil
			}
		}
	}
	return "", "", fmt.Errorf("%w: %s", ErrUnknownPermission, ref)
}

// Pending returns the pending changes ordered by key.
func (p *Planner) Pending() []Change {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Change, 0, len(p.pending))
	for _, k := range slices.Sorted(maps.Keys(p.pending)) {
		out = append(out, p.pending[k])
	}
	return out
}

// Reset discards pending changes.
func (p *Planner) Reset() {
	p.mu.Lock()
	p.pending = map[string]Change{}
	p.mu.Unlock()
}

// Apply sends the pending additions in one call and the removals in a
// second, then reloads the role. Pending changes survive a failed call.
func (p *Planner) Apply(ctx context.Context) error {
	p.mu.Lock()
	if p.role == nil {
		p.mu.Unlock()
		return ErrNoRole
	}
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return ErrNoChanges
	}
	roleID := p.role.ID
	var add, remove []string
	for _, k := range slices.Sorted(maps.Keys(p.pending)) {
		c := p.pending[k]
		if c.Action == apiclient.ActionAdd {
			add = append(add, c.Codename)
		} else {
			remove = append(remove, c.Codename)
		}
	}
	p.mu.Unlock()

	if len(add) > 0 {
		if _, err := p.api.ConfigureRolePermissions(ctx, roleID, add, apiclient.ActionAdd); err != nil {
			return fmt.Errorf("adding permissions to role %d: %w", roleID, err)
		}
	}
	if len(remove) > 0 {
		if _, err := p.api.ConfigureRolePermissions(ctx, roleID, remove, apiclient.ActionRemove); err != nil {
			return fmt.Errorf("removing permissions from role %d: %w", roleID, err)
		}
	}
	p.log.Info("role permissions updated", "role_id", roleID, "added", len(add), "removed", len(remove))
	return p.Load(ctx, roleID)
}
