package apiclient

import (
	"context"
	"net/http"
	"strconv"

	"stockanalysis/internal/domain"
)

// PermissionAction selects how ConfigureRolePermissions applies codenames.
type PermissionAction string

const (
	ActionSet    PermissionAction = "set"
	ActionAdd    PermissionAction = "add"
	ActionRemove PermissionAction = "remove"
)

// RoleInput is the create/update body for a role. PermissionKeys are
// "app.codename" strings; PermissionIDs take precedence when both are set.
type RoleInput struct {
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	IsActive       *bool    `json:"is_active,omitempty"`
	PermissionIDs  []int64  `json:"permission_ids,omitempty"`
	PermissionKeys []string `json:"permission_keys,omitempty"`
}

// PermissionUpdate is one entry of a batch permission update.
type PermissionUpdate struct {
	RoleID      int64            `json:"role_id"`
	Permissions []string         `json:"permissions"`
	Action      PermissionAction `json:"action"`
}

// BatchResult is the per-role outcome of a batch update.
type BatchResult struct {
	RoleID  int64  `json:"role_id"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ConfigureResult is the answer of ConfigureRolePermissions.
type ConfigureResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	RoleID  int64  `json:"role_id"`
}

type permissionWire struct {
	ID          int64       `json:"id"`
	Codename    string      `json:"codename"`
	Name        string      `json:"name"`
	ContentType looseString `json:"content_type"`
}

func (p permissionWire) permission() domain.Permission {
	return domain.Permission{ID: p.ID, Codename: p.Codename, Name: p.Name, ContentType: string(p.ContentType)}
}

func permissions(in []permissionWire) []domain.Permission {
	out := make([]domain.Permission, 0, len(in))
	for _, p := range in {
		out = append(out, p.permission())
	}
	return out
}

func roleParams(id int64) map[string]string {
	return map[string]string{"id": strconv.FormatInt(id, 10)}
}

// Roles lists every role.
func (c *Client) Roles(ctx context.Context) ([]domain.Role, error) {
	resp, err := c.Request(ctx, RolesList, RequestOptions{})
	if err != nil {
		return nil, err
	}
	return decodeList[domain.Role](resp)
}

// CreateRole creates a role.
func (c *Client) CreateRole(ctx context.Context, in RoleInput) (*domain.Role, error) {
	var r domain.Role
	if err := c.do(ctx, RolesCreate, RequestOptions{Method: http.MethodPost, Data: in}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateRole replaces a role's fields.
func (c *Client) UpdateRole(ctx context.Context, id int64, in RoleInput) (*domain.Role, error) {
	var r domain.Role
	opts := RequestOptions{Method: http.MethodPut, Data: in, PathParams: roleParams(id)}
	if err := c.do(ctx, RolesDetail, opts, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteRole deletes a role.
func (c *Client) DeleteRole(ctx context.Context, id int64) error {
	_, err := c.Request(ctx, RolesDetail, RequestOptions{Method: http.MethodDelete, PathParams: roleParams(id)})
	return err
}

// Permissions lists the flat permission catalogue.
func (c *Client) Permissions(ctx context.Context) ([]domain.Permission, error) {
	resp, err := c.Request(ctx, RolesPermissions, RequestOptions{})
	if err != nil {
		return nil, err
	}
	rows, err := decodeList[permissionWire](resp)
	if err != nil {
		return nil, err
	}
	return permissions(rows), nil
}

// ConfigureRolePermissions sets, adds or removes codenames on a role.
func (c *Client) ConfigureRolePermissions(ctx context.Context, roleID int64, codenames []string, action PermissionAction) (*ConfigureResult, error) {
	if action == "" {
		action = ActionSet
	}
	if codenames == nil {
		codenames = []string{}
	}
	body := PermissionUpdate{RoleID: roleID, Permissions: codenames, Action: action}
	var out ConfigureResult
	if err := c.do(ctx, ConfigureRolePermissions, RequestOptions{Method: http.MethodPost, Data: body}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RolePermissionsDetailed returns a role's permissions grouped by
// application label.
func (c *Client) RolePermissionsDetailed(ctx context.Context, roleID int64) (*domain.RolePermissions, error) {
	var wire struct {
		Role             domain.Role                 `json:"role"`
		Permissions      map[string][]permissionWire `json:"permissions"`
		TotalPermissions int                         `json:"total_permissions"`
	}
	opts := RequestOptions{PathParams: map[string]string{"role_id": strconv.FormatInt(roleID, 10)}}
	if err := c.do(ctx, RolePermissionsDetailed, opts, &wire); err != nil {
		return nil, err
	}

	out := &domain.RolePermissions{
		Role:             wire.Role,
		Permissions:      make(map[string][]domain.Permission, len(wire.Permissions)),
		TotalPermissions: wire.TotalPermissions,
	}
	for app, perms := range wire.Permissions {
		out.Permissions[app] = permissions(perms)
	}
	return out, nil
}

// AvailablePermissions returns the full permission catalogue grouped by
// application label, and its size.
func (c *Client) AvailablePermissions(ctx context.Context) (map[string]domain.PermissionGroup, int, error) {
	var wire struct {
		Grouped map[string]struct {
			AppName     string           `json:"app_name"`
			Permissions []permissionWire `json:"permissions"`
		} `json:"grouped_permissions"`
		TotalPermissions int `json:"total_permissions"`
	}
	if err := c.do(ctx, AvailablePermissions, RequestOptions{}, &wire); err != nil {
		return nil, 0, err
	}

	out := make(map[string]domain.PermissionGroup, len(wire.Grouped))
	for app, g := range wire.Grouped {
		out[app] = domain.PermissionGroup{AppName: g.AppName, Permissions: permissions(g.Permissions)}
	}
	return out, wire.TotalPermissions, nil
}

// BatchUpdatePermissions applies several role updates in one transaction.
func (c *Client) BatchUpdatePermissions(ctx context.Context, updates []PermissionUpdate) ([]BatchResult, error) {
	body := struct {
		Updates []PermissionUpdate `json:"updates"`
	}{updates}
	var out struct {
		Results []BatchResult `json:"results"`
	}
	if err := c.do(ctx, BatchUpdatePermissions, RequestOptions{Method: http.MethodPost, Data: body}, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// CheckPermissionChanges asks whether the caller's permissions changed since
// the last check.
func (c *Client) CheckPermissionChanges(ctx context.Context) (*domain.PermissionChange, error) {
	var out domain.PermissionChange
	if err := c.do(ctx, CheckPermissionChanges, RequestOptions{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
