package admin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"

	"stockanalysis/internal/apiclient"
	"stockanalysis/internal/domain"
)

type configureCall struct {
	roleID    int64
	codenames []string
	action    apiclient.PermissionAction
}

type fakeAPI struct {
	granted      map[string][]domain.Permission
	loadErr      error
	loads        int
	calls        []configureCall
	configureErr error
}

func (f *fakeAPI) Roles(context.Context) ([]domain.Role, error) {
	return []domain.Role{{ID: 2, Name: "analyst"}}, nil
}

func (f *fakeAPI) RolePermissionsDetailed(_ context.Context, roleID int64) (*domain.RolePermissions, error) {
	f.loads++
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return &domain.RolePermissions{
		Role:        domain.Role{ID: roleID, Name: "analyst"},
		Permissions: f.granted,
	}, nil
}

func (f *fakeAPI) AvailablePermissions(context.Context) (map[string]domain.PermissionGroup, int, error) {
	return map[string]domain.PermissionGroup{
		"stocks": {AppName: "Stocks", Permissions: []domain.Permission{
			{Codename: "view_stock", Name: "Can view stock"},
			{Codename: "change_stock", Name: "Can change stock"},
		}},
		"ml": {AppName: "ML", Permissions: []domain.Permission{
			{Codename: "view_stockprediction", Name: "Can view stock prediction"},
		}},
	}, 3, nil
}

func (f *fakeAPI) ConfigureRolePermissions(_ context.Context, roleID int64, codenames []string, action apiclient.PermissionAction) (*apiclient.ConfigureResult, error) {
	if f.configureErr != nil {
		return nil, f.configureErr
	}
	f.calls = append(f.calls, configureCall{roleID, codenames, action})
	return &apiclient.ConfigureResult{Success: true, RoleID: roleID}, nil
}

func newTestPlanner(t *testing.T, api *fakeAPI) *Planner {
	t.Helper()
	p := New(api, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	if err := p.LoadCatalogue(ctx); err != nil {
		t.Fatalf("LoadCatalogue: %v", err)
	}
	if err := p.Load(ctx, 2); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return p
}

func analystAPI() *fakeAPI {
	return &fakeAPI{granted: map[string][]domain.Permission{
		"stocks": {{Codename: "view_stock"}},
	}}
}

func TestToggleRecordsAndDropsChanges(t *testing.T) {
	p := newTestPlanner(t, analystAPI())

	p.Toggle("stocks", "view_stock", true)
	if len(p.Pending()) != 0 {
		t.Errorf("checking a granted permission created a change: %+v", p.Pending())
	}

	p.Toggle("stocks", "change_stock", true)
	p.Toggle("stocks", "view_stock", false)
	got := p.Pending()
	if len(got) != 2 {
		t.Fatalf("Pending = %+v", got)
	}
	if got[0].Key() != "stocks.change_stock" || got[0].Action != apiclient.ActionAdd || got[0].Name != "Can change stock" {
		t.Errorf("first change = %+v", got[0])
	}
	if got[1].Key() != "stocks.view_stock" || got[1].Action != apiclient.ActionRemove {
		t.Errorf("second change = %+v", got[1])
	}
	if !p.Checked("stocks", "change_stock") || p.Checked("stocks", "view_stock") {
		t.Error("Checked does not reflect pending changes")
	}

	p.Toggle("stocks", "view_stock", true)
	if got := p.Pending(); len(got) != 1 || got[0].Codename != "change_stock" {
		t.Errorf("toggling back left %+v", got)
	}

	p.Reset()
	if len(p.Pending()) != 0 {
		t.Error("Reset kept changes")
	}
}

func TestApplySendsAddThenRemove(t *testing.T) {
	api := analystAPI()
	p := newTestPlanner(t, api)

	p.Toggle("ml", "view_stockprediction", true)
	p.Toggle("stocks", "change_stock", true)
	p.Toggle("stocks", "view_stock", false)
	if err := p.Apply(context.Background()); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	want := []configureCall{
		{2, []string{"view_stockprediction", "change_stock"}, apiclient.ActionAdd},
		{2, []string{"view_stock"}, apiclient.ActionRemove},
	}
	if len(api.calls) != len(want) {
		t.Fatalf("calls = %+v", api.calls)
	}
	for i, w := range want {
		c := api.calls[i]
		if c.roleID != w.roleID || c.action != w.action || !slices.Equal(c.codenames, w.codenames) {
			t.Errorf("call %d = %+v, want %+v", i, c, w)
		}
	}
	if api.loads != 2 {
		t.Errorf("role loaded %d times, want reload after apply", api.loads)
	}
	if len(p.Pending()) != 0 {
		t.Error("pending changes kept after apply")
	}
}

func TestApplyOnlyAdds(t *testing.T) {
	api := analystAPI()
	p := newTestPlanner(t, api)
	p.Toggle("stocks", "change_stock", true)
	if err := p.Apply(context.Background()); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(api.calls) != 1 || api.calls[0].action != apiclient.ActionAdd {
		t.Errorf("calls = %+v", api.calls)
	}
}

func TestApplyErrors(t *testing.T) {
	api := analystAPI()
	p := New(api, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := p.Apply(context.Background()); !errors.Is(err, ErrNoRole) {
		t.Errorf("Apply without role = %v, want ErrNoRole", err)
	}

	p = newTestPlanner(t, api)
	if err := p.Apply(context.Background()); !errors.Is(err, ErrNoChanges) {
		t.Errorf("Apply without changes = %v, want ErrNoChanges", err)
	}

	api.configureErr = &apiclient.APIError{Status: 403, Message: "forbidden"}
	p.Toggle("stocks", "change_stock", true)
	err := p.Apply(context.Background())
	var apiErr *apiclient.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 403 {
		t.Fatalf("Apply error = %v", err)
	}
	if len(p.Pending()) != 1 {
		t.Error("pending changes dropped after failed apply")
	}
}

func TestResolve(t *testing.T) {
	p := newTestPlanner(t, analystAPI())
	tests := []struct {
		ref      string
		app      string
		codename string
		wantErr  bool
	}{
		{"stocks.view_stock", "stocks", "view_stock", false},
		{"view_stockprediction", "ml", "view_stockprediction", false},
		{"delete_everything", "", "", true},
	}
	for _, tt := range tests {
		app, codename, err := p.Resolve(tt.ref)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownPermission) {
				t.Errorf("Resolve(%q) error = %v", tt.ref, err)
			}
			continue
		}
		if err != nil || app != tt.app || codename != tt.codename {
			t.Errorf("Resolve(%q) = %q, %q, %v", tt.ref, app, codename, err)
		}
	}
}

func TestLoadResetsPending(t *testing.T) {
	p := newTestPlanner(t, analystAPI())
	p.Toggle("stocks", "change_stock", true)
	if err := p.Load(context.Background(), 3); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(p.Pending()) != 0 {
		t.Error("loading another role kept pending changes")
	}
	if r, ok := p.Role(); !ok || r.ID != 3 {
		t.Errorf("Role = %+v, %v", r, ok)
	}
}

func TestFailedLoadForgetsPreviousRole(t *testing.T) {
	api := analystAPI()
	p := newTestPlanner(t, api)

	api.loadErr = &apiclient.APIError{Status: 404, Message: "Role not found"}
	if err := p.Load(context.Background(), 7); err == nil {
		t.Fatal("Load(7) succeeded")
	}
	if r, ok := p.Role(); ok {
		t.Errorf("Role after failed load = %+v, want none", r)
	}

	p.Toggle("stocks", "change_stock", true)
	if err := p.Apply(context.Background()); !errors.Is(err, ErrNoRole) {
		t.Errorf("Apply after failed load = %v, want ErrNoRole", err)
	}
	if len(api.calls) != 0 {
		t.Errorf("changes sent to a role that is no longer loaded: %+v", api.calls)
	}
}
