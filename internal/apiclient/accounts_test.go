package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
)

func TestProfileAndPasswords(t *testing.T) {
	var (
		bodies = map[string]map[string]any{}
		auth   = map[string]string{}
	)
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		auth[key] = r.Header.Get("Authorization")
		if r.Method != http.MethodGet {
			var b map[string]any
			_ = json.NewDecoder(r.Body).Decode(&b)
			bodies[key] = b
		}
		switch key {
		case "GET /api/users/profile/":
			writeJSON(w, http.StatusOK, `{"id":7,"username":"alice","email":"a@example.com"}`)
		case "PUT /api/users/profile/":
			writeJSON(w, http.StatusOK, `{"id":7,"username":"alice","email":"new@example.com","first_name":"Al"}`)
		case "POST /api/users/change-password/":
			writeJSON(w, http.StatusOK, `{"message":"Password changed"}`)
		case "POST /api/users/forgot-password/":
			writeJSON(w, http.StatusOK, `{"message":"Reset email sent"}`)
		case "POST /api/users/direct-password-reset/":
			writeJSON(w, http.StatusOK, `{"message":"Password reset"}`)
		case "GET /api/users/list/":
			writeJSON(w, http.StatusOK, `{"count":2,"results":[{"id":7,"username":"alice"},{"id":8,"username":"bob"}]}`)
		default:
			t.Errorf("unexpected request %s", key)
		}
	})
	ctx := context.Background()

	u, err := c.UserProfile(ctx)
	if err != nil || u.Email != "a@example.com" {
		t.Errorf("UserProfile = %+v, %v", u, err)
	}
	u, err = c.UpdateUserProfile(ctx, ProfileUpdate{Email: "new@example.com", FirstName: "Al"})
	if err != nil || u.FirstName != "Al" {
		t.Errorf("UpdateUserProfile = %+v, %v", u, err)
	}
	if b := bodies["PUT /api/users/profile/"]; b["email"] != "new@example.com" || b["phone"] != nil {
		t.Errorf("profile body = %v", b)
	}

	msg, err := c.ChangePassword(ctx, PasswordChange{OldPassword: "a", NewPassword: "b", NewPasswordConfirm: "b"})
	if err != nil || msg != "Password changed" {
		t.Errorf("ChangePassword = %q, %v", msg, err)
	}
	if b := bodies["POST /api/users/change-password/"]; b["old_password"] != "a" || b["new_password_confirm"] != "b" {
		t.Errorf("change-password body = %v", b)
	}

	msg, err = c.ForgotPassword(ctx, "a@example.com")
	if err != nil || msg != "Reset email sent" {
		t.Errorf("ForgotPassword = %q, %v", msg, err)
	}
	msg, err = c.DirectPasswordReset(ctx, PasswordReset{UsernameOrEmail: "alice", NewPassword: "n", ConfirmPassword: "n"})
	if err != nil || msg != "Password reset" {
		t.Errorf("DirectPasswordReset = %q, %v", msg, err)
	}
	for _, key := range []string{"POST /api/users/forgot-password/", "POST /api/users/direct-password-reset/"} {
		if auth[key] != "" {
			t.Errorf("%s sent Authorization %q", key, auth[key])
		}
	}
	if auth["POST /api/users/change-password/"] != "Bearer tok" {
		t.Errorf("change-password Authorization = %q", auth["POST /api/users/change-password/"])
	}

	users, err := c.UserList(ctx)
	if err != nil || len(users) != 2 || users[1].Username != "bob" {
		t.Errorf("UserList = %+v, %v", users, err)
	}
}

func TestRoleLifecycle(t *testing.T) {
	var (
		methods []string
		created map[string]any
		batch   map[string]any
	)
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method+" "+r.URL.Path)
		switch r.Method + " " + r.URL.Path {
		case "POST /api/roles/create/":
			_ = json.NewDecoder(r.Body).Decode(&created)
			writeJSON(w, http.StatusCreated, `{"id":9,"name":"trader","is_active":true}`)
		case "PUT /api/roles/9/":
			writeJSON(w, http.StatusOK, `{"id":9,"name":"senior trader","is_active":true}`)
		case "DELETE /api/roles/9/":
			w.WriteHeader(http.StatusNoContent)
		case "POST /api/roles/permissions/batch-update/":
			_ = json.NewDecoder(r.Body).Decode(&batch)
			writeJSON(w, http.StatusOK, `{"results":[{"role_id":9,"success":true},{"role_id":10,"success":false,"error":"Role not found"}]}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})
	ctx := context.Background()

	role, err := c.CreateRole(ctx, RoleInput{Name: "trader", PermissionKeys: []string{"stocks.view_stock"}})
	if err != nil || role.ID != 9 {
		t.Fatalf("CreateRole = %+v, %v", role, err)
	}
	if keys, _ := created["permission_keys"].([]any); len(keys) != 1 || keys[0] != "stocks.view_stock" {
		t.Errorf("create body = %v", created)
	}

	role, err = c.UpdateRole(ctx, 9, RoleInput{Name: "senior trader"})
	if err != nil || role.Name != "senior trader" {
		t.Errorf("UpdateRole = %+v, %v", role, err)
	}

	if err := c.DeleteRole(ctx, 9); err != nil {
		t.Errorf("DeleteRole: %v", err)
	}

	results, err := c.BatchUpdatePermissions(ctx, []PermissionUpdate{
		{RoleID: 9, Permissions: []string{"view_stock"}, Action: ActionAdd},
		{RoleID: 10, Permissions: []string{"view_stock"}, Action: ActionRemove},
	})
	if err != nil {
		t.Fatalf("BatchUpdatePermissions: %v", err)
	}
	if len(results) != 2 || !results[0].Success || results[1].Error != "Role not found" {
		t.Errorf("results = %+v", results)
	}
	if updates, _ := batch["updates"].([]any); len(updates) != 2 {
		t.Errorf("batch body = %v", batch)
	}

	if len(methods) != 4 {
		t.Errorf("requests = %v", methods)
	}
}

func TestTechnicalImportsAndModels(t *testing.T) {
	var predictBody map[string]any
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/stocks/AAPL/technical/":
			writeJSON(w, http.StatusOK, `[{"date":"2025-01-10","close_price":"225.50","ma_5":"224.10","rsi":"61.2","macd":null}]`)
		case "/api/stocks/import/logs/":
			writeJSON(w, http.StatusOK, `{"results":[{"id":3,"import_type":"csv","status":"completed","total_records":10,"success_records":9,"failed_records":1,"created_at":"2025-01-10T08:00:00Z"}]}`)
		case "/api/ml-models/":
			writeJSON(w, http.StatusOK, `[{"id":1,"name":"lstm"}]`)
		case "/api/ml-models/predict/":
			_ = json.NewDecoder(r.Body).Decode(&predictBody)
			writeJSON(w, http.StatusOK, `{"prediction":230.1}`)
		case "/api/ml-models/train/":
			writeJSON(w, http.StatusAccepted, `{"task_id":"t-1"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	ctx := context.Background()

	tech, err := c.StockTechnical(ctx, "AAPL")
	if err != nil || len(tech) != 1 {
		t.Fatalf("StockTechnical = %+v, %v", tech, err)
	}
	if tech[0].Close != 225.5 || tech[0].MA5 != 224.1 || tech[0].RSI != 61.2 || tech[0].MACD != 0 {
		t.Errorf("technical row = %+v", tech[0])
	}

	logs, err := c.ImportLogs(ctx)
	if err != nil || len(logs) != 1 || logs[0].FailedRecords != 1 || logs[0].CreatedAt.IsZero() {
		t.Errorf("ImportLogs = %+v, %v", logs, err)
	}

	raw, err := c.MLModels(ctx)
	if err != nil || string(raw) != `[{"id":1,"name":"lstm"}]` {
		t.Errorf("MLModels = %s, %v", raw, err)
	}
	raw, err = c.Predict(ctx, map[string]any{"symbol": "AAPL", "days": 5})
	if err != nil || string(raw) != `{"prediction":230.1}` || predictBody["symbol"] != "AAPL" {
		t.Errorf("Predict = %s, %v, body %v", raw, err, predictBody)
	}
	raw, err = c.TrainModel(ctx, map[string]any{"symbol": "AAPL"})
	if err != nil || string(raw) != `{"task_id":"t-1"}` {
		t.Errorf("TrainModel = %s, %v", raw, err)
	}
}
