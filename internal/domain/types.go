// Package domain defines the value types shared by the client core: users,
// permission sets, stock snapshots, roles, and price history.
package domain

import "time"

// ---------------------------------------------------------------------------
// Identity & permissions
// ---------------------------------------------------------------------------

// User is the identity returned by the backend after login or by the user
// info endpoint.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Role      string `json:"role,omitempty"`
	Status    string `json:"status,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Permission is a single backend permission.
type Permission struct {
	ID          int64  `json:"id,omitempty"`
	Codename    string `json:"codename"`
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
}

// PermissionSet is the authorization snapshot for the current user.
type PermissionSet struct {
	UserID          int64           `json:"user_id,omitempty"`
	Username        string          `json:"username,omitempty"`
	IsStaff         bool            `json:"is_staff,omitempty"`
	IsSuperuser     bool            `json:"is_superuser,omitempty"`
	Roles           []string        `json:"roles"`
	Permissions     []Permission    `json:"permissions"`
	HasAdminAccess  bool            `json:"has_admin_access"`
	MenuPermissions map[string]bool `json:"menu_permissions"`
}

// HasRole reports whether the set lists the named role.
func (p *PermissionSet) HasRole(name string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers cannot mutate the owner's state.
func (p *PermissionSet) Clone() *PermissionSet {
	if p == nil {
		return nil
	}
	c := *p
	c.Roles = append([]string(nil), p.Roles...)
	c.Permissions = append([]Permission(nil), p.Permissions...)
	if p.MenuPermissions != nil {
		c.MenuPermissions = make(map[string]bool, len(p.MenuPermissions))
		for k, v := range p.MenuPermissions {
			c.MenuPermissions[k] = v
		}
	}
	return &c
}

// Session is a read-only snapshot of the authentication state. When
// Authenticated is false both User and Permissions are nil.
type Session struct {
	Authenticated bool
	User          *User
	Permissions   *PermissionSet
}

// PermissionChange is the answer of the permission-change poll.
type PermissionChange struct {
	HasChanges   bool                    `json:"has_changes"`
	Notification *PermissionNotification `json:"notification,omitempty"`
}

// PermissionNotification is an optional human-readable note attached to a
// permission change.
type PermissionNotification struct {
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Roles
// ---------------------------------------------------------------------------

// Role is a named group of permissions. Permissions lists permission
// display names as the role listing returns them.
type Role struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	IsActive    bool     `json:"is_active"`
	UserCount   int      `json:"user_count"`
}

// PermissionGroup is one application's slice of the permission catalogue.
type PermissionGroup struct {
	AppName     string       `json:"app_name"`
	Permissions []Permission `json:"permissions"`
}

// RolePermissions is the detailed permission listing of one role, grouped
// by application label.
type RolePermissions struct {
	Role             Role                    `json:"role"`
	Permissions      map[string][]Permission `json:"permissions"`
	TotalPermissions int                     `json:"total_permissions"`
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// StockRecord is an immutable snapshot of one listed stock. The JSON form is
// the one persisted in the recently-viewed list.
type StockRecord struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	Volume        int64   `json:"volume"`
	MarketCap     string  `json:"marketCap,omitempty"`
	Sector        string  `json:"sector"`
	PERatio       float64 `json:"peRatio,omitempty"`
	DividendYield float64 `json:"dividendYield,omitempty"`
	Beta          float64 `json:"beta,omitempty"`
	Exchange      string  `json:"exchange,omitempty"`
	Industry      string  `json:"industry,omitempty"`
	LastUpdate    string  `json:"lastUpdate,omitempty"`
}

// PriceBar is one daily row of a stock's price history with the indicators
// the backend precomputes.
type PriceBar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
	MA5    float64
	MA10   float64
	MA20   float64
	MA50   float64
	EMA12  float64
	EMA26  float64
	MACD   float64
	RSI    float64
}

// ImportLog is one entry of the backend's stock data import history.
type ImportLog struct {
	ID                int64     `json:"id"`
	ImportType        string    `json:"import_type"`
	Status            string    `json:"status"`
	FilePath          string    `json:"file_path,omitempty"`
	TotalRecords      int       `json:"total_records"`
	SuccessRecords    int       `json:"success_records"`
	FailedRecords     int       `json:"failed_records"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	CreatedByUsername string    `json:"created_by_username,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
