package session

import "strings"

// Codenames that grant access to price predictions.
var predictionCodenames = []string{
	"add_stockprediction",
	"view_stockprediction",
	"change_stockprediction",
}

// HasPermission reports whether any permission's codename equals code or
// contains it, so "stockprediction" matches "view_stockprediction". An empty
// code matches nothing.
func (m *Manager) HasPermission(code string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasPermissionLocked(code)
}

func (m *Manager) hasPermissionLocked(code string) bool {
	if m.perms == nil || code == "" {
		return false
	}
	for _, p := range m.perms.Permissions {
		if p.Codename == code || strings.Contains(p.Codename, code) {
			return true
		}
	}
	return false
}

// HasPredictionAccess reports whether the user may use price predictions:
// admins, the analyst role, or any prediction permission.
func (m *Manager) HasPredictionAccess() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.perms == nil {
		return false
	}
	if m.perms.HasAdminAccess || m.perms.HasRole("analyst") {
		return true
	}
	for _, code := range predictionCodenames {
		if m.hasPermissionLocked(code) {
			return true
		}
	}
	return false
}

// HasAdminAccess reports whether the user may use the admin surfaces.
func (m *Manager) HasAdminAccess() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.perms != nil && m.perms.HasAdminAccess
}

// CanAccessMenu reports whether the named menu entry is visible to the user.
func (m *Manager) CanAccessMenu(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.perms != nil && m.perms.MenuPermissions[key]
}
