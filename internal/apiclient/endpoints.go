package apiclient

import "strings"

// Endpoint is a backend path template relative to the base URL. Path
// parameters are written as {name} and substituted by BuildURL.
type Endpoint string

// Backend endpoints.
const (
	// Users
	UserLogin               Endpoint = "/api/users/login/"
	UserRegister            Endpoint = "/api/users/register/"
	UserLogout              Endpoint = "/api/users/logout/"
	UserInfo                Endpoint = "/api/users/info/"
	UserProfile             Endpoint = "/api/users/profile/"
	UserChangePassword      Endpoint = "/api/users/change-password/"
	UserForgotPassword      Endpoint = "/api/users/forgot-password/"
	UserDirectPasswordReset Endpoint = "/api/users/direct-password-reset/"
	UserPermissions         Endpoint = "/api/users/permissions/"
	UserList                Endpoint = "/api/users/list/"

	// Stocks
	StocksList      Endpoint = "/api/stocks/"
	StockDetail     Endpoint = "/api/stocks/{symbol}/"
	StockPrices     Endpoint = "/api/stocks/{symbol}/prices/"
	StockTechnical  Endpoint = "/api/stocks/{symbol}/technical/"
	StockImportLogs Endpoint = "/api/stocks/import/logs/"

	// Favorites
	FavoriteAdd    Endpoint = "/api/stocks/favorite/add/"
	FavoriteRemove Endpoint = "/api/stocks/favorite/remove/"
	FavoriteList   Endpoint = "/api/stocks/favorite/list/"

	// Roles and permissions
	RolesList                Endpoint = "/api/roles/"
	RolesCreate              Endpoint = "/api/roles/create/"
	RolesDetail              Endpoint = "/api/roles/{id}/"
	RolesPermissions         Endpoint = "/api/roles/permissions/"
	ConfigureRolePermissions Endpoint = "/api/roles/configure-permissions/"
	RolePermissionsDetailed  Endpoint = "/api/roles/{role_id}/permissions/detailed/"
	AvailablePermissions     Endpoint = "/api/roles/permissions/available/"
	BatchUpdatePermissions   Endpoint = "/api/roles/permissions/batch-update/"
	CheckPermissionChanges   Endpoint = "/api/roles/permissions/check-changes/"

	// ML models
	MLModels  Endpoint = "/api/ml-models/"
	MLPredict Endpoint = "/api/ml-models/predict/"
	MLTrain   Endpoint = "/api/ml-models/train/"
)

// BuildURL joins the base URL and endpoint and replaces each {name}
// placeholder with the matching value from params. Values are substituted
// literally; unknown placeholders are left in place.
func (c *Client) BuildURL(endpoint Endpoint, params map[string]string) string {
	url := c.baseURL + string(endpoint)
	for k, v := range params {
		url = strings.Replace(url, "{"+k+"}", v, 1)
	}
	return url
}
