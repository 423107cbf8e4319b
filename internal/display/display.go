// Package display renders client data for the terminal.
package display

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"stockanalysis/internal/admin"
	"stockanalysis/internal/apiclient"
	"stockanalysis/internal/domain"
	"stockanalysis/internal/market"
	"stockanalysis/internal/quotes"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	symbolStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	favStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208"))
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	colHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245")).Padding(0, 1)
	cellStyle      = lipgloss.NewStyle().Padding(0, 1)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(16)
	noticeStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	errorStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	okStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return colHeaderStyle
			}
			return cellStyle
		})
}

func changeStyle(v float64) lipgloss.Style {
	switch {
	case v > 0:
		return gainStyle
	case v < 0:
		return lossStyle
	default:
		return dimStyle
	}
}

func signed(v float64, suffix string) string {
	return changeStyle(v).Render(fmt.Sprintf("%+.2f%s", v, suffix))
}

func price(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

// ---------------------------------------------------------------------------
// Stocks
// ---------------------------------------------------------------------------

// Stocks writes a table of stocks. Favorites are starred.
func Stocks(w io.Writer, stocks []domain.StockRecord, isFavorite func(string) bool) {
	if len(stocks) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no stocks"))
		return
	}
	t := newTable("", "SYMBOL", "NAME", "PRICE", "CHANGE", "CHANGE %", "VOLUME", "SECTOR")
	for _, s := range stocks {
		star, sym := " ", symbolStyle.Render(s.Symbol)
		if isFavorite != nil && isFavorite(s.Symbol) {
			star, sym = favStyle.Render("★"), favStyle.Render(s.Symbol)
		}
		t.Row(star, sym, s.Name, price(s.Price), signed(s.Change, ""), signed(s.ChangePercent, "%"),
			humanize.Comma(s.Volume), s.Sector)
	}
	fmt.Fprintln(w, t.Render())
}

// Stock writes the details of one stock.
func Stock(w io.Writer, s domain.StockRecord, favorite bool) {
	title := s.Symbol + "  " + s.Name
	if favorite {
		title += "  " + favStyle.Render("★")
	}
	fmt.Fprintln(w, titleStyle.Render(title))
	field := func(label, value string) {
		fmt.Fprintln(w, labelStyle.Render(label)+value)
	}
	field("Price", price(s.Price))
	field("Change", signed(s.Change, "")+" ("+signed(s.ChangePercent, "%")+")")
	field("Volume", humanize.Comma(s.Volume))
	field("Market cap", s.MarketCap)
	field("P/E", price(s.PERatio))
	field("Dividend yield", price(s.DividendYield))
	field("Beta", price(s.Beta))
	field("Sector", s.Sector)
	field("Industry", s.Industry)
	field("Exchange", s.Exchange)
	if s.LastUpdate != "" {
		field("Last update", s.LastUpdate)
	}
}

// Statistics writes the market summary.
func Statistics(w io.Writer, st market.Statistics) {
	fmt.Fprintln(w, titleStyle.Render("Market summary"))
	rows := [][2]string{
		{"Stocks", strconv.Itoa(st.TotalStocks)},
		{"Gainers", gainStyle.Render(strconv.Itoa(st.Gainers))},
		{"Losers", lossStyle.Render(strconv.Itoa(st.Losers))},
		{"Favorites", strconv.Itoa(st.FavoriteCount)},
		{"Recently viewed", strconv.Itoa(st.RecentViewedCount)},
		{"Favorites value", price(st.TotalValue)},
		{"Total volume", humanize.Comma(st.TotalVolume)},
	}
	for _, r := range rows {
		fmt.Fprintln(w, labelStyle.Render(r[0])+r[1])
	}
}

// Prices writes the last limit rows of a price history, newest last. A
// limit of zero writes every row.
func Prices(w io.Writer, bars []domain.PriceBar, limit int) {
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	t := newTable("DATE", "OPEN", "HIGH", "LOW", "CLOSE", "VOLUME", "MA20", "RSI")
	var prev float64
	for i, b := range bars {
		closeCell := price(b.Close)
		if i > 0 {
			closeCell = changeStyle(b.Close - prev).Render(closeCell)
		}
		prev = b.Close
		t.Row(b.Date.Format("2006-01-02"), price(b.Open), price(b.High), price(b.Low), closeCell,
			humanize.Comma(b.Volume), price(b.MA20), price(b.RSI))
	}
	fmt.Fprintln(w, t.Render())
}

// Quotes writes latest trades.
func Quotes(w io.Writer, qs []quotes.Quote) {
	t := newTable("SYMBOL", "LAST", "CHANGE", "CHANGE %", "SIZE", "TIME")
	for _, q := range qs {
		t.Row(symbolStyle.Render(q.Symbol), price(q.Price), signed(q.Change, ""), signed(q.ChangePercent, "%"),
			strconv.FormatUint(uint64(q.Size), 10), q.Time.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintln(w, t.Render())
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

// User writes the signed-in identity and its permission summary.
func User(w io.Writer, u *domain.User, perms *domain.PermissionSet, predictions, adminAccess bool) {
	if u == nil {
		fmt.Fprintln(w, dimStyle.Render("not logged in"))
		return
	}
	fmt.Fprintln(w, titleStyle.Render(u.Username))
	field := func(label, value string) {
		if value != "" {
			fmt.Fprintln(w, labelStyle.Render(label)+value)
		}
	}
	field("Name", strings.TrimSpace(u.FirstName+" "+u.LastName))
	field("Email", u.Email)
	field("Role", u.Role)
	field("Status", u.Status)
	field("Predictions", yesNo(predictions))
	field("Admin", yesNo(adminAccess))
	if perms == nil {
		return
	}
	field("Roles", strings.Join(perms.Roles, ", "))
	if len(perms.MenuPermissions) > 0 {
		var menus []string
		for _, k := range slices.Sorted(maps.Keys(perms.MenuPermissions)) {
			if perms.MenuPermissions[k] {
				menus = append(menus, k)
			}
		}
		field("Menus", strings.Join(menus, ", "))
	}
	field("Permissions", strconv.Itoa(len(perms.Permissions)))
}

func yesNo(b bool) string {
	if b {
		return okStyle.Render("yes")
	}
	return dimStyle.Render("no")
}

// ---------------------------------------------------------------------------
// Roles
// ---------------------------------------------------------------------------

// Roles writes the role listing.
func Roles(w io.Writer, roles []domain.Role) {
	t := newTable("ID", "NAME", "DESCRIPTION", "USERS", "ACTIVE")
	for _, r := range roles {
		t.Row(strconv.FormatInt(r.ID, 10), r.Name, r.Description, strconv.Itoa(r.UserCount), yesNo(r.IsActive))
	}
	fmt.Fprintln(w, t.Render())
}

// RolePermissions writes every catalogue permission grouped by app, marking
// the ones checked for the role.
func RolePermissions(w io.Writer, role domain.Role, catalogue map[string]domain.PermissionGroup, checked func(app, codename string) bool) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%s (id %d)", role.Name, role.ID)))
	t := newTable("", "APP", "CODENAME", "NAME")
	for _, app := range slices.Sorted(maps.Keys(catalogue)) {
		for _, p := range catalogue[app].Permissions {
			mark := dimStyle.Render("·")
			if checked(app, p.Codename) {
				mark = okStyle.Render("✓")
			}
			t.Row(mark, app, p.Codename, p.Name)
		}
	}
	fmt.Fprintln(w, t.Render())
}

// Changes writes pending permission changes.
func Changes(w io.Writer, changes []admin.Change) {
	for _, c := range changes {
		tag := okStyle.Render("ADD   ")
		if c.Action == apiclient.ActionRemove {
			tag = errorStyle.Render("REMOVE")
		}
		name := c.Name
		if name == "" {
			name = c.Key()
		}
		fmt.Fprintf(w, "%s %s %s\n", tag, c.Key(), dimStyle.Render(name))
	}
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// Notice writes a highlighted informational line.
func Notice(w io.Writer, msg string) { fmt.Fprintln(w, noticeStyle.Render(msg)) }

// Success writes a confirmation line.
func Success(w io.Writer, msg string) { fmt.Fprintln(w, okStyle.Render(msg)) }

// Error writes an error line. Validation errors list each field.
func Error(w io.Writer, err error) {
	var ve *apiclient.ValidationError
	if errors.As(err, &ve) && len(ve.Order) > 0 {
		fmt.Fprintln(w, errorStyle.Render("error: ")+"validation failed")
		for _, field := range ve.Order {
			fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(field), strings.Join(ve.Fields[field], "; "))
		}
		return
	}
	fmt.Fprintln(w, errorStyle.Render("error: ")+err.Error())
}

// Dim writes a de-emphasized line.
func Dim(w io.Writer, msg string) { fmt.Fprintln(w, dimStyle.Render(msg)) }
