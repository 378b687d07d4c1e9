package migrations

import (
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Column is one column definition as declared by a CREATE TABLE statement in
// the bundled migrations.
type Column struct {
	Table string
	Name  string
	// Type is the declared SQL type in upper case, e.g. VARCHAR(32) or TEXT.
	Type string
	// MaxLen is the VARCHAR bound, 0 when the column is unbounded.
	MaxLen int
	// Allowed holds the values of a CHECK (col IN (...)) constraint, nil when
	// the column has none.
	Allowed []string
}

// Accepts reports whether v fits the column's length bound and CHECK list.
func (c Column) Accepts(v string) bool {
	if c.MaxLen > 0 && len([]rune(v)) > c.MaxLen {
		return false
	}
	if c.Allowed == nil {
		return true
	}
	for _, a := range c.Allowed {
		if a == v {
			return true
		}
	}
	return false
}

var (
	varcharRe = regexp.MustCompile(`^VARCHAR\((\d+)\)`)
	quotedRe  = regexp.MustCompile(`'([^']*)'`)
)

// Lookup finds table.column in the bundled migrations. Only columns declared
// inline in CREATE TABLE statements are visible.
func Lookup(table, column string) (Column, error) {
	body, err := tableBody(table)
	if err != nil {
		return Column{}, err
	}

	var def []string
	for _, line := range strings.Split(body, "\n") {
		indented := strings.HasPrefix(line, "    ")
		continuation := strings.HasPrefix(line, "     ")
		switch {
		case def != nil && continuation:
			def = append(def, strings.TrimSpace(line))
		case def != nil:
			return parseColumn(table, column, strings.Join(def, " "))
		case indented && !continuation:
			fields := strings.Fields(line)
			if len(fields) > 1 && fields[0] == column {
				def = []string{strings.TrimSpace(line)}
			}
		}
	}
	if def != nil {
		return parseColumn(table, column, strings.Join(def, " "))
	}
	return Column{}, fmt.Errorf("column %s.%s not found", table, column)
}

func tableBody(table string) (string, error) {
	entries, err := fs.ReadDir(FS, ".")
	if err != nil {
		return "", fmt.Errorf("read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	marker := "CREATE TABLE IF NOT EXISTS " + table + " ("
	for _, name := range names {
		data, err := fs.ReadFile(FS, name)
		if err != nil {
			return "", fmt.Errorf("read migration %s: %w", name, err)
		}
		sql := string(data)
		start := strings.Index(sql, marker)
		if start < 0 {
			continue
		}
		rest := sql[start+len(marker):]
		end := strings.Index(rest, "\n);")
		if end < 0 {
			return "", fmt.Errorf("table %s in %s is not terminated", table, name)
		}
		return rest[:end], nil
	}
	return "", fmt.Errorf("table %s not found", table)
}

func parseColumn(table, column, def string) (Column, error) {
	fields := strings.Fields(def)
	col := Column{Table: table, Name: column, Type: strings.ToUpper(strings.TrimSuffix(fields[1], ","))}
	if m := varcharRe.FindStringSubmatch(col.Type); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return Column{}, fmt.Errorf("column %s.%s: bad length %q", table, column, m[1])
		}
		col.MaxLen = n
	}

	check := "CHECK (" + column + " IN ("
	if i := strings.Index(def, check); i >= 0 {
		list := def[i+len(check):]
		if j := strings.Index(list, ")"); j >= 0 {
			list = list[:j]
		}
		col.Allowed = []string{}
		for _, m := range quotedRe.FindAllStringSubmatch(list, -1) {
			col.Allowed = append(col.Allowed, m[1])
		}
	}
	return col, nil
}
