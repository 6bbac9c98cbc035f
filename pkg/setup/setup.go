// Package setup builds the SQL statements replayed on every new session:
// create-secret, attach-database, configuration settings and the optional
// default-database selector. Builders are deterministic (options emitted in
// sorted key order) so the replayed sequence is stable and testable.
package setup

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pondworks/pond/pkg/config"
	"github.com/pondworks/pond/pkg/secrets"
)

// secretScheme marks an option value to be resolved through the secrets
// provider instead of being used literally.
const secretScheme = "secret://"

// Statements builds the full ordered setup sequence for cfg: secrets first,
// then attachments, then settings, then the default-database selector last.
func Statements(cfg *config.Config, sp secrets.Provider) ([]string, error) {
	var res []string

	for _, s := range cfg.Secrets {
		stmt, err := CreateSecret(s, sp)
		if err != nil {
			return nil, fmt.Errorf("can't build secret statement %q: %w", s.Name, err)
		}
		res = append(res, stmt)
	}
	for _, a := range cfg.Attachments {
		stmt, err := Attach(a, sp)
		if err != nil {
			return nil, fmt.Errorf("can't build attach statement for %q: %w", a.Path, err)
		}
		res = append(res, stmt)
	}
	for _, s := range cfg.Settings {
		res = append(res, Setting(s))
	}
	if cfg.DefaultDatabase != "" {
		res = append(res, Use(cfg.DefaultDatabase))
	}
	return res, nil
}

// CreateSecret builds a CREATE OR REPLACE SECRET statement. Option values in
// secret:// form are resolved through sp before being embedded.
func CreateSecret(s config.Secret, sp secrets.Provider) (string, error) {
	opts, err := resolveOptions(s.Options, sp)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE OR REPLACE SECRET %s (TYPE %s", s.Name, s.Type)
	for _, k := range sortedKeys(opts) {
		fmt.Fprintf(&b, ", %s %s", strings.ToUpper(k), quote(opts[k]))
	}
	b.WriteString(")")
	return b.String(), nil
}

// Attach builds an ATTACH statement, with an optional alias and options.
func Attach(a config.Attachment, sp secrets.Provider) (string, error) {
	opts, err := resolveOptions(a.Options, sp)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "ATTACH %s", quote(a.Path))
	if a.Alias != "" {
		fmt.Fprintf(&b, " AS %s", a.Alias)
	}
	if len(opts) > 0 {
		parts := make([]string, 0, len(opts))
		for _, k := range sortedKeys(opts) {
			parts = append(parts, fmt.Sprintf("%s %s", strings.ToUpper(k), quote(opts[k])))
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}
	return b.String(), nil
}

// Setting builds a SET statement. A non-empty database scopes the option name.
func Setting(s config.Setting) string {
	name := s.Name
	if s.Database != "" {
		name = s.Database + "." + s.Name
	}
	return fmt.Sprintf("SET %s = %s", name, quote(s.Value))
}

// Use builds the default-database selector.
func Use(db string) string {
	return "USE " + db
}

func resolveOptions(in map[string]string, sp secrets.Provider) (map[string]string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	if sp == nil {
		sp = &secrets.NoOpProvider{}
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if strings.HasPrefix(v, secretScheme) {
			key := strings.TrimPrefix(v, secretScheme)
			resolved, err := sp.Get(key)
			if err != nil {
				return nil, fmt.Errorf("can't resolve secret %q for option %s: %w", key, k, err)
			}
			out[k] = resolved
			continue
		}
		out[k] = v
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// quote wraps v in single quotes, doubling embedded quotes. Bare integers and
// booleans go in unquoted, matching how settings are usually written.
func quote(v string) string {
	if isBareLiteral(v) {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func isBareLiteral(v string) bool {
	if v == "true" || v == "false" {
		return true
	}
	if v == "" {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
