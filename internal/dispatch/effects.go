package dispatch

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/SimonWaldherr/sqlpagego/internal/db"
)

// applyEffect runs one of the non-rendering components against the
// request's in-flight response. It returns no Events: the effect is
// applied immediately and nothing is handed to the renderer.
func (d *Dispatcher) applyEffect(name string, cols map[string]db.DbValue) ([]Event, error) {
	switch name {
	case "http_header":
		return nil, d.applyHTTPHeader(cols)
	case "cookie":
		return nil, d.applyCookie(cols)
	case "redirect":
		return nil, d.applyRedirect(cols)
	default:
		return nil, fmt.Errorf("dispatch: unhandled side-effect component %q", name)
	}
}

// applyHTTPHeader sets one response header per non-"component" column.
// "status" is reserved: it overrides the response status code instead of
// being sent as a literal "Status" header.
func (d *Dispatcher) applyHTTPHeader(cols map[string]db.DbValue) error {
	for name, v := range cols {
		if name == "component" {
			continue
		}
		if strings.EqualFold(name, "status") {
			if v == nil || v == "" {
				continue
			}
			code, ok := toInt64(v)
			if !ok {
				return fmt.Errorf("dispatch: http_header status %v is not a valid status code", v)
			}
			if err := d.rc.SetStatus(int(code)); err != nil {
				return err
			}
			continue
		}
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		if err := d.rc.SetHeader(http.CanonicalHeaderKey(name), s); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) applyCookie(cols map[string]db.DbValue) error {
	name, _ := cols["name"].(string)
	if name == "" {
		return fmt.Errorf("dispatch: cookie component requires a name column")
	}
	value, _ := cols["value"].(string)

	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	}
	if p, ok := cols["path"].(string); ok && p != "" {
		cookie.Path = p
	}
	if dom, ok := cols["domain"].(string); ok && dom != "" {
		cookie.Domain = dom
	}
	if v, ok := cols["secure"]; ok {
		cookie.Secure = truthy(v)
	}
	if v, ok := cols["http_only"]; ok {
		cookie.HttpOnly = truthy(v)
	}
	if v, ok := cols["same_site"].(string); ok && v != "" {
		cookie.SameSite = sameSiteFromString(v)
	}
	if v, ok := cols["max_age"]; ok {
		if n, ok := toInt64(v); ok {
			cookie.MaxAge = int(n)
		}
	}
	if v, ok := cols["expires"]; ok {
		if t, ok := toTime(v); ok {
			cookie.Expires = t
		}
	}
	if v, ok := cols["remove"]; ok && truthy(v) {
		cookie.Value = ""
		cookie.MaxAge = -1
		cookie.Expires = time.Unix(0, 0)
	}

	return d.rc.SetCookie(cookie)
}

// sameSiteFromString parses the documented same_site attribute values,
// defaulting to Strict for anything unrecognized.
func sameSiteFromString(s string) http.SameSite {
	switch strings.ToLower(s) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

// truthy interprets a bound column as a boolean, since drivers disagree on
// the Go type a boolean column scans to (SQLite yields int64 0/1).
func truthy(v db.DbValue) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x == "1" || strings.EqualFold(x, "true")
	default:
		return false
	}
}

func toInt64(v db.DbValue) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func toTime(v db.DbValue) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, x); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

func (d *Dispatcher) applyRedirect(cols map[string]db.DbValue) error {
	link, _ := cols["link"].(string)
	if link == "" {
		link, _ = cols["url"].(string)
	}
	if link == "" {
		return fmt.Errorf("dispatch: redirect component requires a link column")
	}
	return d.rc.Redirect(link)
}
