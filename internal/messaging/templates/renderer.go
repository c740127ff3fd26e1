// Package templates renders message bodies with {{variable}} placeholders
// filled from stay and property context.
package templates

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// ErrMissingVariable is returned by strict rendering when a placeholder has
// no value.
type ErrMissingVariable struct {
	Name string
}

func (e *ErrMissingVariable) Error() string {
	return fmt.Sprintf("templates: missing variable %q", e.Name)
}

// Render substitutes placeholders from vars. Unknown placeholders are left
// verbatim so a typo in a template degrades to visible text instead of a
// dropped message.
func Render(body string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(body, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	})
}

// RenderStrict substitutes placeholders and fails on the first one without a
// value. Reminder sends use strict mode so a half-filled template never
// reaches a guest.
func RenderStrict(body string, vars map[string]string) (string, error) {
	var missing string
	out := placeholderRe.ReplaceAllStringFunc(body, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		if missing == "" {
			missing = name
		}
		return match
	})
	if missing != "" {
		return "", &ErrMissingVariable{Name: missing}
	}
	return out, nil
}

// Variables lists the distinct placeholder names in a template body.
func Variables(body string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range placeholderRe.FindAllStringSubmatch(body, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// StayVars builds the standard variable set for a stay.
func StayVars(guestName, propertyName, checkIn, checkOut, address string) map[string]string {
	return map[string]string{
		"guest_name":    strings.TrimSpace(guestName),
		"property_name": propertyName,
		"check_in":      checkIn,
		"check_out":     checkOut,
		"address":       address,
	}
}
