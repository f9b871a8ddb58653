package estimates

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"paintEstimator/internal/prompts"
)

// formFromRequest starts from the default form and applies every field the
// client sent. Absent fields keep their defaults, so a checkbox must be sent
// as "false" to clear it.
func formFromRequest(r *http.Request) (prompts.FormState, error) {
	form := prompts.DefaultFormState()

	bools := []struct {
		field string
		dst   *bool
	}{
		{"walls", &form.Surfaces.Walls},
		{"ceiling", &form.Surfaces.Ceiling},
		{"doors", &form.Surfaces.Doors},
		{"bedrooms", &form.Rooms.Bedrooms},
		{"dining_lounge_room", &form.Rooms.DiningLounge},
		{"kitchen", &form.Rooms.Kitchen},
		{"bathrooms", &form.Rooms.Bathrooms},
	}
	for _, b := range bools {
		raw := strings.TrimSpace(r.FormValue(b.field))
		if raw == "" {
			continue
		}
		v, err := parseCheckbox(raw)
		if err != nil {
			return form, fmt.Errorf("invalid %s: %q", b.field, raw)
		}
		*b.dst = v
	}

	if raw := strings.TrimSpace(r.FormValue("num_coats")); raw != "" {
		coats, err := strconv.Atoi(raw)
		if err != nil {
			return form, fmt.Errorf("invalid num_coats: %q", raw)
		}
		form.Coats = coats
	}

	floats := []struct {
		field string
		dst   *float64
	}{
		{"wall_height", &form.WallHeight},
		{"paint_coverage", &form.Coverage},
		{"door_width", &form.DoorWidth},
		{"door_height", &form.DoorHeight},
	}
	for _, f := range floats {
		raw := strings.TrimSpace(r.FormValue(f.field))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return form, fmt.Errorf("invalid %s: %q", f.field, raw)
		}
		*f.dst = v
	}

	return form, nil
}

// parseCheckbox accepts HTML checkbox values as well as strconv booleans.
func parseCheckbox(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(raw)
}
