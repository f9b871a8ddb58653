// Package prompts turns the paint estimator form into the instruction text
// sent to the model alongside the floorplan.
package prompts

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"text/template"
)

var (
	ErrNoSurface     = errors.New("at least one surface is required")
	ErrNoRoom        = errors.New("at least one area is required")
	ErrCoats         = errors.New("coats must be between 1 and 3")
	ErrWallHeight    = errors.New("wall height must be above 0 and at most 10m")
	ErrCoverage      = errors.New("paint coverage must be above 0")
	ErrDoorSize      = errors.New("door width and height must be above 0")
	ErrCustomMissing = errors.New("custom prompt is empty")
)

const (
	MinCoats      = 1
	MaxCoats      = 3
	maxWallHeight = 10.0
)

// Surfaces selects what gets painted.
type Surfaces struct {
	Walls   bool `json:"walls"`
	Ceiling bool `json:"ceiling"`
	Doors   bool `json:"doors"`
}

// Rooms selects which areas of the house are included.
type Rooms struct {
	Bedrooms     bool `json:"bedrooms"`
	DiningLounge bool `json:"dining_lounge_room"`
	Kitchen      bool `json:"kitchen"`
	Bathrooms    bool `json:"bathrooms"`
}

// FormState is the full set of user selections.
type FormState struct {
	Surfaces   Surfaces `json:"surfaces"`
	Rooms      Rooms    `json:"rooms"`
	Coats      int      `json:"num_coats"`
	WallHeight float64  `json:"wall_height"`
	Coverage   float64  `json:"paint_coverage"`
	DoorWidth  float64  `json:"door_width,omitempty"`
	DoorHeight float64  `json:"door_height,omitempty"`
}

// DefaultFormState mirrors the initial state of the estimator form.
func DefaultFormState() FormState {
	return FormState{
		Surfaces:   Surfaces{Walls: true},
		Rooms:      Rooms{Bedrooms: true, DiningLounge: true},
		Coats:      2,
		WallHeight: 2.5,
		Coverage:   10,
		DoorWidth:  0.82,
		DoorHeight: 2.04,
	}
}

// SurfaceNames lists the selected surfaces as they appear in the prompt.
func (f FormState) SurfaceNames() []string {
	var names []string
	if f.Surfaces.Ceiling {
		names = append(names, "ceiling")
	}
	if f.Surfaces.Walls {
		names = append(names, "walls")
	}
	if f.Surfaces.Doors {
		names = append(names, "doors")
	}
	return names
}

// RoomNames lists the selected rooms as they appear in the prompt.
func (f FormState) RoomNames() []string {
	var names []string
	if f.Rooms.Bedrooms {
		names = append(names, "bedrooms")
	}
	if f.Rooms.DiningLounge {
		names = append(names, "dining/lounge room")
	}
	if f.Rooms.Bathrooms {
		names = append(names, "bathroom")
	}
	if f.Rooms.Kitchen {
		names = append(names, "kitchen")
	}
	return names
}

// Validate reports the first problem with the form, if any.
func (f FormState) Validate() error {
	switch {
	case len(f.SurfaceNames()) == 0:
		return ErrNoSurface
	case len(f.RoomNames()) == 0:
		return ErrNoRoom
	case f.Coats < MinCoats || f.Coats > MaxCoats:
		return fmt.Errorf("%w: got %d", ErrCoats, f.Coats)
	case !positive(f.WallHeight) || f.WallHeight > maxWallHeight:
		return fmt.Errorf("%w: got %s", ErrWallHeight, formatNumber(f.WallHeight))
	case !positive(f.Coverage):
		return fmt.Errorf("%w: got %s", ErrCoverage, formatNumber(f.Coverage))
	case f.Surfaces.Doors && (!positive(f.DoorWidth) || !positive(f.DoorHeight)):
		return ErrDoorSize
	}
	return nil
}

// positive is false for NaN and infinities as well as values <= 0.
func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

// IsInvalid reports whether err came from form validation or an empty custom prompt.
func IsInvalid(err error) bool {
	for _, target := range []error{ErrNoSurface, ErrNoRoom, ErrCoats, ErrWallHeight, ErrCoverage, ErrDoorSize, ErrCustomMissing} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// JoinSentence joins parts as "a, b and c".
func JoinSentence(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}

const paintTemplate = `I want to paint the interior {{.Surfaces}} of the house, including {{.Rooms}}.
{{.PaintTypeHint}}

To calculate wall area to paint for a rectangular room, use formula: 2*(width + length) * height
To calculate ceiling area to paint for a rectangular room, use formula: width * length
{{- if .Doors}}
To calculate door area to paint, use formula: 2 * door width * door height (both sides of each door).
Count the doors shown on the floorplan and assume each door is {{.DoorWidth}}m wide and {{.DoorHeight}}m high.
{{- end}}

Assume that wall height is {{.WallHeight}}m.
I need to paint {{.Coats}} coats for everything.

Assume 1 litre of paint covers {{.Coverage}} sqm for all types of paint.
Provide breakdown of the amount of paint required for each of {{.Surfaces}}.
Calculate the total amount of paint required for each of {{.Surfaces}}.
`

const refinementTemplate = "From given input, return only the JSON (with no markdown markers) showing the amount of paint required for %s."

var paintPrompt = template.Must(template.New("paint").Parse(paintTemplate))

type templateData struct {
	Surfaces      string
	Rooms         string
	PaintTypeHint string
	Doors         bool
	DoorWidth     string
	DoorHeight    string
	WallHeight    string
	Coats         int
	Coverage      string
}

// Build renders the estimate prompt for a validated form.
func Build(form FormState) (string, error) {
	if err := form.Validate(); err != nil {
		return "", fmt.Errorf("prompts: %w", err)
	}

	surfaces := form.SurfaceNames()
	data := templateData{
		Surfaces:   JoinSentence(surfaces),
		Rooms:      JoinSentence(form.RoomNames()),
		Doors:      form.Surfaces.Doors,
		DoorWidth:  formatNumber(form.DoorWidth),
		DoorHeight: formatNumber(form.DoorHeight),
		WallHeight: formatNumber(form.WallHeight),
		Coats:      form.Coats,
		Coverage:   formatNumber(form.Coverage),
	}
	if len(surfaces) > 1 {
		data.PaintTypeHint = fmt.Sprintf("%s use different types of paint.", data.Surfaces)
	}

	var b strings.Builder
	if err := paintPrompt.Execute(&b, data); err != nil {
		return "", fmt.Errorf("prompts: render: %w", err)
	}
	return b.String(), nil
}

// Resolve picks the custom prompt when requested, otherwise builds one from the form.
func Resolve(form FormState, custom string, useCustom bool) (string, error) {
	if useCustom {
		if strings.TrimSpace(custom) == "" {
			return "", fmt.Errorf("prompts: %w", ErrCustomMissing)
		}
		return custom, nil
	}
	return Build(form)
}

// RefinementPrompt asks the model to restate its previous answer as bare JSON.
func RefinementPrompt(form FormState) string {
	target := "wall and ceiling"
	if names := form.SurfaceNames(); len(names) > 0 {
		target = "each of " + JoinSentence(names)
	}
	return fmt.Sprintf(refinementTemplate, target)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
