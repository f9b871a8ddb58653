package prompts

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinSentence(t *testing.T) {
	assert.Equal(t, "", JoinSentence(nil))
	assert.Equal(t, "walls", JoinSentence([]string{"walls"}))
	assert.Equal(t, "ceiling and walls", JoinSentence([]string{"ceiling", "walls"}))
	assert.Equal(t, "ceiling, walls and doors", JoinSentence([]string{"ceiling", "walls", "doors"}))
}

func TestBuildDefaultForm(t *testing.T) {
	prompt, err := Build(DefaultFormState())
	require.NoError(t, err)

	want := "I want to paint the interior walls of the house, including bedrooms and dining/lounge room.\n" +
		"\n" +
		"\n" +
		"To calculate wall area to paint for a rectangular room, use formula: 2*(width + length) * height\n" +
		"To calculate ceiling area to paint for a rectangular room, use formula: width * length\n" +
		"\n" +
		"Assume that wall height is 2.5m.\n" +
		"I need to paint 2 coats for everything.\n" +
		"\n" +
		"Assume 1 litre of paint covers 10 sqm for all types of paint.\n" +
		"Provide breakdown of the amount of paint required for each of walls.\n" +
		"Calculate the total amount of paint required for each of walls.\n"
	assert.Equal(t, want, prompt)
}

func TestBuildMultipleSurfacesAddsPaintTypeHint(t *testing.T) {
	form := DefaultFormState()
	form.Surfaces.Ceiling = true
	form.Rooms = Rooms{Bedrooms: true, DiningLounge: true, Kitchen: true, Bathrooms: true}
	form.Coats = 3
	form.WallHeight = 2.7
	form.Coverage = 12.5

	prompt, err := Build(form)
	require.NoError(t, err)

	assert.Contains(t, prompt, "interior ceiling and walls of the house, including bedrooms, dining/lounge room, bathroom and kitchen.")
	assert.Contains(t, prompt, "\nceiling and walls use different types of paint.\n")
	assert.Contains(t, prompt, "wall height is 2.7m.")
	assert.Contains(t, prompt, "I need to paint 3 coats")
	assert.Contains(t, prompt, "covers 12.5 sqm")
	assert.NotContains(t, prompt, "door area")
}

func TestBuildWithDoors(t *testing.T) {
	form := DefaultFormState()
	form.Surfaces = Surfaces{Walls: true, Ceiling: true, Doors: true}

	prompt, err := Build(form)
	require.NoError(t, err)

	assert.Contains(t, prompt, "interior ceiling, walls and doors of the house")
	assert.Contains(t, prompt, "use formula: width * length\nTo calculate door area to paint")
	assert.Contains(t, prompt, "each door is 0.82m wide and 2.04m high.\n\nAssume that wall height")
	assert.Contains(t, prompt, "for each of ceiling, walls and doors.\n")
}

func TestBuildIsDeterministic(t *testing.T) {
	form := DefaultFormState()
	form.Surfaces.Doors = true
	first, err := Build(form)
	require.NoError(t, err)
	second, err := Build(form)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*FormState)
		want   error
	}{
		{"defaults", func(*FormState) {}, nil},
		{"no surface", func(f *FormState) { f.Surfaces = Surfaces{} }, ErrNoSurface},
		{"no room", func(f *FormState) { f.Rooms = Rooms{} }, ErrNoRoom},
		{"zero coats", func(f *FormState) { f.Coats = 0 }, ErrCoats},
		{"too many coats", func(f *FormState) { f.Coats = 4 }, ErrCoats},
		{"flat walls", func(f *FormState) { f.WallHeight = 0 }, ErrWallHeight},
		{"tower walls", func(f *FormState) { f.WallHeight = 12 }, ErrWallHeight},
		{"no coverage", func(f *FormState) { f.Coverage = -1 }, ErrCoverage},
		{"NaN wall height", func(f *FormState) { f.WallHeight = math.NaN() }, ErrWallHeight},
		{"infinite wall height", func(f *FormState) { f.WallHeight = math.Inf(1) }, ErrWallHeight},
		{"NaN coverage", func(f *FormState) { f.Coverage = math.NaN() }, ErrCoverage},
		{"infinite coverage", func(f *FormState) { f.Coverage = math.Inf(1) }, ErrCoverage},
		{"NaN door width", func(f *FormState) {
			f.Surfaces.Doors = true
			f.DoorWidth = math.NaN()
		}, ErrDoorSize},
		{"infinite door height", func(f *FormState) {
			f.Surfaces.Doors = true
			f.DoorHeight = math.Inf(1)
		}, ErrDoorSize},
		{"doors without size", func(f *FormState) {
			f.Surfaces.Doors = true
			f.DoorWidth = 0
		}, ErrDoorSize},
		{"door size ignored without doors", func(f *FormState) { f.DoorHeight = 0 }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := DefaultFormState()
			tt.mutate(&form)
			err := form.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBuildRejectsInvalidForm(t *testing.T) {
	form := DefaultFormState()
	form.Rooms = Rooms{}
	_, err := Build(form)
	assert.ErrorIs(t, err, ErrNoRoom)
}

func TestResolve(t *testing.T) {
	form := DefaultFormState()
	form.Surfaces = Surfaces{}

	custom, err := Resolve(form, "How much paint for the lounge?", true)
	require.NoError(t, err)
	assert.Equal(t, "How much paint for the lounge?", custom)

	_, err = Resolve(form, "   ", true)
	assert.ErrorIs(t, err, ErrCustomMissing)

	_, err = Resolve(form, "ignored", false)
	assert.ErrorIs(t, err, ErrNoSurface)
}

func TestRefinementPrompt(t *testing.T) {
	form := DefaultFormState()
	form.Surfaces.Ceiling = true
	assert.Equal(t,
		"From given input, return only the JSON (with no markdown markers) showing the amount of paint required for each of ceiling and walls.",
		RefinementPrompt(form))

	assert.Equal(t,
		"From given input, return only the JSON (with no markdown markers) showing the amount of paint required for wall and ceiling.",
		RefinementPrompt(FormState{}))
}
