package templates

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSubstitutesKnownVariables(t *testing.T) {
	body := "Hi {{guest_name}}, check-in at {{property_name}} is {{check_in}}."
	got := Render(body, map[string]string{
		"guest_name":    "Ada",
		"property_name": "Seaside Loft",
		"check_in":      "3:00 PM on Jun 10",
	})
	assert.Equal(t, "Hi Ada, check-in at Seaside Loft is 3:00 PM on Jun 10.", got)
}

func TestRenderLeavesUnknownVerbatim(t *testing.T) {
	got := Render("Door code: {{door_code}}", map[string]string{"guest_name": "Ada"})
	assert.Equal(t, "Door code: {{door_code}}", got, "unknown placeholder must stay verbatim")
}

func TestRenderToleratesWhitespace(t *testing.T) {
	got := Render("Hi {{ guest_name }}!", map[string]string{"guest_name": "Ada"})
	assert.Equal(t, "Hi Ada!", got)
}

func TestRenderStrictFailsOnMissing(t *testing.T) {
	_, err := RenderStrict("Hi {{guest_name}}, code {{door_code}}", map[string]string{"guest_name": "Ada"})
	var missing *ErrMissingVariable
	require.True(t, errors.As(err, &missing), "err = %v, want ErrMissingVariable", err)
	assert.Equal(t, "door_code", missing.Name)
}

func TestRenderStrictSucceedsWhenComplete(t *testing.T) {
	got, err := RenderStrict("Hi {{guest_name}}", map[string]string{"guest_name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada", got)
}

func TestVariablesDeduplicates(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Variables("{{a}} {{b}} {{a}}"))
}
