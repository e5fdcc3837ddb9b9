package models

// Character is the persona a session talks to. The turn pipeline only ever
// reads these records; creation and editing happen elsewhere.
type Character struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Persona     string `json:"persona,omitempty" yaml:"persona"`
	// Type and Gender are free-form declarations rendered into the persona
	// prompt ("anime companion", "female", ...)
	Type   string `json:"type,omitempty" yaml:"type"`
	Gender string `json:"gender,omitempty" yaml:"gender"`
	// NSFW enables adult content for sessions with this character
	NSFW bool `json:"nsfw,omitempty" yaml:"nsfw"`
	// Traits are 0..1 sliders rendered at two-decimal precision; an empty
	// map omits the trait summary entirely
	Traits map[string]float64 `json:"traits,omitempty" yaml:"traits"`
	// AvatarURL is display metadata only
	AvatarURL string `json:"avatar_url,omitempty" yaml:"avatar_url"`
}
