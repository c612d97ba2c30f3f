// Package identity picks the display identity a participant shows to others
// in a room: a color that stands out from the colors already in use and, for
// anonymous participants, a generated name.
package identity

// Identity is the authenticated user supplied by the login flow, if any.
type Identity struct {
	ID          string
	Name        string
	Picture     string
	IsAnonymous bool
}

// Authenticated reports whether id names a real, non-anonymous account.
func (id *Identity) Authenticated() bool {
	return id != nil && !id.IsAnonymous
}

// DisplayName returns the account name for authenticated identities and a
// freshly generated name otherwise.
func (id *Identity) DisplayName(gen *NameGenerator) string {
	if id.Authenticated() && id.Name != "" {
		return id.Name
	}
	if gen == nil {
		return GenerateUniqueName()
	}
	return gen.Generate()
}

// PictureURL returns the picture only for authenticated identities.
func (id *Identity) PictureURL() string {
	if !id.Authenticated() {
		return ""
	}
	return id.Picture
}
