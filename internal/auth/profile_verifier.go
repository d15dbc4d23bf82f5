package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const maxDisplayNameLength = 64

// presencePalette matches the colors the browser clients assign to cursors
// and rosters. A participant who does not pick a color gets one derived
// from their name, so the same name lands on the same color across joins.
var presencePalette = []string{
	"#e63946", "#f4a261", "#2a9d8f", "#264653",
	"#457b9d", "#8338ec", "#ff006e", "#06d6a0",
}

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

var (
	errMissingCredential  = errors.New("credential must not be empty")
	errMissingDisplayName = errors.New("display name must not be empty")
	errDisplayNameTooLong = errors.New("display name too long")
	errInvalidColor       = errors.New("color must be a #rrggbb value")
)

// ProfileVerifier resolves self-asserted profile credentials: the credential
// is a JSON document {"name": ..., "color": ...} supplied by the client at
// session start. There is no upstream account system; the verifier's job is
// validation and identity minting, not authentication of a principal.
type ProfileVerifier struct {
	newID func() (uuid.UUID, error)
}

// NewProfileVerifier constructs a verifier minting UUIDv7 participant IDs.
func NewProfileVerifier() *ProfileVerifier {
	return &ProfileVerifier{newID: uuid.NewV7}
}

type profileCredential struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Verify parses and validates the profile credential and mints a fresh
// participant identity for it.
func (v *ProfileVerifier) Verify(_ context.Context, credential string) (Identity, error) {
	trimmed := strings.TrimSpace(credential)
	if trimmed == "" {
		return Identity{}, errMissingCredential
	}

	var profile profileCredential
	if err := json.Unmarshal([]byte(trimmed), &profile); err != nil {
		return Identity{}, fmt.Errorf("malformed profile credential: %w", err)
	}

	displayName := strings.TrimSpace(profile.Name)
	if displayName == "" {
		return Identity{}, errMissingDisplayName
	}
	if utf8.RuneCountInString(displayName) > maxDisplayNameLength {
		return Identity{}, errDisplayNameTooLong
	}

	color := strings.TrimSpace(profile.Color)
	if color == "" {
		color = paletteColor(displayName)
	} else if !colorPattern.MatchString(color) {
		return Identity{}, errInvalidColor
	}

	id, err := v.newID()
	if err != nil {
		return Identity{}, fmt.Errorf("failed to mint participant id: %w", err)
	}

	return Identity{
		UserID:      id.String(),
		DisplayName: displayName,
		Color:       color,
	}, nil
}

func paletteColor(displayName string) string {
	var sum int
	for _, r := range displayName {
		sum += int(r)
	}
	return presencePalette[sum%len(presencePalette)]
}
