// Package profile maps provider identity payloads to a normalized user record.
package profile

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrInvalidPayload is returned when a profile body is not a JSON object.
var ErrInvalidPayload = errors.New("profile payload is not a JSON object")

// UserInfo is the normalized user record.
type UserInfo struct {
	ID        string `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// DisplayName returns the first of login, name, email and id that is set.
func (u *UserInfo) DisplayName() string {
	for _, v := range []string{u.Login, u.Name, u.Email, u.ID} {
		if v != "" {
			return v
		}
	}
	return ""
}

// Mapper lists, per UserInfo field, the gjson paths tried in order.
type Mapper struct {
	ID        []string
	Login     []string
	Name      []string
	Email     []string
	AvatarURL []string
}

var mappers = map[string]Mapper{
	"github": {
		ID:        []string{"id"},
		Login:     []string{"login"},
		Name:      []string{"name"},
		Email:     []string{"email"},
		AvatarURL: []string{"avatar_url"},
	},
	"gitlab": {
		ID:        []string{"id"},
		Login:     []string{"username"},
		Name:      []string{"name"},
		Email:     []string{"email", "public_email"},
		AvatarURL: []string{"avatar_url"},
	},
	"gitea": {
		ID:        []string{"id"},
		Login:     []string{"login", "username"},
		Name:      []string{"full_name"},
		Email:     []string{"email"},
		AvatarURL: []string{"avatar_url"},
	},
	"google": {
		ID:        []string{"sub", "id"},
		Login:     []string{"email"},
		Name:      []string{"name"},
		Email:     []string{"email"},
		AvatarURL: []string{"picture"},
	},
	"twitter": {
		ID:        []string{"id_str", "data.id"},
		Login:     []string{"screen_name", "data.username"},
		Name:      []string{"name", "data.name"},
		Email:     []string{"email"},
		AvatarURL: []string{"profile_image_url_https", "data.profile_image_url"},
	},
}

// generic is used for templates without their own mapper.
var generic = Mapper{
	ID:        []string{"id", "sub", "user_id"},
	Login:     []string{"login", "username", "preferred_username", "screen_name"},
	Name:      []string{"name", "full_name", "display_name"},
	Email:     []string{"email"},
	AvatarURL: []string{"avatar_url", "picture"},
}

// For returns the mapper registered for a template name, or the generic one.
func For(template string) Mapper {
	if m, ok := mappers[template]; ok {
		return m
	}
	return generic
}

// Map decodes raw with the mapper of template.
func Map(template string, raw []byte) (*UserInfo, error) {
	return For(template).Map(raw)
}

// Map decodes raw into a UserInfo.
func (m Mapper) Map(raw []byte) (*UserInfo, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrInvalidPayload
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidPayload, doc.Type)
	}
	return &UserInfo{
		ID:        first(doc, m.ID),
		Login:     first(doc, m.Login),
		Name:      first(doc, m.Name),
		Email:     first(doc, m.Email),
		AvatarURL: first(doc, m.AvatarURL),
	}, nil
}

func first(doc gjson.Result, paths []string) string {
	for _, p := range paths {
		if v := doc.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
