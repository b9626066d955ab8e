package docstore

import (
	"fmt"
	"strings"
)

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Split separates a document path into its collection path and id.
func Split(path string) (collection, id string, err error) {
	i := strings.LastIndex(path, "/")
	if i <= 0 || i == len(path)-1 {
		return "", "", fmt.Errorf("invalid document path %q", path)
	}
	return path[:i], path[i+1:], nil
}

// Namespace is the application root under which all documents live.
type Namespace string

// DefaultNamespace is used when no application namespace is configured.
const DefaultNamespace Namespace = "default-app-id"

func (n Namespace) owner(ownerID string) string {
	return Join(string(n), "users", ownerID)
}

func (n Namespace) Properties(ownerID string) string {
	return Join(n.owner(ownerID), "properties")
}

func (n Namespace) Flats(ownerID string) string {
	return Join(n.owner(ownerID), "flats")
}

func (n Namespace) Tenants(ownerID string) string {
	return Join(n.owner(ownerID), "tenants")
}

// SelfProfile is the private profile an identity owns.
func (n Namespace) SelfProfile(ownerID string) string {
	return Join(n.owner(ownerID), "userProfile", "profile")
}

// PublicTenants holds tenant projections keyed by contact.
func (n Namespace) PublicTenants() string {
	return Join(string(n), "public", "data", "tenants")
}

func (n Namespace) PublicTenant(contact string) string {
	return Join(n.PublicTenants(), contact)
}

// UserProfiles holds public identity profiles keyed by identity id.
func (n Namespace) UserProfiles() string {
	return Join(string(n), "public", "data", "userProfiles")
}

func (n Namespace) UserProfile(identityID string) string {
	return Join(n.UserProfiles(), identityID)
}

// Accounts holds login credentials keyed by lower-cased email.
func (n Namespace) Accounts() string {
	return Join(string(n), "accounts")
}

func (n Namespace) Account(email string) string {
	return Join(n.Accounts(), strings.ToLower(email))
}
