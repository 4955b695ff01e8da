package realtime

// UserType tags how a connection identified itself.
type UserType string

const (
	UserTypeUser    UserType = "user"
	UserTypePartner UserType = "partner"
	UserTypeGuest   UserType = "guest"
)

// Identity is the logical actor bound to a connection.
//
// Users and partners share one id namespace (registry key and "user:<id>" room);
// guests are namespaced under "guest:".
type Identity struct {
	Type UserType
	ID   string
}

// UserIdentity returns a registered-user identity.
func UserIdentity(id string) Identity { return Identity{Type: UserTypeUser, ID: id} }

// PartnerIdentity returns a partner identity.
func PartnerIdentity(id string) Identity { return Identity{Type: UserTypePartner, ID: id} }

// GuestIdentity returns an anonymous guest identity.
func GuestIdentity(anonymousID string) Identity {
	return Identity{Type: UserTypeGuest, ID: anonymousID}
}

// IsZero reports whether no identity is set.
func (i Identity) IsZero() bool { return i.ID == "" }

// IsGuest reports whether the identity is an anonymous guest.
func (i Identity) IsGuest() bool { return i.Type == UserTypeGuest }

// RegistryKey is the key used by the connection registry. Every key carries its
// namespace prefix, so a user id that looks like "guest:g1" cannot take a guest's slot.
func (i Identity) RegistryKey() string {
	if i.IsGuest() {
		return roomPrefixGuest + i.ID
	}
	return roomPrefixUser + i.ID
}

// Room is the per-identity room used for targeted delivery.
func (i Identity) Room() string {
	if i.IsGuest() {
		return GuestRoom(i.ID)
	}
	return UserRoom(i.ID)
}

func (i Identity) String() string {
	return string(i.Type) + ":" + i.ID
}
