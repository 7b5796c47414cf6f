package domain

// RoomRole is the bucket a user occupies inside a match room. A user holds
// exactly one role per room at any time.
type RoomRole string

const (
	RoleParticipant RoomRole = "participant"
	RoleSpectator   RoomRole = "spectator"
	RoleReferee     RoomRole = "referee"
	RoleCoach       RoomRole = "coach"
	RoleAdmin       RoomRole = "admin"
	RoleSuperAdmin  RoomRole = "super_admin"
)

// ValidRoomRole reports whether role names a joinable bucket.
// super_admin is a privilege level carried on the credential, not a bucket.
func ValidRoomRole(role RoomRole) bool {
	switch role {
	case RoleParticipant, RoleSpectator, RoleReferee, RoleCoach, RoleAdmin:
		return true
	}
	return false
}

// Permission is an extra flag attached to a room participant.
type Permission string

const (
	PermissionMuted Permission = "MUTED"
)
