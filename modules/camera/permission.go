package camera

// Permission is the last known camera permission state.
type Permission int

const (
	PermissionPending Permission = iota
	PermissionGranted
	PermissionDenied
	PermissionUnavailable
)

func (p Permission) String() string {
	switch p {
	case PermissionPending:
		return "pending"
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	case PermissionUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

func permissionFor(kind ErrorKind) Permission {
	if kind == KindPermissionDenied {
		return PermissionDenied
	}
	return PermissionUnavailable
}
