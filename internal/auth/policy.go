// Package auth holds the token layer and the authorization policy: the one
// place in the codebase where roles are compared and mutation rights are
// decided. Policy checks are pure functions over a freshly loaded user row;
// nothing here caches account state.
package auth

import (
	"time"

	"github.com/eldtechnologies/parley/internal/models"
)

// Roles in ascending rank order.
const (
	RoleUser       = "user"
	RoleManager    = "manager"
	RoleAdmin      = "admin"
	RoleSuperadmin = "superadmin"
)

// roleRank is the single ordered rank table. Role comparisons must go
// through Rank; call sites never compare role strings directly.
var roleRank = map[string]int{
	RoleUser:       0,
	RoleManager:    1,
	RoleAdmin:      2,
	RoleSuperadmin: 3,
}

// Rank returns the numeric rank of a role, or -1 for unknown roles.
func Rank(role string) int {
	if r, ok := roleRank[role]; ok {
		return r
	}
	return -1
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	_, ok := roleRank[role]
	return ok
}

// Denial is an authorization failure with a stable wire code.
type Denial struct {
	Code    string
	Message string
}

func (d *Denial) Error() string { return d.Message }

// Denial reasons surfaced to requesters. The codes are part of the client
// protocol and must not change.
var (
	ErrLocked        = &Denial{Code: "locked", Message: "account is locked"}
	ErrBanned        = &Denial{Code: "banned", Message: "account is banned"}
	ErrNotOwner      = &Denial{Code: "not_owner_or_admin", Message: "only the sender or an admin may retract this message"}
	ErrWindowExpired = &Denial{Code: "window_expired", Message: "the retraction window has expired"}
	ErrForbidden     = &Denial{Code: "forbidden", Message: "insufficient role"}
)

// Policy decides whether an actor may send, retract, or moderate.
type Policy struct {
	// AdminBypassWindow lets admin-rank actors retract any message
	// regardless of the deadline. When false, admins still retract other
	// users' messages but only inside the window.
	AdminBypassWindow bool
}

// CanSend reports whether the actor may post to a room. Only account
// status matters; every active account may send.
func (p Policy) CanSend(actor *models.User) error {
	if actor.Banned {
		return ErrBanned
	}
	if actor.Locked {
		return ErrLocked
	}
	return nil
}

// CanRetract reports whether the actor may retract msg at time now.
// Owners retract inside the window; admin-rank actors retract any message,
// subject to the window unless AdminBypassWindow is set.
func (p Policy) CanRetract(actor *models.User, msg *models.Message, now time.Time) error {
	isAdmin := Rank(actor.Role) >= Rank(RoleAdmin)
	isOwner := actor.ID.String() == msg.SenderID

	if !isOwner && !isAdmin {
		return ErrNotOwner
	}
	if isAdmin && p.AdminBypassWindow {
		return nil
	}
	if now.UnixMilli() > msg.RetractDeadline {
		return ErrWindowExpired
	}
	return nil
}

// CanModerate reports whether the actor may change the account state
// (lock/ban) of a target with the given role. Requires admin rank and a
// strictly higher rank than the target: equal or lower rank never
// moderates a higher-or-equal rank.
func (p Policy) CanModerate(actor *models.User, targetRole string) error {
	actorRank := Rank(actor.Role)
	if actorRank < Rank(RoleAdmin) {
		return ErrForbidden
	}
	if actorRank <= Rank(targetRole) {
		return ErrForbidden
	}
	return nil
}

// CanGrantRole reports whether the actor may change a target's role.
// Moderation rules apply, and only the top rank may grant its own rank.
func (p Policy) CanGrantRole(actor *models.User, targetRole, newRole string) error {
	if !ValidRole(newRole) {
		return ErrForbidden
	}
	if err := p.CanModerate(actor, targetRole); err != nil {
		return err
	}
	if Rank(newRole) >= Rank(RoleSuperadmin) && Rank(actor.Role) < Rank(RoleSuperadmin) {
		return ErrForbidden
	}
	return nil
}
