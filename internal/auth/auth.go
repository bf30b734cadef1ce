package auth

// Authorizer answers whether an authenticated user holds administrator rights.
type Authorizer struct {
	adminsIDs map[int64]bool
}

func NewAuthorizer(admins []int64) *Authorizer {
	adminMap := make(map[int64]bool, len(admins))
	for _, id := range admins {
		adminMap[id] = true
	}
	return &Authorizer{adminsIDs: adminMap}
}

func (a *Authorizer) IsAdmin(userID int64) bool {
	_, ok := a.adminsIDs[userID]
	return ok
}
