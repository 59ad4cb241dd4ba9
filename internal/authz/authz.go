// Package authz holds the source of truth mapping a financial action to the
// operator roles permitted to request it (§4 of the original ROLE_ACTION_MAP).
package authz

// ActionRoles maps each recognized action to the roles allowed to request
// it. "informational" is the general-purpose action any authenticated
// operator may use.
var ActionRoles = map[string][]string{
	"transfer":           {"teller"},
	"check_balance":      {"teller", "advisor"},
	"pay_bill":           {"teller", "customer_service"},
	"approve_loan":       {"manager", "loan_officer"},
	"create_account":     {"teller"},
	"audit_transaction":  {"audit_reader"},
	"delete_account":     {"manager"},
	"informational":      {"teller", "advisor", "manager", "customer_service"},
}

// Authorize reports whether any of userRoles satisfies action's required
// role set. An action with no entry in ActionRoles is authorized for no
// one — an unrecognized action must never be implicitly permitted.
func Authorize(action string, userRoles []string) bool {
	required, ok := ActionRoles[action]
	if !ok {
		return false
	}
	for _, have := range userRoles {
		for _, need := range required {
			if have == need {
				return true
			}
		}
	}
	return false
}
