package enrolment

import "fmt"

// Two error idioms coexist deliberately. Expected business outcomes
// (nomination or acceptance refused because of the target's status) come
// back as a Result value the caller always inspects. Precondition
// violations on a role update come back as a *RoleManagementError: the
// caller was supposed to run the authorisation predicates first, so hitting
// one is treated as exceptional. The message strings are contract text that
// outer layers match on verbatim; do not reword them.

const (
	MsgNoMatchingRecord        = "There is no matching record to update"
	MsgNotEnrolledEdit         = "Not enrolled user cannot be edited"
	MsgInvitedEdit             = "Invited user cannot be edited"
	MsgApprovedPersonEdit      = "Approved person cannot be edited"
	MsgDelegatedPersonEdit     = "Only approved person can edit delegated person enrolment"
	MsgOwnRecordEdit           = "Updating own record is not permitted"
	MsgInvitedNominate         = "Invited user cannot be nominated"
	MsgNotEnrolledNominate     = "Not enrolled user cannot be nominated"
	MsgNotAuthorisedToNominate = "Only approved person can nominate delegated person"
	MsgAlreadyDelegated        = "User already has a delegated person enrolment"
	MsgNoMatchingNomination    = "There is no matching nomination to accept"
)

// MsgUnsupportedService formats the unsupported-service message for a key.
func MsgUnsupportedService(serviceKey string) string {
	return fmt.Sprintf("Unsupported service '%s'", serviceKey)
}

// RoleManagementError is raised when a role update violates a precondition
// the caller should have checked.
type RoleManagementError struct {
	Message string
}

func (e *RoleManagementError) Error() string { return e.Message }

func roleErr(message string) error {
	return &RoleManagementError{Message: message}
}

// Result carries an expected business outcome: Succeeded false plus the
// reason, or Succeeded true. Never used for caller bugs.
type Result struct {
	Succeeded    bool   `json:"succeeded"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func succeeded() Result        { return Result{Succeeded: true} }
func failed(msg string) Result { return Result{Succeeded: false, ErrorMessage: msg} }
