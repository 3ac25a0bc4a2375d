package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"enrolhub.org/internal/audit"
	"enrolhub.org/internal/auth"
	"enrolhub.org/internal/enrolment"
	"enrolhub.org/internal/obs"
)

type createOrganisationRequest struct {
	Name               string `json:"name"`
	OrganisationType   int    `json:"organisationType"`
	NationCode         string `json:"nationCode"`
	IsComplianceScheme bool   `json:"isComplianceScheme"`
}

type updatePersonRoleRequest struct {
	ServiceKey string `json:"serviceKey"`
	PersonRole string `json:"personRole"`
}

type nominationRequest struct {
	ServiceKey                   string `json:"serviceKey"`
	RelationshipType             string `json:"relationshipType"`
	ConsultancyName              string `json:"consultancyName,omitempty"`
	ComplianceSchemeName         string `json:"complianceSchemeName,omitempty"`
	OtherOrganisationName        string `json:"otherOrganisationName,omitempty"`
	OtherRelationshipDescription string `json:"otherRelationshipDescription,omitempty"`
	NomineeJobTitle              string `json:"nomineeJobTitle,omitempty"`
	NominatorDeclaration         string `json:"nominatorDeclaration"`
}

type acceptNominationRequest struct {
	ServiceKey         string `json:"serviceKey"`
	Telephone          string `json:"telephone"`
	NomineeDeclaration string `json:"nomineeDeclaration"`
}

type activateUserRequest struct {
	InviteToken string `json:"inviteToken"`
	UserID      string `json:"userId"`
}

// callerID resolves the acting user: the authenticated subject, or the
// X-User-Id header when authentication is disabled in development.
func callerID(r *http.Request) string {
	if userID, ok := auth.UserIDFromContext(r.Context()); ok {
		return userID
	}
	return strings.TrimSpace(r.Header.Get("X-User-Id"))
}

func (a *API) handleOrganisations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req createOrganisationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org, err := a.svc.CreateOrganisation(r.Context(), req.Name, req.OrganisationType, req.NationCode, req.IsComplianceScheme)
	if err != nil {
		handleEnrolmentError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "enrolment.organisation.created", map[string]any{
		"organisation_id": org.ID,
		"name":            org.Name,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/organisations/%s", org.ID))
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":   org.ID,
		"name": org.Name,
	})
}

func (a *API) handleOrganisationScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/organisations/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	orgID := parts[0]
	switch parts[1] {
	case "invitations":
		if len(parts) != 2 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handleInvitations(w, r, orgID)
	case "authorisations":
		if len(parts) != 3 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handleAuthorisation(w, r, orgID, parts[2])
	case "connections":
		if len(parts) != 4 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		connID := parts[2]
		switch parts[3] {
		case "enrolments":
			a.handleConnectionEnrolments(w, r, orgID, connID)
		case "person-role":
			a.handlePersonRole(w, r, orgID, connID)
		case "nominations":
			a.handleNominations(w, r, orgID, connID)
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
	case "enrolments":
		if len(parts) != 5 || parts[3] != "nomination" || parts[4] != "accept" {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handleAcceptNomination(w, r, orgID, parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleInvitations(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	serviceKey := serviceKeyParam(r)
	var req enrolment.InvitePersonRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	invited, err := a.svc.InvitePerson(r.Context(), orgID, serviceKey, req)
	if err != nil {
		handleEnrolmentError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "enrolment.person.invited", map[string]any{
		"organisation_id": orgID,
		"person_id":       invited.PersonID,
		"connection_id":   invited.ConnectionID,
		"enrolment_id":    invited.EnrolmentID,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/organisations/%s/connections/%s", orgID, invited.ConnectionID))
	writeJSON(w, http.StatusCreated, invited)
}

func (a *API) handleAuthorisation(w http.ResponseWriter, r *http.Request, orgID, scope string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	ctx := r.Context()
	serviceKey := serviceKeyParam(r)
	caller := callerID(r)

	var (
		authorised bool
		err        error
	)
	switch scope {
	case "manage-users":
		authorised, err = a.svc.IsAuthorisedToManageUsers(ctx, caller, orgID, serviceKey)
	case "manage-delegated-users":
		authorised, err = a.svc.IsAuthorisedToManageDelegatedUsers(ctx, caller, orgID, serviceKey)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authorised": authorised,
	})
}

func (a *API) handleConnectionEnrolments(w http.ResponseWriter, r *http.Request, orgID, connID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	resp, err := a.svc.ConnectionWithEnrolments(r.Context(), connID, orgID, serviceKeyParam(r))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if resp == nil {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePersonRole(w http.ResponseWriter, r *http.Request, orgID, connID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	var req updatePersonRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := enrolment.ParsePersonRole(strings.TrimSpace(req.PersonRole))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := a.svc.UpdatePersonRole(r.Context(), connID, callerID(r), orgID, req.ServiceKey, role)
	if err != nil {
		obs.ObserveTransition("update_person_role", "rejected")
		var rmErr *enrolment.RoleManagementError
		if errors.As(err, &rmErr) {
			writeError(w, r, roleErrorStatus(rmErr.Message), rmErr.Message)
			return
		}
		handleEnrolmentError(w, r, err)
		return
	}
	obs.ObserveTransition("update_person_role", "applied")
	_ = audit.LogEvent(r.Context(), "enrolment.role.updated", map[string]any{
		"organisation_id": orgID,
		"connection_id":   connID,
		"person_role":     req.PersonRole,
		"removed_roles":   len(resp.RemovedServiceRoles),
	})
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleNominations(w http.ResponseWriter, r *http.Request, orgID, connID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req nominationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	relType, err := enrolment.ParseRelationship(strings.TrimSpace(req.RelationshipType))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.svc.NominateToDelegatedPerson(r.Context(), connID, callerID(r), orgID, req.ServiceKey, enrolment.NominationRequest{
		RelationshipType:             relType,
		ConsultancyName:              req.ConsultancyName,
		ComplianceSchemeName:         req.ComplianceSchemeName,
		OtherOrganisationName:        req.OtherOrganisationName,
		OtherRelationshipDescription: req.OtherRelationshipDescription,
		NomineeJobTitle:              req.NomineeJobTitle,
		NominatorDeclaration:         req.NominatorDeclaration,
	})
	if err != nil {
		obs.ObserveTransition("nominate", "error")
		handleEnrolmentError(w, r, err)
		return
	}
	if !res.Succeeded {
		obs.ObserveTransition("nominate", "rejected")
		writeJSON(w, http.StatusBadRequest, res)
		return
	}
	obs.ObserveTransition("nominate", "applied")
	_ = audit.LogEvent(r.Context(), "enrolment.nomination.created", map[string]any{
		"organisation_id": orgID,
		"connection_id":   connID,
	})
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) handleAcceptNomination(w http.ResponseWriter, r *http.Request, orgID, enrolmentID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req acceptNominationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.svc.AcceptNominationToDelegatedPerson(r.Context(), enrolmentID, orgID, callerID(r), req.ServiceKey, enrolment.AcceptNominationRequest{
		Telephone:          req.Telephone,
		NomineeDeclaration: req.NomineeDeclaration,
	})
	if err != nil {
		obs.ObserveTransition("accept_nomination", "error")
		handleEnrolmentError(w, r, err)
		return
	}
	if !res.Succeeded {
		obs.ObserveTransition("accept_nomination", "rejected")
		writeJSON(w, http.StatusBadRequest, res)
		return
	}
	obs.ObserveTransition("accept_nomination", "applied")
	_ = audit.LogEvent(r.Context(), "enrolment.nomination.accepted", map[string]any{
		"organisation_id": orgID,
		"enrolment_id":    enrolmentID,
	})
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleActivateUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req activateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ActivateUser(r.Context(), req.InviteToken, req.UserID); err != nil {
		handleEnrolmentError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "enrolment.user.activated", map[string]any{
		"user_id": req.UserID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func serviceKeyParam(r *http.Request) string {
	service := strings.TrimSpace(r.URL.Query().Get("service"))
	if service == "" {
		service = enrolment.ServiceKeyPackaging
	}
	return service
}

// roleErrorStatus maps a role management message to an HTTP status: an
// unknown service is the caller's input, a missing record is 404, every
// other precondition violation is a conflict with current state.
func roleErrorStatus(msg string) int {
	switch {
	case strings.HasPrefix(msg, "Unsupported service"):
		return http.StatusBadRequest
	case msg == enrolment.MsgNoMatchingRecord:
		return http.StatusNotFound
	default:
		return http.StatusConflict
	}
}

func handleEnrolmentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, enrolment.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, enrolment.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, enrolment.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
