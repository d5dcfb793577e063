package controllers

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jacksonlee411/loanportal/internal/routing"
	"github.com/jacksonlee411/loanportal/modules/lending/domain/types"
	"github.com/jacksonlee411/loanportal/modules/lending/services"
)

// AdminController serves the back-office routes. The role floor for
// /admin/api is enforced upstream; the service re-checks per operation.
type AdminController struct {
	Actor   ActorGetter
	Lending Lending
}

type assignRequest struct {
	OfficerID string `json:"officer_id"`
}

type transitionRequest struct {
	To             string           `json:"to"`
	Note           string           `json:"note"`
	ApprovedAmount *decimal.Decimal `json:"approved_amount"`
}

type fundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

type noteRequest struct {
	Body     string `json:"body"`
	Internal bool   `json:"internal"`
}

func (c AdminController) actor(w http.ResponseWriter, r *http.Request) (types.Actor, bool) {
	return ApplicationsController{Actor: c.Actor}.actor(w, r)
}

func (c AdminController) HandleListApplications(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset")
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := types.ListFilter{
		Status:     types.Status(strings.TrimSpace(q.Get("status"))),
		LoanType:   types.LoanType(strings.TrimSpace(q.Get("loan_type"))),
		AssignedTo: strings.TrimSpace(q.Get("assigned_to")),
		Query:      q.Get("q"),
		Limit:      limit,
		Offset:     offset,
	}
	apps, err := c.Lending.List(r.Context(), actor, filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, map[string]any{"applications": apps})
}

func (c AdminController) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	d, err := c.Lending.Dashboard(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, d)
}

func (c AdminController) HandleAssign(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	var req assignRequest
	if !decodeBody(w, r, &req) {
		return
	}
	app, err := c.Lending.Assign(r.Context(), actor, routing.PathParam(r, "id"), req.OfficerID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, withNext(app))
}

func (c AdminController) HandleTransition(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	to := strings.TrimSpace(req.To)
	if to == "" {
		writeError(w, r, http.StatusBadRequest, "missing_to", "to is required")
		return
	}
	app, err := c.Lending.Transition(r.Context(), actor, routing.PathParam(r, "id"), services.TransitionInput{
		To:             types.Status(to),
		Note:           req.Note,
		ApprovedAmount: req.ApprovedAmount,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, withNext(app))
}

func (c AdminController) HandleFund(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	var req fundRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Amount == nil {
		writeError(w, r, http.StatusBadRequest, "missing_amount", "amount is required")
		return
	}
	app, err := c.Lending.Fund(r.Context(), actor, routing.PathParam(r, "id"), *req.Amount)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, withNext(app))
}

func (c AdminController) HandleListNotes(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	notes, err := c.Lending.Notes(r.Context(), actor, routing.PathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

func (c AdminController) HandleAddNote(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	note, err := c.Lending.AddNote(r.Context(), actor, routing.PathParam(r, "id"), req.Body, req.Internal)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusCreated, note)
}

func (c AdminController) Register(router *routing.Router) {
	rc := routing.RouteClassInternalAPI
	router.Handle(rc, http.MethodGet, "/admin/api/applications", http.HandlerFunc(c.HandleListApplications))
	router.Handle(rc, http.MethodGet, "/admin/api/dashboard", http.HandlerFunc(c.HandleDashboard))
	router.Handle(rc, http.MethodPost, "/admin/api/applications/{id}/assign", http.HandlerFunc(c.HandleAssign))
	router.Handle(rc, http.MethodPost, "/admin/api/applications/{id}/transition", http.HandlerFunc(c.HandleTransition))
	router.Handle(rc, http.MethodPost, "/admin/api/applications/{id}/fund", http.HandlerFunc(c.HandleFund))
	router.Handle(rc, http.MethodGet, "/admin/api/applications/{id}/notes", http.HandlerFunc(c.HandleListNotes))
	router.Handle(rc, http.MethodPost, "/admin/api/applications/{id}/notes", http.HandlerFunc(c.HandleAddNote))
}
