package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jacksonlee411/loanportal/internal/routing"
	"github.com/jacksonlee411/loanportal/modules/lending/domain/types"
	"github.com/jacksonlee411/loanportal/modules/lending/services"
)

// Lending is the service surface the HTTP handlers drive.
type Lending interface {
	Catalog() *services.Catalog
	CreateDraft(ctx context.Context, actor types.Actor, in services.CreateDraftInput) (types.Application, error)
	UpdateDraft(ctx context.Context, actor types.Actor, id string, patch services.DraftPatch) (types.Application, error)
	Submit(ctx context.Context, actor types.Actor, id string) (types.Application, error)
	Withdraw(ctx context.Context, actor types.Actor, id string, note string) (types.Application, error)
	Get(ctx context.Context, actor types.Actor, id string) (types.Application, error)
	ListMine(ctx context.Context, actor types.Actor) ([]types.Application, error)
	Events(ctx context.Context, actor types.Actor, id string) ([]types.StatusEvent, error)
	List(ctx context.Context, actor types.Actor, filter types.ListFilter) ([]types.Application, error)
	Assign(ctx context.Context, actor types.Actor, id string, officerID string) (types.Application, error)
	Transition(ctx context.Context, actor types.Actor, id string, in services.TransitionInput) (types.Application, error)
	Fund(ctx context.Context, actor types.Actor, id string, amount decimal.Decimal) (types.Application, error)
	AddNote(ctx context.Context, actor types.Actor, id string, body string, internal bool) (types.Note, error)
	Notes(ctx context.Context, actor types.Actor, id string) ([]types.Note, error)
	Dashboard(ctx context.Context, actor types.Actor) (types.Dashboard, error)
	ListNotifications(ctx context.Context, actor types.Actor, unreadOnly bool) ([]types.Notification, error)
	MarkNotificationRead(ctx context.Context, actor types.Actor, id string) (types.Notification, error)
}

var _ Lending = (*services.Service)(nil)

type ApplicationsController struct {
	Actor   ActorGetter
	Lending Lending
}

type createApplicationRequest struct {
	BusinessName string          `json:"business_name"`
	LoanType     string          `json:"loan_type"`
	Amount       decimal.Decimal `json:"amount"`
	TermMonths   int             `json:"term_months"`
	Purpose      string          `json:"purpose"`
	FormData     map[string]any  `json:"form_data"`
}

type updateApplicationRequest struct {
	BusinessName *string          `json:"business_name"`
	LoanType     *string          `json:"loan_type"`
	Amount       *decimal.Decimal `json:"amount"`
	TermMonths   *int             `json:"term_months"`
	Purpose      *string          `json:"purpose"`
	FormData     map[string]any   `json:"form_data"`
}

type withdrawRequest struct {
	Note string `json:"note"`
}

type applicationResponse struct {
	types.Application
	NextStatuses []types.Status `json:"next_statuses"`
}

func withNext(app types.Application) applicationResponse {
	next := services.NextStatuses(app.Status)
	if next == nil {
		next = []types.Status{}
	}
	return applicationResponse{Application: app, NextStatuses: next}
}

func (c ApplicationsController) actor(w http.ResponseWriter, r *http.Request) (types.Actor, bool) {
	actor, ok := c.Actor(r.Context())
	if !ok || strings.TrimSpace(actor.ID) == "" {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated", "sign in required")
		return types.Actor{}, false
	}
	return actor, true
}

func (c ApplicationsController) HandleProducts(w http.ResponseWriter, r *http.Request) {
	products := c.Lending.Catalog().Products()
	routing.WriteJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (c ApplicationsController) HandleListApplications(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	apps, err := c.Lending.ListMine(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, map[string]any{"applications": apps})
}

func (c ApplicationsController) HandleCreateApplication(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	var req createApplicationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	app, err := c.Lending.CreateDraft(r.Context(), actor, services.CreateDraftInput{
		BusinessName: req.BusinessName,
		LoanType:     types.LoanType(strings.TrimSpace(req.LoanType)),
		Amount:       req.Amount,
		TermMonths:   req.TermMonths,
		Purpose:      req.Purpose,
		FormData:     req.FormData,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusCreated, withNext(app))
}

func (c ApplicationsController) HandleGetApplication(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	app, err := c.Lending.Get(r.Context(), actor, routing.PathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, withNext(app))
}

func (c ApplicationsController) HandleUpdateApplication(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	var req updateApplicationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	patch := services.DraftPatch{
		BusinessName: req.BusinessName,
		Amount:       req.Amount,
		TermMonths:   req.TermMonths,
		Purpose:      req.Purpose,
		FormData:     req.FormData,
	}
	if req.LoanType != nil {
		lt := types.LoanType(strings.TrimSpace(*req.LoanType))
		patch.LoanType = &lt
	}
	app, err := c.Lending.UpdateDraft(r.Context(), actor, routing.PathParam(r, "id"), patch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, withNext(app))
}

func (c ApplicationsController) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	app, err := c.Lending.Submit(r.Context(), actor, routing.PathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, withNext(app))
}

func (c ApplicationsController) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if !decodeBody(w, r, &req) {
		return
	}
	app, err := c.Lending.Withdraw(r.Context(), actor, routing.PathParam(r, "id"), req.Note)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, withNext(app))
}

func (c ApplicationsController) HandleEvents(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	events, err := c.Lending.Events(r.Context(), actor, routing.PathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (c ApplicationsController) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	unread := strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("unread")), "true")
	items, err := c.Lending.ListNotifications(r.Context(), actor, unread)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

func (c ApplicationsController) HandleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	n, err := c.Lending.MarkNotificationRead(r.Context(), actor, routing.PathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, n)
}

// Register mounts the portal routes on router.
func (c ApplicationsController) Register(router *routing.Router) {
	rc := routing.RouteClassInternalAPI
	router.Handle(rc, http.MethodGet, "/loan/api/products", http.HandlerFunc(c.HandleProducts))
	router.Handle(rc, http.MethodGet, "/loan/api/applications", http.HandlerFunc(c.HandleListApplications))
	router.Handle(rc, http.MethodPost, "/loan/api/applications", http.HandlerFunc(c.HandleCreateApplication))
	router.Handle(rc, http.MethodGet, "/loan/api/applications/{id}", http.HandlerFunc(c.HandleGetApplication))
	router.Handle(rc, http.MethodPatch, "/loan/api/applications/{id}", http.HandlerFunc(c.HandleUpdateApplication))
	router.Handle(rc, http.MethodPost, "/loan/api/applications/{id}/submit", http.HandlerFunc(c.HandleSubmit))
	router.Handle(rc, http.MethodPost, "/loan/api/applications/{id}/withdraw", http.HandlerFunc(c.HandleWithdraw))
	router.Handle(rc, http.MethodGet, "/loan/api/applications/{id}/events", http.HandlerFunc(c.HandleEvents))
	router.Handle(rc, http.MethodGet, "/loan/api/notifications", http.HandlerFunc(c.HandleListNotifications))
	router.Handle(rc, http.MethodPost, "/loan/api/notifications/{id}/read", http.HandlerFunc(c.HandleMarkNotificationRead))
}
