/*
handlers.go - HTTP API handlers for the unit ledger

PURPOSE:
  Exposes the inventory engines via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the domain engines.

ENDPOINTS:
  Intake:
    POST   /api/intake/validate         Classify a batch of IMEIs
    POST   /api/intake                  Receive a supplier batch

  Sales:
    POST   /api/sales                   Claim, price and commit a cart
    POST   /api/holds                   Claim and price a cart, commit later
    GET    /api/sales/{id}              Get a sales order
    POST   /api/sales/{id}/commit       Commit a pending hold
    POST   /api/sales/{id}/release      Release a pending hold

  Returns and units:
    POST   /api/returns                 Refund one sold unit
    GET    /api/units/{imei}            Get a unit
    POST   /api/units/{imei}/reimport   Put a returned unit back into stock
    POST   /api/units/{imei}/defective  Retire a unit

  Catalog and parties:
    GET    /api/variants                List variants with stock counts
    POST   /api/variants                Create or update a variant
    POST   /api/customers               Create a customer
    GET    /api/customers/{id}          Get a customer
    POST   /api/users                   Create a user

  Search:
    GET    /api/search/{entity}         Keyset search over customers, units, users
                                        ?q=&is_active=&status=&sort=&order=&cursor=&limit=

  Scenarios:
    GET    /api/scenarios               List demo scenarios
    GET    /api/scenarios/current       Scenario loaded by this process
    POST   /api/scenarios/load          Load a demo scenario

  Admin:
    POST   /api/admin/sweep             Release expired holds now
    POST   /api/admin/reconcile         Recompute stock counters now

ACTOR:
  Every mutation requires the X-Actor-ID header. It is recorded as
  created_by / updated_by on the documents and units it touches.

IDEMPOTENCY:
  POST /api/sales and POST /api/holds honour the Idempotency-Key header. A
  replay returns the stored order with 200 instead of 201.

ERROR HANDLING:
  Errors are returned as ErrorResponse with a status taken from the error kind:
  - 400: validation
  - 404: not_found
  - 409: conflict, state
  - 422: insufficient_payment
  - 503: transient (contention outlasted the retry budget; safe to retry)
  - 500: internal

SEE ALSO:
  - dto.go: Request/response data structures
  - scheduler.go: Background sweeps and reconciliation
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/warp/unit-ledger/config"
	"github.com/warp/unit-ledger/inventory"
)

const (
	HeaderActor          = "X-Actor-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Engines configures the domain engines a Handler builds over one ledger.
type Engines struct {
	Sale        inventory.SaleConfig
	Reimport    inventory.ReimportPolicy
	PhoneRegion string
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger    *inventory.Ledger
	Directory *inventory.Directory
	Intake    *inventory.IntakeEngine
	Sales     *inventory.SaleEngine
	Returns   *inventory.ReturnEngine
	Searcher  *inventory.Searcher
	Scheduler *Scheduler
	Logger    *logrus.Logger

	validate *validator.Validate

	// Track currently loaded scenario
	scenarioMu      sync.Mutex
	currentScenario string
}

// NewHandler builds the engines over ledger.
func NewHandler(ledger *inventory.Ledger, engines Engines, scheduler *Scheduler, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	prefixes := engines.Sale.Prefixes
	region := engines.PhoneRegion
	if region == "" {
		region = engines.Sale.PhoneRegion
	}
	return &Handler{
		Ledger:    ledger,
		Directory: inventory.NewDirectory(ledger, region),
		Intake:    inventory.NewIntakeEngine(ledger, engines.Reimport, prefixes),
		Sales:     inventory.NewSaleEngine(ledger, engines.Sale),
		Returns:   inventory.NewReturnEngine(ledger, engines.Reimport, prefixes),
		Searcher:  inventory.NewSearcher(ledger.Store(), region),
		Scheduler: scheduler,
		Logger:    logger,
		validate:  newValidator(),
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// =============================================================================
// INTAKE HANDLERS
// =============================================================================

// ValidateIntake classifies IMEIs before an intake is committed. It reads
// only and needs no actor.
func (h *Handler) ValidateIntake(w http.ResponseWriter, r *http.Request) {
	var req ValidateBatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.Intake.ValidateBatch(r.Context(), req.IMEIs)
	if err != nil {
		h.fail(w, "ValidateIntake", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CommitIntake receives a supplier batch as one purchase order.
func (h *Handler) CommitIntake(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req CommitIntakeRequest
	if !h.decode(w, r, &req) {
		return
	}

	batch := inventory.IntakeBatch{
		SupplierID:   req.SupplierID,
		SupplierName: req.SupplierName,
		Items:        make([]inventory.IntakeItem, len(req.Items)),
		Reimport:     req.Reimport,
	}
	for i, it := range req.Items {
		batch.Items[i] = inventory.IntakeItem{
			IMEI:      it.IMEI,
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			CostPrice: it.CostPrice,
		}
	}

	po, err := h.Intake.CommitIntake(r.Context(), batch, actor)
	if err != nil {
		h.fail(w, "CommitIntake", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPurchaseOrderDTO(po))
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

// CreateSale claims, prices and commits a cart in one request.
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	h.sell(w, r, "CreateSale", h.Sales.ClaimAndSell)
}

// PlaceHold claims and prices a cart. The order stays pending until it is
// committed or released, or until the hold expires.
func (h *Handler) PlaceHold(w http.ResponseWriter, r *http.Request) {
	h.sell(w, r, "PlaceHold", h.Sales.PlaceHold)
}

type sellFunc func(ctx context.Context, in inventory.SaleInput, actor string) (inventory.SalesOrder, error)

func (h *Handler) sell(w http.ResponseWriter, r *http.Request, op string, fn sellFunc) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req SaleRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := inventory.SaleInput{
		CustomerID:     req.CustomerID,
		CustomerName:   req.CustomerName,
		CustomerPhone:  req.CustomerPhone,
		IMEIs:          req.IMEIs,
		PaymentMethod:  inventory.PaymentMethod(req.PaymentMethod),
		AmountReceived: req.AmountReceived,
		TaxRate:        req.TaxRate,
		Discount:       req.Discount,
		Shipping:       req.Shipping,
		IdempotencyKey: req.IdempotencyKey,
	}
	if key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey)); key != "" {
		in.IdempotencyKey = key
	}

	status := http.StatusCreated
	if in.IdempotencyKey != "" {
		if _, err := h.Ledger.Store().GetSalesOrderByKey(r.Context(), in.IdempotencyKey); err == nil {
			status = http.StatusOK
		}
	}

	order, err := fn(r.Context(), in, actor)
	if err != nil {
		h.fail(w, op, err)
		return
	}
	writeJSON(w, status, toSalesOrderDTO(order))
}

// GetSale returns a sales order.
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	order, err := h.Ledger.GetSalesOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "GetSale", err)
		return
	}
	writeJSON(w, http.StatusOK, toSalesOrderDTO(order))
}

// CommitSale completes a pending hold.
func (h *Handler) CommitSale(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	order, err := h.Ledger.CommitSale(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.fail(w, "CommitSale", err)
		return
	}
	writeJSON(w, http.StatusOK, toSalesOrderDTO(order))
}

// ReleaseSale cancels a pending hold and returns its units to stock.
func (h *Handler) ReleaseSale(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req ReleaseHoldRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "released by operator"
	}

	result, err := h.Ledger.ReleaseHold(r.Context(), chi.URLParam(r, "id"), actor, req.Reason)
	if err != nil {
		h.fail(w, "ReleaseSale", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// RETURN AND UNIT HANDLERS
// =============================================================================

// ProcessReturn refunds one sold unit.
func (h *Handler) ProcessReturn(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req ReturnRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Returns.ProcessReturn(r.Context(), req.IMEI, req.OrderID, actor)
	if err != nil {
		h.fail(w, "ProcessReturn", err)
		return
	}
	writeJSON(w, http.StatusCreated, RefundDTO{
		Return:             toReturnDTO(res.Return),
		Unit:               toUnitDTO(res.Unit),
		Refund:             res.Refund,
		OrderFullyReturned: res.OrderFullyReturned,
	})
}

// GetUnit returns a unit by IMEI.
func (h *Handler) GetUnit(w http.ResponseWriter, r *http.Request) {
	unit, err := h.Ledger.GetUnit(r.Context(), chi.URLParam(r, "imei"))
	if err != nil {
		h.fail(w, "GetUnit", err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitDTO(unit))
}

// ReimportUnit puts a returned unit back into stock.
func (h *Handler) ReimportUnit(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req ReimportRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}

	unit, err := h.Returns.Reimport(r.Context(), chi.URLParam(r, "imei"), actor, req.Confirmed)
	if err != nil {
		h.fail(w, "ReimportUnit", err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitDTO(unit))
}

// MarkDefective retires a unit.
func (h *Handler) MarkDefective(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	unit, err := h.Returns.MarkDefective(r.Context(), chi.URLParam(r, "imei"), actor)
	if err != nil {
		h.fail(w, "MarkDefective", err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitDTO(unit))
}

// =============================================================================
// CATALOG AND PARTY HANDLERS
// =============================================================================

// ListVariants returns every variant with its stock count.
func (h *Handler) ListVariants(w http.ResponseWriter, r *http.Request) {
	variants, err := h.Directory.ListVariants(r.Context())
	if err != nil {
		h.fail(w, "ListVariants", err)
		return
	}

	dtos := make([]VariantDTO, len(variants))
	for i, v := range variants {
		dtos[i] = toVariantDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PutVariant creates or updates a variant.
func (h *Handler) PutVariant(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	var req VariantRequest
	if !h.decode(w, r, &req) {
		return
	}

	v, err := h.Directory.PutVariant(r.Context(), inventory.Variant{
		ID:          req.ID,
		ProductID:   req.ProductID,
		Storage:     req.Storage,
		Color:       req.Color,
		RetailPrice: req.RetailPrice,
		CostPrice:   req.CostPrice,
	})
	if err != nil {
		h.fail(w, "PutVariant", err)
		return
	}
	writeJSON(w, http.StatusOK, toVariantDTO(v))
}

// CreateCustomer registers a customer by phone.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	var req CustomerRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.Directory.CreateCustomer(r.Context(), inventory.Customer{
		Name:  req.Name,
		Phone: req.Phone,
		Email: req.Email,
	})
	if err != nil {
		h.fail(w, "CreateCustomer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(c))
}

// GetCustomer returns a customer with its derived aggregates.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.Directory.GetCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "GetCustomer", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

// CreateUser registers an operator.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	var req UserRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := h.Directory.CreateUser(r.Context(), inventory.User{
		ID:    req.ID,
		Name:  req.Name,
		Email: req.Email,
		Phone: req.Phone,
		Role:  req.Role,
	})
	if err != nil {
		h.fail(w, "CreateUser", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(u))
}

// =============================================================================
// SEARCH HANDLERS
// =============================================================================

// Search pages through customers, units or users in a stable order.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	req, err := parseSearch(r)
	if err != nil {
		h.fail(w, "Search", err)
		return
	}

	ctx := r.Context()
	switch entity := chi.URLParam(r, "entity"); entity {
	case "customers":
		page, err := h.Searcher.SearchCustomers(ctx, req)
		if err != nil {
			h.fail(w, "Search", err)
			return
		}
		writeJSON(w, http.StatusOK, toPageDTO(page, toCustomerDTO))
	case "units":
		page, err := h.Searcher.SearchUnits(ctx, req)
		if err != nil {
			h.fail(w, "Search", err)
			return
		}
		writeJSON(w, http.StatusOK, toPageDTO(page, toUnitDTO))
	case "users":
		page, err := h.Searcher.SearchUsers(ctx, req)
		if err != nil {
			h.fail(w, "Search", err)
			return
		}
		writeJSON(w, http.StatusOK, toPageDTO(page, toUserDTO))
	default:
		writeError(w, http.StatusNotFound, "Unknown search entity", errors.New(entity))
	}
}

func parseSearch(r *http.Request) (inventory.SearchRequest, error) {
	q := r.URL.Query()
	req := inventory.SearchRequest{
		Filter: inventory.Filter{Text: q.Get("q")},
		Sort:   q.Get("sort"),
		Order:  inventory.SortOrder(q.Get("order")),
		Cursor: q.Get("cursor"),
	}
	if v := q.Get("is_active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return req, &inventory.ValidationError{Code: inventory.CodeInvalidInput, Field: "is_active", Message: "must be true or false"}
		}
		req.Active = &active
	}
	if v := q.Get("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				req.Statuses = append(req.Statuses, inventory.UnitStatus(s))
			}
		}
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return req, &inventory.ValidationError{Code: inventory.CodeInvalidInput, Field: "limit", Message: "must be an integer"}
		}
		req.Limit = limit
	}
	return req, nil
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Sweep releases every expired hold now.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.Scheduler.RunSweep(r.Context())
	if err != nil {
		h.fail(w, "Sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Reconcile recomputes stock counters and reports repaired drift.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.Scheduler.RunReconcile(r.Context())
	if err != nil {
		h.fail(w, "Reconcile", err)
		return
	}
	if report.Drifts == nil {
		report.Drifts = []inventory.Drift{}
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// HELPERS
// =============================================================================

func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := strings.TrimSpace(r.Header.Get(HeaderActor))
	if actor == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "Missing " + HeaderActor + " header",
			Kind:  string(inventory.KindValidation),
			Code:  "missing_actor",
		})
		return "", false
	}
	return actor, true
}

// decode reads a JSON body into dst and runs struct validation. It writes
// the error response itself and reports whether the handler may continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Kind:    string(inventory.KindValidation),
			Code:    inventory.CodeInvalidInput,
			Details: err.Error(),
		})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "Validation failed",
			Kind:   string(inventory.KindValidation),
			Code:   inventory.CodeInvalidInput,
			Fields: validationFields(err),
		})
		return false
	}
	return true
}

// validationFields maps each failing field to the rule it broke.
func validationFields(err error) map[string]string {
	fields := make(map[string]string)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
	}
	return fields
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind inventory.ErrorKind) int {
	switch kind {
	case inventory.KindValidation:
		return http.StatusBadRequest
	case inventory.KindNotFound:
		return http.StatusNotFound
	case inventory.KindConflict, inventory.KindState:
		return http.StatusConflict
	case inventory.KindInsufficientPayment:
		return http.StatusUnprocessableEntity
	case inventory.KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes a domain error. Internal errors are logged and their details
// are not exposed.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	kind := inventory.KindOf(err)
	status := StatusFor(kind)
	resp := ErrorResponse{
		Error: err.Error(),
		Kind:  string(kind),
		Code:  inventory.CodeOf(err),
	}

	var (
		ve *inventory.ValidationError
		ce *inventory.UnitConflictError
		pe *inventory.InsufficientPaymentError
	)
	switch {
	case errors.As(err, &ve) && ve.Field != "":
		resp.Fields = map[string]string{ve.Field: ve.Message}
	case errors.As(err, &ce):
		resp.Conflicts = ce.Conflicts
	case errors.As(err, &pe):
		shortfall := pe.Shortfall
		resp.Shortfall = &shortfall
	}

	switch kind {
	case inventory.KindInternal:
		config.LogError(h.Logger, "api", op, "request", nil, err)
		resp.Error = "Internal error"
	case inventory.KindTransient:
		w.Header().Set("Retry-After", "1")
		h.Logger.WithError(err).WithField("op", op).Warn("request gave up after contention")
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
