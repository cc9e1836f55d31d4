package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/chestguard/chestguard/internal/datastore"
	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/logger"
)

// Pagination defaults for GET /patients.
const (
	DefaultPatientLimit = 50
	MaxPatientLimit     = 500
)

// PatientRequest is the body of POST /patients.
type PatientRequest struct {
	MRNo     string `json:"MR_no"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Age      int    `json:"age"`
	Gender   string `json:"gender"`
	City     string `json:"city"`
}

// PatientList is the payload of GET /patients.
type PatientList struct {
	Patients []datastore.Patient `json:"patients"`
	Limit    int                 `json:"limit"`
	Offset   int                 `json:"offset"`
}

// CreatePatient handles POST /patients.
func (c *Controller) CreatePatient(ctx echo.Context) error {
	var req PatientRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, errors.ValidationError("invalid patient payload"))
	}

	req.MRNo = strings.TrimSpace(req.MRNo)
	if req.MRNo == "" {
		return c.HandleError(ctx, errors.ValidationError("Medical Record number is required"))
	}
	if req.Age < 0 {
		return c.HandleError(ctx, errors.ValidationError("age must not be negative"))
	}

	p := &datastore.Patient{
		MRNo:     req.MRNo,
		FullName: strings.TrimSpace(req.FullName),
		Email:    strings.TrimSpace(req.Email),
		Age:      req.Age,
		Gender:   strings.TrimSpace(req.Gender),
		City:     strings.TrimSpace(req.City),
	}
	if err := c.DS.CreatePatient(ctx.Request().Context(), p); err != nil {
		return c.HandleError(ctx, err)
	}

	c.log.Info("patient registered", logger.String("mr_no", p.MRNo))
	return respond(ctx, http.StatusCreated, p, "Patient registered successfully")
}

// ListPatients handles GET /patients?limit=&offset=.
func (c *Controller) ListPatients(ctx echo.Context) error {
	limit, err := queryInt(ctx, "limit", DefaultPatientLimit)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	offset, err := queryInt(ctx, "offset", 0)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	if limit <= 0 {
		limit = DefaultPatientLimit
	}
	limit = min(limit, MaxPatientLimit)
	offset = max(offset, 0)

	patients, err := c.DS.ListPatients(ctx.Request().Context(), limit, offset)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	if patients == nil {
		patients = []datastore.Patient{}
	}
	return respond(ctx, http.StatusOK, PatientList{
		Patients: patients,
		Limit:    limit,
		Offset:   offset,
	}, "Patients retrieved successfully")
}

// GetPatient handles GET /patients/:mr_no.
func (c *Controller) GetPatient(ctx echo.Context) error {
	mrNo := strings.TrimSpace(mrParam(ctx))
	if mrNo == "" {
		return c.HandleError(ctx, errors.ValidationError("Medical Record number is required"))
	}
	p, err := c.DS.GetPatient(ctx.Request().Context(), mrNo)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return respond(ctx, http.StatusOK, p, "Patient retrieved successfully")
}

func queryInt(ctx echo.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(ctx.QueryParam(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.ValidationError(name + " must be an integer")
	}
	return v, nil
}
