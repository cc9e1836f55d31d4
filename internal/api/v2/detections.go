package api

import (
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/chestguard/chestguard/internal/datastore"
	"github.com/chestguard/chestguard/internal/detection"
	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/logger"
	"github.com/chestguard/chestguard/internal/storage"
)

// Form field names of the detection upload.
const (
	FormImage = "xrayImage"
	FormMode  = "modelType"
)

// Response messages for history reads.
const (
	MessageNoResults = "No detection results found"
	MessageResults   = "Detection results retrieved successfully"
)

// HistoryData is the payload of detection reads and writes.
type HistoryData struct {
	Patient          *datastore.Patient          `json:"patient"`
	MRNo             string                      `json:"MR_no"`
	Detection        []datastore.DetectionEntry  `json:"detection"`
	CreatedAt        *time.Time                  `json:"createdAt,omitempty"`
	UpdatedAt        *time.Time                  `json:"updatedAt,omitempty"`
	LatestPrediction *detection.LatestPrediction `json:"latestPrediction,omitempty"`
}

func newHistoryData(patient *datastore.Patient, history *datastore.DetectionHistory) *HistoryData {
	data := &HistoryData{
		Patient:   patient,
		MRNo:      patient.MRNo,
		Detection: []datastore.DetectionEntry{},
	}
	if history != nil {
		data.Detection = append(data.Detection, history.Entries...)
		data.CreatedAt = &history.CreatedAt
		data.UpdatedAt = &history.UpdatedAt
	}
	return data
}

// mrParam reads the MR number from either the current or the legacy route.
func mrParam(ctx echo.Context) string {
	if v := ctx.Param("mr_no"); v != "" {
		return v
	}
	return ctx.Param("MR_no")
}

// CreateDetection handles POST /detections/:mr_no.
func (c *Controller) CreateDetection(ctx echo.Context) error {
	req := detection.Request{
		MRNo: mrParam(ctx),
		Mode: ctx.FormValue(FormMode),
	}

	fh, err := ctx.FormFile(FormImage)
	switch {
	case err == nil:
		path, err := c.stageUpload(fh)
		if err != nil {
			return c.HandleError(ctx, err)
		}
		req.FilePath = path
		req.FileName = fh.Filename
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		// the pipeline rejects the missing image after checking the MR number
	default:
		return c.HandleError(ctx, errors.ValidationError("X-ray image is required"))
	}

	outcome, err := c.detector.Detect(ctx.Request().Context(), req)
	if err != nil {
		return c.HandleError(ctx, err)
	}

	data := newHistoryData(outcome.Patient, outcome.History)
	latest := outcome.Latest
	data.LatestPrediction = &latest
	return respond(ctx, http.StatusOK, data, outcome.Message)
}

// stageUpload copies the multipart file to a temp file the pipeline owns.
func (c *Controller) stageUpload(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", errors.ValidationError("X-ray image is required")
	}
	defer src.Close()

	dst, err := os.CreateTemp(c.uploadDir, "xray-*"+storage.NormalizeExt(fh.Filename))
	if err != nil {
		return "", stageError(err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", stageError(err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", stageError(err)
	}
	return dst.Name(), nil
}

func stageError(err error) error {
	return errors.New(err).
		Component("api").
		Category(errors.CategoryFileIO).
		Context("operation", "stage_upload").
		Build()
}

// GetDetections handles GET /detections/:mr_no.
func (c *Controller) GetDetections(ctx echo.Context) error {
	mrNo := strings.TrimSpace(mrParam(ctx))
	if mrNo == "" {
		return c.HandleError(ctx, errors.ValidationError("Medical Record number is required"))
	}

	if data, ok := c.results.Get(mrNo); ok {
		return respond(ctx, http.StatusOK, data, resultsMessage(data))
	}

	gen := c.results.Generation(mrNo)
	patient, history, err := c.DS.GetHistory(ctx.Request().Context(), mrNo)
	if err != nil {
		return c.HandleError(ctx, err)
	}

	data := newHistoryData(patient, history)
	cached := c.results.SetIfCurrent(mrNo, gen, data)
	c.log.Debug("detection history loaded",
		logger.String("mr_no", mrNo),
		logger.Int("entries", len(data.Detection)),
		logger.Bool("cached", cached))
	return respond(ctx, http.StatusOK, data, resultsMessage(data))
}

func resultsMessage(data *HistoryData) string {
	if len(data.Detection) == 0 {
		return MessageNoResults
	}
	return MessageResults
}
