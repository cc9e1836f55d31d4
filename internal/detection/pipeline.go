package detection

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/chestguard/chestguard/internal/datastore"
	"github.com/chestguard/chestguard/internal/enrichment"
	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/fusion"
	"github.com/chestguard/chestguard/internal/inference"
	"github.com/chestguard/chestguard/internal/logger"
	"github.com/chestguard/chestguard/internal/storage"
)

// observerTimeout bounds each side channel after a stored detection.
const observerTimeout = 10 * time.Second

// Dependencies wires a Pipeline. Store, Router and Records are required.
type Dependencies struct {
	Store      storage.ObjectStore
	Router     Predictor
	Records    datastore.Interface
	Thresholds fusion.Thresholds
	Enricher   Enricher        // nil skips enrichment
	Metrics    MetricsRecorder // nil disables metrics
	Observers  []Observer
	Node       string
	Clock      func() time.Time
}

// Pipeline runs detections.
type Pipeline struct {
	store      storage.ObjectStore
	router     Predictor
	records    datastore.Interface
	thresholds fusion.Thresholds
	enricher   Enricher
	metrics    MetricsRecorder
	observers  []Observer
	node       string
	clock      func() time.Time
	log        logger.Logger
}

// New returns a pipeline over deps.
func New(deps *Dependencies) (*Pipeline, error) {
	if deps.Store == nil || deps.Router == nil || deps.Records == nil {
		return nil, errors.Newf("detection pipeline requires object store, router and record store").
			Component("detection").
			Category(errors.CategoryConfiguration).
			Build()
	}
	p := &Pipeline{
		store:      deps.Store,
		router:     deps.Router,
		records:    deps.Records,
		thresholds: deps.Thresholds,
		enricher:   deps.Enricher,
		metrics:    deps.Metrics,
		observers:  deps.Observers,
		node:       deps.Node,
		clock:      deps.Clock,
		log:        GetLogger(),
	}
	if p.thresholds == (fusion.Thresholds{}) {
		p.thresholds = fusion.DefaultThresholds()
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.metrics == nil {
		p.metrics = noopMetrics{}
	}
	return p, nil
}

// AddObserver registers a side channel. It is not safe to call while
// detections are running.
func (p *Pipeline) AddObserver(o Observer) {
	p.observers = append(p.observers, o)
}

// Detect validates the request, stores the image, predicts, fuses, enriches
// abnormal results and appends the entry to the patient's history. The
// request's temporary file is removed on every path.
func (p *Pipeline) Detect(ctx context.Context, req Request) (*Outcome, error) {
	start := p.clock()
	defer p.removeTemp(req.FilePath)

	mrNo := strings.TrimSpace(req.MRNo)
	mode, err := validate(mrNo, req)
	if err != nil {
		p.metrics.RecordStageFailure(StageValidate)
		return nil, err
	}

	log := p.log.With(logger.String("mr_no", mrNo), logger.String("mode", mode.String()))
	log.Info("detection request started", logger.String("file", req.FileName))

	obj, err := p.upload(ctx, req)
	if err != nil {
		p.metrics.RecordStageFailure(StageUpload)
		return nil, err
	}
	log.Debug("image stored", logger.String("url", obj.URL), logger.String("backend", p.store.Name()))

	pred, err := p.predict(ctx, log, mode, req.FilePath, obj.URL)
	if err != nil {
		p.metrics.RecordStageFailure(StagePredict)
		return nil, err
	}

	fused := p.thresholds.Apply(pred)
	log.Info("prediction fused",
		logger.String("top", pred.Top.ClassName),
		logger.String("result", string(fused.Result)),
		logger.Float64("confidence", fused.Confidence))

	// Resolve the patient before spending enrichment quota on an unknown MR number.
	patient, err := p.records.GetPatient(ctx, mrNo)
	if err != nil {
		p.metrics.RecordStageFailure(StageRecord)
		return nil, err
	}

	entry := newEntry(obj.URL, start, mode, fused, pred)

	var enriched, abnormal bool
	var provenance string
	if abnormal = fusion.IsAbnormal(fused.Result); abnormal && p.enricher != nil {
		res := p.enricher.Enrich(ctx, inference.Source{Path: req.FilePath, URL: obj.URL}, fused.Result)
		entry.Findings, entry.Recommendations = enrichment.ExtractFindings(&res)
		entry.RawEnrichment = res.RawJSON()
		enriched = res.Success()
		provenance = res.Kind.String()
		p.metrics.RecordEnrichment(provenance, string(res.Reason))
	}

	history, err := p.records.AppendDetection(ctx, mrNo, entry)
	if err != nil {
		p.metrics.RecordStageFailure(StageRecord)
		return nil, err
	}

	elapsed := p.clock().Sub(start)
	latest := Summarize(history, entry, elapsed, enriched)
	p.metrics.RecordDetection(mode.String(), string(fused.Result), elapsed)

	log.Info("detection completed",
		logger.String("result", entry.Result),
		logger.Int("sequence", entry.Sequence),
		logger.Bool("enriched", enriched),
		logger.Int64("processing_ms", elapsed.Milliseconds()))

	p.notify(ctx, &Event{
		MRNo:           mrNo,
		Mode:           mode,
		Result:         fused.Result,
		Confidence:     fused.Confidence,
		Probabilities:  pred.Ranked,
		ImageURL:       obj.URL,
		Abnormal:       abnormal,
		Enrichment:     provenance,
		ProcessingTime: elapsed,
		Timestamp:      entry.CapturedAt,
		Node:           p.node,
	})

	return &Outcome{
		Patient: patient,
		History: history,
		Entry:   entry,
		Latest:  latest,
		Message: latest.Message,
	}, nil
}

func validate(mrNo string, req Request) (inference.Mode, error) {
	if mrNo == "" {
		return "", errors.ValidationError("Medical Record number is required")
	}
	if req.FilePath == "" {
		return "", errors.ValidationError("X-ray image is required")
	}
	if fi, err := os.Stat(req.FilePath); err != nil || fi.IsDir() {
		return "", errors.ValidationError("X-ray image is required")
	}
	return inference.ParseMode(req.Mode)
}

func (p *Pipeline) upload(ctx context.Context, req Request) (storage.Object, error) {
	name := req.FileName
	if name == "" {
		name = req.FilePath
	}
	obj, err := p.store.Put(ctx, req.FilePath, name)
	if err != nil {
		if errors.IsUpload(err) {
			return storage.Object{}, err
		}
		return storage.Object{}, errors.UploadError(err, p.store.Name())
	}
	if obj.URL == "" {
		return storage.Object{}, errors.UploadError(
			errors.NewStd("object store returned an empty URL"), p.store.Name())
	}
	return obj, nil
}

// predict tries the local file first and the stored URL once more when that
// fails. Both attempts use the same mode.
func (p *Pipeline) predict(ctx context.Context, log logger.Logger, mode inference.Mode, path, url string) (*inference.Prediction, error) {
	pred, err := p.router.Predict(ctx, mode, inference.Source{Path: path})
	if err == nil {
		return pred, nil
	}
	if ctx.Err() != nil {
		return nil, errors.PredictionError(err, mode.String())
	}

	log.Warn("prediction from local file failed, retrying with stored URL", logger.Error(err))
	p.metrics.RecordAlternateInput(mode.String())

	pred, altErr := p.router.Predict(ctx, mode, inference.Source{URL: url})
	if altErr != nil {
		if errors.IsPrediction(altErr) {
			return nil, altErr
		}
		return nil, errors.PredictionError(errors.Join(err, altErr), mode.String())
	}
	return pred, nil
}

func (p *Pipeline) notify(ctx context.Context, ev *Event) {
	base := context.WithoutCancel(ctx)
	for _, o := range p.observers {
		octx, cancel := context.WithTimeout(base, observerTimeout)
		if err := o.Observe(octx, ev); err != nil {
			p.log.Warn("side channel failed",
				logger.String("channel", o.Name()),
				logger.String("mr_no", ev.MRNo),
				logger.Error(err))
		}
		cancel()
	}
}

func (p *Pipeline) removeTemp(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.log.Warn("failed to remove temporary upload",
			logger.String("path", path),
			logger.Error(err))
	}
}

func newEntry(url string, at time.Time, mode inference.Mode, fused fusion.ThresholdResult, pred *inference.Prediction) *datastore.DetectionEntry {
	entry := &datastore.DetectionEntry{
		ImageURL:      url,
		CapturedAt:    at,
		ModelUsed:     mode.String(),
		Result:        string(fused.Result),
		Confidence:    fused.Confidence,
		Probabilities: make([]datastore.EntryProbability, 0, len(pred.Ranked)),
	}
	for _, cp := range pred.Ranked {
		entry.Probabilities = append(entry.Probabilities, datastore.EntryProbability{
			ClassName:   cp.ClassName,
			Probability: cp.Probability,
		})
	}
	return entry
}

type noopMetrics struct{}

func (noopMetrics) RecordDetection(string, string, time.Duration) {}
func (noopMetrics) RecordStageFailure(string)                     {}
func (noopMetrics) RecordAlternateInput(string)                   {}
func (noopMetrics) RecordEnrichment(string, string)               {}
