package errors

// Detection pipeline failure taxonomy. Each kind is an EnhancedError with a
// fixed category so callers can branch with the Is helpers and the API can
// map it to a status code.

// ValidationError reports a missing or malformed request field.
func ValidationError(message string) *EnhancedError {
	return New(NewStd(message)).
		Category(CategoryValidation).
		Build()
}

// NotFoundError reports an unknown resource, such as an unregistered
// medical record number.
func NotFoundError(message string) *EnhancedError {
	return New(NewStd(message)).
		Category(CategoryNotFound).
		Build()
}

// UploadError wraps a storage failure.
func UploadError(err error, backend string) *EnhancedError {
	return New(err).
		Category(CategoryUpload).
		Component("storage").
		Context("backend", backend).
		Build()
}

// PredictionError wraps a terminal inference failure.
func PredictionError(err error, mode string) *EnhancedError {
	return New(err).
		Category(CategoryPrediction).
		Component("inference").
		Context("model_mode", mode).
		Build()
}

func IsValidation(err error) bool { return IsCategory(err, CategoryValidation) }

func IsNotFound(err error) bool { return IsCategory(err, CategoryNotFound) }

func IsUpload(err error) bool { return IsCategory(err, CategoryUpload) }

func IsPrediction(err error) bool { return IsCategory(err, CategoryPrediction) }
