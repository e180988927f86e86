// Package errors provides structured error handling for storyrag.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (documents, index, fingerprints, records)
//   - 3XX: Connectivity errors (model server, embedder)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
//   - 6XX: Format errors
package errors

// Category defines error categories for classification.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryIO         Category = "IO"
	CategoryNetwork    Category = "NETWORK"
	CategoryValidation Category = "VALIDATION"
	CategoryInternal   Category = "INTERNAL"
	// CategoryFormat covers unsupported export or document formats.
	CategoryFormat Category = "FORMAT"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates a transient failure that may succeed on retry.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound   = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigPermission = "ERR_103_CONFIG_PERMISSION"

	// IO errors (200-299)
	ErrCodeFileNotFound     = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission   = "ERR_202_FILE_PERMISSION"
	ErrCodeDiskFull         = "ERR_203_DISK_FULL"
	ErrCodeFileUnreadable   = "ERR_204_FILE_UNREADABLE"
	ErrCodeCorruptIndex     = "ERR_205_CORRUPT_INDEX"
	ErrCodeFileCorrupt      = "ERR_206_FILE_CORRUPT"
	ErrCodeIndexNotFound    = "ERR_207_INDEX_NOT_FOUND"
	ErrCodeFingerprintStore = "ERR_208_FINGERPRINT_STORE"
	ErrCodeRecordsStore     = "ERR_209_RECORDS_STORE"
	ErrCodeIndexLocked      = "ERR_210_INDEX_LOCKED"

	// Connectivity errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeBadServerResponse  = "ERR_303_BAD_SERVER_RESPONSE"
	ErrCodeModelNotFound      = "ERR_304_MODEL_NOT_FOUND"
	ErrCodeCircuitOpen        = "ERR_305_CIRCUIT_OPEN"

	// Validation errors (400-499)
	ErrCodeInvalidInput           = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch      = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidQuery           = "ERR_403_INVALID_QUERY"
	ErrCodeQueryEmpty             = "ERR_404_QUERY_EMPTY"
	ErrCodePromptEmpty            = "ERR_405_PROMPT_EMPTY"
	ErrCodeInvalidPath            = "ERR_406_INVALID_PATH"
	ErrCodeInvalidMode            = "ERR_407_INVALID_MODE"
	ErrCodeNoDocumentsSelected    = "ERR_408_NO_DOCUMENTS_SELECTED"
	ErrCodeNoDocumentsAvailable   = "ERR_409_NO_DOCUMENTS_AVAILABLE"
	ErrCodeStoryNotFound          = "ERR_410_STORY_NOT_FOUND"
	ErrCodeInvalidChunkingOptions = "ERR_411_INVALID_CHUNKING"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeChunkingFailed  = "ERR_504_CHUNKING_FAILED"
	ErrCodeIndexFailed     = "ERR_505_INDEX_FAILED"
	ErrCodeGenerationEmpty = "ERR_506_GENERATION_EMPTY"

	// Format errors (600-699)
	ErrCodeUnsupportedFormat   = "ERR_601_UNSUPPORTED_FORMAT"
	ErrCodeUnsupportedDocument = "ERR_602_UNSUPPORTED_DOCUMENT"
)

// categoryFromCode reads the category from the first digit of the numeric part.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	case '6':
		return CategoryFormat
	default:
		return CategoryInternal
	}
}

func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeDiskFull:
		return SeverityFatal
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode reports whether a code represents a transient failure.
// A missing model is not transient: retrying cannot make it appear.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable, ErrCodeIndexLocked:
		return true
	default:
		return false
	}
}
