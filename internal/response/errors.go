package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired  ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid   ErrCode = "TOKEN_INVALID"
	ErrTokenExpired   ErrCode = "TOKEN_EXPIRED"
	ErrTokenRevoked   ErrCode = "TOKEN_REVOKED"
	ErrAPIKeyRequired ErrCode = "API_KEY_REQUIRED"
	ErrAPIKeyInvalid  ErrCode = "API_KEY_INVALID"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Evaluation-specific ───────────────────────────────────────────
	ErrEvaluationNotFound     ErrCode = "EVALUATION_NOT_FOUND"
	ErrEvaluationNotPublished ErrCode = "EVALUATION_NOT_PUBLISHED"
	ErrInvalidDefinition      ErrCode = "INVALID_EVALUATION_DEFINITION"
	ErrSessionNotStarted      ErrCode = "SESSION_NOT_STARTED"
	ErrSessionNotInProgress   ErrCode = "SESSION_NOT_IN_PROGRESS"
	ErrSubmitInProgress       ErrCode = "SUBMIT_IN_PROGRESS"
	ErrAlreadySubmitted       ErrCode = "ALREADY_SUBMITTED"
	ErrSubmitFailed           ErrCode = "SUBMIT_FAILED"
	ErrUnknownQuestion        ErrCode = "UNKNOWN_QUESTION"
	ErrInvalidOption          ErrCode = "INVALID_OPTION"
	ErrQuestionOutOfRange     ErrCode = "QUESTION_OUT_OF_RANGE"
	ErrResultNotFound         ErrCode = "RESULT_NOT_FOUND"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal    ErrCode = "INTERNAL_ERROR"
	ErrUnavailable ErrCode = "SERVICE_UNAVAILABLE"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token akses diperlukan."
	case ErrTokenInvalid:
		return "Token akses tidak valid."
	case ErrTokenExpired:
		return "Token akses telah kedaluwarsa."
	case ErrTokenRevoked:
		return "Token akses telah dicabut."
	case ErrAPIKeyRequired:
		return "API key diperlukan."
	case ErrAPIKeyInvalid:
		return "API key tidak valid."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrConflict:
		return "Sumber daya sudah ada."

	// ─── Evaluation-specific ───────────────────────────────────────────
	case ErrEvaluationNotFound:
		return "Evaluasi tidak ditemukan."
	case ErrEvaluationNotPublished:
		return "Evaluasi ini belum dipublikasikan."
	case ErrInvalidDefinition:
		return "Definisi evaluasi tidak valid."
	case ErrSessionNotStarted:
		return "Sesi evaluasi belum dimulai."
	case ErrSessionNotInProgress:
		return "Sesi evaluasi tidak sedang berlangsung."
	case ErrSubmitInProgress:
		return "Jawaban sedang dikirim."
	case ErrAlreadySubmitted:
		return "Evaluasi ini sudah diselesaikan."
	case ErrSubmitFailed:
		return "Pengiriman jawaban gagal. Silakan coba lagi."
	case ErrUnknownQuestion:
		return "Pertanyaan tidak ditemukan dalam sesi ini."
	case ErrInvalidOption:
		return "Pilihan jawaban tidak valid."
	case ErrQuestionOutOfRange:
		return "Nomor pertanyaan di luar jangkauan."
	case ErrResultNotFound:
		return "Hasil evaluasi belum tersedia."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	case ErrUnavailable:
		return "Layanan sedang tidak tersedia."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
