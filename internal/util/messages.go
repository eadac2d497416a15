package util

import "errors"

const (
	SupportContact = "support@geosewa.com"

	MsgGeneric          = "Something went wrong. Please try again."
	MsgNetwork          = "Could not reach the exam server. Check your connection and try again."
	MsgReauthenticate   = "Your session has expired. Please log in again."
	MsgAccessDenied     = "You do not have access to this exam set. Contact " + SupportContact + " to request access."
	MsgPaymentRequired  = "This exam set requires payment. Complete the payment to unlock it."
	MsgAttemptLimit     = "You have reached the maximum number of attempts for this exam set."
	MsgExamSetNotFound  = "This exam set no longer exists."
	MsgSessionNotFound  = "Exam session not found. Go back and start a new attempt."
	MsgLoadFailed       = "Error loading questions. Go back and start a new attempt."
	MsgSaveFailed       = "Your answers could not be saved. Nothing was lost; please try submitting again."
	MsgSubmitFailed     = "Error submitting the exam. Nothing was lost; please try again."
	MsgSubmittedNoScore = "Your exam was submitted successfully. Detailed results are not ready yet; check your exam history later."
	MsgTimeUp           = "Time is up. Your answers are being submitted."
)

// UserMessage maps start-attempt and general API failures to the text shown to the user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAttemptLimitExceeded):
		return MsgAttemptLimit
	case errors.Is(err, ErrPaymentRequired):
		return MsgPaymentRequired
	case errors.Is(err, ErrAccessDenied):
		return MsgAccessDenied
	case errors.Is(err, ErrAuthRequired), errors.Is(err, ErrNoCredentials):
		return MsgReauthenticate
	case errors.Is(err, ErrNotFound):
		return MsgExamSetNotFound
	case errors.Is(err, ErrNetwork):
		return MsgNetwork
	case errors.Is(err, ErrSaveFailed):
		return MsgSaveFailed
	}
	return MsgGeneric
}

// LoadFailureMessage is the text for a failed attempt load.
func LoadFailureMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return MsgSessionNotFound
	case errors.Is(err, ErrAccessDenied):
		return MsgAccessDenied
	case errors.Is(err, ErrAuthRequired), errors.Is(err, ErrNoCredentials):
		return MsgReauthenticate
	}
	return MsgLoadFailed
}

// SubmitFailureMessage is the text shown after the attempt returns to Active.
func SubmitFailureMessage(err error) string {
	switch {
	case errors.Is(err, ErrSaveFailed):
		return MsgSaveFailed
	case errors.Is(err, ErrAuthRequired), errors.Is(err, ErrNoCredentials):
		return MsgReauthenticate
	case errors.Is(err, ErrNetwork):
		return MsgNetwork
	}
	return MsgSubmitFailed
}
