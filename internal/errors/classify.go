package errors

import "strings"

const unknownErrorMessage = "Unknown error occurred"

// IsUserRejection reports whether the signer pipeline rejected the request.
func IsUserRejection(err error) bool {
	return messageContains(err, "user rejected")
}

func IsGasEstimation(err error) bool {
	return messageContains(err, "gas estimation")
}

// IsInvalidResponse matches malformed or schema-invalid aggregator responses.
func IsInvalidResponse(err error) bool {
	return messageContains(err, "invalid response") || messageContains(err, "response validation failed")
}

// ShouldRetryWithNextQuote reports whether executing the next-best quote may
// succeed where the current one failed.
func ShouldRetryWithNextQuote(err error) bool {
	if IsUserRejection(err) {
		return false
	}
	return IsGasEstimation(err) || IsInvalidResponse(err)
}

// UserMessage maps a transfer failure to a message suitable for display.
func UserMessage(err error) string {
	if err == nil {
		return unknownErrorMessage
	}
	switch {
	case messageContains(err, "insufficient funds"):
		return "Insufficient balance to complete swap and cover gas fees"
	case messageContains(err, "slippage"):
		return "Price moved too much. Try increasing slippage tolerance."
	case messageContains(err, "expired"):
		return "Quote expired. Please try again."
	case IsGasEstimation(err):
		return "Unable to estimate gas. The swap may fail."
	}
	return err.Error()
}

func messageContains(err error, needle string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), needle)
}
