package providers

import "github.com/osvaldoandrade/captionq/pkg/domain"

// DefaultMaxFileSizeBytes is used when no limit is configured.
const DefaultMaxFileSizeBytes int64 = 5 * 1024 * 1024

// EstimateDecodedSize approximates the decoded size of a base64 payload as
// len*3/4. Padding and any data URI prefix are not subtracted, so the
// estimate errs on the large side.
func EstimateDecodedSize(payload string) int64 {
	return int64(len(payload)) * 3 / 4
}

// CheckPayloadSize rejects payloads whose estimated decoded size exceeds max.
// A non-positive max disables the check.
func CheckPayloadSize(payload string, max int64) error {
	if max <= 0 {
		return nil
	}
	if est := EstimateDecodedSize(payload); est > max {
		return &domain.SizeLimitError{Estimated: est, Max: max}
	}
	return nil
}

// CheckFileSize is the raw-bytes form of CheckPayloadSize.
func CheckFileSize(size int64, max int64) error {
	if max > 0 && size > max {
		return &domain.SizeLimitError{Estimated: size, Max: max}
	}
	return nil
}
