// Package classify maps stage errors to a closed set of failure categories
// and derives the recovery policy for each category: which worker kind must
// be idle before a retry, whether an FTP reconnect or a writable path is a
// precondition, and the backoff curve between attempts.
package classify

import (
	"errors"
	"strings"
	"time"

	"telecine/internal/queue"
	"telecine/internal/services"
)

// Policy captures the static recovery rules for one failure category.
type Policy struct {
	RequiresFTP            bool
	RequiresPathValidation bool
	Unrecoverable          bool
	RequiredJobKind        queue.JobKind
	BackoffBase            time.Duration
	RecoveryHint           string
}

// policies is data, not code branches. Every category in the closed set has
// an entry; Lookup falls back to the unknown policy for anything else.
var policies = map[queue.FailureCategory]Policy{
	queue.FailureFTPConnection: {
		RequiresFTP:     true,
		RequiredJobKind: queue.JobCopy,
		BackoffBase:     30 * time.Second,
		RecoveryHint:    "waiting for FTP server to become reachable",
	},
	queue.FailureFTPFileMissing: {
		Unrecoverable:   true,
		RequiredJobKind: queue.JobCopy,
		RecoveryHint:    "file no longer exists on the FTP server; re-upload or skip it",
	},
	queue.FailureFTPTransfer: {
		RequiresFTP:     true,
		RequiredJobKind: queue.JobCopy,
		BackoffBase:     30 * time.Second,
		RecoveryHint:    "transfer was interrupted; retried automatically once connectivity returns",
	},
	queue.FailureFTPTimeout: {
		RequiresFTP:     true,
		RequiredJobKind: queue.JobCopy,
		BackoffBase:     time.Minute,
		RecoveryHint:    "FTP operation timed out; retried automatically once connectivity returns",
	},
	queue.FailureFTPAuth: {
		Unrecoverable:   true,
		RequiredJobKind: queue.JobCopy,
		RecoveryHint:    "FTP credentials were rejected; fix the configured username/password",
	},
	queue.FailureProcessingError: {
		RequiredJobKind: queue.JobProcess,
		BackoffBase:     2 * time.Minute,
		RecoveryHint:    "processing failed; retried automatically with backoff",
	},
	queue.FailureProcessingResource: {
		RequiredJobKind: queue.JobProcess,
		BackoffBase:     5 * time.Minute,
		RecoveryHint:    "processing ran out of memory or GPU resources; retried once load drops",
	},
	queue.FailureProcessingCorrupt: {
		Unrecoverable:   true,
		RequiredJobKind: queue.JobProcess,
		RecoveryHint:    "source media is corrupt; replace the file or skip it",
	},
	queue.FailureStoragePath: {
		RequiresPathValidation: true,
		RequiredJobKind:        queue.JobOrganize,
		BackoffBase:            time.Minute,
		RecoveryHint:           "destination path is missing; retried once the path validates",
	},
	queue.FailureStoragePermission: {
		RequiresPathValidation: true,
		RequiredJobKind:        queue.JobOrganize,
		BackoffBase:            5 * time.Minute,
		RecoveryHint:           "destination path is not writable; fix permissions",
	},
	queue.FailureStorageSpace: {
		RequiresPathValidation: true,
		RequiredJobKind:        queue.JobOrganize,
		BackoffBase:            10 * time.Minute,
		RecoveryHint:           "destination disk is full; retried once space is freed",
	},
	queue.FailureUnknown: {
		RequiredJobKind: queue.JobProcess,
		BackoffBase:     2 * time.Minute,
		RecoveryHint:    "unclassified failure; retried automatically with backoff",
	},
}

// Lookup returns the policy for a category.
func Lookup(category queue.FailureCategory) Policy {
	if policy, ok := policies[category]; ok {
		return policy
	}
	return policies[queue.FailureUnknown]
}

// RequiresFTP reports whether the category needs FTP connectivity before a
// retry. Auth and missing-file failures are unrecoverable and excluded.
func RequiresFTP(category queue.FailureCategory) bool {
	return Lookup(category).RequiresFTP
}

// RequiresPathValidation reports whether the category needs the destination
// path to validate as writable before a retry.
func RequiresPathValidation(category queue.FailureCategory) bool {
	return Lookup(category).RequiresPathValidation
}

// IsUnrecoverable reports whether the category must never be auto-retried.
func IsUnrecoverable(category queue.FailureCategory) bool {
	return Lookup(category).Unrecoverable
}

// RequiredJobKind returns the worker kind that must be idle before the
// category may be retried.
func RequiredJobKind(category queue.FailureCategory) queue.JobKind {
	return Lookup(category).RequiredJobKind
}

// RecoveryHint returns the operator-facing description of what unblocks the
// category.
func RecoveryHint(category queue.FailureCategory) string {
	return Lookup(category).RecoveryHint
}

const backoffCap = time.Hour

// Backoff returns the minimum wait before attempt number attempt (1-based)
// may run for the category. Returns ok=false for unrecoverable categories,
// which must never be retried automatically.
func Backoff(category queue.FailureCategory, attempt int) (time.Duration, bool) {
	policy := Lookup(category)
	if policy.Unrecoverable {
		return 0, false
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := policy.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= backoffCap {
			return backoffCap, true
		}
	}
	if delay > backoffCap {
		delay = backoffCap
	}
	return delay, true
}

// Classify reduces a stage error to a failure category plus a cleaned
// message. Structured sentinel markers win; text heuristics are the
// conservative fallback; anything else is unknown. Pure, no I/O.
func Classify(err error, kind queue.JobKind) (queue.FailureCategory, string) {
	if err == nil {
		return queue.FailureUnknown, ""
	}
	message := cleanMessage(err.Error())

	if category, ok := sentinelCategory(err); ok {
		return category, message
	}
	if category, ok := heuristicCategory(strings.ToLower(message), kind); ok {
		return category, message
	}
	return queue.FailureUnknown, message
}

func sentinelCategory(err error) (queue.FailureCategory, bool) {
	switch {
	case errors.Is(err, services.ErrFTPAuth):
		return queue.FailureFTPAuth, true
	case errors.Is(err, services.ErrFTPMissing):
		return queue.FailureFTPFileMissing, true
	case errors.Is(err, services.ErrFTPTimeout):
		return queue.FailureFTPTimeout, true
	case errors.Is(err, services.ErrFTPTransfer):
		return queue.FailureFTPTransfer, true
	case errors.Is(err, services.ErrFTPConnection):
		return queue.FailureFTPConnection, true
	case errors.Is(err, services.ErrProcessingCorrupt):
		return queue.FailureProcessingCorrupt, true
	case errors.Is(err, services.ErrProcessingResource):
		return queue.FailureProcessingResource, true
	case errors.Is(err, services.ErrProcessing):
		return queue.FailureProcessingError, true
	case errors.Is(err, services.ErrStorageSpace):
		return queue.FailureStorageSpace, true
	case errors.Is(err, services.ErrStoragePermission):
		return queue.FailureStoragePermission, true
	case errors.Is(err, services.ErrStoragePath):
		return queue.FailureStoragePath, true
	default:
		return "", false
	}
}

func heuristicCategory(lower string, kind queue.JobKind) (queue.FailureCategory, bool) {
	switch {
	case containsAny(lower, "530", "login incorrect", "authentication failed", "password"):
		return queue.FailureFTPAuth, true
	case containsAny(lower, "550", "no such file", "file not found") && kind == queue.JobCopy:
		return queue.FailureFTPFileMissing, true
	case containsAny(lower, "connection refused", "connection reset", "broken pipe", "no route to host") && kind == queue.JobCopy:
		return queue.FailureFTPConnection, true
	case containsAny(lower, "timeout", "timed out", "deadline exceeded") && kind == queue.JobCopy:
		return queue.FailureFTPTimeout, true
	case containsAny(lower, "transfer aborted", "incomplete transfer", "short read") && kind == queue.JobCopy:
		return queue.FailureFTPTransfer, true
	case containsAny(lower, "no space left", "disk full", "disk quota"):
		return queue.FailureStorageSpace, true
	case containsAny(lower, "permission denied", "read-only file system", "operation not permitted"):
		return queue.FailureStoragePermission, true
	case containsAny(lower, "no such directory", "not a directory", "does not exist") && kind == queue.JobOrganize:
		return queue.FailureStoragePath, true
	case containsAny(lower, "corrupt", "invalid data", "moov atom", "malformed"):
		return queue.FailureProcessingCorrupt, true
	case containsAny(lower, "out of memory", "cuda", "cannot allocate"):
		return queue.FailureProcessingResource, true
	case kind == queue.JobProcess || kind == queue.JobTranscribe || kind == queue.JobAnalyze:
		if containsAny(lower, "exit status", "signal:", "ffmpeg", "decode") {
			return queue.FailureProcessingError, true
		}
		return "", false
	default:
		return "", false
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}

const maxMessageLength = 500

func cleanMessage(message string) string {
	message = strings.TrimSpace(message)
	message = strings.Join(strings.Fields(message), " ")
	if len(message) > maxMessageLength {
		message = message[:maxMessageLength]
	}
	return message
}
