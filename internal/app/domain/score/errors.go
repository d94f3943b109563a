package score

import (
	"net/http"

	svcerrors "github.com/R3E-Network/sealed_scores/internal/errors"
)

const (
	CodeInvalidScoreCount  svcerrors.ErrorCode = "INVALID_SCORE_COUNT"
	CodeDuplicateOffset    svcerrors.ErrorCode = "DUPLICATE_OFFSET"
	CodeOwnerMismatch      svcerrors.ErrorCode = "OWNER_MISMATCH"
	CodeClusterNotSet      svcerrors.ErrorCode = "CLUSTER_NOT_SET"
	CodeAbortedComputation svcerrors.ErrorCode = "ABORTED_COMPUTATION"
	CodeJobTerminal        svcerrors.ErrorCode = "JOB_TERMINAL"
	CodeJobNotFound        svcerrors.ErrorCode = "JOB_NOT_FOUND"
	CodeResultNotFound     svcerrors.ErrorCode = "RESULT_NOT_FOUND"
	CodeDispatchFailed     svcerrors.ErrorCode = "DISPATCH_FAILED"
)

var (
	ErrInvalidScoreCount = svcerrors.New(svcerrors.KindValidation, CodeInvalidScoreCount,
		"score count must be between 1 and 8", http.StatusBadRequest)
	ErrDuplicateOffset = svcerrors.New(svcerrors.KindValidation, CodeDuplicateOffset,
		"offset already names a job", http.StatusConflict)
	ErrOwnerMismatch = svcerrors.New(svcerrors.KindValidation, CodeOwnerMismatch,
		"caller is not the owner", http.StatusForbidden)
	ErrClusterNotSet = svcerrors.New(svcerrors.KindIdentity, CodeClusterNotSet,
		"no compute cluster is configured", http.StatusServiceUnavailable)
	ErrAbortedComputation = svcerrors.New(svcerrors.KindVerification, CodeAbortedComputation,
		"computation output failed verification", http.StatusUnprocessableEntity)
	ErrJobTerminal = svcerrors.New(svcerrors.KindConcurrency, CodeJobTerminal,
		"job is no longer pending", http.StatusConflict)
	ErrJobNotFound = svcerrors.New(svcerrors.KindNotFound, CodeJobNotFound,
		"job not found", http.StatusNotFound)
	ErrResultNotFound = svcerrors.New(svcerrors.KindNotFound, CodeResultNotFound,
		"no result for owner", http.StatusNotFound)
	ErrDispatchFailed = svcerrors.New(svcerrors.KindUnavailable, CodeDispatchFailed,
		"cluster rejected the computation", http.StatusBadGateway)
)

// ErrClusterUnavailable is the submission-side name for ErrClusterNotSet.
var ErrClusterUnavailable = ErrClusterNotSet
