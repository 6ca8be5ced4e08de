package genomic

import (
	"errors"
	"io/fs"
)

// Error kinds. Call sites wrap these with fmt.Errorf("...: %w", ...) and name the
// offending file path, SNP index or iteration number.
var (
	// ErrMalformedFile reports a BED magic/shape mismatch or a .bim/.fam parse failure.
	ErrMalformedFile = errors.New("malformed file")
	// ErrSnpMismatch reports cross-cohort SNP lists that differ in ID or order.
	ErrSnpMismatch = errors.New("snp mismatch")
	// ErrAllMissing reports a marker column without any observed genotype.
	ErrAllMissing = errors.New("all genotypes missing")
	// ErrNonPSD reports a failed Cholesky factorization of V.
	ErrNonPSD = errors.New("matrix not positive definite")
	// ErrSingularHessian reports an average-information matrix without a pseudo-inverse.
	ErrSingularHessian = errors.New("singular average-information matrix")
	// ErrVarianceOutOfRange reports a variance component leaving [ε, var(y)].
	ErrVarianceOutOfRange = errors.New("variance out of range")
	// ErrCancelled reports a cooperative cancellation; results are partial.
	ErrCancelled = errors.New("cancelled")
	// ErrNumericOverflow reports a non-finite residual, coefficient or variance.
	ErrNumericOverflow = errors.New("numeric overflow")
)

// Process exit codes.
const (
	ExitOK        = 0
	ExitUsage     = 1
	ExitFile      = 2
	ExitNumeric   = 3
	ExitCancelled = 130
)

// ExitCode maps an error returned by a command to the process exit status.
// Unclassified errors are treated as usage errors.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var pathErr *fs.PathError
	switch {
	case errors.Is(err, ErrCancelled):
		return ExitCancelled
	case errors.Is(err, ErrMalformedFile), errors.Is(err, ErrSnpMismatch), errors.Is(err, ErrAllMissing):
		return ExitFile
	case errors.Is(err, ErrNonPSD), errors.Is(err, ErrSingularHessian),
		errors.Is(err, ErrNumericOverflow), errors.Is(err, ErrVarianceOutOfRange):
		return ExitNumeric
	case errors.As(err, &pathErr):
		return ExitFile
	default:
		return ExitUsage
	}
}
