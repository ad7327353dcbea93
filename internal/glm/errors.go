package glm

import "errors"

var (
	// ErrInvalidParameter reports a bad basis, bin width, duration, trial table or option.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrOutOfRange reports an event timestamp outside its trial.
	ErrOutOfRange = errors.New("event outside trial bounds")
	// ErrDuplicateCovariate reports a second registration under an existing name.
	ErrDuplicateCovariate = errors.New("duplicate covariate")
	// ErrCompiled reports a registration attempted after the design matrix was compiled.
	ErrCompiled = errors.New("design matrix already compiled")
	// ErrNotCompiled reports a fit attempted before CompileDesignMatrix.
	ErrNotCompiled = errors.New("design matrix not compiled")
	// ErrNotFitted reports kernel recovery attempted before Fit.
	ErrNotFitted = errors.New("model not fitted")
)
