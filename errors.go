package xquery

import (
	"errors"
	"fmt"
	"strings"
)

type XMLParseError struct {
	Line   int
	Column int
	Err    error
}

func (e *XMLParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("XML parse error at line %d, column %d: %v", e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("XML parse error: %v", e.Err)
}

func (e *XMLParseError) Unwrap() error { return e.Err }

// UnbalancedBracesError reports an enclosed expression left open at the end
// of a template. Offset is the byte position of the opening brace.
type UnbalancedBracesError struct {
	Offset int
}

func (e *UnbalancedBracesError) Error() string {
	return fmt.Sprintf("unbalanced braces: '{' at offset %d is never closed", e.Offset)
}

type DocumentNotFoundError struct {
	Path       string
	Candidates []string
	Err        error
}

func (e *DocumentNotFoundError) Error() string {
	msg := fmt.Sprintf("document %q not found (tried: %s)", e.Path, strings.Join(e.Candidates, ", "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DocumentNotFoundError) Unwrap() error { return e.Err }

type ExpressionParseError struct {
	Expr string
	Err  error
}

func (e *ExpressionParseError) Error() string {
	return fmt.Sprintf("expression parse error: %v", e.Err)
}

func (e *ExpressionParseError) Unwrap() error { return e.Err }

type EvaluationError struct {
	Expr string
	Err  error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation error: %v", e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// xpathError is raised with panic inside the parser and evaluator and
// recovered at Compile and Evaluate.
type xpathError struct {
	Code string
	Msg  string
}

func (e *xpathError) Error() string {
	return e.Code + ": " + e.Msg
}

func raise(code, format string, args ...any) {
	panic(&xpathError{Code: code, Msg: fmt.Sprintf(format, args...)})
}

// ErrorKind names the failing stage of err for logs and metrics.
func ErrorKind(err error) string {
	var (
		xmlErr   *XMLParseError
		braceErr *UnbalancedBracesError
		docErr   *DocumentNotFoundError
		parseErr *ExpressionParseError
		evalErr  *EvaluationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &xmlErr):
		return "XmlParseError"
	case errors.As(err, &braceErr):
		return "UnbalancedBraces"
	case errors.As(err, &docErr):
		return "DocumentNotFound"
	case errors.As(err, &parseErr):
		return "ExpressionParseError"
	case errors.As(err, &evalErr):
		return "EvaluationError"
	default:
		return "Error"
	}
}

func recoveredError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}
