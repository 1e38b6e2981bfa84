package binpath

import "fmt"

// UnsafeReferenceError reports a binary reference that is neither an
// absolute path nor a plain command name. It is a configuration error in
// both resolution modes.
type UnsafeReferenceError struct {
	Ref string
}

func (e *UnsafeReferenceError) Error() string {
	return fmt.Sprintf("unsafe binary reference %q: must be an absolute path or match [A-Za-z0-9._-]+", e.Ref)
}

// UntrustedLocationError reports a binary that resolved into a shared
// temporary directory.
type UntrustedLocationError struct {
	Name string
	Path string
	Dir  string
}

func (e *UntrustedLocationError) Error() string {
	return fmt.Sprintf("binary %q resolved to %s, inside shared temp directory %s", e.Name, e.Path, e.Dir)
}

// NotFoundError reports a command that is not on PATH.
type NotFoundError struct {
	Name string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found on PATH; install it or add its directory to PATH", e.Name)
}

func (e *NotFoundError) Unwrap() error { return e.Err }
