package manifest

import (
	"fmt"
	"path"
	"strings"

	"xfer/application"
)

// ValidatePath rejects a relative_path that, after slash-normalization,
// escapes its root: a ".." segment, an absolute root, or a drive
// letter (spec §4.5 path safety). It is applied both when the sender
// enumerates local files and when the receiver validates an incoming
// Manifest, since the wire form is untrusted input.
func ValidatePath(relativePath string) error {
	if relativePath == "" {
		return fmt.Errorf("%w: empty relative path", application.ErrPathUnsafe)
	}
	if strings.HasPrefix(relativePath, "/") {
		return fmt.Errorf("%w: %q is rooted", application.ErrPathUnsafe, relativePath)
	}
	if len(relativePath) >= 2 && relativePath[1] == ':' {
		return fmt.Errorf("%w: %q carries a drive letter", application.ErrPathUnsafe, relativePath)
	}
	for _, segment := range strings.Split(relativePath, "/") {
		if segment == ".." {
			return fmt.Errorf("%w: %q contains a parent-directory segment", application.ErrPathUnsafe, relativePath)
		}
	}
	clean := path.Clean(relativePath)
	if clean != relativePath {
		return fmt.Errorf("%w: %q is not in normalized form (expected %q)", application.ErrPathUnsafe, relativePath, clean)
	}
	return nil
}
