package manifest

import (
	"errors"
	"testing"

	"xfer/application"
)

func TestValidatePath_AcceptsNormalRelativePaths(t *testing.T) {
	for _, p := range []string{"a/b.txt", "file.txt", "dir/sub/dir/file"} {
		if err := ValidatePath(p); err != nil {
			t.Errorf("ValidatePath(%q) = %v, want nil", p, err)
		}
	}
}

func TestValidatePath_RejectsUnsafePaths(t *testing.T) {
	cases := []string{
		"",
		"/etc/passwd",
		"../escape.txt",
		"a/../../escape.txt",
		"C:/windows/system32",
		"a/./b.txt",
		"a//b.txt",
	}
	for _, p := range cases {
		if err := ValidatePath(p); !errors.Is(err, application.ErrPathUnsafe) {
			t.Errorf("ValidatePath(%q) = %v, want ErrPathUnsafe", p, err)
		}
	}
}
