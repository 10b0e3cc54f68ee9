package core

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Owners and ids become store key tokens, so '.' and whitespace are
// reserved.
var keyTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// ValidateKeyToken checks that s can be used as an owner or id.
func ValidateKeyToken(field, s string) error {
	if !keyTokenPattern.MatchString(s) {
		return fmt.Errorf("%w: %s %q must match %s", ErrInvalidKey, field, s, keyTokenPattern.String())
	}
	return nil
}

// ValidateJob checks a job before submission.
func ValidateJob(j *Job) error {
	if err := ValidateKeyToken("owner", j.Owner); err != nil {
		return err
	}
	return ValidateKeyToken("id", j.ID)
}

// SafeFileName replaces characters that are unsafe in object keys.
func SafeFileName(name string) string {
	name = strings.TrimSpace(path.Base(name))
	if name == "" || name == "." || name == ".." || name == "/" {
		return "video"
	}
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// TranscodedName derives the output file name for an input name.
func TranscodedName(inputName string) string {
	base := strings.TrimSuffix(inputName, path.Ext(inputName))
	return base + "_transcoded.mp4"
}

// ObjectKey builds the blob key for a file of the given kind.
func ObjectKey(owner, kind, id, name string) string {
	return fmt.Sprintf("%s/%s/%s_%s", owner, kind, id, name)
}
