package domain

import (
	"fmt"
	"path"
	"strings"
)

// AssetPath builds "<folder>/<owner>/<unix ms>-<name>" for an upload.
func AssetPath(folder, owner, name string) string {
	return fmt.Sprintf("%s/%s/%d-%s", folder, owner, Now().UnixMilli(), SafeFileName(name))
}

// SafeFileName strips any directory part a client put in a file name.
func SafeFileName(name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if base == "." || base == "/" || base == "" {
		return "attachment"
	}
	return base
}
