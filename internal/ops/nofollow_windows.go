//go:build windows

package ops

import (
	"os"

	"github.com/hpungsan/namecall/internal/errors"
)

// openNoFollow opens a mapping document. Windows lacks O_NOFOLLOW, so the
// symlink rule rests on checkDocumentPath.
func openNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	f, err := os.OpenFile(path, flag, perm)
	if os.IsNotExist(err) && flag&os.O_CREATE == 0 {
		return nil, errors.NewFileNotFound(path)
	}
	return f, err
}
